// Package privacy provides the authorization scope of extension-table
// operations: a Viewer carried in the context, and policies of rules that
// decide whether the viewer may act on a Target.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from policy rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("exttable/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("exttable/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("exttable/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is an operation on an extension table or its entries.
type Op string

// Operations.
const (
	OpCreate     Op = "CREATE"
	OpRead       Op = "READ"
	OpUpdate     Op = "UPDATE"
	OpDelete     Op = "DELETE"
	OpRegister   Op = "REGISTER"
	OpAlter      Op = "UPDATE_DATATABLE"
	OpDeregister Op = "DEREGISTER"
)

// EntryOps are the operations on entries that get a permission per table.
var EntryOps = []Op{OpCreate, OpRead, OpUpdate, OpDelete}

// IsEntry reports whether op acts on entries rather than on the table.
func (op Op) IsEntry() bool {
	switch op {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Target is what a rule is asked about.
type Target struct {
	Table    string
	AppTable string
	Op       Op
}

// Permission returns the permission code guarding the target, for example
// "CREATE_t_loan_notes".
func (t Target) Permission() string {
	return PermissionCode(t.Op, t.Table)
}

// PermissionCode returns "<OP>_<table>".
func PermissionCode(op Op, table string) string {
	return string(op) + "_" + table
}

// CheckerPermissionCode returns the maker-checker approval permission code.
func CheckerPermissionCode(op Op, table string) string {
	return PermissionCode(op, table) + "_CHECKER"
}

// ParsePermissionCode splits "<OP>_<table>" back; ok is false for codes of
// other shapes, including checker codes.
func ParsePermissionCode(code string) (op Op, table string, ok bool) {
	if strings.HasSuffix(code, "_CHECKER") {
		return "", "", false
	}
	for _, o := range EntryOps {
		if rest, found := strings.CutPrefix(code, string(o)+"_"); found && rest != "" {
			return o, rest, true
		}
	}
	return "", "", false
}

// Rule decides on a target.
type Rule interface {
	Eval(context.Context, Target) error
}

// RuleFunc type is an adapter which allows the use of ordinary functions
// as rules.
type RuleFunc func(context.Context, Target) error

// Eval returns f(ctx, t).
func (f RuleFunc) Eval(ctx context.Context, t Target) error {
	return f(ctx, t)
}

// Policy is a list of rules evaluated in order. The first decision other
// than Skip (or nil) ends the evaluation; Allow yields nil.
type Policy []Rule

// Eval evaluates the policy. A decision attached with DecisionContext takes
// precedence over the rules.
func (p Policy) Eval(ctx context.Context, t Target) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.Eval(ctx, t); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule {
	return RuleFunc(func(context.Context, Target) error { return Allow })
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule {
	return RuleFunc(func(context.Context, Target) error { return Deny })
}

// ContextRule creates a rule from a context evaluation function.
// Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ Target) error {
		return eval(ctx)
	})
}

// OnOperation evaluates the given rule only on the given operations.
func OnOperation(rule Rule, ops ...Op) Rule {
	return RuleFunc(func(ctx context.Context, t Target) error {
		for _, op := range ops {
			if t.Op == op {
				return rule.Eval(ctx, t)
			}
		}
		return Skip
	})
}

// DenyOperationRule returns a rule denying the specified operation.
func DenyOperationRule(op Op) Rule {
	rule := RuleFunc(func(_ context.Context, t Target) error {
		return Denyf("exttable/privacy: operation %s on %s is not allowed", t.Op, t.Table)
	})
	return OnOperation(rule, op)
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

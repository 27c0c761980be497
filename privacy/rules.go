package privacy

import (
	"context"
	"slices"
	"strings"
)

// Viewer represents the authenticated user making a request.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetPermissions returns the permission codes granted through the roles.
	GetPermissions() []string
	// GetOfficeHierarchy returns the path of the viewer's office, such as
	// ".1.4.". Rows of offices below it are in scope; "" means unrestricted.
	GetOfficeHierarchy() string
}

// AllFunctions is the permission code granting every operation.
const AllFunctions = "ALL_FUNCTIONS"

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID          string
	Roles           []string
	Permissions     []string
	OfficeHierarchy string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetPermissions returns the user's permission codes.
func (v *SimpleViewer) GetPermissions() []string { return v.Permissions }

// GetOfficeHierarchy returns the user's office path.
func (v *SimpleViewer) GetOfficeHierarchy() string { return v.OfficeHierarchy }

// OfficeScope returns the LIKE pattern matching the offices visible to the
// viewer in ctx. ok is false when no viewer is present or the viewer is not
// restricted to an office subtree.
func OfficeScope(ctx context.Context) (pattern string, ok bool) {
	v := ViewerFromContext(ctx)
	if v == nil || v.GetOfficeHierarchy() == "" {
		return "", false
	}
	return v.GetOfficeHierarchy() + "%", true
}

// InScope reports whether an office path lies in the subtree visible to the
// viewer in ctx.
func InScope(ctx context.Context, hierarchy string) bool {
	pattern, ok := OfficeScope(ctx)
	if !ok {
		return true
	}
	return strings.HasPrefix(hierarchy, strings.TrimSuffix(pattern, "%"))
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context.
//
// Example:
//
//	privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasPermission(),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("exttable/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of
// the roles, and skips otherwise.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// HasPermission returns a rule that allows an entry operation when the
// viewer holds the target's permission code, or AllFunctions. Table-level
// operations require AllFunctions.
func HasPermission() Rule {
	return RuleFunc(func(ctx context.Context, t Target) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		perms := viewer.GetPermissions()
		if slices.Contains(perms, AllFunctions) {
			return Allow
		}
		if t.Op.IsEntry() && slices.Contains(perms, t.Permission()) {
			return Allow
		}
		return Skip
	})
}

// DenyAppTables returns a rule denying any operation on extension tables
// attached to the given application tables.
func DenyAppTables(appTables ...string) Rule {
	return RuleFunc(func(_ context.Context, t Target) error {
		if slices.Contains(appTables, t.AppTable) {
			return Denyf("exttable/privacy: tables of %s are not accessible", t.AppTable)
		}
		return Skip
	})
}

// Package sqlfunc renders portable scalar and aggregate SQL functions.
package sqlfunc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// ErrArity is returned when a function receives the wrong number of arguments.
var ErrArity = errors.New("sqlfunc: wrong number of arguments")

// Func is a portable SQL function.
type Func uint8

// List of functions.
const (
	FuncInvalid Func = iota
	CurrentDate
	Cast
	DateAdd
	DateSub
	DateDiffDays
	DateDiffMonths
	SchemaName
	LastInsertID
	GroupConcat
	Substring
	endFuncs
)

var funcNames = [...]string{
	FuncInvalid:    "invalid",
	CurrentDate:    "current_date",
	Cast:           "cast",
	DateAdd:        "date_add",
	DateSub:        "date_sub",
	DateDiffDays:   "date_diff_days",
	DateDiffMonths: "date_diff_months",
	SchemaName:     "schema_name",
	LastInsertID:   "last_insert_id",
	GroupConcat:    "group_concat",
	Substring:      "substring",
}

// String returns the function name.
func (f Func) String() string {
	if f < endFuncs {
		return funcNames[f]
	}
	return fmt.Sprintf("Func(%d)", f)
}

// Unit is an interval unit. Intervals carry a single unit and multiplier.
type Unit string

// Interval units.
const (
	Day   Unit = "DAY"
	Week  Unit = "WEEK"
	Month Unit = "MONTH"
	Year  Unit = "YEAR"
)

// ParseUnit returns the unit for s, case-insensitively.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(strings.ToUpper(strings.TrimSpace(s))); u {
	case Day, Week, Month, Year:
		return u, nil
	}
	return "", fmt.Errorf("sqlfunc: unsupported interval unit %q", s)
}

// argument kinds
type arg uint8

const (
	expr arg = iota // SQL expression, inserted verbatim
	unit            // interval unit, validated
	text            // plain text, rendered as a string literal
)

type function struct {
	args  []arg
	forms map[dialect.Dialect]string // templates with explicit argument indexes
}

var functions = [...]function{
	CurrentDate: {
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "CURDATE()",
			dialect.Postgres: "CURRENT_DATE",
		},
	},
	Cast: {
		args: []arg{expr, expr},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "CAST(%[1]s AS %[2]s)",
			dialect.Postgres: "CAST(%[1]s AS %[2]s)",
		},
	},
	DateAdd: {
		args: []arg{expr, expr, unit},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "DATE_ADD(%[1]s, INTERVAL %[2]s %[3]s)",
			dialect.Postgres: "(%[1]s + %[2]s * INTERVAL '1 %[3]s')",
		},
	},
	DateSub: {
		args: []arg{expr, expr, unit},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "DATE_SUB(%[1]s, INTERVAL %[2]s %[3]s)",
			dialect.Postgres: "(%[1]s - %[2]s * INTERVAL '1 %[3]s')",
		},
	},
	DateDiffDays: {
		args: []arg{expr, expr},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "DATEDIFF(%[1]s, %[2]s)",
			dialect.Postgres: "EXTRACT(DAY FROM (CAST(%[1]s AS TIMESTAMP) - CAST(%[2]s AS TIMESTAMP)))",
		},
	},
	DateDiffMonths: {
		args: []arg{expr, expr},
		forms: map[dialect.Dialect]string{
			dialect.MySQL: "TIMESTAMPDIFF(MONTH, %[2]s, %[1]s)",
			dialect.Postgres: "(EXTRACT(YEAR FROM AGE(CAST(%[1]s AS TIMESTAMP), CAST(%[2]s AS TIMESTAMP))) * 12" +
				" + EXTRACT(MONTH FROM AGE(CAST(%[1]s AS TIMESTAMP), CAST(%[2]s AS TIMESTAMP))))",
		},
	},
	SchemaName: {
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "SCHEMA()",
			dialect.Postgres: "current_schema()",
		},
	},
	LastInsertID: {
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "LAST_INSERT_ID()",
			dialect.Postgres: "LASTVAL()",
		},
	},
	GroupConcat: {
		args: []arg{expr, text},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "GROUP_CONCAT(%[1]s SEPARATOR %[2]s)",
			dialect.Postgres: "STRING_AGG(CAST(%[1]s AS TEXT), %[2]s)",
		},
	},
	Substring: {
		args: []arg{expr, expr, expr},
		forms: map[dialect.Dialect]string{
			dialect.MySQL:    "SUBSTRING(%[1]s, %[2]s, %[3]s)",
			dialect.Postgres: "SUBSTRING(%[1]s FROM %[2]s FOR %[3]s)",
		},
	},
}

// Arity returns the number of arguments f takes.
func Arity(f Func) int {
	if f <= FuncInvalid || f >= endFuncs {
		return 0
	}
	return len(functions[f].args)
}

// Render returns the SQL expression of f on d. Arguments are SQL expressions
// inserted verbatim, except interval units (validated) and the GroupConcat
// separator (rendered as a string literal).
func Render(d dialect.Dialect, f Func, args ...string) (string, error) {
	if f <= FuncInvalid || f >= endFuncs {
		return "", fmt.Errorf("sqlfunc: invalid function %d", f)
	}
	fn := functions[f]
	tmpl, ok := fn.forms[d]
	if !ok {
		return "", fmt.Errorf("sqlfunc: %s not supported on %q", f, d)
	}
	if len(args) != len(fn.args) {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrArity, f, len(fn.args), len(args))
	}
	if len(args) == 0 {
		return tmpl, nil
	}
	vs := make([]any, len(args))
	for i, a := range args {
		switch fn.args[i] {
		case unit:
			u, err := ParseUnit(a)
			if err != nil {
				return "", err
			}
			vs[i] = string(u)
		case text:
			vs[i] = sqltype.QuoteString(d, a)
		default:
			if strings.TrimSpace(a) == "" {
				return "", fmt.Errorf("sqlfunc: %s: empty argument %d", f, i+1)
			}
			vs[i] = a
		}
	}
	return fmt.Sprintf(tmpl, vs...), nil
}

// MustRender is like Render but panics on error.
func MustRender(d dialect.Dialect, f Func, args ...string) string {
	s, err := Render(d, f, args...)
	if err != nil {
		panic(err)
	}
	return s
}

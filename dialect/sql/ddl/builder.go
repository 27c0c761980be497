// Package ddl renders the DDL statements used to provision and evolve
// extension tables.
//
// Every statement shape lives in one dispatch table keyed by operation and
// dialect. An operation declares a fixed parameter list; its first parameter
// is always the table name. ALTER TABLE clauses can be rendered "embedded",
// without the ALTER TABLE prefix and the terminator, and fused with sibling
// clauses through a Batch.
package ddl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/exttable/dialect"
)

// Builder errors.
var (
	// ErrArity is returned when an operation receives the wrong number of parameters.
	ErrArity = errors.New("ddl: wrong number of parameters")
	// ErrNotEmbeddable is returned when a standalone statement is requested embedded.
	ErrNotEmbeddable = errors.New("ddl: statement cannot be embedded")
	// ErrUnsupported is returned for an operation with no form on a dialect.
	ErrUnsupported = errors.New("ddl: operation not supported on dialect")
)

// Op is a DDL operation.
type Op uint8

// List of operations.
const (
	OpInvalid Op = iota
	OpCreateTable
	OpDropTable
	OpAddColumn
	OpDropColumn
	OpRenameColumn
	OpChangeColumn
	OpModifyColumn
	OpAlterColumnType
	OpSetNotNull
	OpDropNotNull
	OpSetDefault
	OpDropDefault
	OpAddForeignKey
	OpDropForeignKey
	OpAddUnique
	OpDropUnique
	OpAddIndex
	OpDropIndex
	OpFillNulls
	endOps
)

var opNames = [...]string{
	OpInvalid:         "invalid",
	OpCreateTable:     "create_table",
	OpDropTable:       "drop_table",
	OpAddColumn:       "add_column",
	OpDropColumn:      "drop_column",
	OpRenameColumn:    "rename_column",
	OpChangeColumn:    "change_column",
	OpModifyColumn:    "modify_column",
	OpAlterColumnType: "alter_column_type",
	OpSetNotNull:      "set_not_null",
	OpDropNotNull:     "drop_not_null",
	OpSetDefault:      "set_default",
	OpDropDefault:     "drop_default",
	OpAddForeignKey:   "add_foreign_key",
	OpDropForeignKey:  "drop_foreign_key",
	OpAddUnique:       "add_unique",
	OpDropUnique:      "drop_unique",
	OpAddIndex:        "add_index",
	OpDropIndex:       "drop_index",
	OpFillNulls:       "fill_nulls",
}

// String returns the operation name.
func (op Op) String() string {
	if op < endOps {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// param describes how a parameter is written into the statement.
type param uint8

const (
	ident  param = iota // quoted identifier
	idents              // comma separated list of quoted identifiers
	raw                 // pre-rendered SQL fragment
)

// form is the shape of an operation on one dialect. Templates use explicit
// argument indexes; %[1]s is always the quoted table name.
type form struct {
	tmpl string
	// clause is set for forms that are ALTER TABLE clauses; they are
	// prefixed with "ALTER TABLE <table> " unless embedded.
	clause bool
	// alone marks ALTER TABLE clauses that must run as their own statement
	// on this dialect.
	alone bool
}

type operation struct {
	params []param
	forms  map[dialect.Dialect]form
}

// statements is the dispatch table of every supported statement shape.
var statements = [...]operation{
	OpCreateTable: {
		params: []param{ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "CREATE TABLE %[1]s (%[2]s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"},
			dialect.Postgres: {tmpl: "CREATE TABLE %[1]s (%[2]s)"},
		},
	},
	OpDropTable: {
		params: []param{ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "DROP TABLE %[1]s"},
			dialect.Postgres: {tmpl: "DROP TABLE %[1]s"},
		},
	},
	OpAddColumn: {
		params: []param{ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ADD %[2]s %[3]s", clause: true},
			dialect.Postgres: {tmpl: "ADD COLUMN %[2]s %[3]s", clause: true},
		},
	},
	OpDropColumn: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "DROP COLUMN %[2]s", clause: true},
			dialect.Postgres: {tmpl: "DROP COLUMN %[2]s", clause: true},
		},
	},
	OpRenameColumn: {
		params: []param{ident, ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "RENAME COLUMN %[2]s TO %[3]s", clause: true},
			dialect.Postgres: {tmpl: "RENAME COLUMN %[2]s TO %[3]s", clause: true, alone: true},
		},
	},
	OpChangeColumn: {
		params: []param{ident, ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL: {tmpl: "CHANGE %[2]s %[3]s %[4]s", clause: true},
		},
	},
	OpModifyColumn: {
		params: []param{ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL: {tmpl: "MODIFY %[2]s %[3]s", clause: true},
		},
	},
	OpAlterColumnType: {
		params: []param{ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.Postgres: {tmpl: "ALTER COLUMN %[2]s TYPE %[3]s", clause: true},
		},
	},
	OpSetNotNull: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.Postgres: {tmpl: "ALTER COLUMN %[2]s SET NOT NULL", clause: true},
		},
	},
	OpDropNotNull: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.Postgres: {tmpl: "ALTER COLUMN %[2]s DROP NOT NULL", clause: true},
		},
	},
	OpSetDefault: {
		params: []param{ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ALTER COLUMN %[2]s SET DEFAULT %[3]s", clause: true},
			dialect.Postgres: {tmpl: "ALTER COLUMN %[2]s SET DEFAULT %[3]s", clause: true},
		},
	},
	OpDropDefault: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ALTER COLUMN %[2]s DROP DEFAULT", clause: true},
			dialect.Postgres: {tmpl: "ALTER COLUMN %[2]s DROP DEFAULT", clause: true},
		},
	},
	OpAddForeignKey: {
		params: []param{ident, ident, ident, ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ADD CONSTRAINT %[2]s FOREIGN KEY (%[3]s) REFERENCES %[4]s (%[5]s)", clause: true},
			dialect.Postgres: {tmpl: "ADD CONSTRAINT %[2]s FOREIGN KEY (%[3]s) REFERENCES %[4]s (%[5]s)", clause: true},
		},
	},
	OpDropForeignKey: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "DROP FOREIGN KEY %[2]s", clause: true},
			dialect.Postgres: {tmpl: "DROP CONSTRAINT %[2]s", clause: true},
		},
	},
	OpAddUnique: {
		params: []param{ident, ident, idents},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ADD CONSTRAINT %[2]s UNIQUE (%[3]s)", clause: true},
			dialect.Postgres: {tmpl: "ADD CONSTRAINT %[2]s UNIQUE (%[3]s)", clause: true},
		},
	},
	OpDropUnique: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "DROP INDEX %[2]s", clause: true},
			dialect.Postgres: {tmpl: "DROP CONSTRAINT %[2]s", clause: true},
		},
	},
	OpAddIndex: {
		params: []param{ident, ident, idents},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "ADD INDEX %[2]s (%[3]s)", clause: true},
			dialect.Postgres: {tmpl: "CREATE INDEX %[2]s ON %[1]s (%[3]s)"},
		},
	},
	OpDropIndex: {
		params: []param{ident, ident},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "DROP INDEX %[2]s", clause: true},
			dialect.Postgres: {tmpl: "DROP INDEX %[2]s"},
		},
	},
	OpFillNulls: {
		params: []param{ident, ident, raw},
		forms: map[dialect.Dialect]form{
			dialect.MySQL:    {tmpl: "UPDATE %[1]s SET %[2]s = %[3]s WHERE %[2]s IS NULL"},
			dialect.Postgres: {tmpl: "UPDATE %[1]s SET %[2]s = %[3]s WHERE %[2]s IS NULL"},
		},
	},
}

// Arity returns the number of parameters op takes, including the table name.
func Arity(op Op) int {
	if op <= OpInvalid || op >= endOps {
		return 0
	}
	return len(statements[op].params)
}

// Supports reports whether op has a form on d.
func Supports(d dialect.Dialect, op Op) bool {
	_, err := lookup(d, op)
	return err == nil
}

// Embeddable reports whether op renders as an ALTER TABLE clause that can be
// fused with others on d.
func Embeddable(d dialect.Dialect, op Op) bool {
	f, err := lookup(d, op)
	return err == nil && f.clause && !f.alone && d.SupportsMultiClauseAlter()
}

func lookup(d dialect.Dialect, op Op) (form, error) {
	if op <= OpInvalid || op >= endOps {
		return form{}, fmt.Errorf("ddl: invalid operation %d", op)
	}
	f, ok := statements[op].forms[d]
	if !ok {
		return form{}, fmt.Errorf("%w: %s on %q", ErrUnsupported, op, d)
	}
	return f, nil
}

// Build renders op on d. params hold raw identifiers (the builder quotes
// them) or pre-rendered fragments, depending on the operation; the first
// parameter is the table name. When embedded is true, the ALTER TABLE prefix
// and the trailing ";" are omitted; only fusable clauses can be embedded.
func Build(d dialect.Dialect, op Op, embedded bool, params ...string) (string, error) {
	f, err := lookup(d, op)
	if err != nil {
		return "", err
	}
	kinds := statements[op].params
	if len(params) != len(kinds) {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrArity, op, len(kinds), len(params))
	}
	args := make([]any, len(params))
	for i, p := range params {
		switch kinds[i] {
		case ident:
			args[i] = d.Quote(p)
		case idents:
			args[i] = quoteList(d, p)
		default:
			args[i] = p
		}
	}
	s := fmt.Sprintf(f.tmpl, args...)
	switch {
	case embedded && (!f.clause || f.alone):
		return "", fmt.Errorf("%w: %s on %q", ErrNotEmbeddable, op, d)
	case embedded:
		return s, nil
	case f.clause:
		return "ALTER TABLE " + args[0].(string) + " " + s + ";", nil
	default:
		return s + ";", nil
	}
}

// MustBuild is like Build but panics on error. Intended for parameter lists
// fixed at compile time.
func MustBuild(d dialect.Dialect, op Op, embedded bool, params ...string) string {
	s, err := Build(d, op, embedded, params...)
	if err != nil {
		panic(err)
	}
	return s
}

func quoteList(d dialect.Dialect, list string) string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = d.Quote(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ", ")
}

package dialect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies one of the two supported SQL families.
type Dialect string

// Dialect names.
const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// All lists every supported dialect, in a stable order.
var All = []Dialect{MySQL, Postgres}

// features describes the syntax a dialect accepts.
type features struct {
	quote          byte
	trueLiteral    string
	falseLiteral   string
	autoIncrement  string // surrogate id column type and generation clause
	positioning    bool   // FIRST / AFTER col inside ALTER TABLE
	combinedRename bool   // rename + retype in one clause
	multiClauseDDL bool   // several column clauses fused in one ALTER TABLE
	dollarParams   bool
}

var table = map[Dialect]features{
	MySQL: {
		quote:          '`',
		trueLiteral:    "1",
		falseLiteral:   "0",
		autoIncrement:  "BIGINT NOT NULL AUTO_INCREMENT",
		positioning:    true,
		combinedRename: true,
		multiClauseDDL: true,
	},
	Postgres: {
		quote:          '"',
		trueLiteral:    "true",
		falseLiteral:   "false",
		autoIncrement:  "BIGSERIAL NOT NULL",
		multiClauseDDL: true,
		dollarParams:   true,
	},
}

// Parse returns the Dialect for a configuration or driver name.
// Driver names such as "pgx" and "postgresql" map onto Postgres, "mariadb" onto MySQL.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("dialect: unsupported dialect %q", name)
	}
}

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	_, ok := table[d]
	return ok
}

// String implements fmt.Stringer.
func (d Dialect) String() string { return string(d) }

// UsesBacktick reports whether identifiers are quoted with backticks.
func (d Dialect) UsesBacktick() bool { return table[d].quote == '`' }

// QuoteChar returns the identifier quote character.
func (d Dialect) QuoteChar() byte { return table[d].quote }

// Quote wraps an identifier in the dialect's quote characters. The quote
// character itself is doubled.
func (d Dialect) Quote(ident string) string {
	q := string(table[d].quote)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// QuoteQualified quotes a dotted schema.table reference part by part.
func (d Dialect) QuoteQualified(ident string) string {
	parts := strings.Split(ident, ".")
	for i := range parts {
		parts[i] = d.Quote(parts[i])
	}
	return strings.Join(parts, ".")
}

// BoolLiteral returns the SQL literal for a boolean value.
func (d Dialect) BoolLiteral(v bool) string {
	if v {
		return table[d].trueLiteral
	}
	return table[d].falseLiteral
}

// AutoIncrement returns the column type and generation clause of a surrogate key.
func (d Dialect) AutoIncrement() string { return table[d].autoIncrement }

// SupportsPositioning reports whether ALTER TABLE accepts FIRST / AFTER column.
func (d Dialect) SupportsPositioning() bool { return table[d].positioning }

// SupportsCombinedRename reports whether a column can be renamed and retyped in one clause.
func (d Dialect) SupportsCombinedRename() bool { return table[d].combinedRename }

// SupportsMultiClauseAlter reports whether several column clauses can be fused in one ALTER TABLE.
func (d Dialect) SupportsMultiClauseAlter() bool { return table[d].multiClauseDDL }

// Placeholder returns the bind parameter marker for the 1-based position i.
func (d Dialect) Placeholder(i int) string {
	if table[d].dollarParams {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Placeholders returns n comma separated bind markers starting at position from.
func (d Dialect) Placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.Placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

// ExecQuerier wraps the 2 database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, INSERT or UPDATE.
	// It scans the result into the pointer v. For SQL drivers, it is dialect/sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v. For SQL drivers, it is *dialect/sql.Rows.
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for extension table management.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect of the driver; it never changes for the
	// lifetime of the process.
	Dialect() Dialect
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

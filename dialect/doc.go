// Package dialect identifies the SQL family the engine talks to.
//
// Exactly two dialects are supported:
//
//	dialect.MySQL    = "mysql"    // MySQL and MariaDB
//	dialect.Postgres = "postgres" // PostgreSQL
//
// A Dialect is chosen once, when the driver is opened, and never changes for
// the lifetime of the process. Every formatter in the engine receives it as an
// explicit parameter instead of reading global state, which keeps the
// formatters pure.
//
// # Feature predicates
//
// The syntax differences the engine has to reconcile are exposed as
// predicates over a data table rather than per-dialect types:
//
//	d.UsesBacktick()             // `ident` vs "ident"
//	d.BoolLiteral(true)          // 1 vs true
//	d.AutoIncrement()            // AUTO_INCREMENT vs BIGSERIAL
//	d.SupportsPositioning()      // FIRST / AFTER col
//	d.SupportsCombinedRename()   // CHANGE COLUMN old new TYPE
//	d.SupportsMultiClauseAlter() // ALTER TABLE t ADD ..., DROP ...
//	d.Placeholder(1)             // ? vs $1
//
// # Driver Interface
//
// The package defines the Driver interface used by the engine:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() Dialect
//	}
//
// The dialect/sql package provides the database/sql backed implementation.
package dialect

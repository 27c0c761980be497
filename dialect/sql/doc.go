// Package sql wraps database/sql connections as dialect.Driver values.
//
// A Driver carries the dialect.Dialect it speaks, fixed when it is opened:
//
//	drv, err := sql.Open("mysql", dsn)     // go-sql-driver/mysql
//	drv, err := sql.Open("postgres", dsn)  // lib/pq
//	drv, err := sql.Open("pgx", dsn)       // jackc/pgx stdlib
//
// Existing *sql.DB handles (for example from sqlmock in tests) are wrapped
// with OpenDB.
//
// # Statistics and logging
//
// StatsDriver counts reads, row writes and DDL separately and reports the
// statements slower than a threshold through a hook or an slog.Logger. A
// context tagged with WithChangeID attaches the schema change id to those
// reports, so the statements of one Manager operation can be correlated.
//
// # Sub-packages
//
//   - sqltype: portable column types and literal rendering
//   - ddl: dialect-specific DDL statement builder
//   - sqlfunc: portable SQL function expressions
//   - sqlerr: classification of driver errors
//   - schema: name validation and column introspection
package sql

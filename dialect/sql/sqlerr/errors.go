// Package sqlerr classifies driver errors into exttable integrity errors.
package sqlerr

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/syssam/exttable"
)

// sqlStateError is implemented by Postgres driver errors (pq, pgconn).
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgStringTooLong       = "22001"
	pgUndefinedColumn     = "42703"
	pgDuplicateColumn     = "42701"
)

// MySQL error numbers.
const (
	mysqlErrorOnRename     = 1025
	mysqlUnknownColumn     = 1054
	mysqlDuplicateColumn   = 1060
	mysqlDuplicateEntry    = 1062
	mysqlNoDefault         = 1364
	mysqlDataTooLong       = 1406
	mysqlForeignKeyParent  = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild   = 1452 // Cannot add or update a child row
	mysqlBadNullIntoColumn = 1048
)

var (
	byNumber = map[uint16]string{
		mysqlErrorOnRename:     exttable.CodeRenameFailed,
		mysqlUnknownColumn:     exttable.CodeUnknownColumn,
		mysqlDuplicateColumn:   exttable.CodeDuplicateColumn,
		mysqlDuplicateEntry:    exttable.CodeDuplicateEntry,
		mysqlNoDefault:         exttable.CodeMissingDefault,
		mysqlBadNullIntoColumn: exttable.CodeMissingDefault,
		mysqlDataTooLong:       exttable.CodeValueTooLong,
		mysqlForeignKeyParent:  exttable.CodeInvalidReference,
		mysqlForeignKeyChild:   exttable.CodeInvalidReference,
	}
	byState = map[string]string{
		pgUniqueViolation:  exttable.CodeDuplicateEntry,
		pgNotNullViolation: exttable.CodeMissingDefault,
		pgStringTooLong:    exttable.CodeValueTooLong,
		pgUndefinedColumn:  exttable.CodeUnknownColumn,
		pgDuplicateColumn:  exttable.CodeDuplicateColumn,

		pgForeignKeyViolation: exttable.CodeInvalidReference,
	}
	// byMessage is consulted when the error carries no code.
	byMessage = []struct {
		code     string
		patterns []string
	}{
		{exttable.CodeDuplicateEntry, []string{"Duplicate entry", "violates unique constraint"}},
		{exttable.CodeMissingDefault, []string{"doesn't have a default value", "violates not-null constraint", "cannot be null"}},
		{exttable.CodeUnknownColumn, []string{"Unknown column"}},
		{exttable.CodeDuplicateColumn, []string{"Duplicate column name"}},
		{exttable.CodeRenameFailed, []string{"Error on rename"}},
		{exttable.CodeValueTooLong, []string{"Data too long", "value too long"}},
		{exttable.CodeInvalidReference, []string{"a foreign key constraint fails", "violates foreign key constraint"}},
	}
	mysqlQuoted = regexp.MustCompile(`'([^']+)'`)
	mysqlFK     = regexp.MustCompile("FOREIGN KEY \\(`([^`]+)`\\)")
	pgColumn    = regexp.MustCompile(`column "([^"]+)"`)
	pgKey       = regexp.MustCompile(`Key \(([^)]+)\)=`)
)

// Classify wraps a failed statement's error into an *exttable.IntegrityError
// carrying a stable code. Errors that match no known pattern get
// exttable.CodeUnknownIntegrity. nil, context errors and errors already
// classified by exttable are returned as they are.
func Classify(table string, err error) error {
	if err == nil || passThrough(err) {
		return err
	}
	code, column := classify(err)
	return &exttable.IntegrityError{Code: code, Table: table, Column: column, Err: err}
}

// Known reports whether err was classified into a specific integrity code.
func Known(err error) bool {
	var e *exttable.IntegrityError
	return errors.As(err, &e) && e.Code != exttable.CodeUnknownIntegrity
}

func passThrough(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		exttable.ErrorCode(err) != "" ||
		exttable.IsNotFound(err)
}

func classify(err error) (code, column string) {
	if e, ok := asError[*mysql.MySQLError](err); ok {
		if code, ok := byNumber[e.Number]; ok {
			return code, mysqlColumn(code, e.Message)
		}
		return exttable.CodeUnknownIntegrity, ""
	}
	if e, ok := asError[*pgconn.PgError](err); ok {
		if code, ok := byState[e.Code]; ok {
			column := e.ColumnName
			if column == "" {
				column = postgresColumn(e.Message, e.Detail)
			}
			return code, column
		}
		return exttable.CodeUnknownIntegrity, ""
	}
	if e, ok := asError[*pq.Error](err); ok {
		if code, ok := byState[string(e.Code)]; ok {
			column := e.Column
			if column == "" {
				column = postgresColumn(e.Message, e.Detail)
			}
			return code, column
		}
		return exttable.CodeUnknownIntegrity, ""
	}
	if e, ok := asError[sqlStateError](err); ok {
		if code, ok := byState[e.SQLState()]; ok {
			return code, postgresColumn(err.Error(), "")
		}
	}
	// Fallback to string matching for drivers that don't expose codes.
	msg := err.Error()
	for _, m := range byMessage {
		if containsAny(msg, m.patterns...) {
			if c := mysqlColumn(m.code, msg); c != "" {
				return m.code, c
			}
			return m.code, postgresColumn(msg, "")
		}
	}
	return exttable.CodeUnknownIntegrity, ""
}

// mysqlColumn extracts the column from messages such as
// "Field 'note' doesn't have a default value" or "Unknown column 'x' in 'field list'".
func mysqlColumn(code, msg string) string {
	switch code {
	case exttable.CodeDuplicateEntry, exttable.CodeRenameFailed:
		return ""
	case exttable.CodeInvalidReference:
		if m := mysqlFK.FindStringSubmatch(msg); m != nil {
			return m[1]
		}
		return ""
	}
	if m := mysqlQuoted.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// postgresColumn reads the column from the message or, for key violations,
// from a detail such as "Key (kind)=(99) is not present in table ...".
func postgresColumn(msg, detail string) string {
	if m := pgColumn.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := pgKey.FindStringSubmatch(detail); m != nil && !strings.Contains(m[1], ",") {
		return m[1]
	}
	return ""
}

// asError attempts to extract an error implementing T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	if errors.As(err, &target) {
		return target, true
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

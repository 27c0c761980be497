package exttable

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a registration, row or parent entity does not exist
	// (or is outside the caller's authorization scope).
	ErrNotFound = errors.New("exttable: not found")

	// ErrNotSingular is returned when a lookup that must match exactly one row
	// matches more than one.
	ErrNotSingular = errors.New("exttable: not singular")

	// ErrDomainRule is returned when a request is well formed but violates a
	// lifecycle rule of the extension table, e.g. dropping a column of a non-empty table.
	ErrDomainRule = errors.New("exttable: domain rule violated")

	// ErrIntegrity is returned when the database rejected a statement for a data
	// integrity reason.
	ErrIntegrity = errors.New("exttable: data integrity violation")
)

// Stable error codes surfaced to callers.
const (
	CodeInvalidName          = "error.msg.invalid.name"
	CodeInvalidAppTable      = "error.msg.invalid.application.table"
	CodeInvalidColumnType    = "error.msg.invalid.column.type"
	CodeInvalidValue         = "error.msg.invalid.value"
	CodeMandatoryValue       = "error.msg.value.mandatory"
	CodeValueTooLong         = "error.msg.value.exceeds.length"
	CodeInvalidCodeValue     = "error.msg.invalid.code.value"
	CodeDuplicateEntry       = "error.msg.datatable.entry.duplicate"
	CodeMissingDefault       = "error.msg.column.missing.default"
	CodeUnknownColumn        = "error.msg.column.unknown"
	CodeDuplicateColumn      = "error.msg.datatable.column.exists"
	CodeRenameFailed         = "error.msg.datatable.column.rename.failed"
	CodeUnknownIntegrity     = "error.msg.unknown.data.integrity.issue"
	CodeNonEmptyMandatoryAdd = "error.msg.datatable.non.empty.cannot.add.mandatory.column"
	CodeNonEmptyColumnDrop   = "error.msg.datatable.non.empty.cannot.remove.column"
	CodeNonEmptyDeregister   = "error.msg.datatable.entry.exists.cannot.deregister"
	CodeEntityCheckExists    = "error.msg.datatable.entity.check.exists"
	CodeAlreadyRegistered    = "error.msg.datatable.registered"
	CodeProtectedColumn      = "error.msg.datatable.column.protected"
	CodeInvalidReference     = "error.msg.datatable.entry.invalid.reference"

	CodeNonEmptyMandatoryChange = "error.msg.datatable.non.empty.cannot.make.column.mandatory"
)

// NotFoundError represents an error when a registration, row or parent entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the id that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("exttable: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("exttable: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the label of the missing thing.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the id that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given label.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the id that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a lookup expects a singular result
// but receives several rows.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("exttable: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("exttable: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// ValidationError represents a rejected input: a bad name, an unknown type or
// an unusable value for a column.
type ValidationError struct {
	Field string // Parameter or column name
	Code  string // Stable error code
	Err   error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("exttable: validation failed for %q (%s): %s", e.Field, e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(field, code string, err error) *ValidationError {
	return &ValidationError{Field: field, Code: code, Err: err}
}

// Validationf is a shorthand for NewValidationError with a formatted message.
func Validationf(field, code, format string, a ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Err: fmt.Errorf(format, a...)}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// DomainError represents a request rejected by a lifecycle rule of an extension table.
type DomainError struct {
	Code  string
	Table string
	Msg   string
}

// Error returns the error string.
func (e *DomainError) Error() string {
	return fmt.Sprintf("exttable: %s: %s (%s)", e.Table, e.Msg, e.Code)
}

// Is reports whether the target error matches DomainError.
func (e *DomainError) Is(err error) bool {
	return err == ErrDomainRule
}

// NewDomainError returns a new DomainError.
func NewDomainError(code, table, msg string) *DomainError {
	return &DomainError{Code: code, Table: table, Msg: msg}
}

// IsDomainError returns true if the error is a DomainError.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	var e *DomainError
	return errors.As(err, &e)
}

// IntegrityError represents a statement rejected by the database, classified
// from the driver error.
type IntegrityError struct {
	Code   string
	Table  string
	Column string // Offending column when the driver reported one
	Err    error  // Driver error
}

// Error returns the error string.
func (e *IntegrityError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("exttable: %s.%s: integrity violation (%s): %v", e.Table, e.Column, e.Code, e.Err)
	}
	return fmt.Sprintf("exttable: %s: integrity violation (%s): %v", e.Table, e.Code, e.Err)
}

// Unwrap returns the driver error.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches IntegrityError.
func (e *IntegrityError) Is(err error) bool {
	return err == ErrIntegrity
}

// IsIntegrityError returns true if the error is an IntegrityError.
func IsIntegrityError(err error) bool {
	if err == nil {
		return false
	}
	var e *IntegrityError
	return errors.As(err, &e)
}

// ErrorCode returns the stable code carried by err, or "" if it has none.
func ErrorCode(err error) string {
	var (
		ve *ValidationError
		de *DomainError
		ie *IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &de):
		return de.Code
	case errors.As(err, &ie):
		return ie.Code
	}
	return ""
}

// AggregateError represents several field-level errors collected while
// validating one request.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "exttable: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("exttable: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

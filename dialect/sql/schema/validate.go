package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect/sql/ddl"
)

// MaxNameLength is the longest identifier accepted for tables and columns.
// Postgres truncates identifiers beyond 63 bytes.
const MaxNameLength = 63

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateName checks that name is a safe SQL identifier: a letter followed
// by letters, digits or underscores, at most MaxNameLength long. It never
// trusts a name validated earlier; call it on every request.
func ValidateName(field, name string) error {
	switch {
	case name == "":
		return exttable.Validationf(field, exttable.CodeInvalidName, "name is empty")
	case len(name) > MaxNameLength:
		return exttable.Validationf(field, exttable.CodeInvalidName, "%q exceeds %d characters", name, MaxNameLength)
	case !validName.MatchString(name):
		return exttable.Validationf(field, exttable.CodeInvalidName, "%q is not a valid name", name)
	}
	return nil
}

// Issue is a problem found while validating a table or a change.
type Issue struct {
	Table   string
	Column  string
	Code    string
	Message string
	// Breaking indicates if this is a breaking change.
	Breaking bool
}

func (e *Issue) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*Issue
	Warnings []*Issue
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// Err converts the errors into exttable validation errors, or nil.
func (r *ValidationResult) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		field := e.Column
		if field == "" {
			field = e.Table
		}
		code := e.Code
		if code == "" {
			code = exttable.CodeInvalidValue
		}
		errs = append(errs, exttable.NewValidationError(field, code, e))
	}
	return exttable.NewAggregateError(errs...)
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, issues []*Issue) {
		if len(issues) == 0 {
			return
		}
		sb.WriteString(title)
		for _, e := range issues {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors:\n", r.Errors)
	write("Warnings:\n", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) nameError(table, column, field, name string) {
	if err := ValidateName(field, name); err != nil {
		r.Errors = append(r.Errors, &Issue{Table: table, Column: column, Code: exttable.CodeInvalidName, Message: err.(*exttable.ValidationError).Err.Error()})
	}
}

// ValidateOption configures change validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowNullToNotNull bool
}

// AllowNullToNotNull reports NULL to NOT NULL changes as warnings. Use it
// when existing NULLs are back-filled before the change.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) {
		c.allowNullToNotNull = true
	}
}

// ValidateTable validates a table to be created: identifier safety,
// duplicate column names and key columns that do not exist.
func ValidateTable(t ddl.Table) *ValidationResult {
	result := &ValidationResult{}
	result.nameError(t.Name, "", "datatableName", t.Name)
	if len(t.Columns) == 0 {
		result.Errors = append(result.Errors, &Issue{Table: t.Name, Message: "table has no columns"})
	}

	colNames := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		result.nameError(t.Name, c.Name, c.Name, c.Name)
		key := strings.ToLower(c.Name)
		if colNames[key] {
			result.Errors = append(result.Errors, &Issue{
				Table:   t.Name,
				Column:  c.Name,
				Code:    exttable.CodeDuplicateColumn,
				Message: "duplicate column name",
			})
		}
		colNames[key] = true
		if !c.AutoIncrement && !c.Type.Valid() {
			result.Errors = append(result.Errors, &Issue{
				Table:   t.Name,
				Column:  c.Name,
				Code:    exttable.CodeInvalidColumnType,
				Message: "column type is not set",
			})
		}
	}

	if len(t.PrimaryKey) == 0 {
		result.Warnings = append(result.Warnings, &Issue{
			Table:   t.Name,
			Message: "table has no primary key",
		})
	}
	for _, pk := range t.PrimaryKey {
		if !colNames[strings.ToLower(pk)] {
			result.Errors = append(result.Errors, &Issue{
				Table:   t.Name,
				Message: fmt.Sprintf("primary key references non-existent column %q", pk),
			})
		}
	}
	for _, fk := range t.ForeignKeys {
		if !colNames[strings.ToLower(fk.Column)] {
			result.Errors = append(result.Errors, &Issue{
				Table:   t.Name,
				Message: fmt.Sprintf("foreign key references non-existent column %q", fk.Column),
			})
		}
	}
	return result
}

// ValidateChange validates turning column from into to on table. Type
// changes and size reductions are warnings, the latter breaking; a NULL to
// NOT NULL change is a breaking error unless AllowNullToNotNull is given.
func ValidateChange(table string, from, to ddl.Column, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	result.nameError(table, to.Name, to.Name, to.Name)

	if from.Type != to.Type {
		result.Warnings = append(result.Warnings, &Issue{
			Table:   table,
			Column:  to.Name,
			Message: fmt.Sprintf("column type changing from %v to %v", from.Type, to.Type),
		})
	}
	if from.Nullable && !to.Nullable {
		issue := &Issue{
			Table:    table,
			Column:   to.Name,
			Code:     exttable.CodeMandatoryValue,
			Message:  "column changing from NULL to NOT NULL may fail if column has NULL values",
			Breaking: true,
		}
		if cfg.allowNullToNotNull {
			result.Warnings = append(result.Warnings, issue)
		} else {
			result.Errors = append(result.Errors, issue)
		}
	}
	if from.Type == to.Type && from.Size > 0 && to.Size > 0 && to.Size < from.Size {
		result.Warnings = append(result.Warnings, &Issue{
			Table:    table,
			Column:   to.Name,
			Message:  fmt.Sprintf("column size reducing from %d to %d may truncate data", from.Size, to.Size),
			Breaking: true,
		})
	}
	return result
}

// ValidateAdd validates adding column c to table.
func ValidateAdd(table string, c ddl.Column) *ValidationResult {
	result := &ValidationResult{}
	result.nameError(table, c.Name, c.Name, c.Name)
	if !c.Nullable && c.Default.IsAbsent() {
		result.Warnings = append(result.Warnings, &Issue{
			Table:   table,
			Column:  c.Name,
			Message: "new NOT NULL column without default value may fail if table has data",
		})
	}
	return result
}

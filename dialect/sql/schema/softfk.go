package schema

import (
	"fmt"
	"strings"
)

// SoftFK selects how a column referencing the shared code-value vocabulary
// is represented.
type SoftFK uint8

const (
	// ConstraintBacked keeps the column name, adds a foreign key to
	// m_code_value and records the code in x_table_column_code_mappings.
	ConstraintBacked SoftFK = iota
	// NameEncoded stores the code name in the column name as
	// "<code>_cd_<name>", without a constraint or mapping row.
	NameEncoded
)

// Code-value vocabulary tables.
const (
	CodeTable          = "m_code"
	CodeValueTable     = "m_code_value"
	CodeMappingTable   = "x_table_column_code_mappings"
	codeNameSeparator  = "_cd_"
	foreignKeyPrefix   = "fk_"
	indexPrefix        = "idx_"
	constraintMaxBytes = MaxNameLength
)

// ParseSoftFK parses a configuration value: "constraint" or "name".
func ParseSoftFK(s string) (SoftFK, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "constraint", "constraint_backed":
		return ConstraintBacked, nil
	case "name", "name_encoded":
		return NameEncoded, nil
	}
	return 0, fmt.Errorf("schema: unknown soft foreign key strategy %q", s)
}

// String returns the configuration name of the strategy.
func (s SoftFK) String() string {
	if s == NameEncoded {
		return "name"
	}
	return "constraint"
}

// ColumnName returns the physical name of a column named name that
// references code. Only NameEncoded changes the name.
func (s SoftFK) ColumnName(name, code string) string {
	if s == NameEncoded && code != "" {
		return code + codeNameSeparator + name
	}
	return name
}

// SplitColumnName recovers the code and logical name of a NameEncoded column.
// ok is false for columns that do not follow the convention.
func SplitColumnName(column string) (code, name string, ok bool) {
	i := strings.Index(column, codeNameSeparator)
	if i <= 0 || i+len(codeNameSeparator) >= len(column) {
		return "", column, false
	}
	return column[:i], column[i+len(codeNameSeparator):], true
}

// CodeMappingAlias returns the x_table_column_code_mappings key of a column.
func CodeMappingAlias(table, column string) string {
	return table + "_" + column
}

// ForeignKeyName returns the name of the foreign key on table.column.
func ForeignKeyName(table, column string) string {
	return truncate(foreignKeyPrefix + table + "_" + column)
}

// IndexName returns the name of the index on table.column.
func IndexName(table, column string) string {
	return truncate(indexPrefix + table + "_" + column)
}

func truncate(s string) string {
	if len(s) > constraintMaxBytes {
		return s[:constraintMaxBytes]
	}
	return s
}

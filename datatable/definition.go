package datatable

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect/sql/ddl"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// ColumnType is the column type of a table definition.
type ColumnType string

// Column types.
const (
	TypeString   ColumnType = "STRING"
	TypeNumber   ColumnType = "NUMBER"
	TypeBoolean  ColumnType = "BOOLEAN"
	TypeDecimal  ColumnType = "DECIMAL"
	TypeDate     ColumnType = "DATE"
	TypeDateTime ColumnType = "DATETIME"
	TypeText     ColumnType = "TEXT"
	TypeDropdown ColumnType = "DROPDOWN"
	TypeChar     ColumnType = "CHAR"
)

// Decimal columns are DECIMAL(19,6).
const (
	DecimalPrecision = 19
	DecimalScale     = 6
)

// Registration categories.
const (
	CategoryDefault     = 100
	CategorySpecialized = 200
)

// ParseColumnType parses a column type case-insensitively.
func ParseColumnType(s string) (ColumnType, error) {
	t := ColumnType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDecimal, TypeDate, TypeDateTime, TypeText, TypeDropdown, TypeChar:
		return t, nil
	}
	return "", exttable.Validationf("type", exttable.CodeInvalidColumnType, "unknown column type %q", s)
}

// UnmarshalJSON accepts any letter case.
func (t *ColumnType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseColumnType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UnmarshalText accepts any letter case.
func (t *ColumnType) UnmarshalText(b []byte) error {
	v, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// columnType returns the portable type of t with its size and scale.
func (t ColumnType) columnType(length int) (typ sqltype.Type, size, scale int, err error) {
	switch t {
	case TypeString:
		if length <= 0 {
			return 0, 0, 0, exttable.Validationf("length", exttable.CodeInvalidValue, "length is mandatory for %s columns", t)
		}
		return sqltype.TypeVarchar, length, 0, nil
	case TypeChar:
		if length <= 0 {
			length = 1
		}
		return sqltype.TypeChar, length, 0, nil
	case TypeNumber:
		return sqltype.TypeBigInt, 0, 0, nil
	case TypeBoolean:
		return sqltype.TypeBoolean, 0, 0, nil
	case TypeDecimal:
		return sqltype.TypeDecimal, DecimalPrecision, DecimalScale, nil
	case TypeDate:
		return sqltype.TypeDate, 0, 0, nil
	case TypeDateTime:
		return sqltype.TypeDateTime, 0, 0, nil
	case TypeText:
		return sqltype.TypeText, 0, 0, nil
	case TypeDropdown:
		return sqltype.TypeInteger, 0, 0, nil
	}
	return 0, 0, 0, exttable.Validationf("type", exttable.CodeInvalidColumnType, "unknown column type %q", t)
}

// ColumnSpec describes a column to create or add.
type ColumnSpec struct {
	Name      string     `json:"name" yaml:"name"`
	Type      ColumnType `json:"type" yaml:"type"`
	Length    int        `json:"length,omitempty" yaml:"length,omitempty"`
	Mandatory bool       `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	Code      string     `json:"code,omitempty" yaml:"code,omitempty"`
}

// Definition describes an extension table to create.
type Definition struct {
	DatatableName string       `json:"datatableName" yaml:"datatableName"`
	AppTableName  string       `json:"apptableName" yaml:"apptableName"`
	MultiRow      bool         `json:"multiRow,omitempty" yaml:"multiRow,omitempty"`
	Category      int          `json:"category,omitempty" yaml:"category,omitempty"`
	Columns       []ColumnSpec `json:"columns" yaml:"columns"`
}

// ChangeColumnSpec describes the change of an existing column. Zero fields
// keep the current value, except Mandatory which is always applied. NewCode
// set to "" removes the lookup; nil keeps it.
type ChangeColumnSpec struct {
	Name      string     `json:"name" yaml:"name"`
	NewName   string     `json:"newName,omitempty" yaml:"newName,omitempty"`
	Type      ColumnType `json:"type,omitempty" yaml:"type,omitempty"`
	Length    int        `json:"length,omitempty" yaml:"length,omitempty"`
	Mandatory bool       `json:"mandatory,omitempty" yaml:"mandatory,omitempty"`
	After     string     `json:"after,omitempty" yaml:"after,omitempty"`
	Code      string     `json:"code,omitempty" yaml:"code,omitempty"`
	NewCode   *string    `json:"newCode,omitempty" yaml:"newCode,omitempty"`
}

// DropColumnSpec names a column to drop.
type DropColumnSpec struct {
	Name string `json:"name" yaml:"name"`
}

// AlterRequest describes the evolution of an extension table.
type AlterRequest struct {
	AppTableName  string             `json:"apptableName,omitempty" yaml:"apptableName,omitempty"`
	AddColumns    []ColumnSpec       `json:"addColumns,omitempty" yaml:"addColumns,omitempty"`
	ChangeColumns []ChangeColumnSpec `json:"changeColumns,omitempty" yaml:"changeColumns,omitempty"`
	DropColumns   []DropColumnSpec   `json:"dropColumns,omitempty" yaml:"dropColumns,omitempty"`
}

// Empty reports whether the request changes no column.
func (r AlterRequest) Empty() bool {
	return len(r.AddColumns) == 0 && len(r.ChangeColumns) == 0 && len(r.DropColumns) == 0
}

// codeColumn is a column referencing the code vocabulary.
type codeColumn struct {
	column string
	code   string
}

// column converts s into a column definition; the physical name follows
// the soft foreign key strategy.
func (s ColumnSpec) column(strategy schema.SoftFK) (ddl.Column, *codeColumn, error) {
	if err := schema.ValidateName("name", s.Name); err != nil {
		return ddl.Column{}, nil, err
	}
	typ, size, scale, err := s.Type.columnType(s.Length)
	if err != nil {
		return ddl.Column{}, nil, fmt.Errorf("column %q: %w", s.Name, err)
	}
	c := ddl.Column{
		Name:     s.Name,
		Type:     typ,
		Size:     size,
		Scale:    scale,
		Nullable: !s.Mandatory,
	}
	switch {
	case s.Type == TypeDropdown && s.Code == "":
		return ddl.Column{}, nil, exttable.Validationf(s.Name, exttable.CodeInvalidCodeValue, "code is mandatory for %s columns", TypeDropdown)
	case s.Type == TypeDropdown:
		c.Name = strategy.ColumnName(s.Name, s.Code)
		if err := schema.ValidateName("name", c.Name); err != nil {
			return ddl.Column{}, nil, err
		}
		return c, &codeColumn{column: c.Name, code: s.Code}, nil
	case s.Code != "":
		return ddl.Column{}, nil, exttable.Validationf(s.Name, exttable.CodeInvalidCodeValue, "code is only allowed on %s columns", TypeDropdown)
	}
	return c, nil, nil
}

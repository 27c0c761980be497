package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/sqlfunc"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// ErrUnknownType is returned when the catalog reports a column type outside
// the portable type set.
var ErrUnknownType = errors.New("schema: unknown catalog column type")

// DisplayType is the display-oriented sub-type of a column header.
type DisplayType string

// Display types.
const (
	DisplayString     DisplayType = "STRING"
	DisplayText       DisplayType = "TEXT"
	DisplayInteger    DisplayType = "INTEGER"
	DisplayDecimal    DisplayType = "DECIMAL"
	DisplayBoolean    DisplayType = "BOOLEAN"
	DisplayDate       DisplayType = "DATE"
	DisplayTime       DisplayType = "TIME"
	DisplayDateTime   DisplayType = "DATETIME"
	DisplayBinary     DisplayType = "BINARY"
	DisplayCodeLookup DisplayType = "CODELOOKUP"
)

// CodeValue is one allowed value of a lookup-backed column.
type CodeValue struct {
	ID    int64  `msgpack:"id" json:"id"`
	Value string `msgpack:"value" json:"value"`
	Score int64  `msgpack:"score,omitempty" json:"score,omitempty"`
}

// Column is an introspected column header.
type Column struct {
	Name        string       `msgpack:"name" json:"columnName"`
	Type        sqltype.Type `msgpack:"type" json:"-"`
	CatalogType string       `msgpack:"catalog_type" json:"columnType"`
	Display     DisplayType  `msgpack:"display" json:"columnDisplayType"`
	Length      int64        `msgpack:"length,omitempty" json:"columnLength,omitempty"`
	Precision   int          `msgpack:"precision,omitempty" json:"-"`
	Scale       int          `msgpack:"scale,omitempty" json:"-"`
	Nullable    bool         `msgpack:"nullable" json:"isColumnNullable"`
	PrimaryKey  bool         `msgpack:"pk" json:"isColumnPrimaryKey"`
	Code        string       `msgpack:"code,omitempty" json:"columnCode,omitempty"`
	Values      []CodeValue  `msgpack:"values,omitempty" json:"columnValues,omitempty"`
}

// IsCodeLookup reports whether the column references the code vocabulary.
func (c Column) IsCodeLookup() bool { return c.Code != "" }

// Mandatory reports whether the column is NOT NULL.
func (c Column) Mandatory() bool { return !c.Nullable }

// ValueID returns the id of the allowed value v, matched by id or by label.
func (c Column) ValueID(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	id, err := strconv.ParseInt(v, 10, 64)
	for _, cv := range c.Values {
		if (err == nil && cv.ID == id) || strings.EqualFold(cv.Value, v) {
			return cv.ID, true
		}
	}
	return 0, false
}

// Reader reads column headers of a table.
type Reader interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Inspector reads column metadata from information_schema and the code
// vocabulary tables.
type Inspector struct {
	conn    dialect.ExecQuerier
	dialect dialect.Dialect
	softFK  SoftFK
	logger  *slog.Logger
}

// InspectOption configures the Inspector.
type InspectOption func(*Inspector)

// WithSoftFK sets the strategy used to recognize lookup-backed columns.
func WithSoftFK(s SoftFK) InspectOption {
	return func(i *Inspector) {
		i.softFK = s
	}
}

// WithInspectLogger sets the logger.
func WithInspectLogger(l *slog.Logger) InspectOption {
	return func(i *Inspector) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInspector returns an Inspector over conn speaking d.
func NewInspector(conn dialect.ExecQuerier, d dialect.Dialect, opts ...InspectOption) *Inspector {
	i := &Inspector{
		conn:    conn,
		dialect: d,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Dialect returns the inspected dialect.
func (i *Inspector) Dialect() dialect.Dialect { return i.dialect }

// columnsQuery selects, in ordinal order: name, data type, detailed type,
// nullability, key, length, precision and scale.
func (i *Inspector) columnsQuery() string {
	schemaFn := sqlfunc.MustRender(i.dialect, sqlfunc.SchemaName)
	if i.dialect == dialect.Postgres {
		return "SELECT c.column_name, c.data_type, c.udt_name, c.is_nullable, " +
			"CASE WHEN EXISTS (SELECT 1 FROM information_schema.table_constraints tc " +
			"JOIN information_schema.key_column_usage kcu ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema " +
			"WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND kcu.column_name = c.column_name) " +
			"THEN 'PRI' ELSE '' END AS column_key, " +
			"c.character_maximum_length, c.numeric_precision, c.numeric_scale " +
			"FROM information_schema.columns c WHERE c.table_schema = " + schemaFn + " AND c.table_name = $1 " +
			"ORDER BY c.ordinal_position"
	}
	return "SELECT column_name, data_type, column_type, is_nullable, column_key, " +
		"character_maximum_length, numeric_precision, numeric_scale " +
		"FROM information_schema.columns WHERE table_schema = " + schemaFn + " AND table_name = ? " +
		"ORDER BY ordinal_position"
}

// Exists reports whether table exists in the current schema.
func (i *Inspector) Exists(ctx context.Context, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = " +
		sqlfunc.MustRender(i.dialect, sqlfunc.SchemaName) + " AND table_name = " + i.dialect.Placeholder(1)
	n, err := sql.QueryInt64(ctx, i.conn, query, table)
	if err != nil {
		return false, fmt.Errorf("schema: table %q: %w", table, err)
	}
	return n > 0, nil
}

// Columns returns the column headers of table in ordinal order. A table
// without columns is reported as not found; a column whose catalog type is
// outside the portable set fails with ErrUnknownType.
func (i *Inspector) Columns(ctx context.Context, table string) ([]Column, error) {
	if err := ValidateName("datatableName", table); err != nil {
		return nil, err
	}
	_, rows, err := sql.QueryStrings(ctx, i.conn, i.columnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("schema: columns of %q: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, exttable.NewNotFoundError(table)
	}
	columns := make([]Column, 0, len(rows))
	for _, r := range rows {
		c := Column{
			Name:       r[0].String,
			Nullable:   strings.EqualFold(r[3].String, "YES"),
			PrimaryKey: r[4].String == "PRI",
		}
		typ, ok := i.resolve(r[1].String, r[2].String)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s is %q", ErrUnknownType, table, c.Name, r[1].String)
		}
		c.Type = typ
		c.CatalogType = strings.ToUpper(r[1].String)
		c.Length = atoi64(r[5])
		c.Precision = int(atoi64(r[6]))
		c.Scale = int(atoi64(r[7]))
		c.Display = displayOf(typ)
		columns = append(columns, c)
	}
	if err := i.loadCodes(ctx, table, columns); err != nil {
		return nil, err
	}
	return columns, nil
}

// resolve maps catalog names to a portable type. MySQL's column_type is
// tried first so "tinyint(1)" resolves to BOOLEAN; Postgres' udt_name
// covers domain and array-less aliases.
func (i *Inspector) resolve(dataType, detail string) (sqltype.Type, bool) {
	names := []string{dataType, detail}
	if i.dialect == dialect.MySQL {
		names = []string{detail, dataType}
	}
	for _, n := range names {
		if n == "" {
			continue
		}
		if t, ok := sqltype.ResolveCatalogName(i.dialect, n); ok {
			return t, true
		}
	}
	return sqltype.TypeInvalid, false
}

func displayOf(t sqltype.Type) DisplayType {
	switch t.Kind() {
	case sqltype.KindBool:
		return DisplayBoolean
	case sqltype.KindInt:
		return DisplayInteger
	case sqltype.KindFloat, sqltype.KindDecimal:
		return DisplayDecimal
	case sqltype.KindDate:
		return DisplayDate
	case sqltype.KindTime:
		return DisplayTime
	case sqltype.KindDateTime:
		return DisplayDateTime
	case sqltype.KindBinary:
		return DisplayBinary
	}
	if t == sqltype.TypeText || t == sqltype.TypeJSON {
		return DisplayText
	}
	return DisplayString
}

// loadCodes attaches the code name and allowed values to lookup-backed columns.
func (i *Inspector) loadCodes(ctx context.Context, table string, columns []Column) error {
	byCode := make(map[string][]int)
	switch i.softFK {
	case NameEncoded:
		for idx, c := range columns {
			if code, _, ok := SplitColumnName(c.Name); ok && c.Type.Kind() == sqltype.KindInt {
				byCode[code] = append(byCode[code], idx)
			}
		}
	default:
		aliases := make(map[string]int, len(columns))
		args := make([]any, 0, len(columns))
		for idx, c := range columns {
			if c.PrimaryKey || c.Type.Kind() != sqltype.KindInt {
				continue
			}
			alias := CodeMappingAlias(table, c.Name)
			aliases[alias] = idx
			args = append(args, alias)
		}
		if len(args) == 0 {
			return nil
		}
		query := "SELECT m.column_alias_name, c.code_name FROM " + CodeMappingTable + " m JOIN " + CodeTable +
			" c ON c.id = m.code_id WHERE m.column_alias_name IN (" + i.dialect.Placeholders(1, len(args)) + ")"
		_, rows, err := sql.QueryStrings(ctx, i.conn, query, args...)
		if err != nil {
			return fmt.Errorf("schema: code mappings of %q: %w", table, err)
		}
		for _, r := range rows {
			if idx, ok := aliases[r[0].String]; ok {
				byCode[r[1].String] = append(byCode[r[1].String], idx)
			}
		}
	}
	if len(byCode) == 0 {
		return nil
	}
	codes := make([]any, 0, len(byCode))
	for _, code := range slices.Sorted(maps.Keys(byCode)) {
		codes = append(codes, code)
		for _, idx := range byCode[code] {
			columns[idx].Code = code
			columns[idx].Display = DisplayCodeLookup
		}
	}
	values, err := i.CodeValues(ctx, codes...)
	if err != nil {
		return err
	}
	for code, idxs := range byCode {
		for _, idx := range idxs {
			columns[idx].Values = values[code]
		}
	}
	return nil
}

// CodeValues returns the active values of the given codes, keyed by code name.
func (i *Inspector) CodeValues(ctx context.Context, codes ...any) (map[string][]CodeValue, error) {
	out := make(map[string][]CodeValue, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	query := "SELECT c.code_name, cv.id, cv.code_value, cv.code_score FROM " + CodeValueTable + " cv JOIN " + CodeTable +
		" c ON c.id = cv.code_id WHERE c.code_name IN (" + i.dialect.Placeholders(1, len(codes)) + ")" +
		" AND cv.is_active = " + i.dialect.BoolLiteral(true) + " ORDER BY c.code_name, cv.order_position, cv.id"
	_, rows, err := sql.QueryStrings(ctx, i.conn, query, codes...)
	if err != nil {
		return nil, fmt.Errorf("schema: code values: %w", err)
	}
	for _, r := range rows {
		code := r[0].String
		out[code] = append(out[code], CodeValue{
			ID:    atoi64(r[1]),
			Value: r[2].String,
			Score: atoi64(r[3]),
		})
	}
	return out, nil
}

func atoi64(s sql.NullString) int64 {
	if !s.Valid {
		return 0
	}
	n, _ := strconv.ParseInt(s.String, 10, 64)
	return n
}

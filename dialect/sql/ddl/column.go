package ddl

import (
	"fmt"
	"strings"

	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// Default is the default value of a column: absent (no DEFAULT clause),
// an explicit NULL, or a value. The zero Default is absent.
type Default struct {
	set   bool
	value any // nil with set means NULL
}

// NoDefault returns an absent default.
func NoDefault() Default { return Default{} }

// NullDefault returns an explicit DEFAULT NULL.
func NullDefault() Default { return Default{set: true} }

// DefaultValue returns a default of v. A nil v is the same as NullDefault.
func DefaultValue(v any) Default { return Default{set: true, value: v} }

// IsAbsent reports whether no DEFAULT clause is rendered.
func (d Default) IsAbsent() bool { return !d.set }

// IsNull reports whether the default is an explicit NULL.
func (d Default) IsNull() bool { return d.set && d.value == nil }

// Value returns the default value; ok is false for absent and NULL defaults.
func (d Default) Value() (v any, ok bool) {
	return d.value, d.set && d.value != nil
}

// Equal reports whether both defaults render the same.
func (d Default) Equal(o Default) bool {
	return d.set == o.set && fmt.Sprint(d.value) == fmt.Sprint(o.value)
}

// Literal renders the default as SQL text for a column of type t. It
// returns "" for an absent default.
func (d Default) Literal(dl dialect.Dialect, t sqltype.Type) (string, error) {
	switch {
	case !d.set:
		return "", nil
	case d.value == nil:
		return "NULL", nil
	}
	return t.CoerceLiteral(dl, d.value)
}

// Position places a column inside its table. The zero Position is "last".
// Positioning is honored only on dialects that support it and silently
// ignored elsewhere.
type Position struct {
	first bool
	after string
}

// First places the column first.
func First() Position { return Position{first: true} }

// After places the column after the named one.
func After(column string) Position { return Position{after: column} }

// IsLast reports whether the position leaves the column where the dialect puts it.
func (p Position) IsLast() bool { return !p.first && p.after == "" }

// Clause returns the positioning clause for d, or "".
func (p Position) Clause(d dialect.Dialect) string {
	switch {
	case !d.SupportsPositioning():
		return ""
	case p.first:
		return "FIRST"
	case p.after != "":
		return "AFTER " + d.Quote(p.after)
	}
	return ""
}

// Column describes one column of an extension table.
type Column struct {
	Name          string
	Type          sqltype.Type
	Size          int // precision or length; 0 for the type default
	Scale         int
	Nullable      bool
	Default       Default
	AutoIncrement bool
	Position      Position
}

// TypeToken renders the column type with its size.
func (c Column) TypeToken(d dialect.Dialect) (string, error) {
	if c.Size > 0 && c.Scale > 0 {
		return c.Type.Render(d, c.Size, c.Scale)
	}
	if c.Size > 0 {
		return c.Type.Render(d, c.Size)
	}
	return c.Type.Render(d)
}

// Definition renders the column definition without the column name and
// without a position, e.g. "VARCHAR(500) NOT NULL DEFAULT 'x'".
func (c Column) Definition(d dialect.Dialect) (string, error) {
	if c.AutoIncrement {
		return d.AutoIncrement(), nil
	}
	typ, err := c.TypeToken(d)
	if err != nil {
		return "", fmt.Errorf("ddl: column %q: %w", c.Name, err)
	}
	parts := []string{typ}
	if c.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	lit, err := c.Default.Literal(d, c.Type)
	if err != nil {
		return "", fmt.Errorf("ddl: default of column %q: %w", c.Name, err)
	}
	if lit != "" {
		parts = append(parts, "DEFAULT", lit)
	}
	return strings.Join(parts, " "), nil
}

// PositionedDefinition is Definition followed by the positioning clause, if any.
func (c Column) PositionedDefinition(d dialect.Dialect) (string, error) {
	def, err := c.Definition(d)
	if err != nil {
		return "", err
	}
	if pos := c.Position.Clause(d); pos != "" {
		def += " " + pos
	}
	return def, nil
}

// sameType reports whether both columns render the same type token.
func (c Column) sameType(o Column) bool {
	return c.Type == o.Type && c.Size == o.Size && c.Scale == o.Scale && c.AutoIncrement == o.AutoIncrement
}

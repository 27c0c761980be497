// Package sqltype maps portable column types onto the DDL tokens of each
// supported dialect and back from catalog metadata.
package sqltype

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/syssam/exttable/dialect"
)

// ErrUnsupported is returned when a type has no rendering on a dialect.
var ErrUnsupported = errors.New("sqltype: type not supported on dialect")

// A Type is a portable column type.
type Type uint8

// List of portable types.
const (
	TypeInvalid Type = iota
	TypeBoolean
	TypeTinyInt
	TypeSmallInt
	TypeInteger
	TypeBigInt
	TypeReal
	TypeDouble
	TypeDecimal
	TypeChar
	TypeVarchar
	TypeText
	TypeDate
	TypeTime
	TypeDateTime
	TypeBlob
	TypeJSON
	endTypes
)

// Kind is the scalar family values of a type belong to.
type Kind uint8

// List of scalar kinds.
const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBinary
	KindDate
	KindTime
	KindDateTime
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindDecimal:  "decimal",
	KindString:   "string",
	KindBinary:   "binary",
	KindDate:     "date",
	KindTime:     "time",
	KindDateTime: "datetime",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// rendering is how a type is spelled on one dialect.
type rendering struct {
	name      string
	precision bool // accepts (p) or (length)
	scale     bool // accepts (p,s); implies precision
	aliases   []string
}

type descriptor struct {
	name   string
	kind   Kind
	render map[dialect.Dialect]rendering // a missing dialect means unsupported
}

var types = [...]descriptor{
	TypeInvalid: {name: "invalid"},
	TypeBoolean: {
		name: "BOOLEAN",
		kind: KindBool,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "BOOLEAN", aliases: []string{"bool", "tinyint(1)", "bit(1)"}},
			dialect.Postgres: {name: "BOOLEAN", aliases: []string{"bool"}},
		},
	},
	TypeTinyInt: {
		name: "TINYINT",
		kind: KindInt,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL: {name: "TINYINT"},
		},
	},
	TypeSmallInt: {
		name: "SMALLINT",
		kind: KindInt,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "SMALLINT"},
			dialect.Postgres: {name: "SMALLINT", aliases: []string{"int2", "smallserial"}},
		},
	},
	TypeInteger: {
		name: "INTEGER",
		kind: KindInt,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "INT", aliases: []string{"integer", "mediumint"}},
			dialect.Postgres: {name: "INTEGER", aliases: []string{"int", "int4", "serial"}},
		},
	},
	TypeBigInt: {
		name: "BIGINT",
		kind: KindInt,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "BIGINT"},
			dialect.Postgres: {name: "BIGINT", aliases: []string{"int8", "bigserial"}},
		},
	},
	TypeReal: {
		name: "REAL",
		kind: KindFloat,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "FLOAT"},
			dialect.Postgres: {name: "REAL", aliases: []string{"float4"}},
		},
	},
	TypeDouble: {
		name: "DOUBLE",
		kind: KindFloat,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "DOUBLE", aliases: []string{"double precision", "real"}},
			dialect.Postgres: {name: "DOUBLE PRECISION", aliases: []string{"float8"}},
		},
	},
	TypeDecimal: {
		name: "DECIMAL",
		kind: KindDecimal,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "DECIMAL", precision: true, scale: true, aliases: []string{"numeric"}},
			dialect.Postgres: {name: "NUMERIC", precision: true, scale: true, aliases: []string{"decimal"}},
		},
	},
	TypeChar: {
		name: "CHAR",
		kind: KindString,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "CHAR", precision: true},
			dialect.Postgres: {name: "CHAR", precision: true, aliases: []string{"character", "bpchar"}},
		},
	},
	TypeVarchar: {
		name: "VARCHAR",
		kind: KindString,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "VARCHAR", precision: true},
			dialect.Postgres: {name: "VARCHAR", precision: true, aliases: []string{"character varying"}},
		},
	},
	TypeText: {
		name: "TEXT",
		kind: KindString,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "TEXT", aliases: []string{"tinytext", "mediumtext", "longtext"}},
			dialect.Postgres: {name: "TEXT"},
		},
	},
	TypeDate: {
		name: "DATE",
		kind: KindDate,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "DATE"},
			dialect.Postgres: {name: "DATE"},
		},
	},
	TypeTime: {
		name: "TIME",
		kind: KindTime,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "TIME"},
			dialect.Postgres: {name: "TIME", aliases: []string{"time without time zone"}},
		},
	},
	TypeDateTime: {
		name: "DATETIME",
		kind: KindDateTime,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "DATETIME", aliases: []string{"timestamp"}},
			dialect.Postgres: {name: "TIMESTAMP", aliases: []string{"timestamp without time zone"}},
		},
	},
	TypeBlob: {
		name: "BLOB",
		kind: KindBinary,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "BLOB", aliases: []string{"tinyblob", "mediumblob", "longblob", "varbinary", "binary"}},
			dialect.Postgres: {name: "BYTEA"},
		},
	},
	TypeJSON: {
		name: "JSON",
		kind: KindString,
		render: map[dialect.Dialect]rendering{
			dialect.MySQL:    {name: "JSON"},
			dialect.Postgres: {name: "JSONB", aliases: []string{"json"}},
		},
	},
}

// catalog holds the reverse lookup tables, keyed by lower-cased catalog name.
var catalog = func() map[dialect.Dialect]map[string]Type {
	m := make(map[dialect.Dialect]map[string]Type, len(dialect.All))
	for _, d := range dialect.All {
		m[d] = make(map[string]Type)
	}
	for t := TypeBoolean; t < endTypes; t++ {
		for d, r := range types[t].render {
			names := append([]string{r.name}, r.aliases...)
			for _, n := range names {
				n = strings.ToLower(n)
				if prev, ok := m[d][n]; ok {
					panic(fmt.Sprintf("sqltype: %s name %q registered by %s and %s", d, n, prev, t))
				}
				m[d][n] = t
			}
		}
	}
	return m
}()

// Types returns all valid portable types.
func Types() []Type {
	ts := make([]Type, 0, endTypes-1)
	for t := TypeBoolean; t < endTypes; t++ {
		ts = append(ts, t)
	}
	return ts
}

// Valid reports if the given type is a known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// String returns the portable name of the type.
func (t Type) String() string {
	if t < endTypes {
		return types[t].name
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Kind returns the scalar kind of the type.
func (t Type) Kind() Kind {
	if !t.Valid() {
		return KindInvalid
	}
	return types[t].kind
}

// Supports reports whether the type has a rendering on d.
func (t Type) Supports(d dialect.Dialect) bool {
	if !t.Valid() {
		return false
	}
	_, ok := types[t].render[d]
	return ok
}

// HasPrecision reports whether the type accepts a precision or length on d.
func (t Type) HasPrecision(d dialect.Dialect) bool {
	r, err := t.rendering(d)
	return err == nil && (r.precision || r.scale)
}

// IsString reports whether the type holds text.
func (t Type) IsString() bool { return t.Kind() == KindString }

// IsNumeric reports whether the type holds numbers.
func (t Type) IsNumeric() bool {
	switch t.Kind() {
	case KindInt, KindFloat, KindDecimal:
		return true
	}
	return false
}

// IsTemporal reports whether the type holds dates or times.
func (t Type) IsTemporal() bool {
	switch t.Kind() {
	case KindDate, KindTime, KindDateTime:
		return true
	}
	return false
}

func (t Type) rendering(d dialect.Dialect) (rendering, error) {
	if !t.Valid() {
		return rendering{}, fmt.Errorf("sqltype: invalid type %d", t)
	}
	r, ok := types[t].render[d]
	if !ok {
		return rendering{}, fmt.Errorf("%w: %s on %q", ErrUnsupported, t, d)
	}
	return r, nil
}

// Render returns the DDL type token of t on d. The first optional argument is
// the precision (or length), the second the scale. Either is omitted when the
// type does not accept it on d; a scale without a precision is ignored.
func (t Type) Render(d dialect.Dialect, precision ...int) (string, error) {
	r, err := t.rendering(d)
	if err != nil {
		return "", err
	}
	switch {
	case r.scale && len(precision) > 1 && precision[0] > 0:
		return fmt.Sprintf("%s(%d,%d)", r.name, precision[0], precision[1]), nil
	case (r.precision || r.scale) && len(precision) > 0 && precision[0] > 0:
		return fmt.Sprintf("%s(%d)", r.name, precision[0]), nil
	default:
		return r.name, nil
	}
}

// MustRender is like Render but panics on an unsupported pairing.
func (t Type) MustRender(d dialect.Dialect, precision ...int) string {
	s, err := t.Render(d, precision...)
	if err != nil {
		panic(err)
	}
	return s
}

var modifiers = regexp.MustCompile(`\s*\(.*\)|\s+unsigned|\s+zerofill|\s+with(out)? time zone`)

// ResolveCatalogName maps a catalog type name, as reported by
// information_schema, back to a portable type. Canonical names and declared
// aliases are both checked; a modifier such as "(10,2)" or "unsigned" is
// stripped when the full name is not known. ok is false for types outside
// the portable set.
func ResolveCatalogName(d dialect.Dialect, name string) (t Type, ok bool) {
	names, found := catalog[d]
	if !found {
		return TypeInvalid, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if t, ok = names[name]; ok {
		return t, true
	}
	if stripped := strings.TrimSpace(modifiers.ReplaceAllString(name, "")); stripped != name {
		t, ok = names[stripped]
	}
	return t, ok
}

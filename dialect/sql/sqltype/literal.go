package sqltype

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/syssam/exttable/dialect"
)

// Layouts of temporal literals.
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// CoerceLiteral renders v as SQL literal text for a column of type t on d.
// A nil value renders as NULL. Booleans use the native literal of d; a
// TINYINT column fed a bool renders 0/1.
func (t Type) CoerceLiteral(d dialect.Dialect, v any) (string, error) {
	if _, err := t.rendering(d); err != nil {
		return "", err
	}
	if v == nil {
		return "NULL", nil
	}
	if b, ok := v.(bool); ok && t == TypeTinyInt {
		if b {
			return "1", nil
		}
		return "0", nil
	}
	switch t.Kind() {
	case KindBool:
		b, err := toBool(v)
		if err != nil {
			return "", err
		}
		return d.BoolLiteral(b), nil
	case KindInt:
		n, err := toInt(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case KindFloat:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case KindDecimal:
		dec, err := ToDecimal(v)
		if err != nil {
			return "", err
		}
		return dec.String(), nil
	case KindString:
		s, err := toString(v)
		if err != nil {
			return "", err
		}
		return QuoteString(d, s), nil
	case KindBinary:
		return binaryLiteral(d, v)
	case KindDate:
		return temporalLiteral(d, v, DateLayout)
	case KindTime:
		return temporalLiteral(d, v, TimeLayout)
	case KindDateTime:
		return temporalLiteral(d, v, DateTimeLayout)
	}
	return "", fmt.Errorf("sqltype: cannot coerce %T to %s", v, t)
}

// NeutralLiteral returns the literal used to back-fill NULLs before a column
// becomes NOT NULL. ok is false for kinds without a neutral value.
func (t Type) NeutralLiteral(d dialect.Dialect) (lit string, ok bool) {
	switch t.Kind() {
	case KindString, KindBinary:
		return "''", true
	case KindInt, KindFloat, KindDecimal:
		return "0", true
	case KindBool:
		return d.BoolLiteral(false), true
	}
	return "", false
}

// QuoteString returns s as a single-quoted string literal escaped for d.
// MySQL treats backslash as an escape character by default, Postgres
// (standard_conforming_strings) does not.
func QuoteString(d dialect.Dialect, s string) string {
	if d == dialect.MySQL && strings.ContainsAny(s, "\\\x00") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, "\x00", `\0`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ToDecimal converts numeric and string values to a decimal.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, fmt.Errorf("sqltype: nil decimal")
		}
		return *v, nil
	case string:
		dec, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("sqltype: invalid decimal %q", v)
		}
		return dec, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("sqltype: invalid decimal %v", v)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	n, err := toInt(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqltype: cannot convert %T to decimal", v)
	}
	return decimal.NewFromInt(n), nil
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "t", "yes":
			return true, nil
		case "false", "0", "f", "no":
			return false, nil
		}
		return false, fmt.Errorf("sqltype: invalid boolean %q", v)
	}
	n, err := toInt(v)
	if err != nil {
		return false, fmt.Errorf("sqltype: cannot convert %T to boolean", v)
	}
	return n != 0, nil
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("sqltype: %d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("sqltype: %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt64 {
			return 0, fmt.Errorf("sqltype: %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sqltype: invalid integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("sqltype: cannot convert %T to integer", v)
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("sqltype: invalid number %q", v)
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("sqltype: cannot convert %T to number", v)
	}
	return float64(n), nil
}

func toString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("sqltype: cannot convert %T to string", v)
}

func binaryLiteral(d dialect.Dialect, v any) (string, error) {
	var b []byte
	switch v := v.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return "", fmt.Errorf("sqltype: cannot convert %T to binary", v)
	}
	if d == dialect.Postgres {
		return `'\x` + hex.EncodeToString(b) + "'::bytea", nil
	}
	return "X'" + hex.EncodeToString(b) + "'", nil
}

func temporalLiteral(d dialect.Dialect, v any, layout string) (string, error) {
	switch v := v.(type) {
	case time.Time:
		return QuoteString(d, v.Format(layout)), nil
	case string:
		s := strings.TrimSpace(v)
		if _, err := time.Parse(layout, s); err != nil {
			return "", fmt.Errorf("sqltype: %q does not match %s", v, layout)
		}
		return QuoteString(d, s), nil
	}
	return "", fmt.Errorf("sqltype: cannot convert %T to a temporal value", v)
}

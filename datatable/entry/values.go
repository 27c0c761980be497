package entry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// Reserved payload keys. They steer parsing and never name a column.
const (
	KeyLocale     = "locale"
	KeyDateFormat = "dateFormat"
)

// Default input patterns, in the pattern syntax accepted by dateFormat.
const (
	DefaultDateFormat     = "yyyy-MM-dd"
	DefaultDateTimeFormat = "yyyy-MM-dd HH:mm:ss"
)

// foldKey normalizes a submitted key or a column name for matching: case
// folded, spaces read as underscores.
func foldKey(s string) string {
	return strings.ReplaceAll(cases.Fold().String(strings.TrimSpace(s)), " ", "_")
}

// hints are the parsing hints carried by one payload.
type hints struct {
	locale     language.Tag
	dateFormat string
}

// splitHints separates the reserved keys from the column values.
func splitHints(values map[string]string) (map[string]string, hints, error) {
	h := hints{locale: language.English}
	fields := make(map[string]string, len(values))
	for k, v := range values {
		switch foldKey(k) {
		case foldKey(KeyLocale):
			if strings.TrimSpace(v) == "" {
				continue
			}
			tag, err := language.Parse(strings.TrimSpace(v))
			if err != nil {
				return nil, h, exttable.Validationf(KeyLocale, exttable.CodeInvalidValue, "invalid locale %q", v)
			}
			h.locale = tag
		case foldKey(KeyDateFormat):
			h.dateFormat = strings.TrimSpace(v)
		default:
			fields[k] = v
		}
	}
	return fields, h, nil
}

// decimalComma lists the languages writing the decimal separator as a comma.
var decimalComma = func() map[language.Base]bool {
	m := make(map[language.Base]bool)
	for _, s := range []string{"de", "fr", "es", "it", "pt", "nl", "ru", "id", "tr", "pl", "sv", "da", "nb", "fi", "cs", "vi", "ro", "uk"} {
		m[language.MustParseBase(s)] = true
	}
	return m
}()

// separators returns the grouping and decimal separators of the locale.
func (h hints) separators() (group, dec string) {
	if base, _ := h.locale.Base(); decimalComma[base] {
		return ".", ","
	}
	return ",", "."
}

var spaces = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "")

// parseDecimal reads a localized number.
func (h hints) parseDecimal(s string) (decimal.Decimal, error) {
	group, dec := h.separators()
	s = spaces.Replace(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, group, "")
	if dec != "." {
		s = strings.ReplaceAll(s, dec, ".")
	}
	return decimal.NewFromString(s)
}

// patterns translates date patterns such as "dd MMMM yyyy" to time layouts.
// Month names are read in English only.
var patterns = strings.NewReplacer(
	"yyyy", "2006", "yy", "06",
	"MMMM", "January", "MMM", "Jan", "MM", "01", "M", "1",
	"dd", "02", "d", "2",
	"HH", "15", "hh", "03", "h", "3",
	"mm", "04", "ss", "05", "SSS", "000",
	"a", "PM",
)

// Layout returns the time layout of a date pattern.
func Layout(pattern string) string {
	return patterns.Replace(pattern)
}

// layouts returns the input layouts tried for a temporal kind.
func (h hints) layouts(k sqltype.Kind) []string {
	switch k {
	case sqltype.KindTime:
		return []string{sqltype.TimeLayout, "15:04"}
	case sqltype.KindDate:
		if h.dateFormat != "" {
			return []string{Layout(h.dateFormat)}
		}
		return []string{Layout(DefaultDateFormat)}
	}
	if h.dateFormat != "" {
		return []string{Layout(h.dateFormat)}
	}
	return []string{Layout(DefaultDateTimeFormat), Layout(DefaultDateFormat), time.RFC3339}
}

func (h hints) parseTime(k sqltype.Kind, s string) (time.Time, error) {
	var err error
	for _, layout := range h.layouts(k) {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// normalize converts a submitted value to the Go value bound for column c.
// An empty value is NULL and yields nil.
func (h hints) normalize(c schema.Column, field, raw string) (any, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, nil
	}
	if c.IsCodeLookup() {
		id, ok := c.ValueID(v)
		if !ok {
			return nil, exttable.Validationf(field, exttable.CodeInvalidCodeValue, "%q is not an allowed value of %s", v, c.Code)
		}
		return id, nil
	}
	switch k := c.Type.Kind(); k {
	case sqltype.KindBool:
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return nil, exttable.Validationf(field, exttable.CodeInvalidValue, "%q is not a boolean", v)
		}
		return b, nil
	case sqltype.KindInt:
		d, err := h.parseDecimal(v)
		if err != nil || !d.IsInteger() || !d.BigInt().IsInt64() {
			return nil, exttable.Validationf(field, exttable.CodeInvalidValue, "%q is not a whole number", v)
		}
		return d.IntPart(), nil
	case sqltype.KindFloat, sqltype.KindDecimal:
		d, err := h.parseDecimal(v)
		if err != nil {
			return nil, exttable.Validationf(field, exttable.CodeInvalidValue, "%q is not a number", v)
		}
		if err := fitsPrecision(c, d); err != nil {
			return nil, exttable.NewValidationError(field, exttable.CodeInvalidValue, err)
		}
		return d, nil
	case sqltype.KindDate, sqltype.KindTime, sqltype.KindDateTime:
		t, err := h.parseTime(k, v)
		if err != nil {
			return nil, exttable.Validationf(field, exttable.CodeInvalidValue, "%q does not match the date format", v)
		}
		return t, nil
	case sqltype.KindBinary:
		return []byte(raw), nil
	}
	if c.Length > 0 && int64(utf8.RuneCountInString(raw)) > c.Length {
		return nil, exttable.Validationf(field, exttable.CodeValueTooLong, "value exceeds the %d character limit", c.Length)
	}
	return raw, nil
}

// fitsPrecision reports whether d fits the declared precision and scale of c.
func fitsPrecision(c schema.Column, d decimal.Decimal) error {
	if c.Type.Kind() != sqltype.KindDecimal || c.Precision == 0 {
		return nil
	}
	if !d.Equal(d.Truncate(int32(c.Scale))) {
		return fmt.Errorf("more than %d decimal places", c.Scale)
	}
	if whole := d.Abs().Truncate(0); !whole.IsZero() && len(whole.String()) > c.Precision-c.Scale {
		return fmt.Errorf("more than %d integer digits", c.Precision-c.Scale)
	}
	return nil
}

// bind converts a normalized value to a driver argument. Temporal values are
// bound as canonical text so both dialects read them the same way.
func bind(c schema.Column, v any) any {
	switch v := v.(type) {
	case time.Time:
		return formatTime(c.Type.Kind(), v)
	case decimal.Decimal:
		return v.String()
	}
	return v
}

func formatTime(k sqltype.Kind, t time.Time) string {
	switch k {
	case sqltype.KindDate:
		return t.Format(sqltype.DateLayout)
	case sqltype.KindTime:
		return t.Format(sqltype.TimeLayout)
	}
	return t.Format(sqltype.DateTimeLayout)
}

// storedLayouts are the shapes temporal values come back from the drivers in.
var storedLayouts = []string{
	sqltype.DateTimeLayout,
	sqltype.DateLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	sqltype.TimeLayout,
}

func parseStoredTime(s string) (time.Time, bool) {
	for _, layout := range storedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// same reports whether the stored value of a column equals a normalized
// value. Numbers compare by value and temporal values by instant, so "10"
// and "10.00" are the same decimal.
func same(c schema.Column, stored sql.NullString, v any) bool {
	if v == nil || !stored.Valid {
		return v == nil && !stored.Valid
	}
	s := strings.TrimSpace(stored.String)
	switch v := v.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			b = s == "t"
		}
		return b == v
	case int64:
		d, err := decimal.NewFromString(s)
		return err == nil && d.Equal(decimal.NewFromInt(v))
	case decimal.Decimal:
		d, err := decimal.NewFromString(s)
		return err == nil && d.Equal(v)
	case time.Time:
		t, ok := parseStoredTime(s)
		return ok && formatTime(c.Type.Kind(), t) == formatTime(c.Type.Kind(), v)
	case []byte:
		return stored.String == string(v)
	case string:
		return stored.String == v
	}
	return false
}

// display is the value reported in a change set.
func display(c schema.Column, v any) any {
	switch v := v.(type) {
	case time.Time:
		return formatTime(c.Type.Kind(), v)
	case decimal.Decimal:
		return v.String()
	case []byte:
		return string(v)
	}
	return v
}

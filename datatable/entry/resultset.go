package entry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// ResultSet holds the rows of an extension table together with the column
// headers describing them. It encodes to JSON as an array of row objects.
type ResultSet struct {
	Columns []schema.Column
	Rows    [][]sql.NullString
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int { return len(rs.Rows) }

// Value returns the stored text of column in row i. ok is false for NULL
// values and unknown columns.
func (rs *ResultSet) Value(i int, column string) (v string, ok bool) {
	for j, c := range rs.Columns {
		if c.Name == column {
			cell := rs.Rows[i][j]
			return cell.String, cell.Valid
		}
	}
	return "", false
}

// MarshalJSON encodes the rows as objects keyed by column name, in column
// order. Dates become [y, m, d] arrays and date-times [y, m, d, h, mi, s].
func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, row := range rs.Rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		for j, c := range rs.Columns {
			if j > 0 {
				b.WriteByte(',')
			}
			key, err := json.Marshal(c.Name)
			if err != nil {
				return nil, err
			}
			b.Write(key)
			b.WriteByte(':')
			v, err := cellJSON(c, row[j])
			if err != nil {
				return nil, err
			}
			b.Write(v)
		}
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

func cellJSON(c schema.Column, cell sql.NullString) ([]byte, error) {
	if !cell.Valid {
		return []byte("null"), nil
	}
	s := strings.TrimSpace(cell.String)
	switch k := c.Type.Kind(); {
	case c.IsCodeLookup(), k == sqltype.KindInt, k == sqltype.KindFloat, k == sqltype.KindDecimal:
		if d, err := decimal.NewFromString(s); err == nil {
			return []byte(d.String()), nil
		}
	case k == sqltype.KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			b = s == "t"
		}
		return json.Marshal(b)
	case k == sqltype.KindDate, k == sqltype.KindDateTime, k == sqltype.KindTime:
		t, ok := parseStoredTime(s)
		if !ok {
			break
		}
		var parts []int
		switch k {
		case sqltype.KindDate:
			parts = []int{t.Year(), int(t.Month()), t.Day()}
		case sqltype.KindTime:
			parts = []int{t.Hour(), t.Minute(), t.Second()}
		default:
			parts = []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
		}
		return json.Marshal(parts)
	}
	return json.Marshal(cell.String)
}

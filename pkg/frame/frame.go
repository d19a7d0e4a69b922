// Package frame holds the in-memory result of one extraction query: an
// ordered set of named, typed columns and the rows that fill them.
package frame

import (
	"strconv"
	"strings"
	"time"
)

// Type is the logical type of a column.
type Type string

const (
	TypeUnknown   Type = ""
	TypeString    Type = "string"
	TypeInt       Type = "int"
	TypeFloat     Type = "float"
	TypeDecimal   Type = "decimal"
	TypeBool      Type = "bool"
	TypeTimestamp Type = "timestamp"
	TypeDate      Type = "date"
	TypeJSON      Type = "json"
)

// Decimal is an exact base-10 number in plain notation, e.g. "-12.50".
// Sources emit it for NUMERIC/DECIMAL columns so money values are never
// rounded through float64.
type Decimal string

// Float returns the nearest float64.
func (d Decimal) Float() (float64, bool) {
	f, err := strconv.ParseFloat(string(d), 64)
	return f, err == nil
}

// Scale returns the number of digits after the decimal point.
func (d Decimal) Scale() int {
	_, frac, ok := strings.Cut(string(d), ".")
	if !ok {
		return 0
	}
	return len(frac)
}

// Precision returns the number of significant digit positions, integer and
// fractional, ignoring sign and leading zeros.
func (d Decimal) Precision() int {
	s := strings.TrimLeft(strings.TrimPrefix(string(d), "-"), "0")
	return len(strings.Replace(s, ".", "", 1))
}

// Column describes one column of a Frame.
type Column struct {
	Name string
	Type Type
}

// Frame is a row-major table. Every row has exactly len(Columns) cells.
type Frame struct {
	Columns []Column
	Rows    [][]any
}

// New creates an empty frame with the given columns.
func New(cols ...Column) *Frame {
	return &Frame{Columns: append([]Column(nil), cols...)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Empty reports whether the frame is nil or has no rows.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the first column called name, or -1.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Append adds a row. Short rows are padded with nils.
func (f *Frame) Append(row ...any) {
	r := make([]any, len(f.Columns))
	copy(r, row)
	f.Rows = append(f.Rows, r)
}

// Values returns the cells of column i.
func (f *Frame) Values(i int) []any {
	out := make([]any, len(f.Rows))
	for r, row := range f.Rows {
		out[r] = row[i]
	}
	return out
}

// Clone returns a deep copy of the column list and row slices. Cell values
// are shared.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Columns: append([]Column(nil), f.Columns...),
		Rows:    make([][]any, len(f.Rows)),
	}
	for i, row := range f.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// InsertColumn inserts a column at position pos, filling every row with value.
func (f *Frame) InsertColumn(pos int, col Column, value any) {
	if pos < 0 || pos > len(f.Columns) {
		pos = len(f.Columns)
	}
	f.Columns = append(f.Columns[:pos], append([]Column{col}, f.Columns[pos:]...)...)
	for i, row := range f.Rows {
		f.Rows[i] = append(row[:pos], append([]any{value}, row[pos:]...)...)
	}
}

// DropColumns removes every column whose name is listed. Unknown names are ignored.
func (f *Frame) DropColumns(names ...string) {
	if len(names) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}

	keep := make([]int, 0, len(f.Columns))
	cols := make([]Column, 0, len(f.Columns))
	for i, c := range f.Columns {
		if _, ok := drop[c.Name]; !ok {
			keep = append(keep, i)
			cols = append(cols, c)
		}
	}
	if len(keep) == len(f.Columns) {
		return
	}
	for r, row := range f.Rows {
		nr := make([]any, len(keep))
		for j, i := range keep {
			nr[j] = row[i]
		}
		f.Rows[r] = nr
	}
	f.Columns = cols
}

// Infer returns the narrowest type that fits every non-nil value of column i.
// Integers widen to float or decimal when mixed with them, decimals mixed
// with floats become float; any other mix is a string column.
func (f *Frame) Infer(i int) Type {
	t := TypeUnknown
	for _, row := range f.Rows {
		vt := TypeOf(row[i])
		if vt == TypeUnknown {
			continue
		}
		switch {
		case t == TypeUnknown || t == vt:
			t = vt
		case (t == TypeInt && vt == TypeFloat) || (t == TypeFloat && vt == TypeInt):
			t = TypeFloat
		case (t == TypeInt && vt == TypeDecimal) || (t == TypeDecimal && vt == TypeInt):
			t = TypeDecimal
		case (t == TypeDecimal && vt == TypeFloat) || (t == TypeFloat && vt == TypeDecimal):
			t = TypeFloat
		default:
			return TypeString
		}
	}
	return t
}

// TypeOf maps a Go value to its logical type. nil maps to TypeUnknown.
func TypeOf(v any) Type {
	switch v.(type) {
	case nil:
		return TypeUnknown
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case Decimal:
		return TypeDecimal
	case time.Time:
		return TypeTimestamp
	case string, []byte:
		return TypeString
	case map[string]any, []any:
		return TypeJSON
	default:
		return TypeString
	}
}

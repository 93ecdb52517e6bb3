package dblib

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RowSnapshot is one displayed row: column names and the values they held
// when the row was fetched, in result order.
type RowSnapshot struct {
	columns []string
	values  []any
}

// NewRowSnapshot pairs columns with values. Both slices are copied.
func NewRowSnapshot(columns []string, values []any) (RowSnapshot, error) {
	if len(columns) != len(values) {
		return RowSnapshot{}, fmt.Errorf("row has %d values for %d columns", len(values), len(columns))
	}
	s := RowSnapshot{
		columns: append([]string(nil), columns...),
		values:  append([]any(nil), values...),
	}
	return s, nil
}

func (s RowSnapshot) Len() int { return len(s.columns) }

func (s RowSnapshot) Columns() []string { return append([]string(nil), s.columns...) }

func (s RowSnapshot) Values() []any { return append([]any(nil), s.values...) }

// Index returns the position of column, or -1.
func (s RowSnapshot) Index(column string) int {
	for i, c := range s.columns {
		if c == column {
			return i
		}
	}
	return -1
}

// At returns the value in position i, or nil when i is out of range.
func (s RowSnapshot) At(i int) any {
	if i < 0 || i >= len(s.values) {
		return nil
	}
	return s.values[i]
}

// Get returns the value of column and whether the column exists.
func (s RowSnapshot) Get(column string) (any, bool) {
	i := s.Index(column)
	if i < 0 {
		return nil, false
	}
	return s.values[i], true
}

// With returns a copy of s with column set to v. s is left untouched.
func (s RowSnapshot) With(column string, v any) (RowSnapshot, error) {
	i := s.Index(column)
	if i < 0 {
		return RowSnapshot{}, fmt.Errorf("unknown column %q", column)
	}
	c := s.Clone()
	c.values[i] = v
	return c, nil
}

func (s RowSnapshot) Clone() RowSnapshot {
	return RowSnapshot{
		columns: append([]string(nil), s.columns...),
		values:  append([]any(nil), s.values...),
	}
}

// MarshalJSON writes the snapshot as an object, keeping column order.
func (s RowSnapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range s.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v := s.values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object, keeping key order. Integral
// numbers become int64, other numbers float64.
func (s *RowSnapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row snapshot must be a JSON object")
	}
	var out RowSnapshot
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("column %s: %w", key, err)
		}
		switch v := raw.(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				raw = n
			} else if f, err := v.Float64(); err == nil {
				raw = f
			} else {
				raw = v.String()
			}
		case map[string]any, []any:
			return fmt.Errorf("column %s: nested values are not supported", key)
		}
		out.columns = append(out.columns, key)
		out.values = append(out.values, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

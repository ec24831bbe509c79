// Package table holds the in-memory tabular values that flow between the
// CLIF loaders, the SQL engine, and the dataset builders. A Table is a
// column-ordered rectangle of Go values; NULL is represented by nil.
package table

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type is the logical column type used when materializing a Table as a
// working table in the SQL engine.
type Type int

const (
	Text Type = iota
	Int
	Float
	Bool
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Text:
		return "text"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Column describes one column of a Table.
type Column struct {
	Name string
	Type Type
}

// Table is an ordered set of columns plus rows of values. Row values are
// string, int64, float64, bool, time.Time, or nil for NULL, matching the
// column's Type.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// New creates an empty table with the given columns.
func New(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.Rows) }

// AppendRow adds one row. The value count must match the column count.
func (t *Table) AppendRow(vals ...any) error {
	if len(vals) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(vals), len(t.Columns))
	}
	t.Rows = append(t.Rows, vals)
	return nil
}

// MustAppendRow is AppendRow for fixture construction; it panics on arity
// mismatch.
func (t *Table) MustAppendRow(vals ...any) {
	if err := t.AppendRow(vals...); err != nil {
		panic(err)
	}
}

// FilterByIDs returns a new table holding only rows whose value in idCol is
// in ids. Rows with a NULL id are dropped. The column schema is shared with
// the receiver; rows are not copied.
func (t *Table) FilterByIDs(idCol string, ids []string) *Table {
	idx := t.ColumnIndex(idCol)
	out := &Table{Columns: t.Columns}
	if idx < 0 {
		return out
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, row := range t.Rows {
		s, ok := row[idx].(string)
		if ok && want[s] {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// SelectColumns returns a new table restricted to the named columns, in the
// given order. Unknown names are an error.
func (t *Table) SelectColumns(names ...string) (*Table, error) {
	idxs := make([]int, len(names))
	cols := make([]Column, len(names))
	for i, name := range names {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		idxs[i] = idx
		cols[i] = t.Columns[idx]
	}
	out := &Table{Columns: cols, Rows: make([][]any, 0, len(t.Rows))}
	for _, row := range t.Rows {
		nr := make([]any, len(idxs))
		for i, idx := range idxs {
			nr[i] = row[idx]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out, nil
}

// DropColumns returns a new table without the named columns. Names that do
// not exist are ignored.
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []string
	for _, c := range t.Columns {
		if !drop[c.Name] {
			keep = append(keep, c.Name)
		}
	}
	out, _ := t.SelectColumns(keep...)
	return out
}

// AddNullColumn appends a new all-NULL column to the table.
func (t *Table) AddNullColumn(name string, typ Type) {
	t.Columns = append(t.Columns, Column{Name: name, Type: typ})
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], nil)
	}
}

// DistinctStrings returns the sorted distinct non-NULL string values of the
// named column.
func (t *Table) DistinctStrings(col string) []string {
	idx := t.ColumnIndex(col)
	if idx < 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, row := range t.Rows {
		if s, ok := row[idx].(string); ok && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Append concatenates src onto dst. The schemas need not be identical:
// the result carries the union of columns in dst-then-src order, and rows
// from either side are padded with NULL for columns they lack. Columns with
// the same name must have the same type.
func Append(dst, src *Table) (*Table, error) {
	if dst == nil {
		return src, nil
	}
	if src == nil {
		return dst, nil
	}
	cols := make([]Column, len(dst.Columns))
	copy(cols, dst.Columns)
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		pos[c.Name] = i
	}
	for _, c := range src.Columns {
		if i, ok := pos[c.Name]; ok {
			if cols[i].Type != c.Type {
				return nil, fmt.Errorf("column %q: type %s vs %s", c.Name, cols[i].Type, c.Type)
			}
			continue
		}
		pos[c.Name] = len(cols)
		cols = append(cols, c)
	}
	out := &Table{Columns: cols, Rows: make([][]any, 0, len(dst.Rows)+len(src.Rows))}
	appendFrom := func(t *Table) {
		srcIdx := make([]int, len(cols))
		for i, c := range cols {
			srcIdx[i] = t.ColumnIndex(c.Name)
		}
		for _, row := range t.Rows {
			nr := make([]any, len(cols))
			for i, si := range srcIdx {
				if si >= 0 {
					nr[i] = row[si]
				}
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	appendFrom(dst)
	appendFrom(src)
	return out, nil
}

// SortBy sorts rows in place by the named columns ascending. NULLs sort
// first. Values of mismatched dynamic types compare by their string form.
func (t *Table) SortBy(cols ...string) {
	idxs := make([]int, 0, len(cols))
	for _, c := range cols {
		if i := t.ColumnIndex(c); i >= 0 {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(t.Rows, func(a, b int) bool {
		for _, i := range idxs {
			c := compareValues(t.Rows[a][i], t.Rows[b][i])
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

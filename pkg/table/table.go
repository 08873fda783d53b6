// Package table implements the observation table consumed and produced by
// the subsampling core: rows keyed by (time, lambda state) carrying one
// value per named observable column.
//
// The engine provides exactly what the subsampling core needs: a stable sort
// by composite key, group-by over the lambda state, inclusive time-range
// selection, positional take, and order-preserving concatenation.
package table

import (
	"fmt"
	"math"
	"sort"
)

// DefaultTimeName is the conventional name of the time key.
const DefaultTimeName = "time"

// Column describes one observable column. For energy-matrix tables the
// label names a lambda state and State holds the parsed value.
type Column struct {
	Name     string
	State    State
	HasState bool
}

// NewColumn builds a column, parsing the label as a lambda state when it
// looks like one.
func NewColumn(name string) Column {
	st, ok := ParseState(name)
	return Column{Name: name, State: st, HasState: ok}
}

// RowKey is the composite index of a row.
type RowKey struct {
	Time  float64
	State State
}

// Equal reports whether two keys index the same row.
func (k RowKey) Equal(o RowKey) bool {
	return k.Time == o.Time && k.State.Equal(o.State)
}

// Row is one observation.
type Row struct {
	Time   float64
	State  State
	Values []float64
}

// Key returns the composite index of the row.
func (r Row) Key() RowKey {
	return RowKey{Time: r.Time, State: r.State}
}

// Table is an ordered collection of rows sharing one column layout.
type Table struct {
	// KeyNames holds the time key name followed by one name per lambda
	// dimension, e.g. ["time", "coul-lambda", "vdw-lambda"].
	KeyNames []string
	Columns  []Column
	Rows     []Row
	// Form records the dataset shape when a parser knows it.
	Form Form
	// Attrs carries free-form metadata such as temperature and energy unit.
	Attrs map[string]string
}

// New creates an empty table. keyNames must contain the time key first.
func New(keyNames []string, columnNames []string) *Table {
	cols := make([]Column, len(columnNames))
	for i, name := range columnNames {
		cols[i] = NewColumn(name)
	}
	keys := make([]string, len(keyNames))
	copy(keys, keyNames)
	return &Table{
		KeyNames: keys,
		Columns:  cols,
		Attrs:    make(map[string]string),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// TimeName returns the name of the time key.
func (t *Table) TimeName() string {
	if len(t.KeyNames) == 0 {
		return DefaultTimeName
	}
	return t.KeyNames[0]
}

// LambdaNames returns the names of the lambda keys.
func (t *Table) LambdaNames() []string {
	if len(t.KeyNames) <= 1 {
		return nil
	}
	return t.KeyNames[1:]
}

// ColumnNames returns the observable column labels in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Append adds a row. The state dimension must match the lambda keys and
// values must be aligned with the columns.
func (t *Table) Append(time float64, state State, values []float64) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	if dims := len(t.LambdaNames()); dims > 0 && len(state) != dims {
		return fmt.Errorf("row state %v has %d dimensions, table has %d lambda keys", state, len(state), dims)
	}
	vals := make([]float64, len(values))
	copy(vals, values)
	t.Rows = append(t.Rows, Row{Time: time, State: state.Clone(), Values: vals})
	return nil
}

// Index returns the composite key of every row in table order.
func (t *Table) Index() []RowKey {
	idx := make([]RowKey, len(t.Rows))
	for i, r := range t.Rows {
		idx[i] = r.Key()
	}
	return idx
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnForState returns the position of the column whose label is the
// given lambda state, or -1.
func (t *Table) ColumnForState(s State) int {
	for i, c := range t.Columns {
		if c.HasState && c.State.Equal(s) {
			return i
		}
	}
	return -1
}

// ColumnValues returns a copy of one column's values in row order.
func (t *Table) ColumnValues(col int) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[col]
	}
	return out
}

// Times returns the time of every row in row order.
func (t *Table) Times() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Time
	}
	return out
}

// EmptyLike returns a table with the same layout and metadata but no rows.
func (t *Table) EmptyLike() *Table {
	keys := make([]string, len(t.KeyNames))
	copy(keys, t.KeyNames)
	cols := make([]Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = Column{Name: c.Name, State: c.State.Clone(), HasState: c.HasState}
	}
	attrs := make(map[string]string, len(t.Attrs))
	for k, v := range t.Attrs {
		attrs[k] = v
	}
	return &Table{KeyNames: keys, Columns: cols, Form: t.Form, Attrs: attrs}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := t.EmptyLike()
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = cloneRow(r)
	}
	return out
}

// Take returns a new table holding the rows at the given positions, in the
// order given.
func (t *Table) Take(positions []int) *Table {
	out := t.EmptyLike()
	out.Rows = make([]Row, len(positions))
	for i, p := range positions {
		out.Rows[i] = cloneRow(t.Rows[p])
	}
	return out
}

// SortPermutation returns the row positions in composite-key order: lambda
// state first, then time. The sort is stable, so rows with equal keys keep
// their input order.
func (t *Table) SortPermutation() []int {
	perm := make([]int, len(t.Rows))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		ra, rb := t.Rows[perm[a]], t.Rows[perm[b]]
		if c := ra.State.Compare(rb.State); c != 0 {
			return c < 0
		}
		return ra.Time < rb.Time
	})
	return perm
}

// SortByKey returns a copy of the table sorted by composite key.
func (t *Table) SortByKey() *Table {
	return t.Take(t.SortPermutation())
}

// IsSorted reports whether rows are already in composite-key order.
func (t *Table) IsSorted() bool {
	for i := 1; i < len(t.Rows); i++ {
		prev, cur := t.Rows[i-1], t.Rows[i]
		c := prev.State.Compare(cur.State)
		if c > 0 || (c == 0 && prev.Time > cur.Time) {
			return false
		}
	}
	return true
}

// RangePositions returns the positions of rows with lower <= time <= upper.
// A nil bound is unbounded. The table is expected to be sorted by time.
func (t *Table) RangePositions(lower, upper *float64) []int {
	out := make([]int, 0, len(t.Rows))
	for i, r := range t.Rows {
		if lower != nil && r.Time < *lower {
			continue
		}
		if upper != nil && r.Time > *upper {
			continue
		}
		out = append(out, i)
	}
	return out
}

// SelectTimeRange returns the rows with lower <= time <= upper.
func (t *Table) SelectTimeRange(lower, upper *float64) *Table {
	return t.Take(t.RangePositions(lower, upper))
}

// DuplicateTimes returns the time values that occur more than once, in
// ascending order.
func (t *Table) DuplicateTimes() []float64 {
	times := t.Times()
	sort.Float64s(times)
	var dups []float64
	for i := 1; i < len(times); i++ {
		if times[i] == times[i-1] && (len(dups) == 0 || dups[len(dups)-1] != times[i]) {
			dups = append(dups, times[i])
		}
	}
	return dups
}

// States returns the distinct lambda states in ascending order.
func (t *Table) States() []State {
	seen := make(map[string]struct{})
	var out []State
	for _, r := range t.Rows {
		k := r.State.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r.State.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// SameLayout reports whether two tables share key names and column labels.
func (t *Table) SameLayout(o *Table) bool {
	if len(t.KeyNames) != len(o.KeyNames) || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.KeyNames {
		if t.KeyNames[i] != o.KeyNames[i] {
			return false
		}
	}
	for i := range t.Columns {
		if t.Columns[i].Name != o.Columns[i].Name {
			return false
		}
	}
	return true
}

// Equal reports whether two tables have the same layout and identical rows
// in the same order. NaN values compare equal to each other.
func (t *Table) Equal(o *Table) bool {
	if !t.SameLayout(o) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Rows {
		a, b := t.Rows[i], o.Rows[i]
		if !a.Key().Equal(b.Key()) {
			return false
		}
		for j := range a.Values {
			x, y := a.Values[j], b.Values[j]
			if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
				return false
			}
		}
	}
	return true
}

// Concat joins tables in order. All tables must share the first table's
// layout; metadata is taken from the first table. An empty argument list
// yields an error because there is no layout to return.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("concat requires at least one table")
	}
	out := tables[0].EmptyLike()
	total := 0
	for _, tb := range tables {
		total += tb.Len()
	}
	out.Rows = make([]Row, 0, total)
	for i, tb := range tables {
		if !out.SameLayout(tb) {
			return nil, fmt.Errorf("table %d has a different layout", i)
		}
		for _, r := range tb.Rows {
			out.Rows = append(out.Rows, cloneRow(r))
		}
	}
	return out, nil
}

func cloneRow(r Row) Row {
	vals := make([]float64, len(r.Values))
	copy(vals, r.Values)
	return Row{Time: r.Time, State: r.State.Clone(), Values: vals}
}

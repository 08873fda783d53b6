package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T) *Table {
	t.Helper()
	tb := New([]string{"time", "fep-lambda"}, []string{"0.0", "0.5", "1.0"})
	rows := []struct {
		time  float64
		state float64
	}{
		{2, 0.5}, {0, 1.0}, {1, 0.0}, {0, 0.5}, {0, 0.0}, {1, 0.5}, {1, 1.0},
	}
	for i, r := range rows {
		require.NoError(t, tb.Append(r.time, State{r.state}, []float64{float64(i), 1, 2}))
	}
	return tb
}

func TestParseState(t *testing.T) {
	tests := []struct {
		label string
		want  State
		ok    bool
	}{
		{"0.5", State{0.5}, true},
		{" 1 ", State{1}, true},
		{"(0.0, 0.25)", State{0, 0.25}, true},
		{"[0.1,0.2,0.3]", State{0.1, 0.2, 0.3}, true},
		{"(0.5,)", State{0.5}, true},
		{"fep", nil, false},
		{"coul-lambda", nil, false},
		{"(0.1, x)", nil, false},
		{"()", nil, false},
		{"(0.1", nil, false},
		{"", nil, false},
		{"NaN", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseState(tt.label)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestStateOrderingAndFormatting(t *testing.T) {
	assert.Equal(t, -1, State{0}.Compare(State{0.5}))
	assert.Equal(t, 1, State{0.5, 1}.Compare(State{0.5, 0}))
	assert.Equal(t, -1, State{0.5}.Compare(State{0.5, 0}))
	assert.Equal(t, 0, State{0.25, 1}.Compare(State{0.25, 1}))

	assert.Equal(t, "0.5", State{0.5}.String())
	assert.Equal(t, "1.0", State{1}.String())
	assert.Equal(t, "(0.0, 0.25)", State{0, 0.25}.String())
	assert.Equal(t, State{0}.Key(), State{math.Copysign(0, -1)}.Key())
	assert.NotEqual(t, State{0.1, 0.2}.Key(), State{0.12}.Key())
}

func TestAppendValidatesShape(t *testing.T) {
	tb := New([]string{"time", "fep-lambda"}, []string{"a", "b"})
	assert.Error(t, tb.Append(0, State{0}, []float64{1}))
	assert.Error(t, tb.Append(0, State{0, 1}, []float64{1, 2}))
	assert.NoError(t, tb.Append(0, State{0}, []float64{1, 2}))
}

func TestSortAndGroup(t *testing.T) {
	tb := buildTable(t)
	assert.False(t, tb.IsSorted())

	sorted := tb.SortByKey()
	assert.True(t, sorted.IsSorted())
	assert.Equal(t, 7, sorted.Len())

	groups := tb.GroupByState()
	require.Len(t, groups, 3)
	assert.True(t, groups[0].State.Equal(State{0}))
	assert.True(t, groups[1].State.Equal(State{0.5}))
	assert.True(t, groups[2].State.Equal(State{1}))

	assert.Equal(t, []float64{0, 1, 2}, groups[1].Table.Times())
	// first value column holds the input row number
	assert.Equal(t, []float64{3, 5, 0}, groups[1].Table.ColumnValues(0))
	assert.Equal(t, []int{3, 5, 0}, groups[1].Positions)

	for _, g := range groups {
		for _, r := range g.Table.Rows {
			assert.True(t, r.State.Equal(g.State))
		}
	}
}

func TestGroupSub(t *testing.T) {
	g := buildTable(t).GroupByState()[1]
	sub := g.Sub([]int{0, 2})
	assert.Equal(t, []float64{0, 2}, sub.Table.Times())
	assert.Equal(t, []int{3, 0}, sub.Positions)
}

func TestSelectTimeRange(t *testing.T) {
	g := buildTable(t).GroupByState()[1].Table
	lo, hi := 1.0, 2.0
	assert.Equal(t, []float64{1, 2}, g.SelectTimeRange(&lo, nil).Times())
	assert.Equal(t, []float64{0, 1}, g.SelectTimeRange(nil, &lo).Times())
	assert.Equal(t, []float64{1, 2}, g.SelectTimeRange(&lo, &hi).Times())
	assert.Equal(t, 3, g.SelectTimeRange(nil, nil).Len())
}

func TestDuplicateTimes(t *testing.T) {
	tb := New([]string{"time", "lambda"}, []string{"x"})
	for _, tm := range []float64{3, 1, 3, 2, 1, 3} {
		require.NoError(t, tb.Append(tm, State{0}, []float64{0}))
	}
	assert.Equal(t, []float64{1, 3}, tb.DuplicateTimes())
	assert.Empty(t, buildTable(t).GroupByState()[0].Table.DuplicateTimes())
}

func TestConcatPreservesOrder(t *testing.T) {
	groups := buildTable(t).GroupByState()
	out, err := Concat(groups[2].Table, groups[0].Table)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())
	assert.True(t, out.Rows[0].State.Equal(State{1}))
	assert.True(t, out.Rows[3].State.Equal(State{0}))

	other := New([]string{"time", "fep-lambda"}, []string{"x"})
	_, err = Concat(out, other)
	assert.Error(t, err)

	_, err = Concat()
	assert.Error(t, err)
}

func TestTakeDoesNotAlias(t *testing.T) {
	tb := buildTable(t)
	cp := tb.Take([]int{0})
	cp.Rows[0].Values[0] = 99
	cp.Rows[0].State[0] = 42
	assert.Equal(t, 0.0, tb.Rows[0].Values[0])
	assert.Equal(t, 0.5, tb.Rows[0].State[0])
}

func TestEqual(t *testing.T) {
	a := buildTable(t)
	b := a.Clone()
	assert.True(t, a.Equal(b))
	a.Rows[0].Values[1] = math.NaN()
	b.Rows[0].Values[1] = math.NaN()
	assert.True(t, a.Equal(b))
	b.Rows[0].Values[2] = 7
	assert.False(t, a.Equal(b))
}

func TestColumnLookup(t *testing.T) {
	tb := buildTable(t)
	assert.Equal(t, 1, tb.ColumnIndex("0.5"))
	assert.Equal(t, -1, tb.ColumnIndex("fep"))
	assert.Equal(t, 2, tb.ColumnForState(State{1}))
	assert.Equal(t, -1, tb.ColumnForState(State{0.75}))
	assert.Equal(t, "time", tb.TimeName())
	assert.Equal(t, []string{"fep-lambda"}, tb.LambdaNames())
}

func TestInferForm(t *testing.T) {
	assert.Equal(t, FormEnergyMatrix, InferForm(buildTable(t)))

	grad := New([]string{"time", "coul-lambda", "vdw-lambda"}, []string{"coul", "vdw"})
	require.NoError(t, grad.Append(0, State{0, 0}, []float64{1, 2}))
	assert.Equal(t, FormGradient, InferForm(grad))

	// energy columns that do not cover a sampled state
	partial := New([]string{"time", "fep-lambda"}, []string{"0.0", "1.0"})
	require.NoError(t, partial.Append(0, State{0.5}, []float64{1, 2}))
	assert.Equal(t, FormGradient, InferForm(partial))

	grad.Form = FormEnergyMatrix
	assert.Equal(t, FormEnergyMatrix, InferForm(grad))
}

func TestParseForm(t *testing.T) {
	f, ok := ParseForm("dHdl")
	assert.True(t, ok)
	assert.Equal(t, FormGradient, f)
	f, ok = ParseForm("u_nk")
	assert.True(t, ok)
	assert.Equal(t, FormEnergyMatrix, f)
	_, ok = ParseForm("matrix")
	assert.False(t, ok)
}

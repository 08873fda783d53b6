package subsampling

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// Column labels reported for observables that are not a single column.
const (
	SumColumn    = "sum"
	SeriesColumn = "series"
)

// AnalyzeFunc runs the correlation analysis on one candidate observable.
// A non-nil error rejects the candidate.
type AnalyzeFunc func(values []float64) error

// Selector resolves a Policy to an observable for one group and runs the
// analysis on it. Random draws come from rng, which belongs to the group.
type Selector struct {
	policy Policy
	rng    *rand.Rand
}

// NewSelector returns a Selector for policy. rng may be nil for policies
// that never draw at random.
func NewSelector(policy Policy, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return &Selector{policy: policy, rng: rng}
}

// Resolve returns the label of the observable whose analysis succeeded.
func (s *Selector) Resolve(ctx context.Context, g *table.Group, analyze AnalyzeFunc) (string, error) {
	switch p := s.policy.(type) {
	case SumPolicy:
		return SumColumn, s.fixed(g, SumColumn, rowSums(g.Table), analyze)
	case SeriesPolicy:
		values := make([]float64, len(g.Positions))
		for i, pos := range g.Positions {
			values[i] = p.Series.Values[pos]
		}
		return SeriesColumn, s.fixed(g, SeriesColumn, values, analyze)
	case ColumnPolicy:
		col := g.Table.ColumnIndex(p.Name)
		if col < 0 {
			return "", selectionError(g, s.policy, "column not found", nil).WithDetail("column", p.Name)
		}
		return p.Name, s.fixed(g, p.Name, g.Table.ColumnValues(col), analyze)
	case RightPolicy:
		if col, ok := neighbour(g, +1); ok {
			name := g.Table.Columns[col].Name
			return name, s.fixed(g, name, g.Table.ColumnValues(col), analyze)
		}
		return s.random(ctx, g, analyze)
	case LeftPolicy:
		if col, ok := neighbour(g, -1); ok {
			name := g.Table.Columns[col].Name
			return name, s.fixed(g, name, g.Table.ColumnValues(col), analyze)
		}
		return s.random(ctx, g, analyze)
	case RandomPolicy:
		return s.random(ctx, g, analyze)
	}
	return "", errors.Newf(errors.ErrorTypeInternal, "unhandled policy %T", s.policy)
}

// fixed analyzes a single predetermined observable.
func (s *Selector) fixed(g *table.Group, label string, values []float64, analyze AnalyzeFunc) error {
	if !finite(values) {
		return selectionError(g, s.policy, "observable has missing values", nil).WithDetail("column", label)
	}
	if err := analyze(values); err != nil {
		return selectionError(g, s.policy, "analysis failed on observable", err).WithDetail("column", label)
	}
	return nil
}

// random draws usable columns without replacement until one analyzes
// successfully.
func (s *Selector) random(ctx context.Context, g *table.Group, analyze AnalyzeFunc) (string, error) {
	candidates := usableColumns(g.Table)
	if len(candidates) == 0 {
		return "", selectionError(g, s.policy, "no usable observable column", nil).
			WithDetail("columns", len(g.Table.Columns))
	}

	tried := 0
	var last error
	for len(candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		i := s.rng.IntN(len(candidates))
		col := candidates[i]
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		tried++
		if last = analyze(g.Table.ColumnValues(col)); last == nil {
			return g.Table.Columns[col].Name, nil
		}
	}
	return "", selectionError(g, s.policy, "analysis failed on every candidate column", last).
		WithDetail("tried", tried)
}

// neighbour returns the usable column dir steps from the group's own state
// column, falling back to the opposite side. ok is false when the state has
// no own column or neither neighbour is usable.
func neighbour(g *table.Group, dir int) (int, bool) {
	own := g.Table.ColumnForState(g.State)
	if own < 0 {
		return -1, false
	}
	for _, col := range []int{own + dir, own - dir} {
		if col < 0 || col >= len(g.Table.Columns) {
			continue
		}
		if finite(g.Table.ColumnValues(col)) {
			return col, true
		}
	}
	return -1, false
}

func usableColumns(t *table.Table) []int {
	var out []int
	for col := range t.Columns {
		if finite(t.ColumnValues(col)) {
			out = append(out, col)
		}
	}
	return out
}

// rowSums adds every column row-wise, skipping NaN cells. A row with no
// finite cell sums to NaN.
func rowSums(t *table.Table) []float64 {
	out := make([]float64, t.Len())
	for i, r := range t.Rows {
		sum, n := 0.0, 0
		for _, v := range r.Values {
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			sum = math.NaN()
		}
		out[i] = sum
	}
	return out
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func selectionError(g *table.Group, p Policy, message string, cause error) *errors.Error {
	var e *errors.Error
	if cause != nil {
		e = errors.Wrap(cause, errors.ErrorTypeSelection, message)
	} else {
		e = errors.Selection(message)
	}
	return e.WithDetail("state", g.State.String()).WithDetail("how", p.String())
}

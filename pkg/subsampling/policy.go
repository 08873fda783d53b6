package subsampling

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// How names the observable selection approach requested by the caller.
type How string

const (
	// HowAuto picks HowSum for gradient data and HowRight for energy matrices.
	HowAuto How = "auto"
	// HowRight uses the column right of the group's own state column.
	HowRight How = "right"
	// HowLeft uses the column left of the group's own state column.
	HowLeft How = "left"
	// HowRandom draws columns at random until analysis succeeds.
	HowRandom How = "random"
	// HowSum sums all observable columns row-wise.
	HowSum How = "sum"
)

// ParseHow validates a how name. The empty string means HowAuto.
func ParseHow(s string) (How, error) {
	switch h := How(strings.ToLower(strings.TrimSpace(s))); h {
	case "":
		return HowAuto, nil
	case HowAuto, HowRight, HowLeft, HowRandom, HowSum:
		return h, nil
	}
	return "", errors.Validation("unknown observable selection approach").
		WithDetail("how", s).
		WithDetail("allowed", "auto, right, left, random, sum")
}

// Policy is the resolved observable selection for one call. The set of
// implementations is closed: SumPolicy, RightPolicy, LeftPolicy,
// RandomPolicy, ColumnPolicy and SeriesPolicy.
type Policy interface {
	fmt.Stringer
	sealed()
}

// SumPolicy sums every observable column row-wise.
type SumPolicy struct{}

// RightPolicy prefers the column after the group's own state column, then
// the one before it, then falls back to RandomPolicy.
type RightPolicy struct{}

// LeftPolicy prefers the column before the group's own state column, then
// the one after it, then falls back to RandomPolicy.
type LeftPolicy struct{}

// RandomPolicy draws usable columns uniformly at random, discarding each
// column whose analysis fails, until one succeeds.
type RandomPolicy struct{}

// ColumnPolicy uses the named column.
type ColumnPolicy struct {
	Name string
}

// SeriesPolicy uses a caller-built series aligned to the input rows.
type SeriesPolicy struct {
	Series *Series
}

func (SumPolicy) sealed()    {}
func (RightPolicy) sealed()  {}
func (LeftPolicy) sealed()   {}
func (RandomPolicy) sealed() {}
func (ColumnPolicy) sealed() {}
func (SeriesPolicy) sealed() {}

func (SumPolicy) String() string      { return string(HowSum) }
func (RightPolicy) String() string    { return string(HowRight) }
func (LeftPolicy) String() string     { return string(HowLeft) }
func (RandomPolicy) String() string   { return string(HowRandom) }
func (p ColumnPolicy) String() string { return "column:" + p.Name }
func (SeriesPolicy) String() string   { return "series" }

// Series is a scalar observable built by the caller. Index must equal the
// input table's index exactly: same length and the same key at every
// position, in input order.
type Series struct {
	Index  []table.RowKey
	Values []float64
}

// NewSeries pairs an index with values.
func NewSeries(index []table.RowKey, values []float64) (*Series, error) {
	if len(index) != len(values) {
		return nil, errors.Validation("series index and values differ in length").
			WithDetail("index", len(index)).
			WithDetail("values", len(values))
	}
	return &Series{Index: index, Values: values}, nil
}

// SeriesFromColumn copies one column of t into a series aligned with t.
func SeriesFromColumn(t *table.Table, name string) (*Series, error) {
	col := t.ColumnIndex(name)
	if col < 0 {
		return nil, errors.Selection("column not found").WithDetail("column", name)
	}
	return &Series{Index: t.Index(), Values: t.ColumnValues(col)}, nil
}

// Len returns the number of values.
func (s *Series) Len() int {
	return len(s.Values)
}

func (s *Series) alignedWith(t *table.Table) error {
	if len(s.Index) != t.Len() || len(s.Values) != t.Len() {
		return errors.Validation("index of series does not match table").
			WithDetail("series_rows", len(s.Index)).
			WithDetail("table_rows", t.Len())
	}
	for i, r := range t.Rows {
		if !s.Index[i].Equal(r.Key()) {
			return errors.Validation("index of series does not match table").
				WithDetail("position", i).
				WithDetail("time", r.Time).
				WithDetail("state", r.State.String())
		}
	}
	return nil
}

// ResolvePolicy turns the caller's how/column/series choice into a Policy.
// An explicit series overrides column, and column overrides how. HowAuto
// is decided once from the table's inferred form.
func ResolvePolicy(t *table.Table, how How, column string, series *Series) (Policy, error) {
	if series != nil {
		if column != "" {
			return nil, errors.Validation("column and series are mutually exclusive").
				WithDetail("column", column)
		}
		if err := series.alignedWith(t); err != nil {
			return nil, err
		}
		return SeriesPolicy{Series: series}, nil
	}
	if column != "" {
		if t.ColumnIndex(column) < 0 {
			return nil, errors.Selection("column not found").
				WithDetail("column", column).
				WithDetail("available", strings.Join(t.ColumnNames(), ", "))
		}
		return ColumnPolicy{Name: column}, nil
	}

	how, err := ParseHow(string(how))
	if err != nil {
		return nil, err
	}
	if how == HowAuto {
		if table.InferForm(t) == table.FormEnergyMatrix {
			how = HowRight
		} else {
			how = HowSum
		}
	}
	switch how {
	case HowSum:
		return SumPolicy{}, nil
	case HowRight:
		return RightPolicy{}, nil
	case HowLeft:
		return LeftPolicy{}, nil
	default:
		return RandomPolicy{}, nil
	}
}

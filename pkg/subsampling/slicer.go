package subsampling

import (
	"strings"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// SliceOptions selects a time window and stride applied to every lambda
// state group independently.
type SliceOptions struct {
	// Lower and Upper bound the time column inclusively. Nil is unbounded.
	Lower *float64
	Upper *float64
	// Step keeps every Step-th row of the windowed group. Zero means 1.
	Step int
	// Force skips the duplicate time check.
	Force bool
}

func (o SliceOptions) step() int {
	if o.Step < 1 {
		return 1
	}
	return o.Step
}

func (o SliceOptions) validate() error {
	if o.Step < 0 {
		return errors.Validation("step must be positive").WithDetail("step", o.Step)
	}
	if o.Lower != nil && o.Upper != nil && *o.Lower > *o.Upper {
		return errors.Validation("lower bound exceeds upper bound").
			WithDetail("lower", *o.Lower).
			WithDetail("upper", *o.Upper)
	}
	return nil
}

// Slicing sorts t by (state, time), restricts every state group to the
// window [Lower, Upper] and keeps every Step-th row of each window. Groups
// are concatenated in ascending state order. Unless Force is set, a group
// with repeated time values fails the call with a validation error. The
// input table is not modified.
func Slicing(t *table.Table, opts SliceOptions) (*table.Table, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	groups, err := sliceGroups(t, opts)
	if err != nil {
		return nil, err
	}
	return concatGroups(t, groups)
}

// sliceGroups cuts t into sliced state groups and checks them for
// duplicate times. Every group is checked so the error names all of them.
func sliceGroups(t *table.Table, opts SliceOptions) ([]*table.Group, error) {
	groups := t.GroupByState()
	out := make([]*table.Group, len(groups))
	var offending []string
	for i, g := range groups {
		out[i] = sliceGroup(g, opts)
		if opts.Force {
			continue
		}
		if dups := out[i].Table.DuplicateTimes(); len(dups) > 0 {
			offending = append(offending, g.State.String())
		}
	}
	if len(offending) > 0 {
		return nil, errors.Validation("duplicate time values found; set force to proceed").
			WithDetail("states", strings.Join(offending, "; "))
	}
	return out, nil
}

func sliceGroup(g *table.Group, opts SliceOptions) *table.Group {
	window := g.Table.RangePositions(opts.Lower, opts.Upper)
	step := opts.step()
	if step == 1 {
		return g.Sub(window)
	}
	rel := make([]int, 0, (len(window)+step-1)/step)
	for i := 0; i < len(window); i += step {
		rel = append(rel, window[i])
	}
	return g.Sub(rel)
}

func concatGroups(src *table.Table, groups []*table.Group) (*table.Table, error) {
	if len(groups) == 0 {
		return src.EmptyLike(), nil
	}
	parts := make([]*table.Table, len(groups))
	for i, g := range groups {
		parts[i] = g.Table
	}
	out, err := table.Concat(parts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to concatenate groups")
	}
	return out, nil
}

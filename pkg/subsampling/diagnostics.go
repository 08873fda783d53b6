package subsampling

import (
	"math"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// GroupStats is the per-state outcome of a subsampling call.
type GroupStats struct {
	State table.State
	// Rows is the group length after slicing.
	Rows int
	// Kept is the number of rows in the output.
	Kept int
	// Column labels the observable used: a column name, SumColumn or
	// SeriesColumn. Empty for degenerate groups.
	Column string
	// StatisticalInefficiency is NaN when it could not be computed.
	StatisticalInefficiency float64
	// EquilibrationIndex is the cutoff position within the sliced group,
	// or -1 when equilibration detection did not run.
	EquilibrationIndex int
	// EffectiveSamples is the effective number of uncorrelated samples.
	EffectiveSamples float64
	// Degenerate marks groups too short to analyze, passed through as is.
	Degenerate bool
}

func degenerateStats(state table.State, rows int) GroupStats {
	return GroupStats{
		State:                   state,
		Rows:                    rows,
		Kept:                    rows,
		StatisticalInefficiency: math.NaN(),
		EquilibrationIndex:      -1,
		EffectiveSamples:        math.NaN(),
		Degenerate:              true,
	}
}

// Diagnostics collects GroupStats keyed by lambda state. It is safe for
// concurrent use. Each state is recorded once; later records for the same
// state are ignored.
type Diagnostics struct {
	mu     sync.RWMutex
	groups map[string]GroupStats
}

// NewDiagnostics returns an empty collector.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{groups: make(map[string]GroupStats)}
}

// Record adds stats for a state. It reports whether the record was new.
func (d *Diagnostics) Record(st GroupStats) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := st.State.Key()
	if _, ok := d.groups[key]; ok {
		return false
	}
	d.groups[key] = st
	return true
}

// Get returns the stats recorded for a state.
func (d *Diagnostics) Get(state table.State) (GroupStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.groups[state.Key()]
	return st, ok
}

// Len returns the number of recorded states.
func (d *Diagnostics) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.groups)
}

// Groups returns all stats in ascending state order.
func (d *Diagnostics) Groups() []GroupStats {
	d.mu.RLock()
	out := make([]GroupStats, 0, len(d.groups))
	for _, st := range d.groups {
		out = append(out, st)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].State.Compare(out[j].State) < 0 })
	return out
}

// StatisticalInefficiencies maps each state label to its g.
func (d *Diagnostics) StatisticalInefficiencies() map[string]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]float64, len(d.groups))
	for _, st := range d.groups {
		out[st.State.String()] = st.StatisticalInefficiency
	}
	return out
}

// EquilibrationIndices maps each state label to its cutoff.
func (d *Diagnostics) EquilibrationIndices() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.groups))
	for _, st := range d.groups {
		out[st.State.String()] = st.EquilibrationIndex
	}
	return out
}

// groupJSON is the wire form of GroupStats. NaN becomes null.
type groupJSON struct {
	State                   []float64 `json:"state"`
	Label                   string    `json:"label"`
	Rows                    int       `json:"rows"`
	Kept                    int       `json:"kept"`
	Column                  string    `json:"column,omitempty"`
	StatisticalInefficiency *float64  `json:"statistical_inefficiency"`
	EquilibrationIndex      *int      `json:"equilibration_index"`
	EffectiveSamples        *float64  `json:"effective_samples"`
	Degenerate              bool      `json:"degenerate,omitempty"`
}

// MarshalJSON encodes the groups as an array in ascending state order.
func (d *Diagnostics) MarshalJSON() ([]byte, error) {
	groups := d.Groups()
	out := make([]groupJSON, len(groups))
	for i, st := range groups {
		out[i] = groupJSON{
			State:                   st.State,
			Label:                   st.State.String(),
			Rows:                    st.Rows,
			Kept:                    st.Kept,
			Column:                  st.Column,
			StatisticalInefficiency: finiteOrNil(st.StatisticalInefficiency),
			EffectiveSamples:        finiteOrNil(st.EffectiveSamples),
			Degenerate:              st.Degenerate,
		}
		if st.EquilibrationIndex >= 0 {
			idx := st.EquilibrationIndex
			out[i].EquilibrationIndex = &idx
		}
	}
	return json.Marshal(out)
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

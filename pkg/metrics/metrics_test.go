package metrics

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
	"github.com/ajitpratap0/alchemsub/pkg/table"
	"github.com/ajitpratap0/alchemsub/pkg/testutil"
)

func TestObserveGroup(t *testing.T) {
	c := NewCollector()
	mode := subsampling.ModeStatisticalInefficiency

	c.ObserveGroup(mode, subsampling.GroupStats{State: table.State{0}, StatisticalInefficiency: 2.5}, time.Millisecond, nil)
	c.ObserveGroup(mode, subsampling.GroupStats{State: table.State{1}, StatisticalInefficiency: math.NaN(), Degenerate: true}, time.Millisecond, nil)
	c.ObserveGroup(mode, subsampling.GroupStats{State: table.State{2}}, time.Millisecond, errors.New(errors.ErrorTypeSelection, "boom"))

	m := string(mode)
	assert.Equal(t, 1.0, promtest.ToFloat64(c.groups.WithLabelValues(m, StatusOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.groups.WithLabelValues(m, StatusDegenerate)))
	assert.Equal(t, 1.0, promtest.ToFloat64(c.groups.WithLabelValues(m, StatusFailed)))

	// only the finite g of the successful group is observed
	expected := `
# HELP alchemsub_statistical_inefficiency Statistical inefficiency of the selected observable
# TYPE alchemsub_statistical_inefficiency histogram
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="1"} 0
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="1.5"} 0
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="2"} 0
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="3"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="5"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="10"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="20"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="50"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="100"} 1
alchemsub_statistical_inefficiency_bucket{mode="statistical_inefficiency",le="+Inf"} 1
alchemsub_statistical_inefficiency_sum{mode="statistical_inefficiency"} 2.5
alchemsub_statistical_inefficiency_count{mode="statistical_inefficiency"} 1
`
	require.NoError(t, promtest.CollectAndCompare(c.inefficiency, strings.NewReader(expected)))
	assert.Equal(t, 1, promtest.CollectAndCount(c.groupDuration))
}

func TestObserveRows(t *testing.T) {
	c := NewCollector()
	c.ObserveRows(subsampling.ModeSlicing, 100, 40)
	c.ObserveRows(subsampling.ModeSlicing, 10, 5)

	assert.Equal(t, 110.0, promtest.ToFloat64(c.rows.WithLabelValues("slicing", "in")))
	assert.Equal(t, 45.0, promtest.ToFloat64(c.rows.WithLabelValues("slicing", "out")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ObserveRows(subsampling.ModeSlicing, 1, 1)
	assert.Equal(t, 0.0, promtest.ToFloat64(b.rows.WithLabelValues("slicing", "in")))
}

func TestCollectorWithSubsampler(t *testing.T) {
	c := NewCollector()
	s := subsampling.New(
		subsampling.WithLogger(testutil.TestLogger(t)),
		subsampling.WithMetrics(c),
	)
	tb := testutil.EnergyMatrixTable(t, []float64{0, 0.5, 1}, 200, 0.8, 7)

	res, err := s.StatisticalInefficiency(context.Background(), tb, subsampling.DefaultOptions())
	require.NoError(t, err)

	m := string(subsampling.ModeStatisticalInefficiency)
	assert.Equal(t, 3.0, promtest.ToFloat64(c.groups.WithLabelValues(m, StatusOK)))
	assert.Equal(t, float64(tb.Len()), promtest.ToFloat64(c.rows.WithLabelValues(m, "in")))
	assert.Equal(t, float64(res.Table.Len()), promtest.ToFloat64(c.rows.WithLabelValues(m, "out")))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObserveRows(subsampling.ModeEquilibriumDetection, 12, 3)

	path := filepath.Join(t.TempDir(), "alchemsub.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `alchemsub_rows_total{direction="in",mode="equilibrium_detection"} 12`)

	err = c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("read")
	assert.Equal(t, "read", timer.Name())
	first := timer.Stop()
	assert.GreaterOrEqual(t, timer.Stop(), first)
}

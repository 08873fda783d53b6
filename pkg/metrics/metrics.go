// Package metrics records subsampling activity as Prometheus metrics.
//
// # Overview
//
// A Collector owns its own registry, so several collectors (one per test,
// one per CLI invocation) never collide on metric names. It implements
// subsampling.MetricsRecorder and can be handed straight to the
// Subsampler:
//
//	collector := metrics.NewCollector()
//	s := subsampling.New(subsampling.WithMetrics(collector))
//	res, err := s.StatisticalInefficiency(ctx, t, opts)
//	_ = collector.WriteTextfile("/var/lib/node_exporter/alchemsub.prom")
//
// # Metrics
//
//	alchemsub_groups_processed_total{mode,status}   counter
//	alchemsub_rows_total{mode,direction}             counter
//	alchemsub_statistical_inefficiency{mode}         histogram
//	alchemsub_group_duration_seconds{mode}           histogram
//
// Status is one of ok, degenerate or failed. Direction is in or out.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
)

const namespace = "alchemsub"

// Group outcome labels.
const (
	StatusOK         = "ok"
	StatusDegenerate = "degenerate"
	StatusFailed     = "failed"
)

// Collector holds the subsampling metrics on a private registry.
type Collector struct {
	registry      *prometheus.Registry
	groups        *prometheus.CounterVec   // groups by mode and outcome
	rows          *prometheus.CounterVec   // rows entering and leaving a call
	inefficiency  *prometheus.HistogramVec // estimated g per group
	groupDuration *prometheus.HistogramVec // wall time per group
}

// NewCollector creates a collector and registers its metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		groups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "groups_processed_total",
				Help:      "Lambda-state groups processed",
			},
			[]string{"mode", "status"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Rows read and written by subsampling calls",
			},
			[]string{"mode", "direction"},
		),
		inefficiency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statistical_inefficiency",
				Help:      "Statistical inefficiency of the selected observable",
				// g is at least 1; long tails show strongly correlated data
				Buckets: []float64{1, 1.5, 2, 3, 5, 10, 20, 50, 100},
			},
			[]string{"mode"},
		),
		groupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "group_duration_seconds",
				Help:      "Time spent analysing one lambda-state group",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"mode"},
		),
	}
	c.registry.MustRegister(c.groups, c.rows, c.inefficiency, c.groupDuration)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveGroup records the outcome of one group.
func (c *Collector) ObserveGroup(mode subsampling.Mode, stats subsampling.GroupStats, elapsed time.Duration, err error) {
	m := string(mode)
	c.groups.WithLabelValues(m, groupStatus(stats, err)).Inc()
	c.groupDuration.WithLabelValues(m).Observe(elapsed.Seconds())
	if err == nil && !math.IsNaN(stats.StatisticalInefficiency) && !math.IsInf(stats.StatisticalInefficiency, 0) {
		c.inefficiency.WithLabelValues(m).Observe(stats.StatisticalInefficiency)
	}
}

// ObserveRows records the row counts of one call.
func (c *Collector) ObserveRows(mode subsampling.Mode, in, out int) {
	m := string(mode)
	c.rows.WithLabelValues(m, "in").Add(float64(in))
	c.rows.WithLabelValues(m, "out").Add(float64(out))
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write metrics textfile").
			WithDetail("path", path)
	}
	return nil
}

func groupStatus(stats subsampling.GroupStats, err error) string {
	switch {
	case err != nil:
		return StatusFailed
	case stats.Degenerate:
		return StatusDegenerate
	}
	return StatusOK
}

// Timer measures the wall time of an operation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer starts a timer.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Name returns the operation name given to NewTimer.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the time elapsed since the timer started. It can be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

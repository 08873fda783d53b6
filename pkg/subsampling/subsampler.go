// Package subsampling decorrelates and trims free-energy time series tables.
//
// Every operation works per lambda state group: the table is sorted by
// (state, time), each group is sliced and analyzed on its own, and the
// surviving rows are concatenated back in ascending state order.
//
// Slicing only windows and strides the groups. StatisticalInefficiency
// keeps rows spaced by the statistical inefficiency g of a scalar
// observable so the output is approximately uncorrelated.
// EquilibriumDetection additionally drops the unequilibrated start of each
// group before subsampling what remains.
package subsampling

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
	"github.com/ajitpratap0/alchemsub/pkg/timeseries"
)

// TracerName is the instrumentation name of the spans this package starts.
const TracerName = "alchemsub/subsampling"

// Mode names a subsampling operation in logs, spans and metrics.
type Mode string

const (
	// ModeSlicing keeps a time window of every group at a fixed stride.
	ModeSlicing Mode = "slicing"
	// ModeStatisticalInefficiency strides every group by its estimated g.
	ModeStatisticalInefficiency Mode = "statistical_inefficiency"
	// ModeEquilibriumDetection drops the unequilibrated start of every group
	// before striding the rest by its g.
	ModeEquilibriumDetection Mode = "equilibrium_detection"
)

// ParseMode accepts the canonical mode names plus the command names used
// by the CLI.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slicing", "slice":
		return ModeSlicing, nil
	case "statistical_inefficiency", "statistical-inefficiency", "statinef":
		return ModeStatisticalInefficiency, nil
	case "equilibrium_detection", "equilibrium-detection", "equil":
		return ModeEquilibriumDetection, nil
	}
	return "", errors.Validation("unknown subsampling mode").
		WithDetail("mode", s).
		WithDetail("allowed", "slicing, statistical_inefficiency, equilibrium_detection")
}

// Analyzer estimates the correlation properties of a scalar series.
// timeseries.Analyzer is the default implementation.
type Analyzer interface {
	StatisticalInefficiency(series []float64) (float64, error)
	SubsampleIndices(series []float64, g float64, conservative bool) []int
	DetectEquilibration(series []float64) (timeseries.Equilibration, error)
}

// MetricsRecorder receives per-group and per-call measurements.
type MetricsRecorder interface {
	ObserveGroup(mode Mode, stats GroupStats, elapsed time.Duration, err error)
	ObserveRows(mode Mode, in, out int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveGroup(Mode, GroupStats, time.Duration, error) {}
func (noopMetrics) ObserveRows(Mode, int, int)                          {}

// Options controls StatisticalInefficiency and EquilibriumDetection.
type Options struct {
	SliceOptions
	// How selects the observable when neither Column nor Series is set.
	How How
	// Column names the observable column explicitly.
	Column string
	// Series supplies the observable explicitly. It must be aligned with
	// the input table as passed in.
	Series *Series
	// Conservative subsamples with the uniform stride ceil(g).
	Conservative bool
	// ReturnCalculated attaches per-group Diagnostics to the Result.
	ReturnCalculated bool
	// MinSamples is the shortest group that is analyzed. Shorter groups
	// pass through unchanged. Values below 2 mean 2.
	MinSamples int
}

// DefaultOptions returns automatic observable selection with conservative
// subsampling.
func DefaultOptions() Options {
	return Options{How: HowAuto, Conservative: true, MinSamples: 2}
}

func (o Options) minSamples() int {
	if o.MinSamples < 2 {
		return 2
	}
	return o.MinSamples
}

// Result is the outcome of a correlated subsampling call.
type Result struct {
	Table *table.Table
	// Diagnostics is nil unless Options.ReturnCalculated is set.
	Diagnostics *Diagnostics
	// Warnings holds one degenerate error per group that was passed
	// through without analysis.
	Warnings []error
}

// Subsampler runs the subsampling operations. The zero value is not
// usable; construct it with New.
type Subsampler struct {
	logger   *zap.Logger
	analyzer Analyzer
	metrics  MetricsRecorder
	tracer   trace.Tracer
	workers  int
	seed     uint64
}

// Option configures a Subsampler.
type Option func(*Subsampler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subsampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAnalyzer replaces the correlation analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Subsampler) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Subsampler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer. The default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Subsampler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithWorkers bounds how many groups are analyzed concurrently.
func WithWorkers(n int) Option {
	return func(s *Subsampler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSeed seeds random observable selection. Group i draws from a PCG
// source seeded with (seed, i), so results do not depend on scheduling.
func WithSeed(seed uint64) Option {
	return func(s *Subsampler) {
		s.seed = seed
	}
}

// New creates a Subsampler.
func New(opts ...Option) *Subsampler {
	s := &Subsampler{
		logger:   zap.NewNop(),
		analyzer: timeseries.NewAnalyzer(),
		metrics:  noopMetrics{},
		tracer:   otel.Tracer(TracerName),
		workers:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Slicing is the package-level Slicing with logging, tracing and metrics.
func (s *Subsampler) Slicing(ctx context.Context, t *table.Table, opts SliceOptions) (*table.Table, error) {
	if t == nil {
		return nil, errors.Validation("table is nil")
	}
	_, span := s.tracer.Start(ctx, "subsampling.Slicing", trace.WithAttributes(
		attribute.Int("rows", t.Len()),
		attribute.Int("step", opts.Step),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	out, err := Slicing(t, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.ObserveRows(ModeSlicing, t.Len(), out.Len())
	s.logger.Info("sliced table",
		zap.Int("rows_in", t.Len()),
		zap.Int("rows_out", out.Len()))
	return out, nil
}

// StatisticalInefficiency subsamples every group at its statistical
// inefficiency.
func (s *Subsampler) StatisticalInefficiency(ctx context.Context, t *table.Table, opts Options) (*Result, error) {
	return s.run(ctx, ModeStatisticalInefficiency, t, opts)
}

// EquilibriumDetection drops the unequilibrated start of every group and
// subsamples the rest at its statistical inefficiency.
func (s *Subsampler) EquilibriumDetection(ctx context.Context, t *table.Table, opts Options) (*Result, error) {
	return s.run(ctx, ModeEquilibriumDetection, t, opts)
}

func (s *Subsampler) run(ctx context.Context, mode Mode, t *table.Table, opts Options) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "subsampling."+string(mode))
	defer span.End()

	res, err := s.subsample(ctx, mode, t, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("rows_in", t.Len()),
		attribute.Int("rows_out", res.Table.Len()),
		attribute.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// groupOutcome is the result of one group, stored by group position.
type groupOutcome struct {
	group   *table.Group
	stats   GroupStats
	err     error
	warning error
}

func (s *Subsampler) subsample(ctx context.Context, mode Mode, t *table.Table, opts Options) (*Result, error) {
	if t == nil {
		return nil, errors.Validation("table is nil")
	}
	if err := opts.SliceOptions.validate(); err != nil {
		return nil, err
	}
	policy, err := ResolvePolicy(t, opts.How, opts.Column, opts.Series)
	if err != nil {
		return nil, err
	}
	groups, err := sliceGroups(t, opts.SliceOptions)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("subsampling",
		zap.String("mode", string(mode)),
		zap.String("policy", policy.String()),
		zap.Int("groups", len(groups)),
		zap.Int("workers", s.workers))

	outcomes := make([]groupOutcome, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, g := range groups {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.processGroup(egCtx, mode, i, g, policy, opts)
			if isContextErr(outcomes[i].err) {
				return outcomes[i].err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "subsampling canceled")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "subsampling canceled")
	}

	var (
		failures []error
		warnings []error
		kept     = make([]*table.Group, 0, len(outcomes))
		diag     = NewDiagnostics()
	)
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, o.err)
			continue
		}
		if o.warning != nil {
			warnings = append(warnings, o.warning)
		}
		diag.Record(o.stats)
		kept = append(kept, o.group)
	}
	if len(failures) > 0 {
		return nil, errors.Combine(failures...)
	}

	out, err := concatGroups(t, kept)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRows(mode, t.Len(), out.Len())
	s.logger.Info("subsampled table",
		zap.String("mode", string(mode)),
		zap.Int("groups", len(groups)),
		zap.Int("rows_in", t.Len()),
		zap.Int("rows_out", out.Len()),
		zap.Int("degenerate", len(warnings)))

	res := &Result{Table: out, Warnings: warnings}
	if opts.ReturnCalculated {
		res.Diagnostics = diag
	}
	return res, nil
}

func (s *Subsampler) processGroup(ctx context.Context, mode Mode, pos int, g *table.Group, policy Policy, opts Options) groupOutcome {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "subsampling.group", trace.WithAttributes(
		attribute.String("state", g.State.String()),
		attribute.Int("rows", g.Len()),
	))
	defer span.End()

	out := s.analyzeGroup(ctx, mode, pos, g, policy, opts)
	s.metrics.ObserveGroup(mode, out.stats, time.Since(start), out.err)

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		return out
	}
	span.SetAttributes(
		attribute.Int("kept", out.stats.Kept),
		attribute.String("column", out.stats.Column),
		attribute.Float64("statistical_inefficiency", out.stats.StatisticalInefficiency),
	)
	s.logger.Debug("group subsampled",
		zap.String("state", g.State.String()),
		zap.Int("rows", out.stats.Rows),
		zap.String("column", out.stats.Column),
		zap.Float64("g", out.stats.StatisticalInefficiency),
		zap.Int("equilibration_index", out.stats.EquilibrationIndex),
		zap.Int("kept", out.stats.Kept))
	return out
}

func (s *Subsampler) analyzeGroup(ctx context.Context, mode Mode, pos int, g *table.Group, policy Policy, opts Options) groupOutcome {
	n := g.Len()
	if minRows := opts.minSamples(); n < minRows {
		warn := errors.Degenerate("group too short to analyze, rows passed through").
			WithDetail("state", g.State.String()).
			WithDetail("rows", n).
			WithDetail("min_samples", minRows)
		s.logger.Warn("degenerate group",
			zap.String("state", g.State.String()),
			zap.Int("rows", n),
			zap.Int("min_samples", minRows))
		return groupOutcome{group: g, stats: degenerateStats(g.State, n), warning: warn}
	}

	stats := GroupStats{
		State:                   g.State,
		Rows:                    n,
		StatisticalInefficiency: math.NaN(),
		EquilibrationIndex:      -1,
		EffectiveSamples:        math.NaN(),
	}
	var keep []int
	analyze := func(values []float64) error {
		if mode == ModeEquilibriumDetection {
			eq, err := s.analyzer.DetectEquilibration(values)
			if err != nil {
				return err
			}
			idx := s.analyzer.SubsampleIndices(values[eq.Cutoff:], eq.StatisticalInefficiency, opts.Conservative)
			keep = make([]int, len(idx))
			for i, j := range idx {
				keep[i] = eq.Cutoff + j
			}
			stats.StatisticalInefficiency = eq.StatisticalInefficiency
			stats.EquilibrationIndex = eq.Cutoff
			stats.EffectiveSamples = eq.EffectiveSamples
			return nil
		}
		ineff, err := s.analyzer.StatisticalInefficiency(values)
		if err != nil {
			return err
		}
		keep = s.analyzer.SubsampleIndices(values, ineff, opts.Conservative)
		stats.StatisticalInefficiency = ineff
		stats.EffectiveSamples = float64(n) / ineff
		return nil
	}

	sel := NewSelector(policy, rand.New(rand.NewPCG(s.seed, uint64(pos))))
	column, err := sel.Resolve(ctx, g, analyze)
	if err != nil {
		return groupOutcome{stats: stats, err: err}
	}
	stats.Column = column
	sub := g.Sub(keep)
	stats.Kept = sub.Len()
	return groupOutcome{group: sub, stats: stats}
}

func isContextErr(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// Package pipeline runs alchemsub jobs: read a table, subsample it and write
// the result together with diagnostics and metrics.
//
// # Overview
//
// A Job is built from a validated config.Config and executes three stages,
// each in its own trace span:
//   - read: decode the input table (file or stdin)
//   - subsample: slicing, statistical inefficiency or equilibrium detection
//   - write: encode the output table (file or stdout) and side files
//
// # Basic Usage
//
//	job, err := pipeline.NewJob(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	report, err := job.Run(ctx)
package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/config"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/formats"
	"github.com/ajitpratap0/alchemsub/pkg/metrics"
	"github.com/ajitpratap0/alchemsub/pkg/observability"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// Job is one read, subsample and write cycle.
type Job struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Collector
	subsampler *subsampling.Subsampler

	stdin  io.Reader
	stdout io.Writer
}

// Report summarises a finished job.
type Report struct {
	Mode     subsampling.Mode
	Form     table.Form
	RowsIn   int
	RowsOut  int
	Groups   int
	Warnings []error
	// Diagnostics is set for the correlated modes when a diagnostics file
	// was requested
	Diagnostics *subsampling.Diagnostics
	Duration    time.Duration
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithStdin replaces os.Stdin as the source of "-" inputs.
func WithStdin(r io.Reader) JobOption {
	return func(j *Job) { j.stdin = r }
}

// WithStdout replaces os.Stdout as the sink of "-" outputs.
func WithStdout(w io.Writer) JobOption {
	return func(j *Job) { j.stdout = w }
}

// WithCollector records metrics into c instead of a fresh collector.
func WithCollector(c *metrics.Collector) JobOption {
	return func(j *Job) {
		if c != nil {
			j.metrics = c
		}
	}
}

// NewJob validates cfg and prepares a job.
func NewJob(cfg *config.Config, logger *zap.Logger, opts ...JobOption) (*Job, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Job{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.subsampler = subsampling.New(
		subsampling.WithLogger(logger),
		subsampling.WithMetrics(j.metrics),
		subsampling.WithWorkers(cfg.Subsample.Workers),
		subsampling.WithSeed(cfg.Subsample.Seed),
	)
	return j, nil
}

// Metrics returns the collector the job records into.
func (j *Job) Metrics() *metrics.Collector {
	return j.metrics
}

// Run executes the job. Output table, diagnostics and metrics are staged and
// only moved into place once all of them were produced, so on failure
// nothing is written.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	mode := j.cfg.SubsampleMode()
	ctx, stage := observability.StartStage(ctx, "alchemsub.job",
		attribute.String("mode", string(mode)),
		attribute.String("input", j.cfg.Input.Path))
	log := observability.WithTrace(ctx, j.logger).With(zap.String("mode", string(mode)))

	st := &staging{}
	defer st.discard()

	report, err := j.run(ctx, mode, log, st)
	if err == nil {
		err = j.writeMetrics(st)
	}
	if err == nil {
		err = st.commit()
	}
	duration := stage.End(err)
	if err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("duration", duration))
		return nil, err
	}
	report.Duration = duration

	log.Info("job completed",
		zap.String("form", string(report.Form)),
		zap.Int("groups", report.Groups),
		zap.Int("rows_in", report.RowsIn),
		zap.Int("rows_out", report.RowsOut),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", duration))
	return report, nil
}

func (j *Job) run(ctx context.Context, mode subsampling.Mode, log *zap.Logger, st *staging) (*Report, error) {
	var in *table.Table
	err := observability.Trace(ctx, "read", func(context.Context) error {
		var err error
		in, err = j.read()
		return err
	})
	if err != nil {
		return nil, err
	}
	form := table.InferForm(in)
	log.Debug("input table read",
		zap.Int("rows", in.Len()),
		zap.Strings("columns", in.ColumnNames()),
		zap.String("form", string(form)))

	var (
		out *table.Table
		res *subsampling.Result
	)
	err = observability.Trace(ctx, "subsample", func(ctx context.Context) error {
		var err error
		switch mode {
		case subsampling.ModeSlicing:
			out, err = j.subsampler.Slicing(ctx, in, j.cfg.SliceOptions())
		case subsampling.ModeEquilibriumDetection:
			res, err = j.subsampler.EquilibriumDetection(ctx, in, j.cfg.SubsampleOptions())
		default:
			res, err = j.subsampler.StatisticalInefficiency(ctx, in, j.cfg.SubsampleOptions())
		}
		if res != nil {
			out = res.Table
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Mode:   mode,
		Form:   form,
		RowsIn: in.Len(),
		Groups: len(in.States()),
	}
	report.RowsOut = out.Len()
	if res != nil {
		report.Warnings = res.Warnings
		report.Diagnostics = res.Diagnostics
		for _, w := range res.Warnings {
			log.Warn("subsampling warning", zap.Error(w))
		}
	}

	err = observability.Trace(ctx, "write", func(context.Context) error {
		if err := j.write(out, st); err != nil {
			return err
		}
		return j.writeDiagnostics(report.Diagnostics, log, st)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (j *Job) read() (*table.Table, error) {
	fo, err := inputFileOptions(j.cfg.Input)
	if err != nil {
		return nil, err
	}
	opts := readOptions(j.cfg.Input)
	if j.cfg.Input.Path == config.StdStream {
		return formats.Read(j.stdin, fo.Format, fo.Compression, opts)
	}
	return formats.ReadFile(j.cfg.Input.Path, fo, opts)
}

func (j *Job) write(out *table.Table, st *staging) error {
	fo, err := outputFileOptions(j.cfg)
	if err != nil {
		return err
	}
	opts := formats.WriteOptions{
		Compression: j.cfg.Output.CodecCompression,
		BatchSize:   j.cfg.Output.BatchSize,
	}
	level := fo.Level
	if level == 0 {
		level = compression.Default
	}
	path := j.cfg.Output.Path
	if path == "" || path == config.StdStream {
		return formats.Write(st.stdout(j.stdout), out, fo.Format, fo.Compression, level, opts)
	}
	f, err := st.create(path)
	if err != nil {
		return err
	}
	if err := formats.Write(f, out, fo.Format, fo.Compression, level, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close table file").WithDetail("path", path)
	}
	return nil
}

func (j *Job) writeMetrics(st *staging) error {
	path := j.cfg.Observability.MetricsFile
	if path == "" {
		return nil
	}
	tmp, err := st.reserve(path)
	if err != nil {
		return err
	}
	return j.metrics.WriteTextfile(tmp)
}

func (j *Job) writeDiagnostics(d *subsampling.Diagnostics, log *zap.Logger, st *staging) error {
	path := j.cfg.Output.Diagnostics
	if path == "" {
		return nil
	}
	if d == nil {
		log.Warn("no diagnostics for slicing, skipping diagnostics file", zap.String("path", path))
		return nil
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode diagnostics")
	}
	return st.writeFile(path, append(data, '\n'))
}

func readOptions(in config.InputConfig) formats.ReadOptions {
	form, _ := table.ParseForm(in.Form)
	return formats.ReadOptions{KeyColumns: in.KeyColumns, Form: form}
}

func inputFileOptions(in config.InputConfig) (formats.FileOptions, error) {
	var fo formats.FileOptions
	if in.Format != "" {
		f, err := formats.ParseFormat(in.Format)
		if err != nil {
			return fo, err
		}
		fo.Format = f
	} else {
		f, alg, err := formats.FromPath(in.Path)
		if err != nil {
			return fo, err
		}
		fo.Format, fo.Compression = f, alg
	}
	if in.Compression != "" {
		alg, err := compression.ParseAlgorithm(in.Compression)
		if err != nil {
			return fo, errors.Wrap(err, errors.ErrorTypeConfig, "invalid input compression")
		}
		fo.Compression = alg
	} else if fo.Compression == "" {
		alg, _ := compression.FromPath(in.Path)
		fo.Compression = alg
	}
	return fo, nil
}

// outputFileOptions resolves the output format from, in order, the
// explicit format, the output path and the input format.
func outputFileOptions(cfg *config.Config) (formats.FileOptions, error) {
	out := cfg.Output
	var fo formats.FileOptions

	level, err := compression.ParseLevel(out.Level)
	if err != nil {
		return fo, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression level")
	}
	fo.Level = level

	toStdout := out.Path == "" || out.Path == config.StdStream
	switch {
	case out.Format != "":
		if fo.Format, err = formats.ParseFormat(out.Format); err != nil {
			return fo, err
		}
		if !toStdout {
			fo.Compression, _ = compression.FromPath(out.Path)
		}
	case !toStdout:
		if f, alg, err := formats.FromPath(out.Path); err == nil {
			fo.Format, fo.Compression = f, alg
			break
		}
		fallthrough
	default:
		in, err := inputFileOptions(cfg.Input)
		if err != nil {
			return fo, err
		}
		fo.Format = in.Format
		if !toStdout {
			fo.Compression, _ = compression.FromPath(out.Path)
		}
	}

	if out.Compression != "" {
		alg, err := compression.ParseAlgorithm(out.Compression)
		if err != nil {
			return fo, errors.Wrap(err, errors.ErrorTypeConfig, "invalid output compression")
		}
		fo.Compression = alg
	}
	if fo.Compression == "" {
		fo.Compression = compression.None
	}
	return fo, nil
}

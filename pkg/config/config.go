package config

import (
	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/formats"
	"github.com/ajitpratap0/alchemsub/pkg/logger"
	"github.com/ajitpratap0/alchemsub/pkg/observability"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// StdStream is the path that stands for stdin or stdout.
const StdStream = "-"

// Config is the configuration of one subsampling job.
type Config struct {
	// Input describes the table to read
	Input InputConfig `yaml:"input" json:"input" mapstructure:"input"`

	// Output describes where the subsampled table and diagnostics go
	Output OutputConfig `yaml:"output" json:"output" mapstructure:"output"`

	// Subsample selects the operation and its parameters
	Subsample SubsampleConfig `yaml:"subsample" json:"subsample" mapstructure:"subsample"`

	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// InputConfig describes the input table. Empty format and compression are
// detected from the path.
type InputConfig struct {
	Path        string   `yaml:"path" json:"path" mapstructure:"path"`
	Format      string   `yaml:"format" json:"format" mapstructure:"format"`
	Compression string   `yaml:"compression" json:"compression" mapstructure:"compression"`
	KeyColumns  []string `yaml:"key_columns" json:"key_columns" mapstructure:"key_columns"`
	// Form forces dHdl or u_nk instead of inferring it
	Form string `yaml:"form" json:"form" mapstructure:"form"`
}

// OutputConfig describes the output table and side files.
type OutputConfig struct {
	Path        string `yaml:"path" json:"path" mapstructure:"path"`
	Format      string `yaml:"format" json:"format" mapstructure:"format"`
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	// CodecCompression is the format's own compression, e.g. parquet zstd
	CodecCompression string `yaml:"codec_compression" json:"codec_compression" mapstructure:"codec_compression"`
	BatchSize        int    `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// Diagnostics is an optional JSON file of per-group statistics
	Diagnostics string `yaml:"diagnostics" json:"diagnostics" mapstructure:"diagnostics"`
}

// SubsampleConfig holds the subsampling parameters.
type SubsampleConfig struct {
	Mode         string   `yaml:"mode" json:"mode" mapstructure:"mode"`
	How          string   `yaml:"how" json:"how" mapstructure:"how"`
	Column       string   `yaml:"column" json:"column" mapstructure:"column"`
	Lower        *float64 `yaml:"lower,omitempty" json:"lower,omitempty" mapstructure:"lower"`
	Upper        *float64 `yaml:"upper,omitempty" json:"upper,omitempty" mapstructure:"upper"`
	Step         int      `yaml:"step" json:"step" mapstructure:"step"`
	Conservative bool     `yaml:"conservative" json:"conservative" mapstructure:"conservative"`
	Force        bool     `yaml:"force" json:"force" mapstructure:"force"`
	Seed         uint64   `yaml:"seed" json:"seed" mapstructure:"seed"`
	Workers      int      `yaml:"workers" json:"workers" mapstructure:"workers"`
	MinSamples   int      `yaml:"min_samples" json:"min_samples" mapstructure:"min_samples"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	// MetricsFile receives Prometheus text metrics after the job
	MetricsFile string                      `yaml:"metrics_file" json:"metrics_file" mapstructure:"metrics_file"`
	Tracing     observability.TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// Default returns a configuration with every optional field at its
// default. Input.Path still has to be set.
func Default() *Config {
	opts := subsampling.DefaultOptions()
	return &Config{
		Output: OutputConfig{
			Path:      StdStream,
			Level:     compression.Default.String(),
			BatchSize: formats.DefaultWriteOptions().BatchSize,
		},
		Subsample: SubsampleConfig{
			Mode:         string(subsampling.ModeStatisticalInefficiency),
			How:          string(opts.How),
			Step:         1,
			Conservative: opts.Conservative,
			Workers:      1,
			MinSamples:   opts.MinSamples,
		},
		Logging: logger.DefaultConfig(),
		Observability: ObservabilityConfig{
			Tracing: observability.DefaultTracingConfig(),
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, message string, value interface{}) {
		errs = append(errs, errors.New(errors.ErrorTypeConfig, message).
			WithDetail("field", field).
			WithDetail("value", value))
	}

	if c.Input.Path == "" {
		add("input.path", "input path is required", c.Input.Path)
	}
	if c.Input.Path == StdStream && c.Input.Format == "" {
		add("input.format", "input format is required when reading stdin", c.Input.Format)
	}
	if c.Input.Format != "" {
		if _, err := formats.ParseFormat(c.Input.Format); err != nil {
			add("input.format", "unknown input format", c.Input.Format)
		}
	}
	if c.Input.Compression != "" {
		if _, err := compression.ParseAlgorithm(c.Input.Compression); err != nil {
			add("input.compression", "unknown input compression", c.Input.Compression)
		}
	}
	if _, ok := table.ParseForm(c.Input.Form); !ok {
		add("input.form", "unknown table form", c.Input.Form)
	}

	if c.Output.Format != "" {
		if _, err := formats.ParseFormat(c.Output.Format); err != nil {
			add("output.format", "unknown output format", c.Output.Format)
		}
	}
	if c.Output.Compression != "" {
		if _, err := compression.ParseAlgorithm(c.Output.Compression); err != nil {
			add("output.compression", "unknown output compression", c.Output.Compression)
		}
	}
	if c.Output.Level != "" {
		if _, err := compression.ParseLevel(c.Output.Level); err != nil {
			add("output.level", "unknown compression level", c.Output.Level)
		}
	}
	if c.Output.BatchSize < 0 {
		add("output.batch_size", "batch_size cannot be negative", c.Output.BatchSize)
	}

	s := c.Subsample
	if _, err := subsampling.ParseMode(s.Mode); err != nil {
		add("subsample.mode", "unknown subsampling mode", s.Mode)
	}
	if _, err := subsampling.ParseHow(s.How); err != nil {
		add("subsample.how", "unknown observable selection approach", s.How)
	}
	if s.Step < 0 {
		add("subsample.step", "step cannot be negative", s.Step)
	}
	if s.Lower != nil && s.Upper != nil && *s.Lower > *s.Upper {
		add("subsample.lower", "lower bound is above upper bound", *s.Lower)
	}
	if s.Workers < 0 {
		add("subsample.workers", "workers cannot be negative", s.Workers)
	}
	if s.MinSamples < 0 {
		add("subsample.min_samples", "min_samples cannot be negative", s.MinSamples)
	}

	t := c.Observability.Tracing
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		add("observability.tracing.sampling_rate", "sampling_rate must be within [0, 1]", t.SamplingRate)
	}

	return errors.Combine(errs...)
}

// SubsampleMode returns the parsed mode. Call Validate first.
func (c *Config) SubsampleMode() subsampling.Mode {
	m, _ := subsampling.ParseMode(c.Subsample.Mode)
	return m
}

// SliceOptions converts the slicing parameters.
func (c *Config) SliceOptions() subsampling.SliceOptions {
	return subsampling.SliceOptions{
		Lower: c.Subsample.Lower,
		Upper: c.Subsample.Upper,
		Step:  c.Subsample.Step,
		Force: c.Subsample.Force,
	}
}

// SubsampleOptions converts the parameters of the correlated modes.
// Diagnostics are requested when a diagnostics file is configured.
func (c *Config) SubsampleOptions() subsampling.Options {
	how, _ := subsampling.ParseHow(c.Subsample.How)
	return subsampling.Options{
		SliceOptions:     c.SliceOptions(),
		How:              how,
		Column:           c.Subsample.Column,
		Conservative:     c.Subsample.Conservative,
		ReturnCalculated: c.Output.Diagnostics != "",
		MinSamples:       c.Subsample.MinSamples,
	}
}

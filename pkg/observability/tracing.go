// Package observability sets up OpenTelemetry tracing for alchemsub and
// ties trace identifiers into structured logs.
//
// Tracing is off unless InitTracing is called with Enabled set. Until then
// the global otel provider is a no-op, so instrumented code such as the
// Subsampler costs almost nothing.
package observability

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
)

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	ServiceVersion string        `yaml:"service_version" json:"service_version" mapstructure:"service_version"`
	SamplingRate   float64       `yaml:"sampling_rate" json:"sampling_rate" mapstructure:"sampling_rate"`
	Output         string        `yaml:"output" json:"output" mapstructure:"output"` // stdout, stderr or a file path
	PrettyPrint    bool          `yaml:"pretty_print" json:"pretty_print" mapstructure:"pretty_print"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" json:"batch_timeout" mapstructure:"batch_timeout"`
}

// DefaultTracingConfig returns a disabled configuration that samples every
// trace once enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "alchemsub",
		ServiceVersion: "dev",
		SamplingRate:   1.0,
		Output:         "stderr",
		BatchTimeout:   time.Second,
	}
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// TracingOption adjusts InitTracing.
type TracingOption func(*tracingOptions)

type tracingOptions struct {
	writer io.Writer
}

// WithWriter sends exported spans to w instead of cfg.Output.
func WithWriter(w io.Writer) TracingOption {
	return func(o *tracingOptions) {
		o.writer = w
	}
}

// InitTracing installs an SDK tracer provider exporting to stdout, stderr
// or a file, and makes it the global otel provider. A disabled config
// leaves the global provider untouched and returns a no-op shutdown.
func InitTracing(cfg TracingConfig, opts ...TracingOption) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	var o tracingOptions
	for _, opt := range opts {
		opt(&o)
	}

	w, closeOutput, err := openOutput(cfg.Output, o.writer)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		closeOutput()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		closeOutput()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout exporter")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		closeOutput()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to shutdown tracer provider")
		}
		return nil
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

func openOutput(output string, override io.Writer) (io.Writer, func(), error) {
	noop := func() {}
	if override != nil {
		return override, noop, nil
	}
	switch output {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create trace output").
			WithDetail("path", output)
	}
	return f, func() { f.Close() }, nil
}

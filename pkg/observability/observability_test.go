package observability

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	alcherrors "github.com/ajitpratap0/alchemsub/pkg/errors"
)

func resetProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingExportsStages(t *testing.T) {
	resetProvider(t)
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true

	shutdown, err := InitTracing(cfg, WithWriter(&buf))
	require.NoError(t, err)

	err = Trace(context.Background(), "read-input", func(ctx context.Context) error {
		_, stage := StartStage(ctx, "decode", attribute.String("format", "csv"))
		stage.End(nil)
		return errors.New("disk on fire")
	})
	assert.EqualError(t, err, "disk on fire")

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"read-input"`)
	assert.Contains(t, out, `"Name":"decode"`)
	assert.Contains(t, out, "disk on fire")
	assert.Contains(t, out, "alchemsub")
}

func TestInitTracingNeverSample(t *testing.T) {
	resetProvider(t)
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.SamplingRate = 0

	shutdown, err := InitTracing(cfg, WithWriter(&buf))
	require.NoError(t, err)
	require.NoError(t, Trace(context.Background(), "ignored", func(context.Context) error { return nil }))
	require.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestInitTracingBadOutput(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Output = filepath.Join(t.TempDir(), "missing", "trace.json")

	_, err := InitTracing(cfg)
	assert.True(t, alcherrors.IsType(err, alcherrors.ErrorTypeFile))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(2).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	assert.Same(t, logger, WithTrace(context.Background(), logger))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	WithTrace(ctx, logger).Info("hello")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

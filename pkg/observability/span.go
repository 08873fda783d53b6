package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of stage spans.
const TracerName = "alchemsub/pipeline"

// Stage is a span around one step of a job, such as reading the input.
type Stage struct {
	span      trace.Span
	startTime time.Time
}

// StartStage starts a span named name on the global provider.
func StartStage(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Stage) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Stage{span: span, startTime: time.Now()}
}

// SetAttributes adds attributes to the stage span.
func (s *Stage) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// End records err, if any, and ends the span. It returns the stage duration.
func (s *Stage) End(err error) time.Duration {
	d := time.Since(s.startTime)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.SetAttributes(attribute.Float64("stage.duration_seconds", d.Seconds()))
	s.span.End()
	return d
}

// Trace runs fn inside a stage span.
func Trace(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, stage := StartStage(ctx, name, attrs...)
	err := fn(ctx)
	stage.End(err)
	return err
}

// Package telemetry provides OpenTelemetry helpers used across the engine.
// Every helper is safe to call when no span exists in the context, so the
// core packages never need to know whether tracing is wired up.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyops-ai/irops/core"
)

const tracerName = "github.com/skyops-ai/irops"

// AddSpanEvent adds a point-in-time event to the current span. Used to mark
// phase boundaries, checkpoint writes and external calls.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records an error on the current span and sets the span
// status to Error. No-op when ctx or err is nil.
func RecordSpanError(ctx context.Context, err error) {
	if ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// OTelTelemetry implements core.Telemetry over the global OpenTelemetry
// tracer provider. Metric export is the deployment's concern, so
// RecordMetric is a no-op here.
type OTelTelemetry struct{}

// NewOTelTelemetry returns a core.Telemetry backed by the global tracer.
func NewOTelTelemetry() *OTelTelemetry {
	return &OTelTelemetry{}
}

// StartSpan starts a span named name under the current context.
func (t *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric attaches a metric observation to the current span, if any.
func (t *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	// Counters and histograms belong to the metrics pipeline; spans carry
	// the per-request view. Intentionally minimal.
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, stringify(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

var _ core.Telemetry = (*OTelTelemetry)(nil)

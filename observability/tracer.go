package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/payrelay"

// Tracer wraps the OpenTelemetry tracer used for deliveries and sweeps.
// A nil *Tracer starts no-op spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDeliverySpan starts a span for one delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, endpointID string, attempt int) (context.Context, trace.Span) {
	return t.start(ctx, "payrelay.delivery",
		attribute.String("payrelay.delivery_id", deliveryID),
		attribute.String("payrelay.event_id", eventID),
		attribute.String("payrelay.endpoint_id", endpointID),
		attribute.Int("payrelay.attempt", attempt),
	)
}

// EndDeliverySpan records the attempt result and ends the span.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("payrelay.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("payrelay.error", errMsg))
	}
	span.End()
}

// StartSweepSpan starts a span for one timeout sweep run.
func (t *Tracer) StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.start(ctx, "payrelay.sweep")
}

// EndSweepSpan records how many payments the run closed and ends the span.
func (t *Tracer) EndSweepSpan(span trace.Span, timedOut int, err error) {
	span.SetAttributes(attribute.Int("payrelay.timed_out", timedOut))
	if err != nil {
		span.SetAttributes(attribute.String("payrelay.error", err.Error()))
	}
	span.End()
}

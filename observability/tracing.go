package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/notifyd/notifyd"

// Tracer provides OpenTelemetry tracing for the pipeline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a pipeline tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartIngressSpan starts a span for one ingress message.
func (t *Tracer) StartIngressSpan(ctx context.Context, eventID, eventType, userID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "notifyd.ingress",
		trace.WithAttributes(
			attribute.String("notifyd.event_id", eventID),
			attribute.String("notifyd.event_type", eventType),
			attribute.String("notifyd.user_id", userID),
		),
	)
}

// StartDeliverySpan starts a span for one channel message.
func (t *Tracer) StartDeliverySpan(ctx context.Context, channel, eventID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "notifyd.delivery",
		trace.WithAttributes(
			attribute.String("notifyd.channel", channel),
			attribute.String("notifyd.event_id", eventID),
		),
	)
}

// EndDeliverySpan ends a delivery span with its outcome.
func (t *Tracer) EndDeliverySpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("notifyd.outcome", outcome))
	if err != nil {
		span.SetAttributes(attribute.String("notifyd.error", err.Error()))
	}
	span.End()
}

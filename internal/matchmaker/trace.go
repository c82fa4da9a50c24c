package matchmaker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "RoomGroup/matchmaker"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records the outcome counts of a cycle on its span.
func endSpan(span trace.Span, outcomes []Outcome) {
	failed := Failed(outcomes)
	span.SetAttributes(
		attribute.Int("outcomes", len(outcomes)),
		attribute.Int("failed", len(failed)),
	)
	if len(failed) > 0 {
		span.SetStatus(codes.Error, failed[0].Err.Error())
	}
	span.End()
}

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the fogline tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("fogline")

// StartIngestSpan starts a span covering one gateway ingestion request.
func StartIngestSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fogline.gateway.ingest",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartProcessSpan starts a span covering one processed transport message.
func StartProcessSpan(ctx context.Context, messageID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "fogline.processor.handle",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

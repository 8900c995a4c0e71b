package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fogline/fogline/pkg/fogline/observability"
)

func newRecordingProvider(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(trace.NewNoopTracerProvider()) })
	return recorder
}

func TestStartIngestSpan(t *testing.T) {
	recorder := newRecordingProvider(t)

	_, span := observability.StartIngestSpan(context.Background(), "evt-1", "ROUTINE_UPDATE")
	observability.EndSpanWithError(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "fogline.gateway.ingest", spans[0].Name())
}

func TestEndSpanWithError_RecordsError(t *testing.T) {
	recorder := newRecordingProvider(t)

	_, span := observability.StartProcessSpan(context.Background(), "msg-1")
	observability.EndSpanWithError(span, errors.New("store unavailable"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

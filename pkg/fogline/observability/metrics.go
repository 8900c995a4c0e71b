package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEdgeSend records one delivery attempt outcome on the edge.
	RecordEdgeSend(ctx context.Context, outcome string)

	// RecordGatewayRequest records one gateway request outcome
	// (accepted, duplicate, malformed, invalid, error).
	RecordGatewayRequest(ctx context.Context, outcome string)

	// RecordProcessorResult records one processed message with its outcome
	// (inserted, duplicate, dropped, dead_lettered, retried) and duration.
	RecordProcessorResult(ctx context.Context, result string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	edgeSends        metric.Int64Counter
	gatewayRequests  metric.Int64Counter
	processorResults metric.Int64Counter
	processorLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("fogline")

	edgeSends, err := meter.Int64Counter("fogline.edge.sends",
		metric.WithDescription("Number of edge delivery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	gatewayRequests, err := meter.Int64Counter("fogline.gateway.requests",
		metric.WithDescription("Number of gateway ingestion requests by outcome"),
	)
	if err != nil {
		return nil, err
	}

	processorResults, err := meter.Int64Counter("fogline.processor.results",
		metric.WithDescription("Number of processed messages by result"),
	)
	if err != nil {
		return nil, err
	}

	processorLatency, err := meter.Float64Histogram("fogline.processor.latency_ms",
		metric.WithDescription("Message processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		edgeSends:        edgeSends,
		gatewayRequests:  gatewayRequests,
		processorResults: processorResults,
		processorLatency: processorLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEdgeSend records one delivery attempt outcome.
func (m *otelMetrics) RecordEdgeSend(ctx context.Context, outcome string) {
	m.edgeSends.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGatewayRequest records one gateway request outcome.
func (m *otelMetrics) RecordGatewayRequest(ctx context.Context, outcome string) {
	m.gatewayRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProcessorResult records one processed message.
func (m *otelMetrics) RecordProcessorResult(ctx context.Context, result string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.processorResults.Add(ctx, 1, attrs)
	m.processorLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

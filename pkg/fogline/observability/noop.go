package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEdgeSend does nothing.
func (NoopMetrics) RecordEdgeSend(_ context.Context, _ string) {}

// RecordGatewayRequest does nothing.
func (NoopMetrics) RecordGatewayRequest(_ context.Context, _ string) {}

// RecordProcessorResult does nothing.
func (NoopMetrics) RecordProcessorResult(_ context.Context, _ string, _ time.Duration) {}

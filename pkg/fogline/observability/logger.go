// Package observability provides structured logging, metrics, and tracing
// for the pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and degrade to no-ops when no provider is
// configured.
package observability

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// NewLogger builds the process logger writing to stderr. Level accepts
// "debug", "info", "warn", "error"; anything else means info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// EnrichLogger adds event context to a logger.
// Returns a new logger with source_id and event_id fields.
func EnrichLogger(logger *slog.Logger, sourceID, eventID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("source_id", sourceID),
		slog.String("event_id", eventID),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}

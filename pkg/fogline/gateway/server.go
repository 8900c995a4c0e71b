// Package gateway implements the HTTP ingestion front door. It
// authenticates edge devices, validates payloads, short-circuits recent
// duplicates, and hands accepted events to the transport queue. It never
// touches the store; durability past this point belongs to the processor.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/observability"
	"github.com/fogline/fogline/pkg/fogline/transport"
)

// Config configures the gateway.
type Config struct {
	// APIKey authenticates edge devices via the X-API-KEY header.
	APIKey string

	// SeenCapacity bounds the duplicate short-circuit set.
	// Default: 10000
	SeenCapacity int

	// PublishTimeout bounds how long an ingest request waits for queue
	// space before failing.
	// Default: 2 seconds
	PublishTimeout time.Duration
}

// NewRouter wires the ingestion endpoints.
// Public: /health
// Authenticated: /events
func NewRouter(cfg Config, pub transport.Publisher, logger *slog.Logger, metrics observability.MetricsRecorder) *gin.Engine {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	seen := NewSeenSet(cfg.SeenCapacity)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/")
	authed.Use(apiKeyMiddleware(cfg.APIKey))
	authed.POST("/events", ingestHandler(cfg, pub, seen, logger, metrics))

	return r
}

// apiKeyMiddleware rejects requests without the shared device key.
func apiKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader("X-API-KEY"))
		if got == "" || got != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func ingestHandler(cfg Config, pub transport.Publisher, seen *SeenSet, logger *slog.Logger, metrics observability.MetricsRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var evt event.Event
		if err := c.ShouldBindJSON(&evt); err != nil {
			metrics.RecordGatewayRequest(c.Request.Context(), "malformed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if err := evt.Validate(); err != nil {
			metrics.RecordGatewayRequest(c.Request.Context(), "invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, span := observability.StartIngestSpan(c.Request.Context(), evt.EventID, evt.EventType)
		log := observability.EnrichLogger(logger, evt.SourceID, evt.EventID)

		// Fast duplicate path: acknowledge without re-enqueueing. The
		// store remains the authority; an evicted ID just republishes
		// and dedupes downstream.
		if seen.Contains(evt.EventID) {
			metrics.RecordGatewayRequest(ctx, "duplicate")
			observability.EndSpanWithError(span, nil)
			log.Info("duplicate event acknowledged")
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event_id": evt.EventID})
			return
		}

		data, err := evt.Encode()
		if err != nil {
			metrics.RecordGatewayRequest(ctx, "error")
			observability.EndSpanWithError(span, err)
			log.Error("event encode failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		pubCtx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
		defer cancel()
		msgID, err := pub.Publish(pubCtx, transport.TopicEvents, data)
		if err != nil {
			metrics.RecordGatewayRequest(ctx, "error")
			observability.EndSpanWithError(span, err)
			log.Error("event enqueue failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
			return
		}

		// Recorded only after the publish succeeds: a failed enqueue
		// returns 500 and the edge retries, and that retry must not be
		// short-circuited as a duplicate of an event that never made it.
		seen.Add(evt.EventID)

		metrics.RecordGatewayRequest(ctx, "accepted")
		observability.EndSpanWithError(span, nil)
		log.Info("event accepted",
			slog.String("event_type", evt.EventType),
			slog.String("message_id", msgID),
		)
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "event_id": evt.EventID, "message_id": msgID})
	}
}

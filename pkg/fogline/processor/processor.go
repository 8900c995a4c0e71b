// Package processor consumes accepted events from the transport queue
// and is the only writer to the store. Delivery upstream is at least
// once; the transactional insert makes the observable effect exactly
// once, so a redelivered message lands as a duplicate and is simply
// acknowledged again.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	fgerrors "github.com/fogline/fogline/pkg/fogline/errors"
	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/observability"
	"github.com/fogline/fogline/pkg/fogline/store"
	"github.com/fogline/fogline/pkg/fogline/transport"
)

// Result describes what a single message delivery did.
type Result int

const (
	// ResultInserted means the event committed and was routed downstream.
	ResultInserted Result = iota

	// ResultDuplicate means the event ID was already committed.
	ResultDuplicate

	// ResultDropped means the payload was not decodable and was discarded.
	ResultDropped

	// ResultDeadLettered means the event was diverted to the dead-letter
	// topic instead of the store or its route.
	ResultDeadLettered

	// ResultRetried means the store was unavailable and the message was
	// nacked for redelivery.
	ResultRetried
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case ResultInserted:
		return "inserted"
	case ResultDuplicate:
		return "duplicate"
	case ResultDropped:
		return "dropped"
	case ResultDeadLettered:
		return "dead_lettered"
	case ResultRetried:
		return "retried"
	default:
		return "unknown"
	}
}

// deadLetterEnvelope wraps an unprocessable payload with the reason it
// was diverted.
type deadLetterEnvelope struct {
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}

// Processor drains the events topic into the store.
type Processor struct {
	store   store.Store
	broker  *transport.Broker
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	retry   fgerrors.RetryConfig
}

// New creates a processor.
func New(st store.Store, broker *transport.Broker, logger *slog.Logger, metrics observability.MetricsRecorder) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Processor{
		store:   st,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
		retry:   fgerrors.StorageRetry,
	}
}

// Run consumes the events topic until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	sub, err := p.broker.Subscribe(transport.TopicEvents)
	if err != nil {
		return err
	}
	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.Handle(ctx, msg)
	}
}

// Handle processes one delivery and settles it. Every path except a
// store outage acknowledges the message: duplicates, drops, and
// dead letters are all final outcomes that redelivery cannot improve.
func (p *Processor) Handle(ctx context.Context, msg *transport.Message) Result {
	start := time.Now()
	ctx, span := observability.StartProcessSpan(ctx, msg.ID)
	result := p.handle(ctx, msg, span)
	p.metrics.RecordProcessorResult(ctx, result.String(), time.Since(start))
	return result
}

func (p *Processor) handle(ctx context.Context, msg *transport.Message, span trace.Span) Result {
	evt, err := event.Decode(msg.Data)
	if err != nil {
		// Not JSON at all; retrying cannot fix the bytes.
		p.logger.Error("undecodable payload dropped",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		observability.EndSpanWithError(span, err)
		msg.Ack()
		return ResultDropped
	}

	log := observability.EnrichLogger(p.logger, evt.SourceID, evt.EventID)

	if err := evt.Validate(); err != nil {
		log.Warn("invalid event diverted to dead letter",
			slog.String("error", err.Error()),
		)
		p.deadLetter(ctx, "validation: "+err.Error(), msg.Data)
		observability.EndSpanWithError(span, nil)
		msg.Ack()
		return ResultDeadLettered
	}

	res := fgerrors.WithRetryContext(ctx, p.retry, func(ctx context.Context) (bool, error) {
		return p.store.InsertEvent(ctx, evt, time.Now())
	})
	if res.Err != nil {
		// Store unavailable after retries; hand the message back so a
		// later delivery can try again. Nothing committed.
		log.Error("store insert failed, message nacked",
			slog.String("category", fgerrors.Categorize(res.Err).String()),
			slog.Int("attempts", res.Attempts),
			slog.String("error", res.Err.Error()),
		)
		observability.EndSpanWithError(span, res.Err)
		msg.Nack()
		return ResultRetried
	}

	if !res.Value {
		log.Info("duplicate event already committed",
			slog.Int("delivery_attempt", msg.Attempt),
		)
		observability.EndSpanWithError(span, nil)
		msg.Ack()
		return ResultDuplicate
	}

	p.route(ctx, log, evt, msg.Data)
	observability.EndSpanWithError(span, nil)
	msg.Ack()
	return ResultInserted
}

// route publishes a committed event to its downstream topic. The commit
// already happened, so a routing failure diverts to the dead-letter
// topic rather than unwinding the insert.
func (p *Processor) route(ctx context.Context, log *slog.Logger, evt event.Event, data []byte) {
	topic := RouteFor(evt.EventType)
	if topic == transport.TopicAlerts {
		log.Warn("alert raised",
			slog.String("event_type", evt.EventType),
			slog.Int("metric_count", evt.MetricCount),
		)
	}

	if _, err := p.broker.Publish(ctx, topic, data); err != nil {
		log.Error("routing publish failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		p.deadLetter(ctx, "routing: "+err.Error(), data)
		return
	}
	log.Info("event routed",
		slog.String("event_type", evt.EventType),
		slog.String("topic", topic),
	)
}

// deadLetter wraps the payload with its failure reason and publishes it
// to the dead-letter topic. A failure here is logged and dropped; the
// dead-letter queue is best effort by definition.
func (p *Processor) deadLetter(ctx context.Context, reason string, payload []byte) {
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	data, err := json.Marshal(deadLetterEnvelope{Reason: reason, Payload: payload})
	if err != nil {
		p.logger.Error("dead-letter envelope marshal failed", slog.String("error", err.Error()))
		return
	}
	if _, err := p.broker.Publish(ctx, transport.TopicDeadLetter, data); err != nil {
		p.logger.Error("dead-letter publish failed", slog.String("error", err.Error()))
	}
}

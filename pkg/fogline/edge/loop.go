package edge

import (
	"context"
	"log/slog"
	"time"

	"github.com/fogline/fogline/pkg/fogline/buffer"
	fgerrors "github.com/fogline/fogline/pkg/fogline/errors"
	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/observability"
)

// LoopConfig configures the edge loop.
type LoopConfig struct {
	// Sources to observe each cycle, in order.
	Sources []Source

	// Thresholds for classification, shared by all sources.
	Thresholds Thresholds

	// Interval is the observation cadence.
	// Default: 5 seconds
	Interval time.Duration

	// FlushInterval is the independent buffer-retry cadence.
	// Default: 10 seconds
	FlushInterval time.Duration

	// MinSendInterval is the per-source rate limit. Observations arriving
	// inside the interval are skipped, not buffered.
	// Default: 0 (disabled)
	MinSendInterval time.Duration

	// OfflineThreshold is the number of consecutive observation failures
	// after which a source is reported offline.
	// Default: 3
	OfflineThreshold int
}

// Loop runs the steady-state edge cycle: observe, smooth, classify, then
// send or buffer, with an independent periodic flush so connectivity
// recovery does not wait for a new observation.
type Loop struct {
	cfg     LoopConfig
	sender  *Sender
	buf     *buffer.DiskBuffer
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	classifiers map[string]*Classifier
	lastAttempt map[string]time.Time
	failures    map[string]int
	reported    map[string]bool
}

// NewLoop creates an edge loop.
func NewLoop(cfg LoopConfig, sender *Sender, buf *buffer.DiskBuffer, logger *slog.Logger, metrics observability.MetricsRecorder) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	l := &Loop{
		cfg:         cfg,
		sender:      sender,
		buf:         buf,
		logger:      logger,
		metrics:     metrics,
		classifiers: make(map[string]*Classifier),
		lastAttempt: make(map[string]time.Time),
		failures:    make(map[string]int),
		reported:    make(map[string]bool),
	}
	for _, src := range cfg.Sources {
		l.classifiers[src.ID()] = NewClassifier(cfg.Thresholds)
	}
	return l
}

// Run cycles until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	observe := time.NewTicker(l.cfg.Interval)
	defer observe.Stop()
	flush := time.NewTicker(l.cfg.FlushInterval)
	defer flush.Stop()

	l.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-observe.C:
			l.Cycle(ctx)
		case <-flush.C:
			l.FlushBuffer(ctx)
		}
	}
}

// Cycle runs one observe/classify/dispatch pass over every source.
func (l *Loop) Cycle(ctx context.Context) {
	for _, src := range l.cfg.Sources {
		if ctx.Err() != nil {
			return
		}
		l.observeOne(ctx, src)
	}
}

func (l *Loop) observeOne(ctx context.Context, src Source) {
	id := src.ID()
	raw, err := src.Observe(ctx)
	if err != nil {
		l.failures[id]++
		l.logger.Warn("observation failed",
			slog.String("source_id", id),
			slog.Int("consecutive", l.failures[id]),
			slog.String("error", err.Error()),
		)
		if l.failures[id] >= l.cfg.OfflineThreshold && !l.reported[id] {
			l.reported[id] = true
			offline := event.New(event.TypeCameraOffline, id, 0,
				event.WithExtra("reason", err.Error()))
			l.dispatch(ctx, offline)
		}
		return
	}
	if l.failures[id] > 0 {
		l.failures[id] = 0
		l.reported[id] = false
	}

	cls := l.classifiers[id]
	smoothed := cls.Smooth(raw)
	eventType := cls.Classify(smoothed)

	if l.cfg.MinSendInterval > 0 {
		if last, ok := l.lastAttempt[id]; ok && time.Since(last) < l.cfg.MinSendInterval {
			// Rate limited: skip the frame entirely. Only genuine send
			// failures are buffered.
			return
		}
	}
	l.lastAttempt[id] = time.Now()

	l.dispatch(ctx, event.New(eventType, id, smoothed))
}

// dispatch attempts delivery and reacts to the three-way outcome.
func (l *Loop) dispatch(ctx context.Context, evt event.Event) {
	outcome := l.sender.Send(ctx, evt)
	l.metrics.RecordEdgeSend(ctx, outcome.String())
	log := observability.EnrichLogger(l.logger, evt.SourceID, evt.EventID)

	switch outcome {
	case Delivered:
		log.Info("event delivered", slog.String("event_type", evt.EventType))
	case TransientFailure:
		if err := l.buf.Save(evt); err != nil {
			// The backstop itself failed; this is the one place data
			// loss becomes possible, so shout.
			log.Error("BUFFER WRITE FAILED, event may be lost",
				slog.String("category", fgerrors.Categorize(err).String()),
				slog.String("error", err.Error()),
			)
			return
		}
		log.Info("event buffered for retry", slog.String("event_type", evt.EventType))
	case Rejected:
		log.Error("event rejected, check credentials and payload",
			slog.String("event_type", evt.EventType),
		)
	}
}

// FlushBuffer retries every buffered event through the sender. Rejected
// events are dropped rather than retained: credentials or payloads the
// gateway refuses will not improve on the next flush.
func (l *Loop) FlushBuffer(ctx context.Context) {
	sent, err := l.buf.Flush(ctx, func(ctx context.Context, evt event.Event) buffer.Disposition {
		switch l.sender.Send(ctx, evt) {
		case Delivered:
			return buffer.Sent
		case Rejected:
			observability.EnrichLogger(l.logger, evt.SourceID, evt.EventID).Error(
				"buffered event rejected, dropping",
				slog.String("event_type", evt.EventType),
			)
			return buffer.Drop
		default:
			return buffer.Retain
		}
	})
	if err != nil {
		l.logger.Error("buffer flush failed",
			slog.String("category", fgerrors.Categorize(err).String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if sent > 0 {
		l.logger.Info("resent buffered events", slog.Int("count", sent))
	}
}

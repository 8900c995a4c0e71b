// Package store provides the durable, transactional persistence layer.
// The insert path is the single authority for exactly-once processing:
// an event row either commits exactly once or the attempt reports a
// duplicate, and the per-source rollup moves in the same transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fogline/fogline/pkg/fogline/event"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Record is a persisted event with its server-side receipt time.
type Record struct {
	EventID     string
	EventType   string
	SourceID    string
	MetricCount int
	CreatedAt   time.Time
	ReceivedAt  time.Time
	Extra       map[string]string
}

// SourceState is the per-source rollup maintained alongside inserts.
type SourceState struct {
	SourceID        string
	EventCount      int64
	LastEventID     string
	LastEventType   string
	LastMetricCount int
	UpdatedAt       time.Time
}

// Store is the durable event store.
type Store interface {
	// InsertEvent persists an event and updates the source rollup in one
	// transaction. It returns inserted=false when the event ID already
	// exists, leaving the rollup untouched.
	InsertEvent(ctx context.Context, evt event.Event, receivedAt time.Time) (bool, error)

	// GetEvent loads a persisted event, or ErrNotFound.
	GetEvent(ctx context.Context, eventID string) (Record, error)

	// GetSourceState loads the rollup for a source, or ErrNotFound.
	GetSourceState(ctx context.Context, sourceID string) (SourceState, error)

	// Ping validates connectivity for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

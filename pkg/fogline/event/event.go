// Package event defines the canonical crowd-density event that flows from
// edge sensors to the cloud pipeline.
//
// An event is immutable once created: the event_id is assigned by the
// producer at construction time and is the deduplication key for the whole
// system. Two events carrying the same event_id describe the same logical
// observation and must collapse to a single stored record downstream.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds. Unknown kinds are valid on the wire and route to the
// dead-letter destination in the processor.
const (
	TypeCrowdGathering = "CROWD_GATHERING"
	TypeSuddenSpike    = "SUDDEN_SPIKE"
	TypeRoutineUpdate  = "ROUTINE_UPDATE"
	TypeProlongedCrowd = "PROLONGED_CROWD"
	TypeCameraOffline  = "CAMERA_OFFLINE"
	TypeConnectionLost = "CONNECTION_LOST"
	TypeRateAnomaly    = "RATE_ANOMALY"
)

// Event is the unit of transport between edge and cloud.
type Event struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	SourceID    string            `json:"source_id"`
	MetricCount int               `json:"metric_count"`
	CreatedAt   string            `json:"created_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(e *Event) {
		e.EventID = id
	}
}

// WithCreatedAt sets a specific creation time (default: time.Now in UTC).
func WithCreatedAt(t time.Time) Option {
	return func(e *Event) {
		e.CreatedAt = t.UTC().Format(time.RFC3339)
	}
}

// WithExtra attaches a forward-compatible key/value pair.
func WithExtra(key, value string) Option {
	return func(e *Event) {
		if e.Extra == nil {
			e.Extra = make(map[string]string)
		}
		e.Extra[key] = value
	}
}

// New creates an event with a fresh UUID and a UTC timestamp.
func New(eventType, sourceID string, metricCount int, opts ...Option) Event {
	e := Event{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		SourceID:    sourceID,
		MetricCount: metricCount,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Validate checks the required wire fields. Event type membership in the
// enumerated set is intentionally not checked here.
func (e Event) Validate() error {
	var missing []string
	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.SourceID == "" {
		missing = append(missing, "source_id")
	}
	if e.CreatedAt == "" {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %v", missing)
	}
	if e.MetricCount < 0 {
		return errors.New("metric_count must be >= 0")
	}
	if _, err := time.Parse(time.RFC3339, e.CreatedAt); err != nil {
		return fmt.Errorf("created_at must be RFC3339: %w", err)
	}
	return nil
}

// CreatedTime parses the creation timestamp.
func (e Event) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339, e.CreatedAt)
}

// Encode serializes the event for transport.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an event from its wire form.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogline/fogline/pkg/fogline/event"
)

func TestNew_Defaults(t *testing.T) {
	evt := event.New(event.TypeRoutineUpdate, "cam-1", 12)

	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, event.TypeRoutineUpdate, evt.EventType)
	assert.Equal(t, "cam-1", evt.SourceID)
	assert.Equal(t, 12, evt.MetricCount)

	created, err := evt.CreatedTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), created, 5*time.Second)
	assert.Equal(t, time.UTC, created.Location())
}

func TestNew_Options(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	evt := event.New(event.TypeCrowdGathering, "cam-2", 60,
		event.WithEventID("evt-fixed"),
		event.WithCreatedAt(ts),
		event.WithExtra("zone", "north-gate"),
	)

	assert.Equal(t, "evt-fixed", evt.EventID)
	assert.Equal(t, "2026-03-14T09:30:00Z", evt.CreatedAt)
	assert.Equal(t, "north-gate", evt.Extra["zone"])
}

func TestNew_UniqueIDs(t *testing.T) {
	a := event.New(event.TypeRoutineUpdate, "cam-1", 1)
	b := event.New(event.TypeRoutineUpdate, "cam-1", 1)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestValidate(t *testing.T) {
	valid := event.New(event.TypeSuddenSpike, "cam-1", 30)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*event.Event)
	}{
		{"missing event_id", func(e *event.Event) { e.EventID = "" }},
		{"missing event_type", func(e *event.Event) { e.EventType = "" }},
		{"missing source_id", func(e *event.Event) { e.SourceID = "" }},
		{"missing created_at", func(e *event.Event) { e.CreatedAt = "" }},
		{"negative count", func(e *event.Event) { e.MetricCount = -1 }},
		{"bad timestamp", func(e *event.Event) { e.CreatedAt = "yesterday" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evt := event.New(event.TypeSuddenSpike, "cam-1", 30)
			tc.mutate(&evt)
			assert.Error(t, evt.Validate())
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := event.Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestDecode_RoundTrip(t *testing.T) {
	evt := event.New(event.TypeCameraOffline, "cam-9", 0, event.WithExtra("reason", "no frames"))
	data, err := evt.Encode()
	require.NoError(t, err)

	decoded, err := event.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, evt, decoded)
}

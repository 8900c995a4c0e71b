package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogline/fogline/pkg/fogline/event"
	"github.com/fogline/fogline/pkg/fogline/processor"
	"github.com/fogline/fogline/pkg/fogline/store"
	"github.com/fogline/fogline/pkg/fogline/transport"
)

// downStore fails every insert, as if the database were unreachable.
type downStore struct {
	store.Store
	calls int
}

func (d *downStore) InsertEvent(context.Context, event.Event, time.Time) (bool, error) {
	d.calls++
	return false, errors.New("connection refused")
}

func newTestProcessor(t *testing.T) (*processor.Processor, *transport.Broker, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	broker := transport.NewBroker(transport.BrokerConfig{})
	t.Cleanup(func() { broker.Close() })

	return processor.New(st, broker, nil, nil), broker, st
}

func deliver(t *testing.T, broker *transport.Broker, data []byte) *transport.Message {
	t.Helper()
	_, err := broker.Publish(context.Background(), transport.TopicEvents, data)
	require.NoError(t, err)

	sub, err := broker.Subscribe(transport.TopicEvents)
	require.NoError(t, err)
	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)
	return msg
}

func TestHandle_InsertsAndRoutes(t *testing.T) {
	p, broker, st := newTestProcessor(t)
	evt := event.New(event.TypeCrowdGathering, "cam-1", 75)
	data, err := evt.Encode()
	require.NoError(t, err)

	result := p.Handle(context.Background(), deliver(t, broker, data))
	assert.Equal(t, processor.ResultInserted, result)

	// Committed to the store.
	rec, err := st.GetEvent(context.Background(), evt.EventID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeCrowdGathering, rec.EventType)

	// Routed to the alerts topic.
	sub, err := broker.Subscribe(transport.TopicAlerts)
	require.NoError(t, err)
	routed, err := sub.Receive(context.Background())
	require.NoError(t, err)
	decoded, err := event.Decode(routed.Data)
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, decoded.EventID)
	routed.Ack()
}

func TestHandle_RedeliveryIsDuplicate(t *testing.T) {
	p, broker, _ := newTestProcessor(t)
	data, err := event.New(event.TypeRoutineUpdate, "cam-1", 8).Encode()
	require.NoError(t, err)

	assert.Equal(t, processor.ResultInserted, p.Handle(context.Background(), deliver(t, broker, data)))
	assert.Equal(t, processor.ResultDuplicate, p.Handle(context.Background(), deliver(t, broker, data)))

	// The duplicate must not route a second copy downstream.
	assert.Equal(t, 1, broker.Len(transport.TopicOps))
}

func TestHandle_RoutingTable(t *testing.T) {
	cases := []struct {
		eventType string
		topic     string
	}{
		{event.TypeCrowdGathering, transport.TopicAlerts},
		{event.TypeSuddenSpike, transport.TopicAlerts},
		{event.TypeProlongedCrowd, transport.TopicAlerts},
		{event.TypeRoutineUpdate, transport.TopicOps},
		{event.TypeRateAnomaly, transport.TopicOps},
		{event.TypeCameraOffline, transport.TopicTickets},
		{event.TypeConnectionLost, transport.TopicTickets},
		{"SOMETHING_NEW", transport.TopicDeadLetter},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.topic, processor.RouteFor(tc.eventType), "event type %s", tc.eventType)
	}
}

func TestHandle_DropsUndecodablePayload(t *testing.T) {
	p, broker, _ := newTestProcessor(t)

	result := p.Handle(context.Background(), deliver(t, broker, []byte("{broken")))
	assert.Equal(t, processor.ResultDropped, result)

	// Dropped means gone: no redelivery, no dead letter.
	assert.Equal(t, 0, broker.Len(transport.TopicEvents))
	assert.Equal(t, 0, broker.Len(transport.TopicDeadLetter))
}

func TestHandle_InvalidEventGoesToDeadLetter(t *testing.T) {
	p, broker, st := newTestProcessor(t)
	evt := event.New(event.TypeRoutineUpdate, "cam-1", 5)
	evt.MetricCount = -3
	data, err := evt.Encode()
	require.NoError(t, err)

	result := p.Handle(context.Background(), deliver(t, broker, data))
	assert.Equal(t, processor.ResultDeadLettered, result)

	// Never reached the store.
	_, err = st.GetEvent(context.Background(), evt.EventID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	sub, err := broker.Subscribe(transport.TopicDeadLetter)
	require.NoError(t, err)
	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)

	var envelope struct {
		Reason  string          `json:"reason"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	assert.Contains(t, envelope.Reason, "validation")
	original, err := event.Decode(envelope.Payload)
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, original.EventID)
	msg.Ack()
}

func TestHandle_StoreOutageNacksForRedelivery(t *testing.T) {
	broker := transport.NewBroker(transport.BrokerConfig{})
	defer broker.Close()
	down := &downStore{}
	p := processor.New(down, broker, nil, nil)

	data, err := event.New(event.TypeRoutineUpdate, "cam-1", 5).Encode()
	require.NoError(t, err)

	result := p.Handle(context.Background(), deliver(t, broker, data))
	assert.Equal(t, processor.ResultRetried, result)
	assert.Greater(t, down.calls, 1, "transient store errors should be retried in place")

	// The nack put the message back for a later delivery attempt.
	sub, err := broker.Subscribe(transport.TopicEvents)
	require.NoError(t, err)
	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Attempt)
	msg.Ack()
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	p, broker, st := newTestProcessor(t)
	evt := event.New(event.TypeSuddenSpike, "cam-2", 40)
	data, err := evt.Encode()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	_, err = broker.Publish(context.Background(), transport.TopicEvents, data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := st.GetEvent(context.Background(), evt.EventID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogline/fogline/pkg/fogline/transport"
)

func TestPublishAndReceive(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	id, err := b.Publish(context.Background(), transport.TopicEvents, []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, transport.TopicEvents, msg.Topic)
	assert.Equal(t, []byte(`{"n":1}`), msg.Data)
	assert.Equal(t, 1, msg.Attempt)
	msg.Ack()
}

func TestPublishUnknownTopic(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	_, err := b.Publish(context.Background(), "fog.nonsense", []byte("x"))
	assert.Error(t, err)
}

func TestSubscribeUnknownTopic(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	_, err := b.Subscribe("fog.nonsense")
	assert.Error(t, err)
}

func TestNackRedelivers(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	id, err := b.Publish(context.Background(), transport.TopicEvents, []byte("payload"))
	require.NoError(t, err)

	first, err := sub.Receive(context.Background())
	require.NoError(t, err)
	first.Nack()

	second, err := sub.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, []byte("payload"), second.Data)
	assert.Equal(t, 2, second.Attempt)
	second.Ack()
}

func TestNackRedeliversWhenQueueIsFull(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{QueueCapacity: 1})
	defer b.Close()

	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	id1, err := b.Publish(context.Background(), transport.TopicEvents, []byte("first"))
	require.NoError(t, err)

	first, err := sub.Receive(context.Background())
	require.NoError(t, err)

	// Fill the queue while msg1 is in flight, then nack it.
	_, err = b.Publish(context.Background(), transport.TopicEvents, []byte("second"))
	require.NoError(t, err)
	first.Nack()

	second, err := sub.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second.Data)
	second.Ack()

	// The nacked message arrives once the queue has room again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	redelivered, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, redelivered.ID)
	assert.Equal(t, 2, redelivered.Attempt)
	redelivered.Ack()
}

func TestSettleIsIdempotent(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), transport.TopicEvents, []byte("x"))
	require.NoError(t, err)

	msg, err := sub.Receive(context.Background())
	require.NoError(t, err)
	msg.Ack()
	msg.Nack() // settled already, must not requeue
	msg.Nack()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTopicsAreIsolated(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	alerts, err := b.Subscribe(transport.TopicAlerts)
	require.NoError(t, err)
	ops, err := b.Subscribe(transport.TopicOps)
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), transport.TopicAlerts, []byte("a"))
	require.NoError(t, err)

	msg, err := alerts.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), msg.Data)
	msg.Ack()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ops.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiveHonorsContext(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishAfterClose(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close()) // idempotent

	_, err := b.Publish(context.Background(), transport.TopicEvents, []byte("x"))
	assert.Error(t, err)
}

func TestCloseUnblocksReceive(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	sub, err := b.Subscribe(transport.TopicEvents)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on Close")
	}
}

func TestLen(t *testing.T) {
	b := transport.NewBroker(transport.BrokerConfig{})
	defer b.Close()

	assert.Equal(t, 0, b.Len(transport.TopicOps))
	_, err := b.Publish(context.Background(), transport.TopicOps, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len(transport.TopicOps))
}

// Package transport provides at-least-once message delivery between the
// ingestion gateway and the event processor. Topics are fixed queues;
// consumers settle each message with Ack or Nack, and a Nack puts the
// message back at the end of its queue for redelivery.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Topic names. Events flow in on TopicEvents; the processor fans them
// out to the routed topics.
const (
	TopicEvents     = "fog.events"
	TopicAlerts     = "fog.alerts"
	TopicOps        = "fog.ops"
	TopicTickets    = "fog.tickets"
	TopicDeadLetter = "fog.deadletter"
)

// Topics lists every queue the broker creates.
var Topics = []string{TopicEvents, TopicAlerts, TopicOps, TopicTickets, TopicDeadLetter}

// Publisher sends payloads to a topic.
type Publisher interface {
	// Publish enqueues data on a topic and returns the assigned message ID.
	Publish(ctx context.Context, topic string, data []byte) (string, error)
}

// Consumer receives messages from a topic.
type Consumer interface {
	// Subscribe opens a subscription on a topic.
	Subscribe(topic string) (*Subscription, error)
}

// Message is a delivered payload awaiting settlement. Exactly one of Ack
// or Nack takes effect; later calls are no-ops.
type Message struct {
	ID      string
	Topic   string
	Data    []byte
	Attempt int

	broker  *Broker
	settled atomic.Bool
}

// Ack marks the message as processed. Duplicates of an acked message may
// still arrive if it was redelivered before the ack.
func (m *Message) Ack() {
	m.settled.CompareAndSwap(false, true)
}

// Nack returns the message to its queue for redelivery with the attempt
// counter incremented.
func (m *Message) Nack() {
	if !m.settled.CompareAndSwap(false, true) {
		return
	}
	m.broker.requeue(m)
}

// BrokerConfig configures queue behavior.
type BrokerConfig struct {
	// QueueCapacity bounds each topic queue. Publish blocks when the
	// queue is full until a consumer drains it or the context expires.
	// Default: 1024
	QueueCapacity int
}

// DefaultBrokerConfig provides reasonable defaults.
var DefaultBrokerConfig = BrokerConfig{
	QueueCapacity: 1024,
}

// Broker is an in-process queue broker with one bounded queue per topic.
type Broker struct {
	config BrokerConfig

	mu     sync.RWMutex
	queues map[string]chan *Message

	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBroker creates a broker with one queue per known topic.
func NewBroker(config BrokerConfig) *Broker {
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultBrokerConfig.QueueCapacity
	}

	b := &Broker{
		config:  config,
		queues:  make(map[string]chan *Message),
		closeCh: make(chan struct{}),
	}
	for _, topic := range Topics {
		b.queues[topic] = make(chan *Message, config.QueueCapacity)
	}
	return b
}

// Publish enqueues data on a topic and returns the assigned message ID.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", fmt.Errorf("broker is closed")
	}

	b.mu.RLock()
	queue, ok := b.queues[topic]
	b.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown topic %q", topic)
	}

	msg := &Message{
		ID:      uuid.NewString(),
		Topic:   topic,
		Data:    data,
		Attempt: 1,
		broker:  b,
	}

	select {
	case queue <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.closeCh:
		return "", fmt.Errorf("broker closed during publish")
	}
}

// Subscribe opens a subscription on a topic. Multiple subscriptions on
// the same topic compete for messages.
func (b *Broker) Subscribe(topic string) (*Subscription, error) {
	b.mu.RLock()
	queue, ok := b.queues[topic]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	return &Subscription{topic: topic, queue: queue, broker: b}, nil
}

// Len reports the number of messages waiting on a topic.
func (b *Broker) Len(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if queue, ok := b.queues[topic]; ok {
		return len(queue)
	}
	return 0
}

// Close shuts down the broker. Buffered messages are discarded; a durable
// store downstream is responsible for anything already accepted.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)
	return nil
}

// requeue puts a nacked message back with a fresh settlement state. The
// message was already accepted upstream, so losing it here would be
// silent data loss: when the queue is full the redelivery is parked
// until space frees or the broker closes. Nack itself never blocks.
func (b *Broker) requeue(m *Message) {
	if b.closed.Load() {
		return
	}
	redelivery := &Message{
		ID:      m.ID,
		Topic:   m.Topic,
		Data:    m.Data,
		Attempt: m.Attempt + 1,
		broker:  b,
	}

	b.mu.RLock()
	queue, ok := b.queues[m.Topic]
	b.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case queue <- redelivery:
	default:
		go func() {
			select {
			case queue <- redelivery:
			case <-b.closeCh:
			}
		}()
	}
}

// Subscription is a live consumer attachment to one topic.
type Subscription struct {
	topic  string
	queue  chan *Message
	broker *Broker
}

// Receive blocks until a message arrives, the context expires, or the
// broker closes.
func (s *Subscription) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-s.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.broker.closeCh:
		return nil, fmt.Errorf("broker is closed")
	}
}

// Topic returns the topic this subscription consumes.
func (s *Subscription) Topic() string {
	return s.topic
}

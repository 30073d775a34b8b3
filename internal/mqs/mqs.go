// Package mqs abstracts the handoff queues between the ingest, dispatch,
// and retry stages. Backends are gocloud.dev/pubsub drivers; the in-memory
// variant backs tests and single-process deployments, RabbitMQ backs
// multi-process deployments.
package mqs

import (
	"context"
	"errors"

	"gocloud.dev/pubsub"
)

// Message is one queue message. Ack/Nack must be called exactly once by
// the consumer.
type Message struct {
	Body []byte

	raw *pubsub.Message
}

func (m *Message) Ack() {
	if m.raw != nil {
		m.raw.Ack()
	}
}

func (m *Message) Nack() {
	if m.raw != nil && m.raw.Nackable() {
		m.raw.Nack()
	}
}

// IncomingMessage is implemented by types that travel through a queue.
type IncomingMessage interface {
	ToMessage() (*Message, error)
	FromMessage(*Message) error
}

type Subscription interface {
	Receive(ctx context.Context) (*Message, error)
	Shutdown(ctx context.Context) error
}

type Queue interface {
	// Init opens the queue infrastructure and returns a cleanup func.
	Init(ctx context.Context) (func(), error)
	Publish(ctx context.Context, msg IncomingMessage) error
	Subscribe(ctx context.Context) (Subscription, error)
}

type QueueConfig struct {
	InMemory *InMemoryConfig
	RabbitMQ *RabbitMQConfig
}

var ErrNoQueueConfigured = errors.New("no queue backend configured")

// NewQueue selects the queue backend from config. Exactly one backend
// should be set; in-memory wins when both are present (dev convenience).
func NewQueue(config *QueueConfig) Queue {
	if config != nil && config.InMemory != nil {
		return newMemQueue(config.InMemory)
	}
	if config != nil && config.RabbitMQ != nil {
		return &RabbitMQQueue{config: config.RabbitMQ}
	}
	return &invalidQueue{}
}

type invalidQueue struct{}

var _ Queue = (*invalidQueue)(nil)

func (q *invalidQueue) Init(context.Context) (func(), error) {
	return nil, ErrNoQueueConfigured
}

func (q *invalidQueue) Publish(context.Context, IncomingMessage) error {
	return ErrNoQueueConfigured
}

func (q *invalidQueue) Subscribe(context.Context) (Subscription, error) {
	return nil, ErrNoQueueConfigured
}

// wrappedSubscription adapts a gocloud subscription to our Subscription.
type wrappedSubscription struct {
	sub *pubsub.Subscription
}

var _ Subscription = (*wrappedSubscription)(nil)

func (s *wrappedSubscription) Receive(ctx context.Context) (*Message, error) {
	msg, err := s.sub.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{Body: msg.Body, raw: msg}, nil
}

func (s *wrappedSubscription) Shutdown(ctx context.Context) error {
	return s.sub.Shutdown(ctx)
}

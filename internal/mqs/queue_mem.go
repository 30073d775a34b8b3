package mqs

import (
	"context"
	"fmt"
	"sync/atomic"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

// InMemoryConfig configures the in-process queue. Name distinguishes
// multiple queues inside one process; when empty a unique name is
// generated so tests never share a topic by accident.
type InMemoryConfig struct {
	Name string
}

var memQueueCounter atomic.Int64

type memQueue struct {
	name  string
	topic *pubsub.Topic
}

var _ Queue = (*memQueue)(nil)

func newMemQueue(config *InMemoryConfig) *memQueue {
	name := config.Name
	if name == "" {
		name = fmt.Sprintf("queue-%d", memQueueCounter.Add(1))
	}
	return &memQueue{name: name}
}

func (q *memQueue) url() string {
	return "mem://" + q.name
}

func (q *memQueue) Init(ctx context.Context) (func(), error) {
	topic, err := pubsub.OpenTopic(ctx, q.url())
	if err != nil {
		return nil, err
	}
	q.topic = topic
	return func() {
		topic.Shutdown(context.Background())
	}, nil
}

func (q *memQueue) Publish(ctx context.Context, incomingMessage IncomingMessage) error {
	msg, err := incomingMessage.ToMessage()
	if err != nil {
		return err
	}
	return q.topic.Send(ctx, &pubsub.Message{Body: msg.Body})
}

func (q *memQueue) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := pubsub.OpenSubscription(ctx, q.url())
	if err != nil {
		return nil, err
	}
	return &wrappedSubscription{sub: sub}, nil
}

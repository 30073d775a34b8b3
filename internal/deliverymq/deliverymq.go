// Package deliverymq runs the dispatch stage: it carries delivery tasks
// from ingest, retry, and the scheduler to the pipeline that transforms,
// delivers, classifies, and records each attempt.
package deliverymq

import (
	"context"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
)

type DeliveryMQ struct {
	queue mqs.Queue
}

type DeliveryMQOption func(opts *DeliveryMQOpts)

type DeliveryMQOpts struct {
	QueueConfig *mqs.QueueConfig
}

func WithQueue(config *mqs.QueueConfig) DeliveryMQOption {
	return func(opts *DeliveryMQOpts) {
		opts.QueueConfig = config
	}
}

func New(opts ...DeliveryMQOption) *DeliveryMQ {
	options := &DeliveryMQOpts{}
	for _, opt := range opts {
		opt(options)
	}
	return &DeliveryMQ{queue: mqs.NewQueue(options.QueueConfig)}
}

func (q *DeliveryMQ) Init(ctx context.Context) (func(), error) {
	return q.queue.Init(ctx)
}

func (q *DeliveryMQ) Publish(ctx context.Context, task models.DeliveryTask) error {
	return q.queue.Publish(ctx, &task)
}

func (q *DeliveryMQ) Subscribe(ctx context.Context) (mqs.Subscription, error) {
	return q.queue.Subscribe(ctx)
}

package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/consumer"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/worker"
)

// ConsumerWorker wraps a message queue consumer as a supervised worker.
// Subscription happens at run time so queue infrastructure failures
// surface through the supervisor instead of at build time.
type ConsumerWorker struct {
	name        string
	subscribe   func(ctx context.Context) (mqs.Subscription, error)
	handler     consumer.MessageHandler
	concurrency int
	logger      *logging.Logger
}

func NewConsumerWorker(
	name string,
	subscribe func(ctx context.Context) (mqs.Subscription, error),
	handler consumer.MessageHandler,
	concurrency int,
	logger *logging.Logger,
) worker.Worker {
	return &ConsumerWorker{
		name:        name,
		subscribe:   subscribe,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (w *ConsumerWorker) Name() string {
	return w.name
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	logger := w.logger.Ctx(ctx)

	subscription, err := w.subscribe(ctx)
	if err != nil {
		logger.Error("error subscribing", zap.String("name", w.name), zap.Error(err))
		return err
	}

	csm := consumer.New(subscription, w.handler,
		consumer.WithName(w.name),
		consumer.WithConcurrency(w.concurrency),
		consumer.WithLogger(w.logger),
	)

	if err := csm.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("error running consumer", zap.String("name", w.name), zap.Error(err))
			return err
		}
	}
	return nil
}

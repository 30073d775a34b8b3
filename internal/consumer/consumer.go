// Package consumer drains a queue subscription into a message handler
// through a bounded dispatch pool. Ack/Nack is the handler's job; the
// pool only bounds concurrency and waits out in-flight work on exit.
package consumer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
)

const tracerName = "github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/consumer"

type Consumer interface {
	Run(context.Context) error
}

type MessageHandler interface {
	Handle(context.Context, *mqs.Message) error
}

type Option func(*dispatchPool)

func WithName(name string) Option {
	return func(p *dispatchPool) { p.name = name }
}

func WithConcurrency(n int) Option {
	return func(p *dispatchPool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(p *dispatchPool) { p.logger = logger }
}

type dispatchPool struct {
	name         string
	concurrency  int
	logger       *logging.Logger
	subscription mqs.Subscription
	handler      MessageHandler
}

var _ Consumer = (*dispatchPool)(nil)

func New(subscription mqs.Subscription, handler MessageHandler, opts ...Option) Consumer {
	pool := &dispatchPool{
		concurrency:  1,
		subscription: subscription,
		handler:      handler,
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Run receives until the subscription fails or ctx is cancelled, then
// blocks until every claimed slot is returned so no task is dropped
// mid-handle.
func (p *dispatchPool) Run(ctx context.Context) error {
	defer p.subscription.Shutdown(ctx)

	tracer := otel.GetTracerProvider().Tracer(tracerName)
	slots := make(chan struct{}, p.concurrency)

	var recvErr error
	for recvErr == nil {
		msg, err := p.subscription.Receive(ctx)
		if err != nil {
			recvErr = err
			break
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			recvErr = ctx.Err()
			continue
		}

		go func() {
			defer func() { <-slots }()

			// Handling is detached from the receive loop's ctx so a
			// shutdown signal never aborts a task mid-delivery.
			handleCtx, span := tracer.Start(context.Background(), p.spanName())
			defer span.End()

			if err := p.handler.Handle(handleCtx, msg); err != nil {
				span.RecordError(err)
				if p.logger != nil {
					p.logger.Ctx(handleCtx).Error("dispatch handler error",
						zap.String("consumer", p.name),
						zap.Error(err))
				}
			}
		}()
	}

	for n := 0; n < p.concurrency; n++ {
		slots <- struct{}{}
	}
	return recvErr
}

func (p *dispatchPool) spanName() string {
	if p.name == "" {
		return "Consumer.Handle"
	}
	return p.name + ".Consumer.Handle"
}

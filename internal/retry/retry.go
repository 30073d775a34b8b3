// Package retry drives redelivery of failed attempts. The engine scans
// RETRYING execution logs, rebuilds their delivery tasks once the
// backoff elapses, and feeds them back through the dispatch queue. The
// sweeper abandons logs that outlive the retry window and captures them
// in the dead-letter store.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/backoff"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

const (
	DefaultTickInterval = 30 * time.Second
	DefaultBatchSize    = 10

	// DefaultRetryWindow bounds how long a delivery may keep retrying
	// after its last attempt before the sweeper abandons it.
	DefaultRetryWindow = 4 * time.Hour
)

// Enqueuer hands rebuilt delivery tasks back to the dispatch queue.
type Enqueuer interface {
	Publish(ctx context.Context, task models.DeliveryTask) error
}

// IntegrationGetter checks the current retry ceiling before redelivery.
type IntegrationGetter interface {
	RetrieveIntegration(ctx context.Context, orgID int64, integrationID string) (*models.Integration, error)
}

type Engine struct {
	logs         logstore.LogStore
	integrations IntegrationGetter
	queue        Enqueuer
	logger       *logging.Logger

	tickInterval time.Duration
	batchSize    int
	window       time.Duration
	backoff      backoff.Backoff
	clock        func() time.Time
}

type EngineOption func(*Engine)

func WithTickInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.tickInterval = d }
}

func WithBatchSize(n int) EngineOption {
	return func(e *Engine) { e.batchSize = n }
}

func WithRetryWindow(d time.Duration) EngineOption {
	return func(e *Engine) { e.window = d }
}

func WithBackoff(b backoff.Backoff) EngineOption {
	return func(e *Engine) { e.backoff = b }
}

func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(logs logstore.LogStore, integrations IntegrationGetter, queue Enqueuer, logger *logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logs:         logs,
		integrations: integrations,
		queue:        queue,
		logger:       logger,
		tickInterval: DefaultTickInterval,
		batchSize:    DefaultBatchSize,
		window:       DefaultRetryWindow,
		backoff: &backoff.ExponentialBackoff{
			Interval: time.Minute,
			Base:     2,
			Max:      30 * time.Minute,
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "retry-engine" }

func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Ctx(ctx).Error("retry tick failed", zap.Error(err))
			}
		}
	}
}

// Tick re-enqueues every due RETRYING log in the current batch.
func (e *Engine) Tick(ctx context.Context) error {
	now := e.clock()

	logs, err := e.logs.ListRetryable(ctx, now.Add(-e.window), e.batchSize)
	if err != nil {
		return fmt.Errorf("list retryable logs: %w", err)
	}

	for _, log := range logs {
		if err := e.redeliver(ctx, log, now); err != nil {
			e.logger.Ctx(ctx).Error("failed to redeliver",
				zap.String("trace_id", log.TraceID),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) redeliver(ctx context.Context, log *models.ExecutionLog, now time.Time) error {
	integration, err := e.integrations.RetrieveIntegration(ctx, log.OrgID, log.IntegrationID)
	if err != nil {
		if errors.Is(err, integrationstore.ErrIntegrationNotFound) || errors.Is(err, integrationstore.ErrIntegrationDeleted) {
			// The sweeper abandons these once the window closes.
			return nil
		}
		return err
	}
	if log.AttemptCount > integration.RetryCount {
		return nil
	}

	retries := log.AttemptCount - 1
	if retries < 0 {
		retries = 0
	}
	dueAt := log.LastAttemptAt.Add(e.backoff.Duration(retries))
	if now.Before(dueAt) {
		return nil
	}

	task := models.DeliveryTask{
		TraceID:       log.TraceID,
		Event:         eventFromLog(log),
		IntegrationID: log.IntegrationID,
		Attempt:       log.AttemptCount,
		Trigger:       log.TriggerType,
		ActionIndex:   log.ActionIndex,
	}
	if err := e.queue.Publish(ctx, task); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}

	e.logger.Ctx(ctx).Info("retry enqueued",
		zap.String("trace_id", log.TraceID),
		zap.String("integration_id", log.IntegrationID),
		zap.Int("attempt", log.AttemptCount))
	return nil
}

func eventFromLog(log *models.ExecutionLog) models.Event {
	return models.Event{
		ID:         log.EventID,
		OrgID:      log.OrgID,
		Type:       log.EventType,
		Payload:    log.EventPayload,
		ReceivedAt: log.StartedAt,
	}
}

// Sweeper abandons RETRYING logs older than the retry window and
// appends each to the dead-letter store.
type Sweeper struct {
	logs   logstore.LogStore
	dlq    DLQAppender
	logger *logging.Logger

	tickInterval time.Duration
	window       time.Duration
	clock        func() time.Time
}

// DLQAppender captures swept deliveries.
type DLQAppender interface {
	Append(ctx context.Context, entry *models.DLQEntry) error
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.tickInterval = d }
}

func WithSweepWindow(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.window = d }
}

func WithSweepClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.clock = clock }
}

func NewSweeper(logs logstore.LogStore, dlqStore DLQAppender, logger *logging.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		logs:         logs,
		dlq:          dlqStore,
		logger:       logger,
		tickInterval: time.Minute,
		window:       DefaultRetryWindow,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Name() string { return "retry-sweeper" }

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Ctx(ctx).Error("abandon sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep promotes expired RETRYING logs to ABANDONED and dead-letters
// them.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.clock().Add(-s.window)

	swept, err := s.logs.SweepAbandoned(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep abandoned logs: %w", err)
	}

	for _, log := range swept {
		s.logger.Ctx(ctx).Warn("delivery abandoned by sweeper",
			zap.String("trace_id", log.TraceID),
			zap.String("integration_id", log.IntegrationID),
			zap.Int64("org_id", log.OrgID),
			zap.Int("attempts", log.AttemptCount))

		if s.dlq == nil {
			continue
		}
		entry := &models.DLQEntry{
			ID:            idgen.DLQEntry(),
			TraceID:       log.TraceID,
			IntegrationID: log.IntegrationID,
			OrgID:         log.OrgID,
			Payload:       log.EventPayload,
			ActionIndex:   log.ActionIndex,
			Status:        models.DLQPending,
			RetryCount:    log.AttemptCount,
			CreatedAt:     s.clock(),
		}
		if log.Error != nil {
			entry.Error = *log.Error
		}
		if err := s.dlq.Append(ctx, entry); err != nil {
			s.logger.Ctx(ctx).Error("failed to dead-letter abandoned delivery",
				zap.String("trace_id", log.TraceID),
				zap.Error(err))
		}
	}
	return nil
}

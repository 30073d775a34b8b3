// Package scheduler runs the persistent timer queue for delayed and
// recurring deliveries. Entries are claimed atomically through the
// store, handed to the dispatch queue with a SCHEDULE trigger, and
// finalized by the dispatch pipeline once the delivery resolves.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/backoff"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler/schedstore"
)

const (
	DefaultTickInterval = 30 * time.Second
	DefaultBatchSize    = 10
	DefaultStaleAfter   = 10 * time.Minute
)

// Enqueuer hands delivery tasks to the dispatch queue.
type Enqueuer interface {
	Publish(ctx context.Context, task models.DeliveryTask) error
}

type Scheduler struct {
	store  schedstore.Store
	queue  Enqueuer
	logger *logging.Logger

	tickInterval time.Duration
	batchSize    int
	staleAfter   time.Duration
	backoff      backoff.Backoff
	clock        func() time.Time
}

type Option func(*Scheduler)

func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.staleAfter = d }
}

func WithBackoff(b backoff.Backoff) Option {
	return func(s *Scheduler) { s.backoff = b }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func New(store schedstore.Store, queue Enqueuer, logger *logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		queue:        queue,
		logger:       logger,
		tickInterval: DefaultTickInterval,
		batchSize:    DefaultBatchSize,
		staleAfter:   DefaultStaleAfter,
		backoff: &backoff.ExponentialBackoff{
			Interval: time.Minute,
			Base:     2,
			Max:      time.Hour,
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ interface {
	Name() string
	Run(ctx context.Context) error
} = (*Scheduler)(nil)

func (s *Scheduler) Name() string { return "scheduler" }

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Ctx(ctx).Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick sweeps stale claims, then claims and dispatches due entries.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock()

	reset, err := s.store.SweepStale(ctx, now.Add(-s.staleAfter))
	if err != nil {
		return fmt.Errorf("sweep stale claims: %w", err)
	}
	if reset > 0 {
		s.logger.Ctx(ctx).Warn("reset stale processing claims", zap.Int("count", reset))
	}

	claimed, err := s.store.ClaimDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("claim due entries: %w", err)
	}

	// Claimed entries are independent; dispatch them concurrently. A
	// failed dispatch releases its claim and never blocks the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for _, entry := range claimed {
		entry := entry
		g.Go(func() error {
			if err := s.dispatch(gctx, entry); err != nil {
				s.logger.Ctx(gctx).Error("failed to dispatch scheduled entry",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
				if releaseErr := s.store.Release(gctx, entry.ID); releaseErr != nil {
					s.logger.Ctx(gctx).Error("failed to release scheduled entry",
						zap.String("entry_id", entry.ID),
						zap.Error(releaseErr))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, entry *models.ScheduledIntegration) error {
	event := models.Event{
		ID:         entry.EventID,
		OrgID:      entry.OrgID,
		Type:       entry.EventType,
		Payload:    entry.OriginalPayload,
		ReceivedAt: entry.CreatedAt,
	}
	task := models.NewDeliveryTask(idgen.Trace(), event, entry.IntegrationID, models.TriggerSchedule)
	task.Attempt = entry.AttemptCount
	task.ScheduledEntryID = entry.ID
	task.PayloadOverride = entry.Payload

	if err := s.queue.Publish(ctx, task); err != nil {
		return fmt.Errorf("enqueue scheduled delivery: %w", err)
	}
	s.logger.Ctx(ctx).Info("dispatched scheduled entry",
		zap.String("entry_id", entry.ID),
		zap.String("integration_id", entry.IntegrationID),
		zap.Int64("org_id", entry.OrgID))
	return nil
}

// Schedule materializes a future-dated entry for a DELAYED or RECURRING
// integration. The first occurrence is due after the configured delay;
// a recurrence descriptor is attached when the mode is RECURRING.
func (s *Scheduler) Schedule(ctx context.Context, integration *models.Integration, event models.Event, payload models.Data) (*models.ScheduledIntegration, error) {
	now := s.clock()

	scheduledFor := now
	var recurrence *models.Recurrence
	if cfg := integration.Schedule; cfg != nil {
		scheduledFor = now.Add(time.Duration(cfg.DelaySeconds) * time.Second)
		if integration.DeliveryMode == models.DeliveryModeRecurring && cfg.IntervalSeconds > 0 {
			recurrence = &models.Recurrence{
				Interval:   time.Duration(cfg.IntervalSeconds) * time.Second,
				Count:      cfg.Count,
				Occurrence: 1,
			}
		}
	}

	entry := &models.ScheduledIntegration{
		ID:              idgen.ScheduledEntry(),
		IntegrationID:   integration.ID,
		OrgID:           integration.OrgID,
		ScheduledFor:    scheduledFor,
		Status:          models.SchedulePending,
		Payload:         payload,
		OriginalPayload: event.Payload,
		EventID:         event.ID,
		EventType:       event.Type,
		Recurrence:      recurrence,
		Cancellation:    CancellationFromPayload(event.Payload, scheduledFor),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create scheduled entry: %w", err)
	}

	s.logger.Ctx(ctx).Info("scheduled delivery",
		zap.String("entry_id", entry.ID),
		zap.String("integration_id", integration.ID),
		zap.Time("scheduled_for", scheduledFor),
		zap.Bool("recurring", recurrence != nil))
	return entry, nil
}

// MarkDelivered finalizes a claimed entry after a successful delivery
// and materializes the next occurrence of a recurring schedule.
func (s *Scheduler) MarkDelivered(ctx context.Context, entryID, deliveryLogID string) error {
	now := s.clock()
	if err := s.store.MarkSent(ctx, entryID, now, deliveryLogID); err != nil {
		return err
	}

	entry, err := s.store.Retrieve(ctx, entryID)
	if err != nil {
		return err
	}
	next := entry.NextOccurrence(idgen.ScheduledEntry())
	if next == nil {
		return nil
	}
	if err := s.store.Create(ctx, next); err != nil {
		return fmt.Errorf("create next occurrence: %w", err)
	}
	s.logger.Ctx(ctx).Info("scheduled next occurrence",
		zap.String("entry_id", next.ID),
		zap.String("previous_entry_id", entryID),
		zap.Time("scheduled_for", next.ScheduledFor),
		zap.Int("occurrence", next.Recurrence.Occurrence))
	return nil
}

// MarkAttemptFailed records a transient delivery failure. The entry goes
// back to PENDING with a backoff until the integration's retry ceiling,
// after which it is FAILED.
func (s *Scheduler) MarkAttemptFailed(ctx context.Context, entryID string, retryCeiling int) error {
	entry, err := s.store.Retrieve(ctx, entryID)
	if err != nil {
		return err
	}

	attempts := entry.AttemptCount + 1
	if attempts > retryCeiling {
		s.logger.Ctx(ctx).Warn("scheduled delivery exhausted retries",
			zap.String("entry_id", entryID),
			zap.Int("attempts", attempts))
		return s.store.MarkFailed(ctx, entryID)
	}

	next := s.clock().Add(s.backoff.Duration(entry.AttemptCount))
	s.logger.Ctx(ctx).Info("rescheduling failed delivery",
		zap.String("entry_id", entryID),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt", next))
	return s.store.Reschedule(ctx, entryID, next, attempts)
}

// MarkPermanentFailure finalizes a claimed entry whose delivery failed
// in a non-retryable way.
func (s *Scheduler) MarkPermanentFailure(ctx context.Context, entryID string) error {
	return s.store.MarkFailed(ctx, entryID)
}

// CancelByMatch cancels pending entries matching the descriptor. It is
// called when a cancelling event arrives for the same patient and slot.
func (s *Scheduler) CancelByMatch(ctx context.Context, orgID int64, match models.CancellationMatch) (int, error) {
	cancelled, err := s.store.CancelByMatch(ctx, orgID, match)
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		s.logger.Ctx(ctx).Info("cancelled scheduled entries by match",
			zap.Int64("org_id", orgID),
			zap.Int64("patient_rid", match.PatientRID),
			zap.Int("cancelled", cancelled))
	}
	return cancelled, nil
}

// CancellationFromPayload extracts the cancellation descriptor from an
// event payload. The patientRid field and either scheduledDateTime or
// the entry's own due time anchor the match.
func CancellationFromPayload(payload models.Data, fallback time.Time) *models.CancellationMatch {
	if payload == nil {
		return nil
	}
	patientRID, ok := toInt64(payload["patientRid"])
	if !ok || patientRID == 0 {
		return nil
	}

	scheduledAt := fallback
	if raw, ok := payload["scheduledDateTime"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			scheduledAt = parsed
		}
	}
	return &models.CancellationMatch{PatientRID: patientRID, ScheduledAt: scheduledAt}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

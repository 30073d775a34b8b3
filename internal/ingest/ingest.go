// Package ingest runs one worker per event source: poll, deduplicate,
// audit, match, fan out delivery tasks, then advance the source
// checkpoint. Checkpoints only move after every task of the batch is
// enqueued, so a crash replays rather than drops.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/gmetrics"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idempotence"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/transform"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 10

	cancellationSuffix = "_cancelled"
)

// Enqueuer hands delivery tasks to the dispatch queue.
type Enqueuer interface {
	Publish(ctx context.Context, task models.DeliveryTask) error
}

// Matcher resolves the integrations an event fires.
type Matcher interface {
	MatchEvent(ctx context.Context, event models.Event) ([]models.IntegrationSummary, error)
	RetrieveIntegration(ctx context.Context, orgID int64, integrationID string) (*models.Integration, error)
}

// Canceller lets cancellation events void matching scheduled entries.
type Canceller interface {
	CancelByMatch(ctx context.Context, orgID int64, match models.CancellationMatch) (int, error)
}

type Worker struct {
	source    sources.Source
	matcher   Matcher
	idem      idempotence.Idempotence
	audits    audit.Store
	queue     Enqueuer
	schedules Canceller
	logger    *logging.Logger
	meter     gmetrics.GatewayMetrics

	pollInterval  time.Duration
	batchSize     int
	summaryFields []string
	clock         func() time.Time
}

type Option func(*Worker)

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// WithSummaryFields sets the payload allowlist carried into audit
// records. Without it no payload content reaches the audit trail.
func WithSummaryFields(fields []string) Option {
	return func(w *Worker) { w.summaryFields = fields }
}

// WithCanceller enables cancellation-by-match for *_cancelled events.
func WithCanceller(schedules Canceller) Option {
	return func(w *Worker) { w.schedules = schedules }
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.clock = clock }
}

func New(source sources.Source, matcher Matcher, idem idempotence.Idempotence, audits audit.Store, queue Enqueuer, logger *logging.Logger, opts ...Option) *Worker {
	meter, _ := gmetrics.New()
	w := &Worker{
		meter:        meter,
		source:       source,
		matcher:      matcher,
		idem:         idem,
		audits:       audits,
		queue:        queue,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Name() string {
	return "ingest-" + w.source.Name()
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Ctx(ctx).Error("ingest tick failed",
				zap.String("source", w.source.Name()),
				zap.Error(err))
		}

		// Busy sources are drained back to back; idle ones poll slowly.
		if processed > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// Tick polls one batch and processes it in source order. The checkpoint
// advances per event; the source commit happens once at the end of the
// batch.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	events, err := w.source.Poll(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("poll %s: %w", w.source.Name(), err)
	}

	processed := 0
	var lastID int64
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			// Stop mid-batch so the uncommitted remainder replays in
			// source order.
			return processed, err
		}
		w.advanceCheckpoint(ctx, event)
		lastID = event.SourceID
		processed++
	}

	if processed > 0 {
		if err := w.source.Commit(ctx, lastID); err != nil {
			return processed, fmt.Errorf("commit %s: %w", w.source.Name(), err)
		}
	}
	return processed, nil
}

func (w *Worker) processEvent(ctx context.Context, event *models.Event) error {
	started := w.clock()

	record := &models.EventAudit{
		ID:             idgen.Audit(),
		OrgID:          event.OrgID,
		EventID:        event.ID,
		EventType:      event.Type,
		Source:         event.Source.Kind,
		SourceName:     event.Source.Name,
		SourceID:       event.SourceID,
		PayloadSummary: models.SummarizePayload(event.Payload, w.summaryFields),
		PayloadHash:    models.HashPayload(event.Payload),
		CreatedAt:      started,
	}
	record.AddTimeline("received")

	w.meter.EventReceived(ctx, event)

	executed := false
	err := w.idem.Exec(ctx, "ingest:"+event.ID, func(execCtx context.Context) error {
		executed = true
		return w.dispatchEvent(execCtx, event, record)
	})
	if err != nil {
		if errors.Is(err, idempotence.ErrConflict) {
			// Another worker holds the event; it replays next tick if
			// that worker dies.
			w.logger.Ctx(ctx).Warn("event claimed by concurrent worker",
				zap.String("event_id", event.ID))
			return err
		}
		return fmt.Errorf("dispatch event %s: %w", event.ID, err)
	}

	if !executed {
		w.meter.EventDuplicate(ctx, event)
		w.recordDuplicate(ctx, event, record)
		return nil
	}

	record.ProcessingTimeMs = w.clock().Sub(started).Milliseconds()
	w.upsertAudit(ctx, record)
	return nil
}

func (w *Worker) dispatchEvent(ctx context.Context, event *models.Event, record *models.EventAudit) error {
	if w.schedules != nil && isCancellation(event.Type) {
		w.cancelScheduled(ctx, event, record)
	}

	matches, err := w.matcher.MatchEvent(ctx, *event)
	if err != nil {
		return fmt.Errorf("match integrations: %w", err)
	}
	record.AddTimeline("matched")

	enqueued := 0
	for _, summary := range matches {
		integration, err := w.resolveIntegration(ctx, event, summary.ID)
		if err != nil {
			if errors.Is(err, integrationstore.ErrIntegrationNotFound) || errors.Is(err, integrationstore.ErrIntegrationDeleted) {
				continue
			}
			return fmt.Errorf("resolve integration %s: %w", summary.ID, err)
		}

		for actionIndex := 0; actionIndex < transform.Fanout(integration); actionIndex++ {
			task := models.NewDeliveryTask(idgen.Trace(), *event, integration.ID, models.TriggerEvent)
			if integration.Transformation.Mode == models.TransformActionList {
				task.ActionIndex = actionIndex
			}
			if err := w.queue.Publish(ctx, task); err != nil {
				return fmt.Errorf("enqueue delivery for %s: %w", integration.ID, err)
			}
			enqueued++
		}
	}

	// The dispatch pipeline settles the final status; an event with no
	// audience is DELIVERED vacuously.
	record.Delivery.IntegrationsMatched = enqueued
	if enqueued == 0 {
		record.Status = models.AuditDelivered
		record.AddTimeline("no_integrations_matched")
	} else {
		record.Status = models.AuditStuck
		record.AddTimeline("enqueued")
	}
	return nil
}

func (w *Worker) resolveIntegration(ctx context.Context, event *models.Event, integrationID string) (*models.Integration, error) {
	integration, err := w.matcher.RetrieveIntegration(ctx, event.OrgID, integrationID)
	if errors.Is(err, integrationstore.ErrIntegrationNotFound) && event.OrgUnitRID != 0 && event.OrgUnitRID != event.OrgID {
		integration, err = w.matcher.RetrieveIntegration(ctx, event.OrgUnitRID, integrationID)
	}
	return integration, err
}

func (w *Worker) cancelScheduled(ctx context.Context, event *models.Event, record *models.EventAudit) {
	match := scheduler.CancellationFromPayload(event.Payload, event.ReceivedAt)
	if match == nil {
		return
	}
	cancelled, err := w.schedules.CancelByMatch(ctx, event.OrgID, *match)
	if err != nil {
		w.logger.Ctx(ctx).Error("cancellation by match failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}
	if cancelled > 0 {
		w.meter.ScheduleCancelled(ctx, cancelled)
		record.AddTimeline("cancelled_scheduled_entries")
	}
}

// recordDuplicate audits a suppressed duplicate. An existing record for
// the stable id is annotated rather than overwritten so the original
// outcome survives.
func (w *Worker) recordDuplicate(ctx context.Context, event *models.Event, record *models.EventAudit) {
	existing, err := w.audits.RetrieveAudit(ctx, event.ID)
	if err != nil {
		w.logger.Ctx(ctx).Warn("failed to load audit for duplicate event",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return
	}
	if existing != nil {
		existing.AddTimeline("duplicate_skipped")
		w.upsertAudit(ctx, existing)
		return
	}

	record.Status = models.AuditSkipped
	record.SkipCategory = models.CategoryDuplicate
	record.AddTimeline("duplicate_skipped")
	w.upsertAudit(ctx, record)
}

// upsertAudit is best effort: an unavailable audit store must not stall
// ingestion.
func (w *Worker) upsertAudit(ctx context.Context, record *models.EventAudit) {
	if err := w.audits.UpsertAudit(ctx, record); err != nil {
		w.logger.Ctx(ctx).Error("failed to write audit record",
			zap.String("event_id", record.EventID),
			zap.Error(err))
	}
}

func (w *Worker) advanceCheckpoint(ctx context.Context, event *models.Event) {
	checkpoint, err := w.audits.GetCheckpoint(ctx, event.Source.Kind, event.Source.Name, 0)
	if err != nil {
		w.logger.Ctx(ctx).Error("failed to load source checkpoint",
			zap.String("source", event.Source.Name),
			zap.Error(err))
		return
	}
	checkpoint.Source = event.Source.Kind
	checkpoint.Name = event.Source.Name

	gap := checkpoint.Advance(event.SourceID, w.clock())
	if gap != nil {
		w.logger.Ctx(ctx).Warn("gap detected in source sequence",
			zap.String("source", event.Source.Name),
			zap.Int64("start", gap.Start),
			zap.Int64("end", gap.End))
	}
	if err := w.audits.SaveCheckpoint(ctx, checkpoint); err != nil && !errors.Is(err, audit.ErrCheckpointConflict) {
		w.logger.Ctx(ctx).Error("failed to save source checkpoint",
			zap.String("source", event.Source.Name),
			zap.Error(err))
	}
}

func isCancellation(eventType string) bool {
	return strings.HasSuffix(strings.ToLower(eventType), cancellationSuffix)
}

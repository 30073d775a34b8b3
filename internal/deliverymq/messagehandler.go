package deliverymq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/breaker"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/consumer"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/gmetrics"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idempotence"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/transform"
)

func idempotencyKeyFromDeliveryTask(task models.DeliveryTask) string {
	return fmt.Sprintf("deliverymq:%s:%d:%d", task.TraceID, task.Attempt, task.ActionIndex)
}

var errIntegrationInactive = errors.New("integration inactive")

// Error types distinguishing the stage a delivery failed in. Pre-delivery
// errors happened before any HTTP attempt; attempt errors represent a
// delivery outcome already recorded on the execution log; post-delivery
// errors mean the attempt happened but recording it failed.
type PreDeliveryError struct {
	err error
}

func (e *PreDeliveryError) Error() string {
	return fmt.Sprintf("pre-delivery error: %v", e.err)
}

func (e *PreDeliveryError) Unwrap() error {
	return e.err
}

type PostDeliveryError struct {
	err error
}

func (e *PostDeliveryError) Error() string {
	return fmt.Sprintf("post-delivery error: %v", e.err)
}

func (e *PostDeliveryError) Unwrap() error {
	return e.err
}

// IntegrationGetter resolves the full integration config for a task.
type IntegrationGetter interface {
	RetrieveIntegration(ctx context.Context, orgID int64, integrationID string) (*models.Integration, error)
}

// ScheduleCoordinator defers non-immediate deliveries and finalizes
// scheduled entries once their delivery resolves.
type ScheduleCoordinator interface {
	Schedule(ctx context.Context, integration *models.Integration, event models.Event, payload models.Data) (*models.ScheduledIntegration, error)
	MarkDelivered(ctx context.Context, entryID, deliveryLogID string) error
	MarkAttemptFailed(ctx context.Context, entryID string, retryCeiling int) error
	MarkPermanentFailure(ctx context.Context, entryID string) error
}

// DLQAppender captures abandoned deliveries.
type DLQAppender interface {
	Append(ctx context.Context, entry *models.DLQEntry) error
}

// AuditUpdater folds terminal delivery outcomes into the event's audit
// record.
type AuditUpdater interface {
	RetrieveAudit(ctx context.Context, eventID string) (*models.EventAudit, error)
	UpsertAudit(ctx context.Context, audit *models.EventAudit) error
}

type messageHandler struct {
	logger       *logging.Logger
	integrations IntegrationGetter
	breaker      breaker.Breaker
	publisher    delivery.Publisher
	logs         logstore.LogStore
	dlq          DLQAppender
	audits       AuditUpdater
	schedules    ScheduleCoordinator
	idempotence  idempotence.Idempotence
	meter        gmetrics.GatewayMetrics
	clock        func() time.Time
}

type MessageHandlerOption func(*messageHandler)

func WithClock(clock func() time.Time) MessageHandlerOption {
	return func(h *messageHandler) { h.clock = clock }
}

func NewMessageHandler(
	logger *logging.Logger,
	integrations IntegrationGetter,
	circuitBreaker breaker.Breaker,
	publisher delivery.Publisher,
	logs logstore.LogStore,
	dlqStore DLQAppender,
	audits AuditUpdater,
	schedules ScheduleCoordinator,
	idem idempotence.Idempotence,
	opts ...MessageHandlerOption,
) consumer.MessageHandler {
	meter, _ := gmetrics.New()
	h := &messageHandler{
		meter:        meter,
		logger:       logger,
		integrations: integrations,
		breaker:      circuitBreaker,
		publisher:    publisher,
		logs:         logs,
		dlq:          dlqStore,
		audits:       audits,
		schedules:    schedules,
		idempotence:  idem,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *messageHandler) Handle(ctx context.Context, msg *mqs.Message) error {
	task := models.DeliveryTask{}
	if err := task.FromMessage(msg); err != nil {
		// A malformed task cannot be repaired by redelivery.
		msg.Ack()
		return &PreDeliveryError{err: err}
	}

	h.logger.Ctx(ctx).Info("processing delivery task",
		zap.String("trace_id", task.TraceID),
		zap.String("event_id", task.Event.ID),
		zap.Int64("org_id", task.Event.OrgID),
		zap.String("integration_id", task.IntegrationID),
		zap.String("trigger", string(task.Trigger)),
		zap.Int("attempt", task.Attempt))

	integration, err := h.ensureDeliverableIntegration(ctx, task)
	if err != nil {
		return h.handleError(ctx, msg, task, &PreDeliveryError{err: err})
	}

	executed := false
	idempotencyKey := idempotencyKeyFromDeliveryTask(task)
	err = h.idempotence.Exec(ctx, idempotencyKey, func(ctx context.Context) error {
		executed = true
		return h.doHandle(ctx, task, integration)
	})
	if err == nil && !executed {
		h.logger.Ctx(ctx).Info("delivery task skipped (idempotent)",
			zap.String("trace_id", task.TraceID),
			zap.String("event_id", task.Event.ID),
			zap.String("integration_id", task.IntegrationID),
			zap.Int("attempt", task.Attempt),
			zap.String("idempotency_key", idempotencyKey))
	}
	return h.handleError(ctx, msg, task, err)
}

func (h *messageHandler) handleError(ctx context.Context, msg *mqs.Message, task models.DeliveryTask, err error) error {
	if h.shouldNackError(err) {
		msg.Nack()
	} else {
		msg.Ack()
	}

	var preErr *PreDeliveryError
	if errors.As(err, &preErr) {
		// Deleted, missing, or inactive integrations are an expected end
		// state for in-flight tasks, not a handler failure.
		if errors.Is(preErr.err, integrationstore.ErrIntegrationDeleted) ||
			errors.Is(preErr.err, integrationstore.ErrIntegrationNotFound) ||
			errors.Is(preErr.err, errIntegrationInactive) {
			h.finalizeUndeliverable(ctx, task)
			return nil
		}
	}
	return err
}

func (h *messageHandler) shouldNackError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, idempotence.ErrConflict) {
		// Another worker holds the claim; redeliver after its outcome is
		// known.
		return true
	}
	var preErr *PreDeliveryError
	if errors.As(err, &preErr) {
		if errors.Is(preErr.err, integrationstore.ErrIntegrationDeleted) ||
			errors.Is(preErr.err, integrationstore.ErrIntegrationNotFound) ||
			errors.Is(preErr.err, errIntegrationInactive) {
			return false
		}
		return true
	}
	var postErr *PostDeliveryError
	return errors.As(err, &postErr)
}

// finalizeUndeliverable closes out a scheduled entry whose integration
// disappeared between scheduling and dispatch.
func (h *messageHandler) finalizeUndeliverable(ctx context.Context, task models.DeliveryTask) {
	if task.ScheduledEntryID == "" || h.schedules == nil {
		return
	}
	if err := h.schedules.MarkPermanentFailure(ctx, task.ScheduledEntryID); err != nil {
		h.logger.Ctx(ctx).Error("failed to finalize scheduled entry",
			zap.String("entry_id", task.ScheduledEntryID),
			zap.Error(err))
	}
}

func (h *messageHandler) ensureDeliverableIntegration(ctx context.Context, task models.DeliveryTask) (*models.Integration, error) {
	integration, err := h.integrations.RetrieveIntegration(ctx, task.Event.OrgID, task.IntegrationID)
	if errors.Is(err, integrationstore.ErrIntegrationNotFound) && task.Event.OrgUnitRID != 0 && task.Event.OrgUnitRID != task.Event.OrgID {
		// Integrations created directly on an org unit live under that
		// unit's id rather than the parent tenant.
		integration, err = h.integrations.RetrieveIntegration(ctx, task.Event.OrgUnitRID, task.IntegrationID)
	}
	if err != nil {
		logger := h.logger.Ctx(ctx)
		fields := []zap.Field{
			zap.Error(err),
			zap.String("event_id", task.Event.ID),
			zap.Int64("org_id", task.Event.OrgID),
			zap.String("integration_id", task.IntegrationID),
		}
		if errors.Is(err, integrationstore.ErrIntegrationDeleted) || errors.Is(err, integrationstore.ErrIntegrationNotFound) {
			logger.Info("integration gone, dropping delivery task", fields...)
		} else {
			logger.Error("failed to retrieve integration", fields...)
		}
		return nil, err
	}
	if !integration.IsActive {
		h.logger.Ctx(ctx).Info("skipping inactive integration",
			zap.String("event_id", task.Event.ID),
			zap.Int64("org_id", task.Event.OrgID),
			zap.String("integration_id", integration.ID))
		return nil, errIntegrationInactive
	}
	return integration, nil
}

func (h *messageHandler) doHandle(ctx context.Context, task models.DeliveryTask, integration *models.Integration) error {
	// First-touch tasks for non-immediate integrations become scheduled
	// entries instead of firing now.
	if h.shouldDefer(task, integration) {
		return h.deferDelivery(ctx, task, integration)
	}

	now := h.clock()

	verdict, err := h.breaker.Check(ctx, integration.ID)
	if err != nil {
		return &PreDeliveryError{err: fmt.Errorf("breaker check: %w", err)}
	}
	if verdict == breaker.VerdictSkip {
		return h.recordSkipped(ctx, task, integration, now)
	}

	output, err := h.resolvePayload(&task, integration)
	if err != nil {
		return h.recordTransformFailure(ctx, task, integration, now, err)
	}

	req, err := delivery.BuildRequest(integration, output, task.TraceID, now)
	if err != nil {
		return h.recordTransformFailure(ctx, task, integration, now, err)
	}

	h.meter.DeliveryAttempted(ctx, &task)
	result := h.publisher.Deliver(ctx, req, integration.Timeout())
	return h.recordOutcome(ctx, task, integration, req, result, now)
}

func (h *messageHandler) shouldDefer(task models.DeliveryTask, integration *models.Integration) bool {
	if h.schedules == nil || task.ScheduledEntryID != "" || task.Trigger != models.TriggerEvent {
		return false
	}
	return integration.DeliveryMode == models.DeliveryModeDelayed ||
		integration.DeliveryMode == models.DeliveryModeRecurring
}

func (h *messageHandler) deferDelivery(ctx context.Context, task models.DeliveryTask, integration *models.Integration) error {
	output, err := h.resolvePayload(&task, integration)
	if err != nil {
		return h.recordTransformFailure(ctx, task, integration, h.clock(), err)
	}
	if _, err := h.schedules.Schedule(ctx, integration, task.Event, output.Payload); err != nil {
		return &PreDeliveryError{err: fmt.Errorf("schedule delivery: %w", err)}
	}
	return nil
}

func (h *messageHandler) resolvePayload(task *models.DeliveryTask, integration *models.Integration) (*transform.Output, error) {
	if task.PayloadOverride != nil {
		return &transform.Output{Payload: task.PayloadOverride}, nil
	}
	return transform.Apply(integration, &task.Event, task.ActionIndex)
}

func (h *messageHandler) recordSkipped(ctx context.Context, task models.DeliveryTask, integration *models.Integration, now time.Time) error {
	log := h.buildLog(ctx, task, integration, now)
	log.Status = models.LogSkipped
	log.Error = &models.DeliveryError{
		Message:  "circuit breaker open",
		Category: models.CategoryCircuitOpen,
	}
	log.FinishedAt = &now

	h.logger.Ctx(ctx).Warn("delivery skipped, circuit open",
		zap.String("trace_id", task.TraceID),
		zap.String("integration_id", integration.ID))

	if err := h.upsertLog(ctx, log); err != nil {
		return &PostDeliveryError{err: err}
	}
	if task.ScheduledEntryID != "" && h.schedules != nil {
		// Let the entry retry after the breaker's recovery window.
		if err := h.schedules.MarkAttemptFailed(ctx, task.ScheduledEntryID, integration.RetryCount); err != nil {
			return &PostDeliveryError{err: err}
		}
	}
	return nil
}

func (h *messageHandler) recordTransformFailure(ctx context.Context, task models.DeliveryTask, integration *models.Integration, now time.Time, cause error) error {
	log := h.buildLog(ctx, task, integration, now)
	log.Status = models.LogFailed
	log.Error = &models.DeliveryError{
		Message:  cause.Error(),
		Category: models.CategoryTransformation,
	}
	log.FinishedAt = &now

	h.logger.Ctx(ctx).Error("transformation failed",
		zap.String("trace_id", task.TraceID),
		zap.String("integration_id", integration.ID),
		zap.Error(cause))

	if err := h.upsertLog(ctx, log); err != nil {
		return &PostDeliveryError{err: err}
	}
	if task.ScheduledEntryID != "" && h.schedules != nil {
		if err := h.schedules.MarkPermanentFailure(ctx, task.ScheduledEntryID); err != nil {
			return &PostDeliveryError{err: err}
		}
	}
	h.updateAudit(ctx, task.Event.ID, false)
	return nil
}

func (h *messageHandler) recordOutcome(ctx context.Context, task models.DeliveryTask, integration *models.Integration, req *delivery.Request, result *delivery.Result, now time.Time) error {
	attemptNumber := task.Attempt + 1

	log := h.buildLog(ctx, task, integration, now)
	log.AttemptCount = attemptNumber
	log.LastAttemptAt = now
	log.ResponseStatus = result.StatusCode
	log.ResponseBody = result.Body
	log.Request = req.Snapshot()
	log.DurationMs = result.Duration.Milliseconds()

	attempt := &models.Attempt{
		ID:             idgen.Attempt(),
		TraceID:        task.TraceID,
		Number:         attemptNumber,
		At:             now,
		ResponseStatus: result.StatusCode,
		DurationMs:     result.Duration.Milliseconds(),
	}

	var postErr error
	switch {
	case result.Success:
		log.Status = models.LogSuccess
		log.FinishedAt = &now
		attempt.Status = models.LogSuccess

		if err := h.breaker.RecordSuccess(ctx, integration.ID); err != nil {
			h.logger.Ctx(ctx).Error("failed to record breaker success",
				zap.String("integration_id", integration.ID), zap.Error(err))
		}
		h.logger.Ctx(ctx).Info("delivery succeeded",
			zap.String("trace_id", task.TraceID),
			zap.String("integration_id", integration.ID),
			zap.Int("response_status", result.StatusCode),
			zap.Int("attempt", attemptNumber))

		if task.ScheduledEntryID != "" && h.schedules != nil {
			postErr = h.schedules.MarkDelivered(ctx, task.ScheduledEntryID, task.TraceID)
		}
		h.updateAudit(ctx, task.Event.ID, true)

	default:
		deliveryErr := &models.DeliveryError{
			Message:    failureMessage(result),
			Category:   result.Category,
			StatusCode: result.StatusCode,
		}
		log.Error = deliveryErr
		attempt.Error = deliveryErr.Message

		if result.Category.CountsTowardBreaker() {
			opened, err := h.breaker.RecordFailure(ctx, integration.ID)
			if err != nil {
				h.logger.Ctx(ctx).Error("failed to record breaker failure",
					zap.String("integration_id", integration.ID), zap.Error(err))
			} else if opened {
				h.logger.Ctx(ctx).Warn("circuit breaker opened",
					zap.String("integration_id", integration.ID),
					zap.Int64("org_id", integration.OrgID))
			}
		}

		switch {
		case task.Trigger == models.TriggerSchedule:
			// Scheduled deliveries retry through the timer queue, never
			// through the RETRYING log scan.
			log.Status = models.LogFailed
			log.FinishedAt = &now
			attempt.Status = models.LogFailed
			if h.schedules != nil && task.ScheduledEntryID != "" {
				if result.Category.Retryable() {
					postErr = h.schedules.MarkAttemptFailed(ctx, task.ScheduledEntryID, integration.RetryCount)
				} else {
					postErr = h.schedules.MarkPermanentFailure(ctx, task.ScheduledEntryID)
					h.updateAudit(ctx, task.Event.ID, false)
				}
			}

		case result.Category.Retryable() && attemptNumber <= integration.RetryCount:
			log.Status = models.LogRetrying
			attempt.Status = models.LogRetrying
			h.logger.Ctx(ctx).Warn("delivery failed, will retry",
				zap.String("trace_id", task.TraceID),
				zap.String("integration_id", integration.ID),
				zap.Int("attempt", attemptNumber),
				zap.Int("retry_ceiling", integration.RetryCount),
				zap.String("category", string(result.Category)))

		case result.Category.Retryable():
			log.Status = models.LogAbandoned
			log.FinishedAt = &now
			attempt.Status = models.LogAbandoned
			postErr = h.appendDLQ(ctx, task, integration, deliveryErr)
			h.updateAudit(ctx, task.Event.ID, false)
			h.logger.Ctx(ctx).Error("delivery abandoned, retries exhausted",
				zap.String("trace_id", task.TraceID),
				zap.String("integration_id", integration.ID),
				zap.Int("attempt", attemptNumber))

		default:
			log.Status = models.LogFailed
			log.FinishedAt = &now
			attempt.Status = models.LogFailed
			h.updateAudit(ctx, task.Event.ID, false)
			h.logger.Ctx(ctx).Error("delivery rejected by endpoint",
				zap.String("trace_id", task.TraceID),
				zap.String("integration_id", integration.ID),
				zap.Int("response_status", result.StatusCode))
		}
	}

	h.meter.DeliveryCompleted(ctx, &task, string(log.Status), result.Duration)

	if err := h.upsertLog(ctx, log); err != nil {
		return &PostDeliveryError{err: err}
	}
	if err := h.logs.AppendAttempt(ctx, attempt); err != nil {
		return &PostDeliveryError{err: err}
	}
	if postErr != nil {
		return &PostDeliveryError{err: postErr}
	}
	return nil
}

// buildLog assembles the execution log row for this attempt, preserving
// StartedAt from an earlier attempt of the same trace.
func (h *messageHandler) buildLog(ctx context.Context, task models.DeliveryTask, integration *models.Integration, now time.Time) *models.ExecutionLog {
	startedAt := now
	if existing, err := h.logs.RetrieveLog(ctx, task.Event.OrgID, task.TraceID); err == nil && existing != nil {
		startedAt = existing.StartedAt
	}

	return &models.ExecutionLog{
		TraceID:       task.TraceID,
		OrgID:         task.Event.OrgID,
		IntegrationID: integration.ID,
		EventID:       task.Event.ID,
		EventType:     task.Event.Type,
		EventPayload:  task.Event.Payload,
		Direction:     integration.Direction,
		TriggerType:   task.Trigger,
		ActionIndex:   task.ActionIndex,
		AttemptCount:  task.Attempt + 1,
		LastAttemptAt: now,
		StartedAt:     startedAt,
		SearchText: strings.Join([]string{
			task.Event.ID, task.Event.Type, integration.ID, integration.URL,
		}, " "),
	}
}

// upsertLog writes the log unless it would regress a terminal status,
// which can happen when a stale redelivery races a finished delivery.
func (h *messageHandler) upsertLog(ctx context.Context, log *models.ExecutionLog) error {
	existing, err := h.logs.RetrieveLog(ctx, log.OrgID, log.TraceID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Status.CanTransitionTo(log.Status) {
		h.logger.Ctx(ctx).Warn("dropping stale log transition",
			zap.String("trace_id", log.TraceID),
			zap.String("from", string(existing.Status)),
			zap.String("to", string(log.Status)))
		return nil
	}
	return h.logs.UpsertLog(ctx, log)
}

func (h *messageHandler) appendDLQ(ctx context.Context, task models.DeliveryTask, integration *models.Integration, deliveryErr *models.DeliveryError) error {
	if h.dlq == nil {
		return nil
	}
	entry := &models.DLQEntry{
		ID:            idgen.DLQEntry(),
		TraceID:       task.TraceID,
		IntegrationID: integration.ID,
		OrgID:         task.Event.OrgID,
		Payload:       task.Event.Payload,
		Error:         *deliveryErr,
		ActionIndex:   task.ActionIndex,
		Status:        models.DLQPending,
		RetryCount:    task.Attempt + 1,
		MaxRetries:    integration.RetryCount,
		CreatedAt:     h.clock(),
	}
	if err := h.dlq.Append(ctx, entry); err != nil {
		return err
	}
	h.meter.DLQAppended(ctx, entry)
	return nil
}

// updateAudit folds one terminal outcome into the event's audit record.
// Best effort: audit lag must not fail the delivery.
func (h *messageHandler) updateAudit(ctx context.Context, eventID string, delivered bool) {
	if h.audits == nil {
		return
	}
	audit, err := h.audits.RetrieveAudit(ctx, eventID)
	if err != nil || audit == nil {
		return
	}
	if delivered {
		audit.Delivery.DeliveredCount++
		audit.AddTimeline("delivered")
	} else {
		audit.Delivery.FailedCount++
		audit.AddTimeline("delivery_failed")
	}
	if audit.Delivery.FailedCount > 0 {
		audit.Status = models.AuditFailed
	} else if audit.Delivery.DeliveredCount >= audit.Delivery.IntegrationsMatched {
		audit.Status = models.AuditDelivered
	}
	if err := h.audits.UpsertAudit(ctx, audit); err != nil {
		h.logger.Ctx(ctx).Error("failed to update audit record",
			zap.String("event_id", eventID), zap.Error(err))
	}
}

func failureMessage(result *delivery.Result) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return fmt.Sprintf("endpoint returned status %d", result.StatusCode)
}

var _ consumer.MessageHandler = (*messageHandler)(nil)

// DLQ stores already satisfy DLQAppender.
var _ DLQAppender = (dlq.Store)(nil)

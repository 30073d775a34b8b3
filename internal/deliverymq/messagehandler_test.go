package deliverymq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/breaker"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idempotence"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler/schedstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

// fakePublisher returns canned results without touching the network.
type fakePublisher struct {
	mu       sync.Mutex
	results  []*delivery.Result
	requests []*delivery.Request
}

func (p *fakePublisher) Deliver(ctx context.Context, req *delivery.Request, timeout time.Duration) *delivery.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.results) == 0 {
		return &delivery.Result{Success: true, StatusCode: 200, Duration: 5 * time.Millisecond}
	}
	result := p.results[0]
	p.results = p.results[1:]
	return result
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type nopQueue struct{}

func (nopQueue) Publish(ctx context.Context, task models.DeliveryTask) error { return nil }

type handlerHarness struct {
	handler      *messageHandler
	integrations integrationstore.Store
	breaker      breaker.Breaker
	publisher    *fakePublisher
	logs         logstore.LogStore
	dlq          dlq.Store
	audits       audit.Store
	schedStore   schedstore.Store
	scheduler    *scheduler.Scheduler
}

func newHarness(t *testing.T) *handlerHarness {
	t.Helper()
	redisClient := testutil.CreateTestRedisClient(t)
	logger := testutil.CreateTestLogger(t)

	integrations := integrationstore.New(redisClient)
	circuitBreaker := breaker.New(redisClient, breaker.WithThreshold(3))
	publisher := &fakePublisher{}
	logs := logstore.NewMemLogStore()
	dlqStore := dlq.NewMemStore()
	auditStore := audit.NewMemStore()
	schedStore := schedstore.NewMemStore()
	sched := scheduler.New(schedStore, nopQueue{}, logger)

	handler := NewMessageHandler(
		logger, integrations, circuitBreaker, publisher,
		logs, dlqStore, auditStore, sched,
		idempotence.New(redisClient),
	).(*messageHandler)

	return &handlerHarness{
		handler:      handler,
		integrations: integrations,
		breaker:      circuitBreaker,
		publisher:    publisher,
		logs:         logs,
		dlq:          dlqStore,
		audits:       auditStore,
		schedStore:   schedStore,
		scheduler:    sched,
	}
}

func (h *handlerHarness) mustCreateIntegration(t *testing.T, opts ...func(*models.Integration)) models.Integration {
	t.Helper()
	integration := testutil.IntegrationFactory.Any(opts...)
	require.NoError(t, h.integrations.CreateIntegration(context.Background(), integration))
	return integration
}

func (h *handlerHarness) seedAudit(t *testing.T, event models.Event, matched int) {
	t.Helper()
	require.NoError(t, h.audits.UpsertAudit(context.Background(), &models.EventAudit{
		ID:        idgen.Audit(),
		OrgID:     event.OrgID,
		EventID:   event.ID,
		EventType: event.Type,
		Status:    models.AuditStuck,
		Delivery:  models.DeliveryStats{IntegrationsMatched: matched},
		CreatedAt: time.Now().UTC(),
	}))
}

func taskMessage(t *testing.T, task models.DeliveryTask) *mqs.Message {
	t.Helper()
	msg, err := task.ToMessage()
	require.NoError(t, err)
	return msg
}

func TestMessageHandler_SuccessfulDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.seedAudit(t, event, 1)

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, models.LogSuccess, log.Status)
	assert.Equal(t, 1, log.AttemptCount)
	assert.Equal(t, 200, log.ResponseStatus)
	require.NotNil(t, log.FinishedAt)
	require.NotNil(t, log.Request)
	assert.Equal(t, integration.URL, log.Request.URL)

	attempts, err := h.logs.ListAttempts(ctx, task.TraceID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.LogSuccess, attempts[0].Status)

	auditRecord, err := h.audits.RetrieveAudit(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, auditRecord.Delivery.DeliveredCount)
	assert.Equal(t, models.AuditDelivered, auditRecord.Status)
}

func TestMessageHandler_ClientFailureIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithRetryCount(3))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.publisher.results = []*delivery.Result{{
		StatusCode: 404, Body: "not found", Category: models.CategoryClient, Duration: time.Millisecond,
	}}

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogFailed, log.Status)
	require.NotNil(t, log.Error)
	assert.Equal(t, models.CategoryClient, log.Error.Category)
	assert.Equal(t, 404, log.Error.StatusCode)

	// Client failures never count toward the breaker.
	state, err := h.breaker.Snapshot(ctx, integration.ID)
	require.NoError(t, err)
	assert.Zero(t, state.ConsecutiveFailures)

	entries, err := h.dlq.List(ctx, dlq.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMessageHandler_InfrastructureFailureRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithRetryCount(3))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.publisher.results = []*delivery.Result{{
		StatusCode: 503, Category: models.CategoryInfrastructure, Duration: time.Millisecond,
	}}

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogRetrying, log.Status)
	assert.Nil(t, log.FinishedAt)
	assert.Equal(t, 1, log.AttemptCount)

	state, err := h.breaker.Snapshot(ctx, integration.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.ConsecutiveFailures)

	entries, err := h.dlq.List(ctx, dlq.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMessageHandler_ActionListFailurePersistsActionIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t,
		testutil.IntegrationFactory.WithRetryCount(3),
		testutil.IntegrationFactory.WithTransformation(models.TransformationConfig{
			Mode: models.TransformActionList,
			Actions: []models.TransformAction{
				{Name: "notify", Template: map[string]string{"rid": "patientRid"}},
				{Name: "archive", Template: map[string]string{"who": "name"}},
			},
		}),
	)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.publisher.results = []*delivery.Result{{
		StatusCode: 503, Category: models.CategoryInfrastructure, Duration: time.Millisecond,
	}}

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	task.ActionIndex = 1
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, models.LogRetrying, log.Status)
	assert.Equal(t, 1, log.ActionIndex)

	// A redelivery rebuilt from the log transforms the same action and
	// reaches the endpoint again.
	retryTask := models.DeliveryTask{
		TraceID:       log.TraceID,
		Event:         event,
		IntegrationID: log.IntegrationID,
		Attempt:       log.AttemptCount,
		Trigger:       log.TriggerType,
		ActionIndex:   log.ActionIndex,
	}
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, retryTask)))

	log, err = h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogSuccess, log.Status)
	assert.Equal(t, 2, h.publisher.callCount())
}

func TestMessageHandler_ExhaustedRetriesAbandonToDLQ(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithRetryCount(2))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.seedAudit(t, event, 1)
	h.publisher.results = []*delivery.Result{{
		StatusCode: 500, Category: models.CategoryInfrastructure, Duration: time.Millisecond,
	}}

	// Attempt index 2 means this is the third try, past the ceiling of 2.
	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	task.Attempt = 2
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogAbandoned, log.Status)
	require.NotNil(t, log.FinishedAt)

	entries, err := h.dlq.List(ctx, dlq.ListRequest{OrgID: event.OrgID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, task.TraceID, entries[0].TraceID)
	assert.Equal(t, integration.ID, entries[0].IntegrationID)
	assert.Equal(t, models.DLQPending, entries[0].Status)
	assert.Equal(t, 3, entries[0].RetryCount)

	auditRecord, err := h.audits.RetrieveAudit(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, auditRecord.Delivery.FailedCount)
	assert.Equal(t, models.AuditFailed, auditRecord.Status)
}

func TestMessageHandler_CircuitOpenSkipsDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	// Trip the breaker (threshold 3 in the harness).
	for i := 0; i < 3; i++ {
		_, err := h.breaker.RecordFailure(ctx, integration.ID)
		require.NoError(t, err)
	}

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	assert.Zero(t, h.publisher.callCount())

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogSkipped, log.Status)
	require.NotNil(t, log.Error)
	assert.Equal(t, models.CategoryCircuitOpen, log.Error.Category)
	assert.Equal(t, 1, log.AttemptCount)
}

func TestMessageHandler_TransformFailureDoesNotRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithTransformation(models.TransformationConfig{
		Mode:     models.TransformTemplate,
		Template: map[string]string{"out": "((("},
	}))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	assert.Zero(t, h.publisher.callCount())

	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogFailed, log.Status)
	require.NotNil(t, log.Error)
	assert.Equal(t, models.CategoryTransformation, log.Error.Category)
	assert.Equal(t, 1, log.AttemptCount)

	state, err := h.breaker.Snapshot(ctx, integration.ID)
	require.NoError(t, err)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestMessageHandler_DelayedIntegrationDefers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t,
		testutil.IntegrationFactory.WithDeliveryMode(models.DeliveryModeDelayed),
		testutil.IntegrationFactory.WithSchedule(&models.ScheduleConfig{DelaySeconds: 300}),
	)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	// No HTTP attempt; a pending scheduled entry instead.
	assert.Zero(t, h.publisher.callCount())

	pending, err := h.schedStore.List(ctx, schedstore.ListRequest{OrgID: event.OrgID, Status: models.SchedulePending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, integration.ID, pending[0].IntegrationID)
	assert.Equal(t, event.ID, pending[0].EventID)
}

func TestMessageHandler_ScheduledDeliveryFinalizesEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	entry := &models.ScheduledIntegration{
		ID:            "sch_1",
		IntegrationID: integration.ID,
		OrgID:         event.OrgID,
		ScheduledFor:  time.Now().UTC().Add(-time.Minute),
		Status:        models.SchedulePending,
		Payload:       models.Data{"ready": true},
	}
	require.NoError(t, h.schedStore.Create(ctx, entry))
	_, err := h.schedStore.ClaimDue(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerSchedule)
	task.ScheduledEntryID = entry.ID
	task.PayloadOverride = entry.Payload
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	got, err := h.schedStore.Retrieve(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleSent, got.Status)
	assert.Equal(t, task.TraceID, got.DeliveryLogID)
}

func TestMessageHandler_ScheduledTransientFailureReschedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithRetryCount(3))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))
	h.publisher.results = []*delivery.Result{{
		Category: models.CategoryInfrastructure, Err: errors.New("connection refused"), Duration: time.Millisecond,
	}}

	entry := &models.ScheduledIntegration{
		ID:            "sch_retry",
		IntegrationID: integration.ID,
		OrgID:         event.OrgID,
		ScheduledFor:  time.Now().UTC().Add(-time.Minute),
		Status:        models.SchedulePending,
	}
	require.NoError(t, h.schedStore.Create(ctx, entry))
	_, err := h.schedStore.ClaimDue(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerSchedule)
	task.ScheduledEntryID = entry.ID
	task.PayloadOverride = models.Data{"k": "v"}
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	// The scheduled retry loop owns the redelivery, so the log is
	// terminal rather than RETRYING.
	log, err := h.logs.RetrieveLog(ctx, event.OrgID, task.TraceID)
	require.NoError(t, err)
	assert.Equal(t, models.LogFailed, log.Status)

	got, err := h.schedStore.Retrieve(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SchedulePending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.True(t, got.ScheduledFor.After(time.Now().UTC()))
}

func TestMessageHandler_RedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t)
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))

	assert.Equal(t, 1, h.publisher.callCount())
}

func TestMessageHandler_MissingIntegrationDropsTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	event := testutil.EventFactory.Any()
	task := models.NewDeliveryTask(idgen.Trace(), event, "cfg_ghost", models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))
	assert.Zero(t, h.publisher.callCount())
}

func TestMessageHandler_InactiveIntegrationDropsTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	integration := h.mustCreateIntegration(t, testutil.IntegrationFactory.WithIsActive(false))
	event := testutil.EventFactory.Any(testutil.EventFactory.WithType(integration.EventType))

	task := models.NewDeliveryTask(idgen.Trace(), event, integration.ID, models.TriggerEvent)
	require.NoError(t, h.handler.Handle(ctx, taskMessage(t, task)))
	assert.Zero(t, h.publisher.callCount())
}

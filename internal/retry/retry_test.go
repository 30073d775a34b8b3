package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/backoff"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

type captureQueue struct {
	mu    sync.Mutex
	tasks []models.DeliveryTask
}

func (q *captureQueue) Publish(ctx context.Context, task models.DeliveryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) all() []models.DeliveryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.DeliveryTask(nil), q.tasks...)
}

type engineHarness struct {
	engine       *Engine
	logs         logstore.LogStore
	integrations integrationstore.Store
	queue        *captureQueue
	now          time.Time
}

func newEngineHarness(t *testing.T, opts ...EngineOption) *engineHarness {
	t.Helper()

	h := &engineHarness{
		logs:         logstore.NewMemLogStore(),
		integrations: integrationstore.New(testutil.CreateTestRedisClient(t)),
		queue:        &captureQueue{},
		now:          time.Now().UTC(),
	}
	opts = append([]EngineOption{
		WithClock(func() time.Time { return h.now }),
		WithBackoff(&backoff.ConstantBackoff{Interval: 5 * time.Minute}),
	}, opts...)
	h.engine = NewEngine(h.logs, h.integrations, h.queue, logging.NewNopLogger(), opts...)
	return h
}

func (h *engineHarness) seedRetryingLog(t *testing.T, integrationID string, lastAttemptAt time.Time, attemptCount int) *models.ExecutionLog {
	t.Helper()
	log := &models.ExecutionLog{
		TraceID:       "trace_" + testutil.RandomString(8),
		OrgID:         84,
		IntegrationID: integrationID,
		EventID:       "84-appointment_booked-1",
		EventType:     "appointment_booked",
		EventPayload:  models.Data{"appointmentId": float64(1)},
		TriggerType:   models.TriggerEvent,
		Status:        models.LogRetrying,
		ActionIndex:   -1,
		AttemptCount:  attemptCount,
		LastAttemptAt: lastAttemptAt,
		StartedAt:     lastAttemptAt,
	}
	require.NoError(t, h.logs.UpsertLog(context.Background(), log))
	return log
}

func TestEngine_RedeliversDueLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	integration := testutil.IntegrationFactory.Any()
	require.NoError(t, h.integrations.CreateIntegration(ctx, integration))
	log := h.seedRetryingLog(t, integration.ID, h.now.Add(-10*time.Minute), 1)

	require.NoError(t, h.engine.Tick(ctx))

	tasks := h.queue.all()
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, log.TraceID, task.TraceID)
	assert.Equal(t, integration.ID, task.IntegrationID)
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, models.TriggerEvent, task.Trigger)
	assert.Equal(t, -1, task.ActionIndex)
	assert.Equal(t, log.EventID, task.Event.ID)
	assert.Equal(t, log.EventType, task.Event.Type)
	assert.Equal(t, log.EventPayload, task.Event.Payload)
}

func TestEngine_RebuildsActionListTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	integration := testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithTransformation(models.TransformationConfig{
			Mode: models.TransformActionList,
			Actions: []models.TransformAction{
				{Name: "notify"},
				{Name: "archive"},
			},
		}),
	)
	require.NoError(t, h.integrations.CreateIntegration(ctx, integration))
	log := h.seedRetryingLog(t, integration.ID, h.now.Add(-10*time.Minute), 1)
	log.ActionIndex = 1
	require.NoError(t, h.logs.UpsertLog(ctx, log))

	require.NoError(t, h.engine.Tick(ctx))

	tasks := h.queue.all()
	require.Len(t, tasks, 1)
	assert.Equal(t, log.TraceID, tasks[0].TraceID)
	assert.Equal(t, 1, tasks[0].ActionIndex)
}

func TestEngine_WaitsForBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	integration := testutil.IntegrationFactory.Any()
	require.NoError(t, h.integrations.CreateIntegration(ctx, integration))
	h.seedRetryingLog(t, integration.ID, h.now.Add(-time.Minute), 1)

	require.NoError(t, h.engine.Tick(ctx))
	assert.Empty(t, h.queue.all())

	// Advance past the backoff and the log becomes due.
	h.now = h.now.Add(5 * time.Minute)
	require.NoError(t, h.engine.Tick(ctx))
	assert.Len(t, h.queue.all(), 1)
}

func TestEngine_SkipsLogsPastRetryCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	integration := testutil.IntegrationFactory.Any(testutil.IntegrationFactory.WithRetryCount(2))
	require.NoError(t, h.integrations.CreateIntegration(ctx, integration))
	h.seedRetryingLog(t, integration.ID, h.now.Add(-time.Hour), 3)

	require.NoError(t, h.engine.Tick(ctx))
	assert.Empty(t, h.queue.all())
}

func TestEngine_SkipsMissingIntegration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	h.seedRetryingLog(t, "gone", h.now.Add(-time.Hour), 1)

	require.NoError(t, h.engine.Tick(ctx))
	assert.Empty(t, h.queue.all())
}

func TestEngine_IgnoresLogsOutsideWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t)

	integration := testutil.IntegrationFactory.Any()
	require.NoError(t, h.integrations.CreateIntegration(ctx, integration))
	h.seedRetryingLog(t, integration.ID, h.now.Add(-5*time.Hour), 1)

	require.NoError(t, h.engine.Tick(ctx))
	assert.Empty(t, h.queue.all(), "expired logs belong to the sweeper, not the engine")
}

func TestSweeper_AbandonsExpiredLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().UTC()

	logs := logstore.NewMemLogStore()
	dlqStore := dlq.NewMemStore()
	sweeper := NewSweeper(logs, dlqStore, logging.NewNopLogger(),
		WithSweepClock(func() time.Time { return now }))

	expired := &models.ExecutionLog{
		TraceID:       "trace_expired",
		OrgID:         84,
		IntegrationID: "cfg_1",
		EventID:       "84-appointment_booked-1",
		EventType:     "appointment_booked",
		EventPayload:  models.Data{"appointmentId": float64(1)},
		TriggerType:   models.TriggerEvent,
		Status:        models.LogRetrying,
		AttemptCount:  2,
		LastAttemptAt: now.Add(-5 * time.Hour),
		StartedAt:     now.Add(-5 * time.Hour),
	}
	fresh := &models.ExecutionLog{
		TraceID:       "trace_fresh",
		OrgID:         84,
		IntegrationID: "cfg_1",
		EventID:       "84-appointment_booked-2",
		TriggerType:   models.TriggerEvent,
		Status:        models.LogRetrying,
		AttemptCount:  1,
		LastAttemptAt: now.Add(-time.Minute),
		StartedAt:     now.Add(-time.Minute),
	}
	require.NoError(t, logs.UpsertLog(ctx, expired))
	require.NoError(t, logs.UpsertLog(ctx, fresh))

	require.NoError(t, sweeper.Sweep(ctx))

	got, err := logs.RetrieveLog(ctx, 84, "trace_expired")
	require.NoError(t, err)
	assert.Equal(t, models.LogAbandoned, got.Status)
	assert.Equal(t, models.CategoryExhausted, got.Error.Category)

	still, err := logs.RetrieveLog(ctx, 84, "trace_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.LogRetrying, still.Status)

	entries, err := dlqStore.List(ctx, dlq.ListRequest{OrgID: 84})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trace_expired", entries[0].TraceID)
	assert.Equal(t, models.DLQPending, entries[0].Status)
	assert.Equal(t, 2, entries[0].RetryCount)
	assert.Equal(t, expired.EventPayload, entries[0].Payload)
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

func TestAuditStore_UpsertAndRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()

	audit := &models.EventAudit{
		ID:        testutil.RandomString(12),
		OrgID:     84,
		EventID:   "evt_1001",
		EventType: "PATIENT_REGISTERED",
		Source:    models.SourceKindRelational,
		Status:    models.AuditDelivered,
		Delivery:  models.DeliveryStats{IntegrationsMatched: 2, DeliveredCount: 2},
		CreatedAt: time.Now().UTC(),
	}
	audit.AddTimeline("received")
	audit.AddTimeline("matched")
	require.NoError(t, store.UpsertAudit(ctx, audit))

	got, err := store.RetrieveAudit(ctx, "evt_1001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.AuditDelivered, got.Status)
	assert.Len(t, got.Timeline, 2)

	// Re-processing the same event overwrites in place rather than
	// appending a second record.
	audit.Status = models.AuditFailed
	audit.Delivery.FailedCount = 1
	require.NoError(t, store.UpsertAudit(ctx, audit))

	got, err = store.RetrieveAudit(ctx, "evt_1001")
	require.NoError(t, err)
	assert.Equal(t, models.AuditFailed, got.Status)
	assert.Equal(t, 1, got.Delivery.FailedCount)

	missing, err := store.RetrieveAudit(ctx, "evt_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAuditStore_ListFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now().UTC().Add(-time.Hour)

	seed := []*models.EventAudit{
		{ID: "a1", OrgID: 84, EventID: "evt_1", EventType: "PATIENT_REGISTERED", Status: models.AuditDelivered, CreatedAt: base},
		{ID: "a2", OrgID: 84, EventID: "evt_2", EventType: "ORDER_PLACED", Status: models.AuditSkipped, SkipCategory: models.CategoryDuplicate, CreatedAt: base.Add(10 * time.Minute)},
		{ID: "a3", OrgID: 84, EventID: "evt_3", EventType: "PATIENT_REGISTERED", Status: models.AuditFailed, CreatedAt: base.Add(20 * time.Minute)},
		{ID: "a4", OrgID: 99, EventID: "evt_4", EventType: "PATIENT_REGISTERED", Status: models.AuditDelivered, CreatedAt: base.Add(30 * time.Minute)},
	}
	for _, a := range seed {
		require.NoError(t, store.UpsertAudit(ctx, a))
	}

	byOrg, err := store.ListAudits(ctx, ListRequest{OrgID: 84})
	require.NoError(t, err)
	require.Len(t, byOrg, 3)
	// Newest first.
	assert.Equal(t, "evt_3", byOrg[0].EventID)
	assert.Equal(t, "evt_1", byOrg[2].EventID)

	byType, err := store.ListAudits(ctx, ListRequest{OrgID: 84, EventType: "ORDER_PLACED"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, models.CategoryDuplicate, byType[0].SkipCategory)

	byStatus, err := store.ListAudits(ctx, ListRequest{Status: models.AuditDelivered})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	since := base.Add(15 * time.Minute)
	recent, err := store.ListAudits(ctx, ListRequest{OrgID: 84, Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "evt_3", recent[0].EventID)

	limited, err := store.ListAudits(ctx, ListRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAuditStore_CheckpointLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now().UTC()

	// Unknown checkpoints come back zero-valued so pollers can start
	// from the bootstrap position.
	cp, err := store.GetCheckpoint(ctx, models.SourceKindRelational, "notification_queue", 84)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Zero(t, cp.LastProcessedID)

	gap := cp.Advance(100, now)
	assert.Nil(t, gap)
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	gap = cp.Advance(105, now)
	require.NotNil(t, gap)
	assert.Equal(t, int64(101), gap.Start)
	assert.Equal(t, int64(104), gap.End)
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, models.SourceKindRelational, "notification_queue", 84)
	require.NoError(t, err)
	assert.Equal(t, int64(105), got.LastProcessedID)
	require.Len(t, got.Gaps, 1)
	assert.Equal(t, int64(101), got.Gaps[0].Start)
}

func TestAuditStore_CheckpointNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source:          models.SourceKindRelational,
		Name:            "notification_queue",
		OrgID:           84,
		LastProcessedID: 200,
		LastProcessedAt: now,
	}))

	// A stale writer losing the race must not rewind the high-water mark.
	err := store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source:          models.SourceKindRelational,
		Name:            "notification_queue",
		OrgID:           84,
		LastProcessedID: 150,
		LastProcessedAt: now,
	})
	assert.ErrorIs(t, err, ErrCheckpointConflict)

	got, err := store.GetCheckpoint(ctx, models.SourceKindRelational, "notification_queue", 84)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.LastProcessedID)

	// Equal ids are an idempotent save, not a conflict.
	require.NoError(t, store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source:          models.SourceKindRelational,
		Name:            "notification_queue",
		OrgID:           84,
		LastProcessedID: 200,
		LastProcessedAt: now,
	}))
}

func TestAuditStore_CheckpointScopedPerSourceAndOrg(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source: models.SourceKindRelational, Name: "notification_queue", OrgID: 84, LastProcessedID: 10, LastProcessedAt: now,
	}))
	require.NoError(t, store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source: models.SourceKindRelational, Name: "notification_queue", OrgID: 99, LastProcessedID: 7, LastProcessedAt: now,
	}))
	require.NoError(t, store.SaveCheckpoint(ctx, &models.SourceCheckpoint{
		Source: models.SourceKindStream, Name: "events", OrgID: 84, LastProcessedID: 3, LastProcessedAt: now,
	}))

	cp, err := store.GetCheckpoint(ctx, models.SourceKindRelational, "notification_queue", 99)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.LastProcessedID)

	cp, err = store.GetCheckpoint(ctx, models.SourceKindStream, "events", 84)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.LastProcessedID)
}

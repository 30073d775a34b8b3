package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

func TestSweep_PrunesExpiredLogsAndAudits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now().UTC()
	logs := logstore.NewMemLogStore()
	audits := audit.NewMemStore()

	sweeper := NewSweeper(logs, audits, logging.NewNopLogger(),
		WithWindow(90*24*time.Hour),
		WithClock(func() time.Time { return now }),
	)

	expired := &models.ExecutionLog{
		TraceID:       idgen.Trace(),
		OrgID:         84,
		IntegrationID: "cfg_1",
		EventID:       "84-appointment_booked-1",
		Status:        models.LogSuccess,
		AttemptCount:  1,
		StartedAt:     now.Add(-91 * 24 * time.Hour),
	}
	fresh := &models.ExecutionLog{
		TraceID:       idgen.Trace(),
		OrgID:         84,
		IntegrationID: "cfg_1",
		EventID:       "84-appointment_booked-2",
		Status:        models.LogSuccess,
		AttemptCount:  1,
		StartedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, logs.UpsertLog(ctx, expired))
	require.NoError(t, logs.UpsertLog(ctx, fresh))
	require.NoError(t, logs.AppendAttempt(ctx, &models.Attempt{
		ID: idgen.Attempt(), TraceID: expired.TraceID, Number: 1, At: expired.StartedAt,
	}))

	require.NoError(t, audits.UpsertAudit(ctx, &models.EventAudit{
		ID:        idgen.Audit(),
		OrgID:     84,
		EventID:   expired.EventID,
		Status:    models.AuditDelivered,
		CreatedAt: now.Add(-91 * 24 * time.Hour),
	}))
	require.NoError(t, audits.UpsertAudit(ctx, &models.EventAudit{
		ID:        idgen.Audit(),
		OrgID:     84,
		EventID:   fresh.EventID,
		Status:    models.AuditDelivered,
		CreatedAt: now.Add(-time.Hour),
	}))

	require.NoError(t, sweeper.Sweep(ctx))

	gone, err := logs.RetrieveLog(ctx, 84, expired.TraceID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := logs.RetrieveLog(ctx, 84, fresh.TraceID)
	require.NoError(t, err)
	require.NotNil(t, kept)

	attempts, err := logs.ListAttempts(ctx, expired.TraceID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	goneAudit, err := audits.RetrieveAudit(ctx, expired.EventID)
	require.NoError(t, err)
	assert.Nil(t, goneAudit)

	keptAudit, err := audits.RetrieveAudit(ctx, fresh.EventID)
	require.NoError(t, err)
	require.NotNil(t, keptAudit)
}

func TestSweep_KeepsEverythingInsideWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now().UTC()
	logs := logstore.NewMemLogStore()
	sweeper := NewSweeper(logs, nil, logging.NewNopLogger(),
		WithClock(func() time.Time { return now }),
	)

	log := &models.ExecutionLog{
		TraceID:       idgen.Trace(),
		OrgID:         84,
		IntegrationID: "cfg_1",
		EventID:       "84-appointment_booked-1",
		Status:        models.LogRetrying,
		AttemptCount:  1,
		StartedAt:     now.Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, logs.UpsertLog(ctx, log))

	require.NoError(t, sweeper.Sweep(ctx))

	kept, err := logs.RetrieveLog(ctx, 84, log.TraceID)
	require.NoError(t, err)
	require.NotNil(t, kept)
}

// Package schedstore persists scheduled integration entries and
// serializes claims: ClaimDue hands each due entry to exactly one
// caller, which holds it in PROCESSING until it writes a follow-up
// status or the stale sweeper reclaims it.
package schedstore

import (
	"context"
	"errors"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

var (
	ErrEntryNotFound = errors.New("scheduled entry not found")

	// ErrNotCancellable is returned when a cancel targets an entry that
	// already left PENDING.
	ErrNotCancellable = errors.New("scheduled entry is not pending")
)

type ListRequest struct {
	OrgID         int64
	IntegrationID string
	Status        models.ScheduleStatus
	Limit         int
}

type Store interface {
	Init(ctx context.Context) error

	Create(ctx context.Context, entry *models.ScheduledIntegration) error
	Retrieve(ctx context.Context, id string) (*models.ScheduledIntegration, error)
	List(ctx context.Context, req ListRequest) ([]*models.ScheduledIntegration, error)

	// ClaimDue atomically moves up to limit due PENDING or OVERDUE
	// entries to PROCESSING and returns them. Concurrent callers never
	// receive the same entry.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledIntegration, error)

	MarkSent(ctx context.Context, id string, deliveredAt time.Time, deliveryLogID string) error
	MarkFailed(ctx context.Context, id string) error

	// Reschedule returns a claimed entry to PENDING at a later time,
	// recording the attempt that just failed.
	Reschedule(ctx context.Context, id string, at time.Time, attemptCount int) error

	// Release returns a claimed entry to PENDING unchanged.
	Release(ctx context.Context, id string) error

	// Cancel transitions a PENDING entry to CANCELLED.
	Cancel(ctx context.Context, orgID int64, id string) error

	// CancelByMatch cancels every PENDING entry of the org whose
	// cancellation descriptor matches, returning how many it cancelled.
	CancelByMatch(ctx context.Context, orgID int64, match models.CancellationMatch) (int, error)

	// SweepStale returns PROCESSING entries claimed before cutoff to
	// PENDING, returning how many it reset.
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
}

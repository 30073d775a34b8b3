package audit

import (
	"context"
	"errors"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

var ErrCheckpointConflict = errors.New("checkpoint regression rejected")

type ListRequest struct {
	OrgID     int64              // optional - 0 means all orgs
	EventType string             // optional
	Status    models.AuditStatus // optional
	Since     *time.Time         // optional
	Limit     int
}

// Store persists per-event audit records and per-source checkpoints.
// Audits answer "what happened to event X". Checkpoints are the
// source high-water marks consulted on poller startup.
type Store interface {
	Init(ctx context.Context) error

	UpsertAudit(ctx context.Context, audit *models.EventAudit) error
	RetrieveAudit(ctx context.Context, eventID string) (*models.EventAudit, error)
	ListAudits(ctx context.Context, req ListRequest) ([]*models.EventAudit, error)

	// PurgeAudits deletes audit records created before the cutoff.
	// Checkpoints are never purged; they are the sources' read state.
	PurgeAudits(ctx context.Context, before time.Time) (int64, error)

	GetCheckpoint(ctx context.Context, source models.SourceKind, name string, orgID int64) (*models.SourceCheckpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint *models.SourceCheckpoint) error
}

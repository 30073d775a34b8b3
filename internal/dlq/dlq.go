package dlq

import (
	"context"
	"errors"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

var ErrEntryNotFound = errors.New("dead letter entry does not exist")

type ListRequest struct {
	OrgID         int64            // optional - 0 means all orgs
	IntegrationID string           // optional
	Status        models.DLQStatus // optional
	Limit         int
}

// Store captures deliveries that exhausted their retry budget. Entries
// stay until an operator resolves them or replays them through the
// delivery queue.
type Store interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, entry *models.DLQEntry) error
	Retrieve(ctx context.Context, id string) (*models.DLQEntry, error)
	List(ctx context.Context, req ListRequest) ([]*models.DLQEntry, error)
	UpdateStatus(ctx context.Context, id string, status models.DLQStatus, note string) error
}

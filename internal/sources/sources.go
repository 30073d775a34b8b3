// Package sources defines the uniform adapter capability every event
// source exposes to the ingest worker.
package sources

import (
	"context"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// Source is one event origin. Poll returns the next window of events in
// source order; Commit acknowledges everything up to and including the
// given source id (table row id, broker offset, or queue entry id).
//
// Adapters never mutate the upstream system on Poll. Checkpoints are
// persisted by the caller; Commit only moves the adapter's in-flight
// cursor.
type Source interface {
	Name() string
	Kind() models.SourceKind
	Poll(ctx context.Context, limit int) ([]*models.Event, error)
	Commit(ctx context.Context, upTo int64) error
}

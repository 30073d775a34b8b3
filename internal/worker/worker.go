package worker

import "context"

// Worker is a long-running background process supervised by the
// Supervisor. Run blocks until ctx is cancelled or a fatal error occurs;
// nil and context.Canceled both mean graceful shutdown.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

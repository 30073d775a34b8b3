// Package retention prunes execution logs and audit records that aged
// past the retention window. Checkpoints and DLQ entries are exempt:
// checkpoints are live read state, DLQ entries wait for an operator.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
)

const (
	DefaultWindow        = 90 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// AuditPurger is the slice of the audit store the sweeper needs.
type AuditPurger interface {
	PurgeAudits(ctx context.Context, before time.Time) (int64, error)
}

type Sweeper struct {
	logs   logstore.LogStore
	audits AuditPurger
	logger *logging.Logger

	tickInterval time.Duration
	window       time.Duration
	clock        func() time.Time
}

type Option func(*Sweeper)

func WithSweepInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.tickInterval = d }
}

func WithWindow(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) { s.clock = clock }
}

func NewSweeper(logs logstore.LogStore, audits AuditPurger, logger *logging.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		logs:         logs,
		audits:       audits,
		logger:       logger,
		tickInterval: DefaultSweepInterval,
		window:       DefaultWindow,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Name() string { return "retention-sweeper" }

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Ctx(ctx).Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep deletes logs and audits older than the window.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.clock().Add(-s.window)

	logsPurged, err := s.logs.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge execution logs: %w", err)
	}

	var auditsPurged int64
	if s.audits != nil {
		if auditsPurged, err = s.audits.PurgeAudits(ctx, cutoff); err != nil {
			return fmt.Errorf("purge audits: %w", err)
		}
	}

	if logsPurged > 0 || auditsPurged > 0 {
		s.logger.Ctx(ctx).Info("retention sweep pruned records",
			zap.Int64("logs", logsPurged),
			zap.Int64("audits", auditsPurged),
			zap.Time("cutoff", cutoff))
	}
	return nil
}

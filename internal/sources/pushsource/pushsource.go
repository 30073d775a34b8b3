// Package pushsource accepts events over HTTP and hands them to the
// ingest worker through a claimable work queue. Claims that sit in
// processing too long are reset so a crashed worker's batch is not
// lost.
package pushsource

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources"
)

const (
	DefaultName = "push"

	// DefaultStaleClaim is how long an entry may sit in processing
	// before ResetStale returns it to pending.
	DefaultStaleClaim = 5 * time.Minute
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Entry is one queued push event awaiting ingestion.
type Entry struct {
	ID         int64       `json:"id"`
	OrgID      int64       `json:"org_id"`
	OrgUnitRID int64       `json:"org_unit_rid,omitempty"`
	EventType  string      `json:"event_type"`
	Payload    models.Data `json:"payload"`
	Source     string      `json:"source,omitempty"`

	Status    Status     `json:"status"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Queue is the claimable backlog behind the push endpoint.
type Queue interface {
	Init(ctx context.Context) error
	Enqueue(ctx context.Context, entry *Entry) error
	// Claim atomically moves the oldest pending entries to processing.
	Claim(ctx context.Context, batch int) ([]*Entry, error)
	// Complete marks claimed entries up to and including id as done.
	Complete(ctx context.Context, upTo int64) error
	Fail(ctx context.Context, id int64) error
	// ResetStale returns entries stuck in processing since before
	// cutoff back to pending.
	ResetStale(ctx context.Context, cutoff time.Time) (int, error)
}

type Source struct {
	queue      Queue
	logger     *logging.Logger
	staleClaim time.Duration
	clock      func() time.Time
}

var _ sources.Source = (*Source)(nil)

type Option func(*Source)

func WithStaleClaim(d time.Duration) Option {
	return func(s *Source) { s.staleClaim = d }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Source) { s.clock = clock }
}

func New(queue Queue, logger *logging.Logger, opts ...Option) *Source {
	s := &Source{
		queue:      queue,
		logger:     logger,
		staleClaim: DefaultStaleClaim,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return DefaultName }

func (s *Source) Kind() models.SourceKind { return models.SourceKindPush }

// Poll resets stale claims, then claims the next batch.
func (s *Source) Poll(ctx context.Context, limit int) ([]*models.Event, error) {
	reset, err := s.queue.ResetStale(ctx, s.clock().Add(-s.staleClaim))
	if err != nil {
		return nil, err
	}
	if reset > 0 {
		s.logger.Ctx(ctx).Warn("reset stale push claims", zap.Int("count", reset))
	}

	entries, err := s.queue.Claim(ctx, limit)
	if err != nil {
		return nil, err
	}

	events := make([]*models.Event, 0, len(entries))
	for _, entry := range entries {
		event := models.NewEvent(entry.OrgID, entry.OrgUnitRID, entry.EventType, entry.ID, entry.Payload, models.SourceInfo{
			Kind:   models.SourceKindPush,
			Name:   DefaultName,
			Offset: entry.ID,
		})
		events = append(events, &event)
	}
	return events, nil
}

func (s *Source) Commit(ctx context.Context, upTo int64) error {
	return s.queue.Complete(ctx, upTo)
}

type pushRequest struct {
	OrgID      int64       `json:"orgId" binding:"required"`
	OrgUnitRID int64       `json:"orgUnitRid"`
	EventType  string      `json:"eventType" binding:"required"`
	Payload    models.Data `json:"payload"`
	Source     string      `json:"source"`
}

// Handler accepts POST /events and enqueues the event for ingestion.
func (s *Source) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry := &Entry{
			OrgID:      req.OrgID,
			OrgUnitRID: req.OrgUnitRID,
			EventType:  req.EventType,
			Payload:    req.Payload,
			Source:     req.Source,
			Status:     StatusPending,
			CreatedAt:  s.clock(),
		}
		if err := s.queue.Enqueue(c.Request.Context(), entry); err != nil {
			s.logger.Ctx(c.Request.Context()).Error("failed to enqueue push event", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event could not be accepted"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"id": entry.ID})
	}
}

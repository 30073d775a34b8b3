// Package sqlsource polls a relational notification table by monotonic
// id. The table is read-only to this process; progress is a cursor the
// ingest worker seeds from the persisted checkpoint.
package sqlsource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources"
)

const (
	DefaultTable        = "notification_queue"
	DefaultAllowlistTTL = 30 * time.Second
)

// TenantLister supplies the allowlist of tenants worth polling for.
type TenantLister interface {
	ListActiveOrgIDs(ctx context.Context) ([]int64, error)
}

type Source struct {
	db     *pgxpool.Pool
	logger *logging.Logger

	table        string
	maxEventAge  time.Duration
	bootstrap    bool
	tenants      TenantLister
	allowlistTTL time.Duration
	clock        func() time.Time

	mu        sync.Mutex
	cursor    int64
	allowlist []int64
	fetchedAt time.Time
}

var _ sources.Source = (*Source)(nil)

type Option func(*Source)

func WithTable(table string) Option {
	return func(s *Source) { s.table = table }
}

// WithMaxEventAge drops rows older than the given age. Zero disables
// the cutoff.
func WithMaxEventAge(age time.Duration) Option {
	return func(s *Source) { s.maxEventAge = age }
}

// WithBootstrapCheckpoint makes Init fast-forward the cursor to the
// table's max id when no checkpoint exists, skipping the backlog.
func WithBootstrapCheckpoint() Option {
	return func(s *Source) { s.bootstrap = true }
}

// WithTenantAllowlist restricts polling to tenants that currently have
// an active integration. The list is cached for ttl.
func WithTenantAllowlist(tenants TenantLister, ttl time.Duration) Option {
	return func(s *Source) {
		s.tenants = tenants
		if ttl > 0 {
			s.allowlistTTL = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Source) { s.clock = clock }
}

func New(db *pgxpool.Pool, logger *logging.Logger, opts ...Option) *Source {
	s := &Source{
		db:           db,
		logger:       logger,
		table:        DefaultTable,
		allowlistTTL: DefaultAllowlistTTL,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return s.table }

func (s *Source) Kind() models.SourceKind { return models.SourceKindRelational }

// Init seeds the cursor from the persisted checkpoint. With bootstrap
// enabled and no prior checkpoint, the cursor jumps to the current max
// id so a fresh deployment does not replay history.
func (s *Source) Init(ctx context.Context, checkpoint int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = checkpoint
	if checkpoint > 0 || !s.bootstrap {
		return nil
	}

	var maxID int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s`, s.table)
	if err := s.db.QueryRow(ctx, query).Scan(&maxID); err != nil {
		return fmt.Errorf("bootstrap checkpoint for %s: %w", s.table, err)
	}
	s.cursor = maxID
	s.logger.Ctx(ctx).Info("bootstrapped source checkpoint",
		zap.String("table", s.table),
		zap.Int64("checkpoint", maxID))
	return nil
}

func (s *Source) Poll(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT id, entity_rid, entity_parent_rid, transaction_type, message, created_at
		FROM %s
		WHERE id > $1`, s.table)
	args := []any{cursor}

	if s.maxEventAge > 0 {
		args = append(args, s.clock().Add(-s.maxEventAge))
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if s.tenants != nil {
		allowed, err := s.allowedTenants(ctx)
		if err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			return nil, nil
		}
		args = append(args, allowed)
		query += fmt.Sprintf(` AND entity_parent_rid = ANY($%d)`, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", s.table, err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		var (
			id, entityRID, parentRID int64
			eventType                string
			messageJSON              []byte
			createdAt                time.Time
		)
		if err := rows.Scan(&id, &entityRID, &parentRID, &eventType, &messageJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, err)
		}
		event, err := s.rowToEvent(id, entityRID, parentRID, eventType, messageJSON)
		if err != nil {
			// A malformed row must not wedge the poller behind it.
			s.logger.Ctx(ctx).Warn("skipping malformed source row",
				zap.String("table", s.table),
				zap.Int64("row_id", id),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Source) rowToEvent(id, entityRID, parentRID int64, eventType string, messageJSON []byte) (*models.Event, error) {
	payload := models.Data{}
	if len(messageJSON) > 0 {
		if err := json.Unmarshal(messageJSON, &payload); err != nil {
			return nil, fmt.Errorf("decode message json: %w", err)
		}
	}
	event := models.NewEvent(parentRID, entityRID, eventType, id, payload, models.SourceInfo{
		Kind:   models.SourceKindRelational,
		Name:   s.table,
		Offset: id,
	})
	return &event, nil
}

// Commit advances the in-memory cursor. It never moves backwards.
func (s *Source) Commit(ctx context.Context, upTo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upTo > s.cursor {
		s.cursor = upTo
	}
	return nil
}

func (s *Source) allowedTenants(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.allowlist != nil && now.Sub(s.fetchedAt) < s.allowlistTTL {
		return s.allowlist, nil
	}

	ids, err := s.tenants.ListActiveOrgIDs(ctx)
	if err != nil {
		if s.allowlist != nil {
			// Stale allowlist beats an idle poller.
			s.logger.Ctx(ctx).Warn("tenant allowlist refresh failed, using cached list", zap.Error(err))
			return s.allowlist, nil
		}
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	s.allowlist = ids
	s.fetchedAt = now
	return ids, nil
}

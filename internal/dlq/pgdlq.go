package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type pgStore struct {
	db *pgxpool.Pool
}

var _ Store = (*pgStore)(nil)

func NewPGStore(db *pgxpool.Pool) Store {
	return &pgStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS failed_deliveries (
	id               TEXT PRIMARY KEY,
	trace_id         TEXT NOT NULL,
	integration_id   TEXT NOT NULL,
	org_id           BIGINT NOT NULL,
	payload          JSONB,
	error            JSONB NOT NULL,
	action_index     INT NOT NULL DEFAULT -1,
	status           TEXT NOT NULL DEFAULT 'pending',
	retry_count      INT NOT NULL DEFAULT 0,
	max_retries      INT NOT NULL DEFAULT 0,
	next_retry_at    TIMESTAMPTZ,
	retry_strategy   TEXT NOT NULL DEFAULT '',
	resolved_at      TIMESTAMPTZ,
	resolution_note  TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_failed_deliveries_org
	ON failed_deliveries (org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_failed_deliveries_status
	ON failed_deliveries (status, created_at DESC);
`

func (s *pgStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create dlq schema: %w", err)
	}
	return nil
}

func (s *pgStore) Append(ctx context.Context, entry *models.DLQEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("invalid dlq payload: %w", err)
	}
	errorJSON, err := json.Marshal(entry.Error)
	if err != nil {
		return fmt.Errorf("invalid dlq error: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = models.DLQPending
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO failed_deliveries (
			id, trace_id, integration_id, org_id, payload, error, action_index,
			status, retry_count, max_retries, next_retry_at, retry_strategy,
			resolved_at, resolution_note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.TraceID, entry.IntegrationID, entry.OrgID, payloadJSON, errorJSON,
		entry.ActionIndex, string(entry.Status), entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.RetryStrategy, entry.ResolvedAt, entry.ResolutionNote,
		entry.CreatedAt)
	return err
}

const selectColumns = `
	SELECT id, trace_id, integration_id, org_id, payload, error, action_index,
		status, retry_count, max_retries, next_retry_at, retry_strategy,
		resolved_at, resolution_note, created_at
`

func (s *pgStore) Retrieve(ctx context.Context, id string) (*models.DLQEntry, error) {
	row := s.db.QueryRow(ctx, selectColumns+` FROM failed_deliveries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *pgStore) List(ctx context.Context, req ListRequest) ([]*models.DLQEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, selectColumns+`
		FROM failed_deliveries
		WHERE ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR integration_id = $2)
		AND ($3::text = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, req.OrgID, req.IntegrationID, string(req.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.DLQEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) UpdateStatus(ctx context.Context, id string, status models.DLQStatus, note string) error {
	var resolvedAt *time.Time
	if status == models.DLQResolved {
		now := time.Now()
		resolvedAt = &now
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE failed_deliveries
		SET status = $2,
			resolution_note = CASE WHEN $3 = '' THEN resolution_note ELSE $3 END,
			resolved_at = COALESCE($4, resolved_at)
		WHERE id = $1
	`, id, string(status), note, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*models.DLQEntry, error) {
	entry := &models.DLQEntry{}
	var status string
	var payloadJSON, errorJSON []byte

	if err := row.Scan(&entry.ID, &entry.TraceID, &entry.IntegrationID, &entry.OrgID,
		&payloadJSON, &errorJSON, &entry.ActionIndex, &status, &entry.RetryCount, &entry.MaxRetries,
		&entry.NextRetryAt, &entry.RetryStrategy, &entry.ResolvedAt,
		&entry.ResolutionNote, &entry.CreatedAt); err != nil {
		return nil, err
	}

	entry.Status = models.DLQStatus(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("corrupt dlq entry %s: bad payload: %w", entry.ID, err)
		}
	}
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &entry.Error); err != nil {
			return nil, fmt.Errorf("corrupt dlq entry %s: bad error: %w", entry.ID, err)
		}
	}
	return entry, nil
}

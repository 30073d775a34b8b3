package pushsource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type pgQueue struct {
	db *pgxpool.Pool
}

var _ Queue = (*pgQueue)(nil)

func NewPGQueue(db *pgxpool.Pool) Queue {
	return &pgQueue{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS pending_events (
	id           BIGSERIAL PRIMARY KEY,
	org_id       BIGINT NOT NULL,
	org_unit_rid BIGINT NOT NULL DEFAULT 0,
	event_type   TEXT NOT NULL,
	payload      JSONB,
	source       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	claimed_at   TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_events_pending
	ON pending_events (id)
	WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_pending_events_stale
	ON pending_events (claimed_at)
	WHERE status = 'processing';
`

func (q *pgQueue) Init(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create pending_events schema: %w", err)
	}
	return nil
}

func (q *pgQueue) Enqueue(ctx context.Context, entry *Entry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO pending_events (org_id, org_unit_rid, event_type, payload, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entry.OrgID, entry.OrgUnitRID, entry.EventType, payloadJSON, entry.Source, StatusPending, entry.CreatedAt)
	if err := row.Scan(&entry.ID); err != nil {
		return fmt.Errorf("enqueue push event: %w", err)
	}
	entry.Status = StatusPending
	return nil
}

func (q *pgQueue) Claim(ctx context.Context, batch int) ([]*Entry, error) {
	if batch <= 0 {
		batch = 10
	}

	rows, err := q.db.Query(ctx, `
		WITH claimable AS (
			SELECT id FROM pending_events
			WHERE status = $1
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pending_events p
		SET status = $3, claimed_at = $4
		FROM claimable
		WHERE p.id = claimable.id
		RETURNING p.id, p.org_id, p.org_unit_rid, p.event_type, p.payload, p.source, p.status, p.claimed_at, p.created_at`,
		StatusPending, batch, StatusProcessing, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim push events: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *pgQueue) Complete(ctx context.Context, upTo int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE pending_events
		SET status = $1, claimed_at = NULL
		WHERE status = $2 AND id <= $3`,
		StatusDone, StatusProcessing, upTo)
	if err != nil {
		return fmt.Errorf("complete push events: %w", err)
	}
	return nil
}

func (q *pgQueue) Fail(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE pending_events
		SET status = $1
		WHERE id = $2`,
		StatusFailed, id)
	if err != nil {
		return fmt.Errorf("fail push event: %w", err)
	}
	return nil
}

func (q *pgQueue) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE pending_events
		SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at < $3`,
		StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reset stale push claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry       Entry
		payloadJSON []byte
	)
	if err := row.Scan(&entry.ID, &entry.OrgID, &entry.OrgUnitRID, &entry.EventType,
		&payloadJSON, &entry.Source, &entry.Status, &entry.ClaimedAt, &entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan pending event: %w", err)
	}
	if len(payloadJSON) > 0 {
		entry.Payload = models.Data{}
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("decode pending event payload: %w", err)
		}
	}
	return &entry, nil
}

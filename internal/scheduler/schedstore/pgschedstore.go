package schedstore

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
CREATE TABLE IF NOT EXISTS scheduled_integrations (
	id                     TEXT PRIMARY KEY,
	integration_id         TEXT NOT NULL,
	org_id                 BIGINT NOT NULL,
	scheduled_for          TIMESTAMPTZ NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'PENDING',
	attempt_count          INT NOT NULL DEFAULT 0,
	payload                JSONB,
	original_payload       JSONB,
	event_id               TEXT NOT NULL DEFAULT '',
	event_type             TEXT NOT NULL DEFAULT '',
	recurrence             JSONB,
	cancellation           JSONB,
	processing_started_at  TIMESTAMPTZ,
	delivered_at           TIMESTAMPTZ,
	delivery_log_id        TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_integrations_due
	ON scheduled_integrations (scheduled_for)
	WHERE status IN ('PENDING', 'OVERDUE');
CREATE INDEX IF NOT EXISTS idx_scheduled_integrations_org
	ON scheduled_integrations (org_id, status, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_scheduled_integrations_stale
	ON scheduled_integrations (processing_started_at)
	WHERE status = 'PROCESSING';
`

func (s *pgStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create scheduled_integrations schema: %w", err)
	}
	return nil
}

func (s *pgStore) Create(ctx context.Context, entry *models.ScheduledIntegration) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	if entry.Status == "" {
		entry.Status = models.SchedulePending
	}

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("invalid scheduled payload: %w", err)
	}
	originalJSON, err := json.Marshal(entry.OriginalPayload)
	if err != nil {
		return fmt.Errorf("invalid scheduled original payload: %w", err)
	}
	recurrenceJSON, err := marshalNullable(entry.Recurrence)
	if err != nil {
		return fmt.Errorf("invalid recurrence: %w", err)
	}
	cancellationJSON, err := marshalNullable(entry.Cancellation)
	if err != nil {
		return fmt.Errorf("invalid cancellation match: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduled_integrations (
			id, integration_id, org_id, scheduled_for, status, attempt_count,
			payload, original_payload, event_id, event_type,
			recurrence, cancellation,
			processing_started_at, delivered_at, delivery_log_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.IntegrationID, entry.OrgID, entry.ScheduledFor, string(entry.Status),
		entry.AttemptCount, payloadJSON, originalJSON, entry.EventID, entry.EventType,
		recurrenceJSON, cancellationJSON,
		entry.ProcessingStartedAt, entry.DeliveredAt, entry.DeliveryLogID,
		entry.CreatedAt, entry.UpdatedAt)
	return err
}

const selectColumns = `
	SELECT id, integration_id, org_id, scheduled_for, status, attempt_count,
		payload, original_payload, event_id, event_type,
		recurrence, cancellation,
		processing_started_at, delivered_at, delivery_log_id,
		created_at, updated_at
`

func (s *pgStore) Retrieve(ctx context.Context, id string) (*models.ScheduledIntegration, error) {
	row := s.db.QueryRow(ctx, selectColumns+` FROM scheduled_integrations WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *pgStore) List(ctx context.Context, req ListRequest) ([]*models.ScheduledIntegration, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, selectColumns+`
		FROM scheduled_integrations
		WHERE ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR integration_id = $2)
		AND ($3::text = '' OR status = $3)
		ORDER BY scheduled_for ASC, id ASC
		LIMIT $4
	`, req.OrgID, req.IntegrationID, string(req.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.ScheduledIntegration{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledIntegration, error) {
	if limit <= 0 {
		limit = 10
	}

	// SKIP LOCKED keeps concurrent ticks from claiming the same rows.
	rows, err := s.db.Query(ctx, `
		WITH due AS (
			SELECT id FROM scheduled_integrations
			WHERE status IN ('PENDING', 'OVERDUE') AND scheduled_for <= $1
			ORDER BY scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_integrations s
		SET status = 'PROCESSING', processing_started_at = $1, updated_at = $1
		FROM due
		WHERE s.id = due.id
		RETURNING s.id, s.integration_id, s.org_id, s.scheduled_for, s.status, s.attempt_count,
			s.payload, s.original_payload, s.event_id, s.event_type,
			s.recurrence, s.cancellation,
			s.processing_started_at, s.delivered_at, s.delivery_log_id,
			s.created_at, s.updated_at
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.ScheduledIntegration{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *pgStore) MarkSent(ctx context.Context, id string, deliveredAt time.Time, deliveryLogID string) error {
	return s.updateOne(ctx, `
		UPDATE scheduled_integrations
		SET status = 'SENT', delivered_at = $2, delivery_log_id = $3, updated_at = now()
		WHERE id = $1
	`, id, deliveredAt, deliveryLogID)
}

func (s *pgStore) MarkFailed(ctx context.Context, id string) error {
	return s.updateOne(ctx, `
		UPDATE scheduled_integrations
		SET status = 'FAILED', updated_at = now()
		WHERE id = $1
	`, id)
}

func (s *pgStore) Reschedule(ctx context.Context, id string, at time.Time, attemptCount int) error {
	return s.updateOne(ctx, `
		UPDATE scheduled_integrations
		SET status = 'PENDING', scheduled_for = $2, attempt_count = $3,
			processing_started_at = NULL, updated_at = now()
		WHERE id = $1
	`, id, at, attemptCount)
}

func (s *pgStore) Release(ctx context.Context, id string) error {
	return s.updateOne(ctx, `
		UPDATE scheduled_integrations
		SET status = 'PENDING', processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id)
}

func (s *pgStore) Cancel(ctx context.Context, orgID int64, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_integrations
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND org_id = $2 AND status = 'PENDING'
	`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Retrieve(ctx, id); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

func (s *pgStore) CancelByMatch(ctx context.Context, orgID int64, match models.CancellationMatch) (int, error) {
	windowSeconds := int64(models.CancellationWindow / time.Second)
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_integrations
		SET status = 'CANCELLED', updated_at = now()
		WHERE org_id = $1 AND status = 'PENDING'
		AND cancellation IS NOT NULL
		AND (cancellation->>'patient_rid')::bigint = $2
		AND abs(extract(epoch from ((cancellation->>'scheduled_at')::timestamptz - $3::timestamptz))) <= $4
	`, orgID, match.PatientRID, match.ScheduledAt, windowSeconds)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_integrations
		SET status = 'PENDING', processing_started_at = NULL, updated_at = now()
		WHERE status = 'PROCESSING' AND processing_started_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgStore) updateOne(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*models.ScheduledIntegration, error) {
	entry := &models.ScheduledIntegration{}
	var status string
	var payloadJSON, originalJSON, recurrenceJSON, cancellationJSON []byte

	if err := row.Scan(&entry.ID, &entry.IntegrationID, &entry.OrgID, &entry.ScheduledFor,
		&status, &entry.AttemptCount, &payloadJSON, &originalJSON,
		&entry.EventID, &entry.EventType, &recurrenceJSON, &cancellationJSON,
		&entry.ProcessingStartedAt, &entry.DeliveredAt, &entry.DeliveryLogID,
		&entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}

	entry.Status = models.ScheduleStatus(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("corrupt scheduled entry %s: bad payload: %w", entry.ID, err)
		}
	}
	if len(originalJSON) > 0 {
		if err := json.Unmarshal(originalJSON, &entry.OriginalPayload); err != nil {
			return nil, fmt.Errorf("corrupt scheduled entry %s: bad original payload: %w", entry.ID, err)
		}
	}
	if len(recurrenceJSON) > 0 {
		if err := json.Unmarshal(recurrenceJSON, &entry.Recurrence); err != nil {
			return nil, fmt.Errorf("corrupt scheduled entry %s: bad recurrence: %w", entry.ID, err)
		}
	}
	if len(cancellationJSON) > 0 {
		if err := json.Unmarshal(cancellationJSON, &entry.Cancellation); err != nil {
			return nil, fmt.Errorf("corrupt scheduled entry %s: bad cancellation: %w", entry.ID, err)
		}
	}
	return entry, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *models.Recurrence:
		if x == nil {
			return nil, nil
		}
	case *models.CancellationMatch:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

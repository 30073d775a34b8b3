package audit

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
CREATE TABLE IF NOT EXISTS event_audit (
	id                  TEXT PRIMARY KEY,
	org_id              BIGINT NOT NULL,
	event_id            TEXT NOT NULL,
	event_type          TEXT NOT NULL,
	source              TEXT NOT NULL,
	source_name         TEXT NOT NULL DEFAULT '',
	source_id           BIGINT NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	skip_category       TEXT NOT NULL DEFAULT '',
	delivery            JSONB,
	processing_time_ms  BIGINT NOT NULL DEFAULT 0,
	payload_summary     JSONB,
	payload_hash        TEXT NOT NULL DEFAULT '',
	timeline            JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_event_audit_event
	ON event_audit (event_id);
CREATE INDEX IF NOT EXISTS idx_event_audit_org
	ON event_audit (org_id, created_at DESC);

CREATE TABLE IF NOT EXISTS source_checkpoints (
	source             TEXT NOT NULL,
	name               TEXT NOT NULL,
	org_id             BIGINT NOT NULL DEFAULT 0,
	last_processed_id  BIGINT NOT NULL DEFAULT 0,
	last_processed_at  TIMESTAMPTZ,
	gaps               JSONB,
	PRIMARY KEY (source, name, org_id)
);
`

func (s *pgStore) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *pgStore) UpsertAudit(ctx context.Context, audit *models.EventAudit) error {
	deliveryJSON, err := json.Marshal(audit.Delivery)
	if err != nil {
		return fmt.Errorf("invalid audit delivery stats: %w", err)
	}
	var summaryJSON []byte
	if audit.PayloadSummary != nil {
		if summaryJSON, err = json.Marshal(audit.PayloadSummary); err != nil {
			return fmt.Errorf("invalid audit payload summary: %w", err)
		}
	}
	var timelineJSON []byte
	if audit.Timeline != nil {
		if timelineJSON, err = json.Marshal(audit.Timeline); err != nil {
			return fmt.Errorf("invalid audit timeline: %w", err)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO event_audit (
			id, org_id, event_id, event_type, source, source_name, source_id,
			status, skip_category, delivery, processing_time_ms,
			payload_summary, payload_hash, timeline, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id) DO UPDATE SET
			status             = EXCLUDED.status,
			skip_category      = EXCLUDED.skip_category,
			delivery           = EXCLUDED.delivery,
			processing_time_ms = EXCLUDED.processing_time_ms,
			timeline           = EXCLUDED.timeline
	`, audit.ID, audit.OrgID, audit.EventID, audit.EventType, string(audit.Source),
		audit.SourceName, audit.SourceID, string(audit.Status), string(audit.SkipCategory),
		deliveryJSON, audit.ProcessingTimeMs, summaryJSON, audit.PayloadHash,
		timelineJSON, audit.CreatedAt)
	return err
}

const selectAuditColumns = `
	SELECT id, org_id, event_id, event_type, source, source_name, source_id,
		status, skip_category, delivery, processing_time_ms,
		payload_summary, payload_hash, timeline, created_at
`

func (s *pgStore) RetrieveAudit(ctx context.Context, eventID string) (*models.EventAudit, error) {
	row := s.db.QueryRow(ctx, selectAuditColumns+` FROM event_audit WHERE event_id = $1`, eventID)
	audit, err := scanAudit(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return audit, nil
}

func (s *pgStore) ListAudits(ctx context.Context, req ListRequest) ([]*models.EventAudit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, selectAuditColumns+`
		FROM event_audit
		WHERE ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR event_type = $2)
		AND ($3::text = '' OR status = $3)
		AND ($4::timestamptz IS NULL OR created_at >= $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, req.OrgID, req.EventType, string(req.Status), req.Since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := []*models.EventAudit{}
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}
	return audits, rows.Err()
}

func (s *pgStore) PurgeAudits(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM event_audit WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge audits: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) GetCheckpoint(ctx context.Context, source models.SourceKind, name string, orgID int64) (*models.SourceCheckpoint, error) {
	checkpoint := &models.SourceCheckpoint{Source: source, Name: name, OrgID: orgID}
	var gapsJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT last_processed_id, last_processed_at, gaps
		FROM source_checkpoints
		WHERE source = $1 AND name = $2 AND org_id = $3
	`, string(source), name, orgID).Scan(&checkpoint.LastProcessedID, &checkpoint.LastProcessedAt, &gapsJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return checkpoint, nil
		}
		return nil, err
	}
	if len(gapsJSON) > 0 {
		if err := json.Unmarshal(gapsJSON, &checkpoint.Gaps); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint %s/%s: %w", source, name, err)
		}
	}
	return checkpoint, nil
}

// SaveCheckpoint persists the high-water mark. The WHERE guard keeps a
// slow concurrent writer from regressing a newer checkpoint.
func (s *pgStore) SaveCheckpoint(ctx context.Context, checkpoint *models.SourceCheckpoint) error {
	var gapsJSON []byte
	if checkpoint.Gaps != nil {
		var err error
		if gapsJSON, err = json.Marshal(checkpoint.Gaps); err != nil {
			return fmt.Errorf("invalid checkpoint gaps: %w", err)
		}
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO source_checkpoints (source, name, org_id, last_processed_id, last_processed_at, gaps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, name, org_id) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			last_processed_at = EXCLUDED.last_processed_at,
			gaps              = EXCLUDED.gaps
		WHERE source_checkpoints.last_processed_id <= EXCLUDED.last_processed_id
	`, string(checkpoint.Source), checkpoint.Name, checkpoint.OrgID,
		checkpoint.LastProcessedID, checkpoint.LastProcessedAt, gapsJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckpointConflict
	}
	return nil
}

func scanAudit(row pgx.Row) (*models.EventAudit, error) {
	audit := &models.EventAudit{}
	var source, status, skipCategory string
	var deliveryJSON, summaryJSON, timelineJSON []byte

	if err := row.Scan(&audit.ID, &audit.OrgID, &audit.EventID, &audit.EventType,
		&source, &audit.SourceName, &audit.SourceID, &status, &skipCategory,
		&deliveryJSON, &audit.ProcessingTimeMs, &summaryJSON, &audit.PayloadHash,
		&timelineJSON, &audit.CreatedAt); err != nil {
		return nil, err
	}

	audit.Source = models.SourceKind(source)
	audit.Status = models.AuditStatus(status)
	audit.SkipCategory = models.ErrorCategory(skipCategory)
	if len(deliveryJSON) > 0 {
		if err := json.Unmarshal(deliveryJSON, &audit.Delivery); err != nil {
			return nil, fmt.Errorf("corrupt audit %s: bad delivery: %w", audit.ID, err)
		}
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &audit.PayloadSummary); err != nil {
			return nil, fmt.Errorf("corrupt audit %s: bad summary: %w", audit.ID, err)
		}
	}
	if len(timelineJSON) > 0 {
		if err := json.Unmarshal(timelineJSON, &audit.Timeline); err != nil {
			return nil, fmt.Errorf("corrupt audit %s: bad timeline: %w", audit.ID, err)
		}
	}
	return audit, nil
}

package pglogstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/cursor"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/driver"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

const (
	cursorResourceLog = "log"
	cursorVersion     = 1

	maxBodyLength = 8 * 1024
)

type logStore struct {
	db *pgxpool.Pool
}

var _ driver.LogStore = (*logStore)(nil)

func NewLogStore(db *pgxpool.Pool) driver.LogStore {
	return &logStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS execution_logs (
	trace_id          TEXT PRIMARY KEY,
	org_id            BIGINT NOT NULL,
	integration_id    TEXT NOT NULL,
	event_id          TEXT NOT NULL,
	event_type        TEXT NOT NULL DEFAULT '',
	event_payload     JSONB,
	action_index      INT NOT NULL DEFAULT -1,
	direction         TEXT NOT NULL DEFAULT 'OUTBOUND',
	trigger_type      TEXT NOT NULL DEFAULT 'EVENT',
	status            TEXT NOT NULL,
	attempt_count     INT NOT NULL DEFAULT 0,
	last_attempt_at   TIMESTAMPTZ,
	response_status   INT,
	response_body     TEXT NOT NULL DEFAULT '',
	error             JSONB,
	request           JSONB,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	search_text       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_execution_logs_org_started
	ON execution_logs (org_id, started_at DESC, trace_id);
CREATE INDEX IF NOT EXISTS idx_execution_logs_status
	ON execution_logs (status, started_at);
CREATE INDEX IF NOT EXISTS idx_execution_logs_retrying
	ON execution_logs (last_attempt_at)
	WHERE status = 'RETRYING';
CREATE INDEX IF NOT EXISTS idx_execution_logs_event
	ON execution_logs (event_id);

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id               TEXT PRIMARY KEY,
	trace_id         TEXT NOT NULL,
	number           INT NOT NULL,
	at               TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL,
	response_status  INT,
	error            TEXT NOT NULL DEFAULT '',
	duration_ms      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_delivery_attempts_trace
	ON delivery_attempts (trace_id, number);
`

func (s *logStore) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create log schema: %w", err)
	}
	return nil
}

func (s *logStore) UpsertLog(ctx context.Context, log *models.ExecutionLog) error {
	errorJSON, err := marshalNullable(log.Error)
	if err != nil {
		return fmt.Errorf("invalid log error: %w", err)
	}
	requestJSON, err := marshalNullable(truncateRequest(log.Request))
	if err != nil {
		return fmt.Errorf("invalid log request: %w", err)
	}
	payloadJSON, err := json.Marshal(log.EventPayload)
	if err != nil {
		return fmt.Errorf("invalid log event payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO execution_logs (
			trace_id, org_id, integration_id, event_id, event_type, event_payload,
			action_index, direction, trigger_type, status, attempt_count, last_attempt_at,
			response_status, response_body, error, request,
			started_at, finished_at, duration_ms, search_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (trace_id) DO UPDATE SET
			status          = EXCLUDED.status,
			attempt_count   = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			response_status = EXCLUDED.response_status,
			response_body   = EXCLUDED.response_body,
			error           = EXCLUDED.error,
			request         = EXCLUDED.request,
			finished_at     = EXCLUDED.finished_at,
			duration_ms     = EXCLUDED.duration_ms,
			search_text     = EXCLUDED.search_text
	`,
		log.TraceID, log.OrgID, log.IntegrationID, log.EventID, log.EventType, payloadJSON,
		log.ActionIndex, string(log.Direction), string(log.TriggerType), string(log.Status),
		log.AttemptCount, nullableTime(log.LastAttemptAt),
		nullableInt(log.ResponseStatus), truncate(log.ResponseBody, maxBodyLength),
		errorJSON, requestJSON,
		log.StartedAt, log.FinishedAt, log.DurationMs, log.SearchText,
	)
	return err
}

func (s *logStore) RetrieveLog(ctx context.Context, orgID int64, traceID string) (*models.ExecutionLog, error) {
	row := s.db.QueryRow(ctx, selectLogColumns+`
		FROM execution_logs
		WHERE trace_id = $1 AND ($2::bigint = 0 OR org_id = $2)
	`, traceID, orgID)

	log, err := scanLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return log, nil
}

const selectLogColumns = `
	SELECT
		trace_id, org_id, integration_id, event_id, event_type, event_payload,
		action_index, direction, trigger_type, status, attempt_count, last_attempt_at,
		response_status, response_body, error, request,
		started_at, finished_at, duration_ms, search_text
`

func (s *logStore) ListLogs(ctx context.Context, req driver.ListLogsRequest) (driver.ListLogsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	sortOrder := req.SortOrder
	if sortOrder != "asc" {
		sortOrder = "desc"
	}

	cursorValue, err := cursor.Decode(req.Next, cursorResourceLog, cursorVersion)
	if err != nil {
		return driver.ListLogsResponse{}, err
	}

	compare := "<"
	if sortOrder == "asc" {
		compare = ">"
	}

	statuses := make([]string, len(req.Statuses))
	for i, status := range req.Statuses {
		statuses[i] = string(status)
	}

	// Cursor encodes "<unix micro>:<trace id>"; the composite keeps
	// pagination stable when several logs share a timestamp.
	query := fmt.Sprintf(selectLogColumns+`
		FROM execution_logs
		WHERE ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR integration_id = $2)
		AND ($3::text = '' OR event_id = $3)
		AND (array_length($4::text[], 1) IS NULL OR status = ANY($4))
		AND ($5::text = '' OR trigger_type = $5)
		AND ($6::timestamptz IS NULL OR started_at >= $6)
		AND ($7::timestamptz IS NULL OR started_at <= $7)
		AND ($8::timestamptz IS NULL OR started_at > $8)
		AND ($9::timestamptz IS NULL OR started_at < $9)
		AND ($10::text = '' OR search_text ILIKE '%%' || $10 || '%%')
		AND ($11::text = '' OR (extract(epoch from started_at)*1000000)::bigint::text || ':' || trace_id %s $11)
		ORDER BY started_at %s, trace_id %s
		LIMIT $12
	`, compare, strings.ToUpper(sortOrder), strings.ToUpper(sortOrder))

	rows, err := s.db.Query(ctx, query,
		req.OrgID, req.IntegrationID, req.EventID, statuses, string(req.TriggerType),
		req.TimeFilter.GTE, req.TimeFilter.LTE, req.TimeFilter.GT, req.TimeFilter.LT,
		req.Search, cursorValue, limit+1,
	)
	if err != nil {
		return driver.ListLogsResponse{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	logs := []*models.ExecutionLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return driver.ListLogsResponse{}, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return driver.ListLogsResponse{}, err
	}

	response := driver.ListLogsResponse{Data: logs}
	if len(logs) > limit {
		response.Data = logs[:limit]
		last := response.Data[limit-1]
		response.Next = cursor.Encode(cursorResourceLog, cursorVersion,
			fmt.Sprintf("%d:%s", last.StartedAt.UnixMicro(), last.TraceID))
	}
	return response, nil
}

func (s *logStore) AppendAttempt(ctx context.Context, attempt *models.Attempt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO delivery_attempts (id, trace_id, number, at, status, response_status, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, attempt.ID, attempt.TraceID, attempt.Number, attempt.At, string(attempt.Status),
		nullableInt(attempt.ResponseStatus), attempt.Error, attempt.DurationMs)
	return err
}

func (s *logStore) ListAttempts(ctx context.Context, traceID string) ([]*models.Attempt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trace_id, number, at, status, response_status, error, duration_ms
		FROM delivery_attempts
		WHERE trace_id = $1
		ORDER BY number ASC
	`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []*models.Attempt{}
	for rows.Next() {
		attempt := &models.Attempt{}
		var status string
		var responseStatus *int
		if err := rows.Scan(&attempt.ID, &attempt.TraceID, &attempt.Number, &attempt.At,
			&status, &responseStatus, &attempt.Error, &attempt.DurationMs); err != nil {
			return nil, err
		}
		attempt.Status = models.LogStatus(status)
		if responseStatus != nil {
			attempt.ResponseStatus = *responseStatus
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (s *logStore) ListRetryable(ctx context.Context, oldestLastAttempt time.Time, limit int) ([]*models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, selectLogColumns+`
		FROM execution_logs
		WHERE status = $1
		AND trigger_type <> $2
		AND last_attempt_at >= $3
		ORDER BY last_attempt_at ASC
		LIMIT $4
	`, string(models.LogRetrying), string(models.TriggerSchedule), oldestLastAttempt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*models.ExecutionLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *logStore) SweepAbandoned(ctx context.Context, cutoff time.Time) ([]*models.ExecutionLog, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE execution_logs
		SET status = $1,
			error = jsonb_build_object(
				'message', 'retry window expired',
				'category', $2::text
			),
			finished_at = now()
		WHERE status = $3 AND started_at < $4
		RETURNING trace_id, org_id, integration_id, event_id, event_type, event_payload,
			action_index, direction, trigger_type, status, attempt_count, last_attempt_at,
			response_status, response_body, error, request,
			started_at, finished_at, duration_ms, search_text
	`, string(models.LogAbandoned), string(models.CategoryExhausted), string(models.LogRetrying), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*models.ExecutionLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *logStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	if _, err := s.db.Exec(ctx, `
		DELETE FROM delivery_attempts
		USING execution_logs
		WHERE delivery_attempts.trace_id = execution_logs.trace_id
		AND execution_logs.started_at < $1
	`, before); err != nil {
		return 0, fmt.Errorf("purge attempts: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		DELETE FROM execution_logs WHERE started_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *logStore) Stats(ctx context.Context, req driver.StatsRequest) (*driver.Stats, error) {
	stats := &driver.Stats{CountByStatus: map[models.LogStatus]int64{}}

	rows, err := s.db.Query(ctx, `
		SELECT status, count(*)
		FROM execution_logs
		WHERE ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR integration_id = $2)
		AND ($3::timestamptz IS NULL OR started_at >= $3)
		AND ($4::timestamptz IS NULL OR started_at <= $4)
		GROUP BY status
	`, req.OrgID, req.IntegrationID, req.TimeFilter.GTE, req.TimeFilter.LTE)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.CountByStatus[models.LogStatus(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var p50, p95, p99 *float64
	err = s.db.QueryRow(ctx, `
		SELECT
			percentile_cont(0.5) WITHIN GROUP (ORDER BY duration_ms),
			percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
			percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms)
		FROM execution_logs
		WHERE finished_at IS NOT NULL
		AND ($1::bigint = 0 OR org_id = $1)
		AND ($2::text = '' OR integration_id = $2)
		AND ($3::timestamptz IS NULL OR started_at >= $3)
		AND ($4::timestamptz IS NULL OR started_at <= $4)
	`, req.OrgID, req.IntegrationID, req.TimeFilter.GTE, req.TimeFilter.LTE).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, err
	}
	if p50 != nil {
		stats.DurationP50 = *p50
	}
	if p95 != nil {
		stats.DurationP95 = *p95
	}
	if p99 != nil {
		stats.DurationP99 = *p99
	}
	return stats, nil
}

func (s *logStore) Close() error {
	s.db.Close()
	return nil
}

func scanLog(row pgx.Row) (*models.ExecutionLog, error) {
	log := &models.ExecutionLog{}
	var direction, triggerType, status string
	var lastAttemptAt *time.Time
	var responseStatus *int
	var errorJSON, requestJSON, payloadJSON []byte

	if err := row.Scan(
		&log.TraceID, &log.OrgID, &log.IntegrationID, &log.EventID, &log.EventType, &payloadJSON,
		&log.ActionIndex, &direction, &triggerType, &status, &log.AttemptCount, &lastAttemptAt,
		&responseStatus, &log.ResponseBody, &errorJSON, &requestJSON,
		&log.StartedAt, &log.FinishedAt, &log.DurationMs, &log.SearchText,
	); err != nil {
		return nil, err
	}

	log.Direction = models.Direction(direction)
	log.TriggerType = models.TriggerType(triggerType)
	log.Status = models.LogStatus(status)
	if lastAttemptAt != nil {
		log.LastAttemptAt = *lastAttemptAt
	}
	if responseStatus != nil {
		log.ResponseStatus = *responseStatus
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &log.EventPayload); err != nil {
			return nil, fmt.Errorf("corrupt log %s: bad event payload: %w", log.TraceID, err)
		}
	}
	if len(errorJSON) > 0 {
		log.Error = &models.DeliveryError{}
		if err := json.Unmarshal(errorJSON, log.Error); err != nil {
			return nil, fmt.Errorf("corrupt log %s: bad error: %w", log.TraceID, err)
		}
	}
	if len(requestJSON) > 0 {
		log.Request = &models.RequestSnapshot{}
		if err := json.Unmarshal(requestJSON, log.Request); err != nil {
			return nil, fmt.Errorf("corrupt log %s: bad request: %w", log.TraceID, err)
		}
	}
	return log, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch value := v.(type) {
	case *models.DeliveryError:
		if value == nil {
			return nil, nil
		}
	case *models.RequestSnapshot:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func truncateRequest(request *models.RequestSnapshot) *models.RequestSnapshot {
	if request == nil || len(request.Body) <= maxBodyLength {
		return request
	}
	truncated := *request
	truncated.Body = request.Body[:maxBodyLength]
	return &truncated
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

package driver

import (
	"context"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// TimeFilter represents time-based filter criteria with support for
// both inclusive (GTE/LTE) and exclusive (GT/LT) comparisons.
type TimeFilter struct {
	GTE *time.Time // Greater than or equal (>=)
	LTE *time.Time // Less than or equal (<=)
	GT  *time.Time // Greater than (>)
	LT  *time.Time // Less than (<)
}

// LogStore persists execution logs and their per-attempt detail rows.
// A log is keyed by trace id: retries update the existing row, so one
// delivery never produces more than one log.
type LogStore interface {
	Init(ctx context.Context) error

	UpsertLog(ctx context.Context, log *models.ExecutionLog) error
	RetrieveLog(ctx context.Context, orgID int64, traceID string) (*models.ExecutionLog, error)
	ListLogs(ctx context.Context, req ListLogsRequest) (ListLogsResponse, error)

	AppendAttempt(ctx context.Context, attempt *models.Attempt) error
	ListAttempts(ctx context.Context, traceID string) ([]*models.Attempt, error)

	// ListRetryable returns RETRYING logs still inside the retry window
	// (last attempt at or after oldestLastAttempt), excluding scheduled
	// deliveries, oldest attempt first.
	ListRetryable(ctx context.Context, oldestLastAttempt time.Time, limit int) ([]*models.ExecutionLog, error)

	// SweepAbandoned marks RETRYING logs that entered the pipeline
	// before the cutoff as ABANDONED and returns them for dead-letter
	// capture.
	SweepAbandoned(ctx context.Context, cutoff time.Time) ([]*models.ExecutionLog, error)

	// Purge deletes logs that started before the cutoff, along with
	// their attempt rows, and reports how many logs were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	Stats(ctx context.Context, req StatsRequest) (*Stats, error)

	Close() error
}

type ListLogsRequest struct {
	Limit         int
	Next          string
	OrgID         int64    // optional - 0 means all orgs
	IntegrationID string   // optional
	EventID       string   // optional
	Statuses      []models.LogStatus
	TriggerType   models.TriggerType // optional
	TimeFilter    TimeFilter
	Search        string // optional - substring match over search_text
	SortOrder     string // "asc" or "desc" (default "desc")
}

type ListLogsResponse struct {
	Data []*models.ExecutionLog
	Next string
}

type StatsRequest struct {
	OrgID         int64  // optional
	IntegrationID string // optional
	TimeFilter    TimeFilter
}

// Stats summarizes delivery health over the selected window.
type Stats struct {
	CountByStatus map[models.LogStatus]int64 `json:"count_by_status"`
	Total         int64                      `json:"total"`
	DurationP50   float64                    `json:"duration_p50_ms"`
	DurationP95   float64                    `json:"duration_p95_ms"`
	DurationP99   float64                    `json:"duration_p99_ms"`
}

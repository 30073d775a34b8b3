package memlogstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/cursor"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/driver"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

const (
	cursorResourceLog = "log"
	cursorVersion     = 1
)

// logStore is the in-memory driver used by tests and local setups
// without Postgres.
type logStore struct {
	mu       sync.RWMutex
	logs     map[string]*models.ExecutionLog
	attempts map[string][]*models.Attempt
}

var _ driver.LogStore = (*logStore)(nil)

func NewLogStore() driver.LogStore {
	return &logStore{
		logs:     map[string]*models.ExecutionLog{},
		attempts: map[string][]*models.Attempt{},
	}
}

func (s *logStore) Init(ctx context.Context) error {
	return nil
}

func (s *logStore) UpsertLog(ctx context.Context, log *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *log
	s.logs[log.TraceID] = &clone
	return nil
}

func (s *logStore) RetrieveLog(ctx context.Context, orgID int64, traceID string) (*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[traceID]
	if !ok {
		return nil, nil
	}
	if orgID != 0 && log.OrgID != orgID {
		return nil, nil
	}
	clone := *log
	return &clone, nil
}

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

	s.mu.RLock()
	matched := []*models.ExecutionLog{}
	for _, log := range s.logs {
		if matchesListRequest(log, req) {
			clone := *log
			matched = append(matched, &clone)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			if sortOrder == "asc" {
				return matched[i].StartedAt.Before(matched[j].StartedAt)
			}
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		if sortOrder == "asc" {
			return matched[i].TraceID < matched[j].TraceID
		}
		return matched[i].TraceID > matched[j].TraceID
	})

	if cursorValue != "" {
		for i, log := range matched {
			if sortKey(log) == cursorValue {
				matched = matched[i+1:]
				break
			}
		}
	}

	response := driver.ListLogsResponse{Data: matched}
	if len(matched) > limit {
		response.Data = matched[:limit]
		response.Next = cursor.Encode(cursorResourceLog, cursorVersion, sortKey(matched[limit-1]))
	}
	return response, nil
}

func sortKey(log *models.ExecutionLog) string {
	return fmt.Sprintf("%d:%s", log.StartedAt.UnixMicro(), log.TraceID)
}

func matchesListRequest(log *models.ExecutionLog, req driver.ListLogsRequest) bool {
	if req.OrgID != 0 && log.OrgID != req.OrgID {
		return false
	}
	if req.IntegrationID != "" && log.IntegrationID != req.IntegrationID {
		return false
	}
	if req.EventID != "" && log.EventID != req.EventID {
		return false
	}
	if len(req.Statuses) > 0 {
		found := false
		for _, status := range req.Statuses {
			if log.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if req.TriggerType != "" && log.TriggerType != req.TriggerType {
		return false
	}
	tf := req.TimeFilter
	if tf.GTE != nil && log.StartedAt.Before(*tf.GTE) {
		return false
	}
	if tf.LTE != nil && log.StartedAt.After(*tf.LTE) {
		return false
	}
	if tf.GT != nil && !log.StartedAt.After(*tf.GT) {
		return false
	}
	if tf.LT != nil && !log.StartedAt.Before(*tf.LT) {
		return false
	}
	if req.Search != "" && !strings.Contains(strings.ToLower(log.SearchText), strings.ToLower(req.Search)) {
		return false
	}
	return true
}

func (s *logStore) AppendAttempt(ctx context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts[attempt.TraceID] {
		if existing.ID == attempt.ID {
			return nil
		}
	}
	clone := *attempt
	s.attempts[attempt.TraceID] = append(s.attempts[attempt.TraceID], &clone)
	return nil
}

func (s *logStore) ListAttempts(ctx context.Context, traceID string) ([]*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := make([]*models.Attempt, 0, len(s.attempts[traceID]))
	for _, attempt := range s.attempts[traceID] {
		clone := *attempt
		attempts = append(attempts, &clone)
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Number < attempts[j].Number })
	return attempts, nil
}

func (s *logStore) ListRetryable(ctx context.Context, oldestLastAttempt time.Time, limit int) ([]*models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	matched := []*models.ExecutionLog{}
	for _, log := range s.logs {
		if log.Status != models.LogRetrying {
			continue
		}
		if log.TriggerType == models.TriggerSchedule {
			continue
		}
		if log.LastAttemptAt.Before(oldestLastAttempt) {
			continue
		}
		clone := *log
		matched = append(matched, &clone)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastAttemptAt.Before(matched[j].LastAttemptAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *logStore) SweepAbandoned(ctx context.Context, cutoff time.Time) ([]*models.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := []*models.ExecutionLog{}
	now := time.Now()
	for _, log := range s.logs {
		if log.Status != models.LogRetrying || !log.StartedAt.Before(cutoff) {
			continue
		}
		log.Status = models.LogAbandoned
		log.Error = &models.DeliveryError{
			Message:  "retry window expired",
			Category: models.CategoryExhausted,
		}
		log.FinishedAt = &now
		clone := *log
		swept = append(swept, &clone)
	}
	return swept, nil
}

func (s *logStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for traceID, log := range s.logs {
		if !log.StartedAt.Before(before) {
			continue
		}
		delete(s.logs, traceID)
		delete(s.attempts, traceID)
		purged++
	}
	return purged, nil
}

func (s *logStore) Stats(ctx context.Context, req driver.StatsRequest) (*driver.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &driver.Stats{CountByStatus: map[models.LogStatus]int64{}}
	durations := []float64{}
	for _, log := range s.logs {
		if req.OrgID != 0 && log.OrgID != req.OrgID {
			continue
		}
		if req.IntegrationID != "" && log.IntegrationID != req.IntegrationID {
			continue
		}
		tf := req.TimeFilter
		if tf.GTE != nil && log.StartedAt.Before(*tf.GTE) {
			continue
		}
		if tf.LTE != nil && log.StartedAt.After(*tf.LTE) {
			continue
		}
		stats.CountByStatus[log.Status]++
		stats.Total++
		if log.FinishedAt != nil {
			durations = append(durations, float64(log.DurationMs))
		}
	}

	sort.Float64s(durations)
	stats.DurationP50 = percentile(durations, 0.5)
	stats.DurationP95 = percentile(durations, 0.95)
	stats.DurationP99 = percentile(durations, 0.99)
	return stats, nil
}

// percentile computes a linearly interpolated percentile over a sorted
// slice, matching Postgres percentile_cont.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(rank)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[lower+1]-sorted[lower])
}

func (s *logStore) Close() error {
	return nil
}

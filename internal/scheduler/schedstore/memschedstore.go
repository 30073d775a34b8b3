package schedstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]*models.ScheduledIntegration
}

var _ Store = (*memStore)(nil)

func NewMemStore() Store {
	return &memStore{entries: map[string]*models.ScheduledIntegration{}}
}

func (s *memStore) Init(ctx context.Context) error {
	return nil
}

func (s *memStore) Create(ctx context.Context, entry *models.ScheduledIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	clone := cloneEntry(entry)
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = now
	}
	if clone.Status == "" {
		clone.Status = models.SchedulePending
	}
	s.entries[entry.ID] = clone
	return nil
}

func (s *memStore) Retrieve(ctx context.Context, id string) (*models.ScheduledIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (s *memStore) List(ctx context.Context, req ListRequest) ([]*models.ScheduledIntegration, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	matched := []*models.ScheduledIntegration{}
	for _, entry := range s.entries {
		if req.OrgID != 0 && entry.OrgID != req.OrgID {
			continue
		}
		if req.IntegrationID != "" && entry.IntegrationID != req.IntegrationID {
			continue
		}
		if req.Status != "" && entry.Status != req.Status {
			continue
		}
		matched = append(matched, cloneEntry(entry))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ScheduledFor.Equal(matched[j].ScheduledFor) {
			return matched[i].ScheduledFor.Before(matched[j].ScheduledFor)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledIntegration, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := []*models.ScheduledIntegration{}
	for _, entry := range s.entries {
		if entry.Status != models.SchedulePending && entry.Status != models.ScheduleOverdue {
			continue
		}
		if entry.ScheduledFor.After(now) {
			continue
		}
		due = append(due, entry)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := []*models.ScheduledIntegration{}
	for _, entry := range due {
		entry.Status = models.ScheduleProcessing
		started := now
		entry.ProcessingStartedAt = &started
		entry.UpdatedAt = now
		claimed = append(claimed, cloneEntry(entry))
	}
	return claimed, nil
}

func (s *memStore) MarkSent(ctx context.Context, id string, deliveredAt time.Time, deliveryLogID string) error {
	return s.update(id, func(entry *models.ScheduledIntegration) {
		entry.Status = models.ScheduleSent
		at := deliveredAt
		entry.DeliveredAt = &at
		entry.DeliveryLogID = deliveryLogID
	})
}

func (s *memStore) MarkFailed(ctx context.Context, id string) error {
	return s.update(id, func(entry *models.ScheduledIntegration) {
		entry.Status = models.ScheduleFailed
	})
}

func (s *memStore) Reschedule(ctx context.Context, id string, at time.Time, attemptCount int) error {
	return s.update(id, func(entry *models.ScheduledIntegration) {
		entry.Status = models.SchedulePending
		entry.ScheduledFor = at
		entry.AttemptCount = attemptCount
		entry.ProcessingStartedAt = nil
	})
}

func (s *memStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if entry.Status != models.ScheduleProcessing {
		return nil
	}
	entry.Status = models.SchedulePending
	entry.ProcessingStartedAt = nil
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) Cancel(ctx context.Context, orgID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || entry.OrgID != orgID {
		return ErrEntryNotFound
	}
	if entry.Status != models.SchedulePending {
		return ErrNotCancellable
	}
	entry.Status = models.ScheduleCancelled
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) CancelByMatch(ctx context.Context, orgID int64, match models.CancellationMatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	for _, entry := range s.entries {
		if entry.OrgID != orgID || entry.Status != models.SchedulePending {
			continue
		}
		if !entry.Cancellation.Matches(match) {
			continue
		}
		entry.Status = models.ScheduleCancelled
		entry.UpdatedAt = time.Now().UTC()
		cancelled++
	}
	return cancelled, nil
}

func (s *memStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := 0
	for _, entry := range s.entries {
		if entry.Status != models.ScheduleProcessing {
			continue
		}
		if entry.ProcessingStartedAt == nil || !entry.ProcessingStartedAt.Before(cutoff) {
			continue
		}
		entry.Status = models.SchedulePending
		entry.ProcessingStartedAt = nil
		entry.UpdatedAt = time.Now().UTC()
		reset++
	}
	return reset, nil
}

func (s *memStore) update(id string, mutate func(*models.ScheduledIntegration)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	mutate(entry)
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneEntry(entry *models.ScheduledIntegration) *models.ScheduledIntegration {
	clone := *entry
	if entry.Recurrence != nil {
		r := *entry.Recurrence
		clone.Recurrence = &r
	}
	if entry.Cancellation != nil {
		c := *entry.Cancellation
		clone.Cancellation = &c
	}
	if entry.ProcessingStartedAt != nil {
		t := *entry.ProcessingStartedAt
		clone.ProcessingStartedAt = &t
	}
	if entry.DeliveredAt != nil {
		t := *entry.DeliveredAt
		clone.DeliveredAt = &t
	}
	return &clone
}

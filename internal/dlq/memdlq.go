package dlq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type memStore struct {
	mu      sync.RWMutex
	entries map[string]*models.DLQEntry
}

var _ Store = (*memStore)(nil)

func NewMemStore() Store {
	return &memStore{entries: map[string]*models.DLQEntry{}}
}

func (s *memStore) Init(ctx context.Context) error {
	return nil
}

func (s *memStore) Append(ctx context.Context, entry *models.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return nil
	}
	clone := *entry
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if clone.Status == "" {
		clone.Status = models.DLQPending
	}
	s.entries[entry.ID] = &clone
	return nil
}

func (s *memStore) Retrieve(ctx context.Context, id string) (*models.DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	clone := *entry
	return &clone, nil
}

func (s *memStore) List(ctx context.Context, req ListRequest) ([]*models.DLQEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	matched := []*models.DLQEntry{}
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
		clone := *entry
		matched = append(matched, &clone)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status models.DLQStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if status == models.DLQResolved {
		entry.Resolve(note, time.Now())
		return nil
	}
	entry.Status = status
	if note != "" {
		entry.ResolutionNote = note
	}
	return nil
}

package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type memStore struct {
	mu          sync.RWMutex
	audits      map[string]*models.EventAudit // keyed by event id
	checkpoints map[string]*models.SourceCheckpoint
}

var _ Store = (*memStore)(nil)

func NewMemStore() Store {
	return &memStore{
		audits:      map[string]*models.EventAudit{},
		checkpoints: map[string]*models.SourceCheckpoint{},
	}
}

func (s *memStore) Init(ctx context.Context) error {
	return nil
}

func (s *memStore) UpsertAudit(ctx context.Context, audit *models.EventAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *audit
	s.audits[audit.EventID] = &clone
	return nil
}

func (s *memStore) RetrieveAudit(ctx context.Context, eventID string) (*models.EventAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audit, ok := s.audits[eventID]
	if !ok {
		return nil, nil
	}
	clone := *audit
	return &clone, nil
}

func (s *memStore) ListAudits(ctx context.Context, req ListRequest) ([]*models.EventAudit, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	matched := []*models.EventAudit{}
	for _, audit := range s.audits {
		if req.OrgID != 0 && audit.OrgID != req.OrgID {
			continue
		}
		if req.EventType != "" && audit.EventType != req.EventType {
			continue
		}
		if req.Status != "" && audit.Status != req.Status {
			continue
		}
		if req.Since != nil && audit.CreatedAt.Before(*req.Since) {
			continue
		}
		clone := *audit
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

func checkpointKey(source models.SourceKind, name string, orgID int64) string {
	return fmt.Sprintf("%s/%s/%d", source, name, orgID)
}

func (s *memStore) PurgeAudits(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for eventID, record := range s.audits {
		if !record.CreatedAt.Before(before) {
			continue
		}
		delete(s.audits, eventID)
		purged++
	}
	return purged, nil
}

func (s *memStore) GetCheckpoint(ctx context.Context, source models.SourceKind, name string, orgID int64) (*models.SourceCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoint, ok := s.checkpoints[checkpointKey(source, name, orgID)]
	if !ok {
		return &models.SourceCheckpoint{Source: source, Name: name, OrgID: orgID}, nil
	}
	clone := *checkpoint
	clone.Gaps = append([]models.Gap(nil), checkpoint.Gaps...)
	return &clone, nil
}

func (s *memStore) SaveCheckpoint(ctx context.Context, checkpoint *models.SourceCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := checkpointKey(checkpoint.Source, checkpoint.Name, checkpoint.OrgID)
	if existing, ok := s.checkpoints[key]; ok && existing.LastProcessedID > checkpoint.LastProcessedID {
		return ErrCheckpointConflict
	}
	clone := *checkpoint
	clone.Gaps = append([]models.Gap(nil), checkpoint.Gaps...)
	s.checkpoints[key] = &clone
	return nil
}

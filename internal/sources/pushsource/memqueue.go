package pushsource

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
}

var _ Queue = (*memQueue)(nil)

// NewMemQueue returns an in-memory push queue for testing and local
// single-process setups.
func NewMemQueue() Queue {
	return &memQueue{nextID: 1, entries: map[int64]*Entry{}}
}

func (q *memQueue) Init(ctx context.Context) error { return nil }

func (q *memQueue) Enqueue(ctx context.Context, entry *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry.ID = q.nextID
	q.nextID++
	entry.Status = StatusPending
	clone := *entry
	q.entries[entry.ID] = &clone
	return nil
}

func (q *memQueue) Claim(ctx context.Context, batch int) ([]*Entry, error) {
	if batch <= 0 {
		batch = 10
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending := []*Entry{}
	for _, entry := range q.entries {
		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if len(pending) > batch {
		pending = pending[:batch]
	}

	now := time.Now().UTC()
	claimed := make([]*Entry, 0, len(pending))
	for _, entry := range pending {
		entry.Status = StatusProcessing
		claimedAt := now
		entry.ClaimedAt = &claimedAt
		clone := *entry
		claimed = append(claimed, &clone)
	}
	return claimed, nil
}

func (q *memQueue) Complete(ctx context.Context, upTo int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range q.entries {
		if entry.Status == StatusProcessing && entry.ID <= upTo {
			entry.Status = StatusDone
			entry.ClaimedAt = nil
		}
	}
	return nil
}

func (q *memQueue) Fail(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.entries[id]; ok {
		entry.Status = StatusFailed
	}
	return nil
}

func (q *memQueue) ResetStale(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reset := 0
	for _, entry := range q.entries {
		if entry.Status == StatusProcessing && entry.ClaimedAt != nil && entry.ClaimedAt.Before(cutoff) {
			entry.Status = StatusPending
			entry.ClaimedAt = nil
			reset++
		}
	}
	return reset, nil
}

package worker

import (
	"sync"
	"time"
)

const (
	StatusHealthy = "healthy"
	StatusFailed  = "failed"
)

// Health is the status of one worker. Error details are intentionally not
// exposed here; they live in the logs.
type Health struct {
	Status    string    `json:"status"`
	LastCheck time.Time `json:"last_check"`
}

// HealthTracker aggregates worker health. Safe for concurrent use.
type HealthTracker struct {
	mu      sync.RWMutex
	workers map[string]Health
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{workers: make(map[string]Health)}
}

func (h *HealthTracker) MarkHealthy(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = Health{Status: StatusHealthy, LastCheck: time.Now()}
}

func (h *HealthTracker) MarkFailed(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = Health{Status: StatusFailed, LastCheck: time.Now()}
}

func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workers := make(map[string]Health, len(h.workers))
	for name, w := range h.workers {
		workers[name] = w
	}

	status := StatusHealthy
	if !h.isHealthyLocked() {
		status = StatusFailed
	}
	return map[string]interface{}{
		"status":  status,
		"workers": workers,
	}
}

func (h *HealthTracker) isHealthyLocked() bool {
	for _, w := range h.workers {
		if w.Status != StatusHealthy {
			return false
		}
	}
	return true
}

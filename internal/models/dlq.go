package models

import "time"

// DLQStatus values persist lower-case; the DLQ predates the canonical
// upper-case convention and its consumers depend on the old spelling.
type DLQStatus string

const (
	DLQPending   DLQStatus = "pending"
	DLQRetrying  DLQStatus = "retrying"
	DLQResolved  DLQStatus = "resolved"
	DLQAbandoned DLQStatus = "abandoned"
)

// DLQEntry records a delivery abandoned after retry exhaustion. Entries
// are retained until manually resolved.
type DLQEntry struct {
	ID            string `json:"id"`
	TraceID       string `json:"trace_id"`
	IntegrationID string `json:"integration_id"`
	OrgID         int64  `json:"org_id"`

	Payload Data          `json:"payload"`
	Error   DeliveryError `json:"error"`

	// ActionIndex carries the ACTION_LIST entry of the abandoned
	// delivery so a replay transforms the same action; -1 means none.
	ActionIndex int `json:"action_index,omitempty"`

	Status        DLQStatus  `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	RetryStrategy string     `json:"retry_strategy,omitempty"`

	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Resolve marks the entry resolved; resolvedAt is always stamped so the
// status=resolved ⇒ resolvedAt-set invariant holds.
func (e *DLQEntry) Resolve(note string, now time.Time) {
	e.Status = DLQResolved
	e.ResolvedAt = &now
	e.ResolutionNote = note
}

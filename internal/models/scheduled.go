package models

import (
	"time"
)

type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "PENDING"
	ScheduleOverdue    ScheduleStatus = "OVERDUE"
	ScheduleProcessing ScheduleStatus = "PROCESSING"
	ScheduleSent       ScheduleStatus = "SENT"
	ScheduleFailed     ScheduleStatus = "FAILED"
	ScheduleCancelled  ScheduleStatus = "CANCELLED"
)

func (s ScheduleStatus) Terminal() bool {
	switch s {
	case ScheduleSent, ScheduleFailed, ScheduleCancelled:
		return true
	}
	return false
}

// Recurrence materializes each occurrence as an independent entry.
// Occurrence counts from 1; Count zero means unbounded.
type Recurrence struct {
	Interval   time.Duration `json:"interval"`
	Count      int           `json:"count,omitempty"`
	Occurrence int           `json:"occurrence"`
}

// Remaining reports whether more occurrences follow this one.
func (r *Recurrence) Remaining() bool {
	if r == nil {
		return false
	}
	return r.Count == 0 || r.Occurrence < r.Count
}

// CancellationWindow is how far scheduledDateTime may drift and still
// match for cancellation.
const CancellationWindow = time.Hour

// CancellationMatch identifies scheduled entries that a later event may
// cancel before delivery.
type CancellationMatch struct {
	PatientRID  int64     `json:"patient_rid"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Matches applies the cancellation predicate: same patient and a
// scheduled time within the window in either direction.
func (c *CancellationMatch) Matches(other CancellationMatch) bool {
	if c == nil {
		return false
	}
	if c.PatientRID != other.PatientRID {
		return false
	}
	delta := c.ScheduledAt.Sub(other.ScheduledAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= CancellationWindow
}

// ScheduledIntegration is a future-dated delivery entry. At most one
// worker holds it in PROCESSING at a time; the claim is serialized by
// the store.
type ScheduledIntegration struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	OrgID         int64  `json:"org_id"`

	ScheduledFor time.Time      `json:"scheduled_for"`
	Status       ScheduleStatus `json:"status"`
	AttemptCount int            `json:"attempt_count"`

	Payload         Data `json:"payload"`          // pre-transformed
	OriginalPayload Data `json:"original_payload"` // as received

	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`

	Recurrence   *Recurrence        `json:"recurrence,omitempty"`
	Cancellation *CancellationMatch `json:"cancellation,omitempty"`

	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	DeliveryLogID       string     `json:"delivery_log_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextOccurrence derives the follow-up entry of a recurring schedule.
// Returns nil when the recurrence is exhausted.
func (s *ScheduledIntegration) NextOccurrence(id string) *ScheduledIntegration {
	if !s.Recurrence.Remaining() {
		return nil
	}
	now := time.Now().UTC()
	next := *s
	next.ID = id
	next.Status = SchedulePending
	next.AttemptCount = 0
	next.ScheduledFor = s.ScheduledFor.Add(s.Recurrence.Interval)
	next.Recurrence = &Recurrence{
		Interval:   s.Recurrence.Interval,
		Count:      s.Recurrence.Count,
		Occurrence: s.Recurrence.Occurrence + 1,
	}
	next.ProcessingStartedAt = nil
	next.DeliveredAt = nil
	next.DeliveryLogID = ""
	next.CreatedAt = now
	next.UpdatedAt = now
	return &next
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type AuditStatus string

const (
	AuditDelivered AuditStatus = "DELIVERED"
	AuditSkipped   AuditStatus = "SKIPPED"
	AuditFailed    AuditStatus = "FAILED"
	AuditStuck     AuditStatus = "STUCK"
)

// DeliveryStats summarizes the fan-out of one event.
type DeliveryStats struct {
	IntegrationsMatched int `json:"integrations_matched"`
	DeliveredCount      int `json:"delivered_count"`
	FailedCount         int `json:"failed_count"`
}

type TimelineEntry struct {
	Step string    `json:"step"`
	At   time.Time `json:"at"`
}

// EventAudit is the per-event audit record. PayloadSummary holds only
// allowlisted fields; the full payload never reaches the audit trail.
type EventAudit struct {
	ID         string      `json:"id"`
	OrgID      int64       `json:"org_id"`
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	Source     SourceKind  `json:"source"`
	SourceName string      `json:"source_name,omitempty"`
	SourceID   int64       `json:"source_id"`
	Status     AuditStatus `json:"status"`

	SkipCategory ErrorCategory `json:"skip_category,omitempty"`
	Delivery     DeliveryStats `json:"delivery_status"`

	ProcessingTimeMs int64           `json:"processing_time_ms"`
	PayloadSummary   Data            `json:"payload_summary,omitempty"`
	PayloadHash      string          `json:"payload_hash,omitempty"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (a *EventAudit) AddTimeline(step string) {
	a.Timeline = append(a.Timeline, TimelineEntry{Step: step, At: time.Now().UTC()})
}

// SummarizePayload keeps only the allowlisted top-level fields.
func SummarizePayload(payload Data, allowed []string) Data {
	if len(allowed) == 0 || payload == nil {
		return nil
	}
	summary := Data{}
	for _, field := range allowed {
		if v, ok := payload[field]; ok {
			summary[field] = v
		}
	}
	if len(summary) == 0 {
		return nil
	}
	return summary
}

// HashPayload returns the hex SHA-256 of the payload's JSON encoding.
// Map iteration order does not leak into the hash: encoding/json sorts
// object keys.
func HashPayload(payload Data) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Gap is a detected hole in a source's monotonic id sequence.
type Gap struct {
	Start      int64     `json:"start"`
	End        int64     `json:"end"`
	DetectedAt time.Time `json:"detected_at"`
}

// SourceCheckpoint is the per-source high-water mark. LastProcessedID is
// monotonically non-decreasing per (source, name, org).
type SourceCheckpoint struct {
	Source          SourceKind `json:"source"`
	Name            string     `json:"name"`
	OrgID           int64      `json:"org_id,omitempty"`
	LastProcessedID int64      `json:"last_processed_id"`
	LastProcessedAt time.Time  `json:"last_processed_at"`
	Gaps            []Gap      `json:"gaps,omitempty"`
}

// Advance moves the checkpoint to id, returning the detected gap when the
// sequence jumped by more than one. Ids at or below the checkpoint are
// ignored so the high-water mark never regresses.
func (c *SourceCheckpoint) Advance(id int64, now time.Time) *Gap {
	if id <= c.LastProcessedID {
		return nil
	}
	var gap *Gap
	if c.LastProcessedID > 0 && id-c.LastProcessedID > 1 {
		gap = &Gap{Start: c.LastProcessedID + 1, End: id - 1, DetectedAt: now}
		c.Gaps = append(c.Gaps, *gap)
	}
	c.LastProcessedID = id
	c.LastProcessedAt = now
	return gap
}

package models

import (
	"fmt"
	"time"
)

// SourceKind identifies which adapter emitted an event.
type SourceKind string

const (
	SourceKindRelational SourceKind = "RELATIONAL"
	SourceKindStream     SourceKind = "STREAM"
	SourceKindPush       SourceKind = "PUSH"
)

// SourceInfo carries the coordinates of an event within its source.
type SourceInfo struct {
	Kind      SourceKind `json:"kind"`
	Name      string     `json:"name"` // table or topic
	Partition int        `json:"partition,omitempty"`
	Offset    int64      `json:"offset,omitempty"`
}

// Event is one normalized business occurrence drawn from a source.
// Payload is immutable once emitted.
type Event struct {
	ID         string    `json:"id"` // stable: {orgId}-{eventType}-{sourceId}
	OrgID      int64     `json:"org_id"`
	OrgUnitRID int64     `json:"org_unit_rid,omitempty"`
	Type       string    `json:"type"`
	SourceID   int64     `json:"source_id"`
	Payload    Data      `json:"payload"`
	Source     SourceInfo `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// StableEventID builds the deterministic dedup identifier from the
// source coordinates.
func StableEventID(orgID int64, eventType string, sourceID int64) string {
	return fmt.Sprintf("%d-%s-%d", orgID, eventType, sourceID)
}

// NewEvent normalizes source coordinates into an Event with its stable id.
func NewEvent(orgID, orgUnitRID int64, eventType string, sourceID int64, payload Data, source SourceInfo) Event {
	return Event{
		ID:         StableEventID(orgID, eventType, sourceID),
		OrgID:      orgID,
		OrgUnitRID: orgUnitRID,
		Type:       eventType,
		SourceID:   sourceID,
		Payload:    payload,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
}

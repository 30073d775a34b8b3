// Package idgen generates identifiers for the various entities the
// gateway persists. Trace IDs are UUIDv7 so they sort by creation time;
// short-lived entities use nanoid for compactness.
package idgen

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoidSize = 21

// Trace returns the trace ID for an execution log. The same trace ID is
// reused across every attempt of one delivery.
func Trace() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// ScheduledEntry returns an ID for a scheduled integration entry.
func ScheduledEntry() string {
	return "sch_" + mustNanoid()
}

// Integration returns an ID for an integration created without one.
func Integration() string {
	return "cfg_" + mustNanoid()
}

// DLQEntry returns an ID for a dead-letter entry.
func DLQEntry() string {
	return "dlq_" + mustNanoid()
}

// Audit returns an ID for an event audit record.
func Audit() string {
	return "aud_" + mustNanoid()
}

// Attempt returns an ID for a single delivery attempt row.
func Attempt() string {
	return "att_" + mustNanoid()
}

func mustNanoid() string {
	id, err := gonanoid.New(nanoidSize)
	if err != nil {
		// crypto/rand failure; uuid reads from the same source but
		// panicking here would take the worker down for no benefit.
		return uuid.New().String()
	}
	return id
}

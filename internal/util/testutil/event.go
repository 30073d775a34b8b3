package testutil

import (
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// ============================== Mock Event ==============================

var EventFactory = &mockEventFactory{}

type mockEventFactory struct {
}

func (f *mockEventFactory) Any(opts ...func(*models.Event)) models.Event {
	event := models.Event{
		ID:       models.StableEventID(84, TestEventTypes[2], 1001),
		OrgID:    84,
		Type:     TestEventTypes[2],
		SourceID: 1001,
		Payload: map[string]interface{}{
			"patientRid": float64(555),
			"name":       "Test Patient",
		},
		Source: models.SourceInfo{
			Kind: models.SourceKindRelational,
			Name: "notification_queue",
		},
		ReceivedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&event)
	}

	return event
}

func (f *mockEventFactory) AnyPointer(opts ...func(*models.Event)) *models.Event {
	event := f.Any(opts...)
	return &event
}

func (f *mockEventFactory) WithID(id string) func(*models.Event) {
	return func(event *models.Event) {
		event.ID = id
	}
}

func (f *mockEventFactory) WithOrgID(orgID int64) func(*models.Event) {
	return func(event *models.Event) {
		event.OrgID = orgID
	}
}

func (f *mockEventFactory) WithOrgUnitRID(rid int64) func(*models.Event) {
	return func(event *models.Event) {
		event.OrgUnitRID = rid
	}
}

func (f *mockEventFactory) WithType(eventType string) func(*models.Event) {
	return func(event *models.Event) {
		event.Type = eventType
	}
}

func (f *mockEventFactory) WithSourceID(sourceID int64) func(*models.Event) {
	return func(event *models.Event) {
		event.SourceID = sourceID
	}
}

func (f *mockEventFactory) WithPayload(payload map[string]interface{}) func(*models.Event) {
	return func(event *models.Event) {
		event.Payload = payload
	}
}

func (f *mockEventFactory) WithReceivedAt(receivedAt time.Time) func(*models.Event) {
	return func(event *models.Event) {
		event.ReceivedAt = receivedAt
	}
}

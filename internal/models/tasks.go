package models

import (
	"encoding/json"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
)

// DeliveryTask is the unit of work flowing through the dispatch queue.
// The trace id is fixed on first enqueue and persists across attempts so
// retries upsert the same execution log.
type DeliveryTask struct {
	TraceID       string      `json:"trace_id"`
	Event         Event       `json:"event"`
	IntegrationID string      `json:"integration_id"`
	Attempt       int         `json:"attempt"` // zero-based; attemptCount = Attempt+1
	Trigger       TriggerType `json:"trigger"`

	// ScheduledEntryID links back to the scheduled entry when the trigger
	// is SCHEDULE. PayloadOverride carries the entry's pre-transformed
	// payload.
	ScheduledEntryID string `json:"scheduled_entry_id,omitempty"`
	PayloadOverride  Data   `json:"payload_override,omitempty"`

	// ActionIndex selects one entry of an ACTION_LIST transformation;
	// -1 (the default for non-action integrations) means none.
	ActionIndex int `json:"action_index,omitempty"`
}

var _ mqs.IncomingMessage = (*DeliveryTask)(nil)

func (t *DeliveryTask) FromMessage(msg *mqs.Message) error {
	return json.Unmarshal(msg.Body, t)
}

func (t *DeliveryTask) ToMessage() (*mqs.Message, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &mqs.Message{Body: data}, nil
}

func NewDeliveryTask(traceID string, event Event, integrationID string, trigger TriggerType) DeliveryTask {
	return DeliveryTask{
		TraceID:       traceID,
		Event:         event,
		IntegrationID: integrationID,
		Attempt:       0,
		Trigger:       trigger,
		ActionIndex:   -1,
	}
}

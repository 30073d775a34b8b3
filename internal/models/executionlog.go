package models

import "time"

type TriggerType string

const (
	TriggerEvent    TriggerType = "EVENT"
	TriggerSchedule TriggerType = "SCHEDULE"
	TriggerManual   TriggerType = "MANUAL"
	TriggerReplay   TriggerType = "REPLAY"
)

type LogStatus string

const (
	LogPending   LogStatus = "PENDING"
	LogRetrying  LogStatus = "RETRYING"
	LogSuccess   LogStatus = "SUCCESS"
	LogFailed    LogStatus = "FAILED"
	LogAbandoned LogStatus = "ABANDONED"
	LogSkipped   LogStatus = "SKIPPED"
)

// Terminal reports whether the status ends the delivery lifecycle.
func (s LogStatus) Terminal() bool {
	switch s {
	case LogSuccess, LogAbandoned, LogSkipped, LogFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotone progression toward terminal
// states. Terminal statuses never regress; PENDING/RETRYING may move to
// any later state.
func (s LogStatus) CanTransitionTo(next LogStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case LogPending:
		return true
	case LogRetrying:
		return next != LogPending
	default:
		return false
	}
}

// ErrorCategory classifies delivery failures per the error taxonomy.
type ErrorCategory string

const (
	CategoryInfrastructure ErrorCategory = "INFRASTRUCTURE"
	CategoryClient         ErrorCategory = "CLIENT_FAILURE"
	CategoryTransformation ErrorCategory = "TRANSFORMATION"
	CategoryBusiness       ErrorCategory = "BUSINESS"
	CategoryDuplicate      ErrorCategory = "DUPLICATE"
	CategoryCircuitOpen    ErrorCategory = "CIRCUIT_OPEN"
	CategoryCancelled      ErrorCategory = "CANCELLED"
	CategoryExhausted      ErrorCategory = "EXHAUSTED"
)

// Retryable reports whether failures of this category may be retried.
// Only infrastructure failures (timeouts, 5xx, 429, connection errors)
// are; everything else is terminal for the attempt.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryInfrastructure
}

// CountsTowardBreaker reports whether the category increments the
// circuit breaker's consecutive-failure counter.
func (c ErrorCategory) CountsTowardBreaker() bool {
	return c == CategoryInfrastructure
}

// DeliveryError is the persisted error detail of a failed delivery.
type DeliveryError struct {
	Message    string        `json:"message"`
	Category   ErrorCategory `json:"category"`
	StatusCode int           `json:"status_code,omitempty"`
}

// RequestSnapshot preserves the outbound request for audit. Body is
// truncated by the log store before persisting.
type RequestSnapshot struct {
	URL     string  `json:"url"`
	Method  string  `json:"method"`
	Headers Headers `json:"headers,omitempty"`
	Body    string  `json:"body,omitempty"`
}

// ExecutionLog is the lifecycle record spanning all attempts of one
// delivery. The trace id persists across attempts; retries update the
// log in place and never create a second document.
type ExecutionLog struct {
	TraceID       string `json:"trace_id"`
	OrgID         int64  `json:"org_id"`
	IntegrationID string `json:"integration_id"`
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type,omitempty"`

	// EventPayload keeps the original event payload so retries can
	// rebuild the delivery task without consulting the source again.
	EventPayload Data `json:"event_payload,omitempty"`

	// ActionIndex pins the ACTION_LIST entry this delivery serves so
	// rebuilt tasks transform the same action; -1 means none.
	ActionIndex int `json:"action_index,omitempty"`

	Direction   Direction   `json:"direction,omitempty"`
	TriggerType TriggerType `json:"trigger_type"`
	Status      LogStatus   `json:"status"`

	AttemptCount  int       `json:"attempt_count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`

	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
	Error          *DeliveryError `json:"error,omitempty"`

	Request *RequestSnapshot `json:"request,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	SearchText string `json:"search_text,omitempty"`
}

// Attempt is one per-attempt detail row appended alongside the log.
type Attempt struct {
	ID             string    `json:"id"`
	TraceID        string    `json:"trace_id"`
	Number         int       `json:"number"`
	At             time.Time `json:"at"`
	Status         LogStatus `json:"status"`
	ResponseStatus int       `json:"response_status,omitempty"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
}

package models

import (
	"encoding"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// EventTypeAny is the wildcard event-type selector.
	EventTypeAny = "*"

	DefaultTimeoutSeconds = 30
)

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

type DeliveryMode string

const (
	DeliveryModeImmediate DeliveryMode = "IMMEDIATE"
	DeliveryModeDelayed   DeliveryMode = "DELAYED"
	DeliveryModeRecurring DeliveryMode = "RECURRING"
)

type Scope string

const (
	ScopeEntityOnly      Scope = "ENTITY_ONLY"
	ScopeIncludeChildren Scope = "INCLUDE_CHILDREN"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// AuthConfig describes how outbound requests authenticate. Headers are
// applied verbatim; BearerToken, when set, becomes an Authorization header.
type AuthConfig struct {
	Headers     Headers `json:"headers,omitempty"`
	BearerToken string  `json:"bearer_token,omitempty"`
}

type TransformMode string

const (
	TransformSimple     TransformMode = "SIMPLE"
	TransformTemplate   TransformMode = "TEMPLATE"
	TransformActionList TransformMode = "ACTION_LIST"
)

// TransformAction is one entry of an ACTION_LIST transformation. Each
// action produces an independent delivery with its own execution log.
type TransformAction struct {
	Name     string            `json:"name"`
	URL      string            `json:"url,omitempty"`    // overrides integration URL when set
	Method   string            `json:"method,omitempty"` // overrides integration method when set
	Template map[string]string `json:"template,omitempty"`
}

// TransformationConfig selects the payload mapping mode. Template maps
// target paths to JMESPath expressions over the event payload.
type TransformationConfig struct {
	Mode     TransformMode     `json:"mode"`
	Template map[string]string `json:"template,omitempty"`
	Actions  []TransformAction `json:"actions,omitempty"`
}

// ScheduleConfig describes delayed or recurring delivery. Metadata is
// opaque descriptor data consulted only by the transformer.
type ScheduleConfig struct {
	DelaySeconds    int             `json:"delay_seconds,omitempty"`
	IntervalSeconds int             `json:"interval_seconds,omitempty"`
	Count           int             `json:"count,omitempty"`
	Metadata        MapStringString `json:"metadata,omitempty"`
}

// Integration is the persistent configuration of one outbound endpoint,
// owned by a tenant. OrgID is immutable after creation.
type Integration struct {
	ID         string `json:"id" validate:"required"`
	OrgID      int64  `json:"org_id" validate:"required,gt=0"`
	OrgUnitRID int64  `json:"org_unit_rid,omitempty"`

	EventType string    `json:"event_type" validate:"required"`
	Direction Direction `json:"direction,omitempty" validate:"omitempty,oneof=OUTBOUND INBOUND"`
	IsActive  bool      `json:"is_active"`

	URL            string               `json:"url" validate:"required,url"`
	Method         string               `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Auth           AuthConfig           `json:"auth,omitempty"`
	TimeoutSeconds int                  `json:"timeout_seconds,omitempty" validate:"gte=0"`
	RetryCount     int                  `json:"retry_count" validate:"gte=0"`
	Transformation TransformationConfig `json:"transformation"`

	SigningSecret  string `json:"signing_secret,omitempty"`
	SigningEnabled bool   `json:"signing_enabled"`

	DeliveryMode DeliveryMode    `json:"delivery_mode" validate:"omitempty,oneof=IMMEDIATE DELAYED RECURRING"`
	Schedule     *ScheduleConfig `json:"schedule,omitempty"`

	Scope               Scope   `json:"scope,omitempty" validate:"omitempty,oneof=ENTITY_ONLY INCLUDE_CHILDREN"`
	ExcludedOrgUnitRIDs []int64 `json:"excluded_org_unit_rids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Circuit-breaker read-through state. The authoritative counters live
	// in the breaker store; these fields are populated for admin reads.
	CircuitState        CircuitState `json:"circuit_state,omitempty"`
	ConsecutiveFailures int64        `json:"consecutive_failures,omitempty"`
	CircuitOpenedAt     *time.Time   `json:"circuit_opened_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
}

var (
	ErrInvalidIntegration = errors.New("validation failed: invalid integration")
	ErrSigningSecretUnset = errors.New("signing enabled but signing secret is not set")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func (i *Integration) Validate() error {
	if err := validate.Struct(i); err != nil {
		return errors.Join(ErrInvalidIntegration, err)
	}
	if i.SigningEnabled && i.SigningSecret == "" {
		return ErrSigningSecretUnset
	}
	if i.DeliveryMode == DeliveryModeRecurring && (i.Schedule == nil || i.Schedule.IntervalSeconds <= 0) {
		return errors.Join(ErrInvalidIntegration, errors.New("recurring delivery requires schedule.interval_seconds"))
	}
	return nil
}

// MatchesEventType reports whether the integration's selector accepts the
// given event type.
func (i *Integration) MatchesEventType(eventType string) bool {
	return i.EventType == EventTypeAny || i.EventType == eventType
}

// IsOutbound treats an unset direction as outbound for backwards
// compatibility with configurations written before direction existed.
func (i *Integration) IsOutbound() bool {
	return i.Direction == "" || i.Direction == DirectionOutbound
}

// AppliesTo resolves scope and exclusions for an event raised by orgID.
// ownerID is the org the integration is attached to; when they differ the
// integration is inherited from the parent and exclusions apply.
func (i *Integration) AppliesTo(ownerID, orgID int64) bool {
	if ownerID == orgID {
		return true
	}
	if i.Scope == ScopeEntityOnly {
		return false
	}
	return !slices.Contains(i.ExcludedOrgUnitRIDs, orgID)
}

// IntegrationSummary is the matching-relevant projection of an
// integration, stored in the per-org summary hash so MatchEvent can
// evaluate every config for an org with a single HGETALL.
type IntegrationSummary struct {
	ID                  string    `json:"id"`
	EventType           string    `json:"event_type"`
	Direction           Direction `json:"direction,omitempty"`
	IsActive            bool      `json:"is_active"`
	Scope               Scope     `json:"scope,omitempty"`
	ExcludedOrgUnitRIDs []int64   `json:"excluded_org_unit_rids,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

var _ encoding.BinaryMarshaler = &IntegrationSummary{}
var _ encoding.BinaryUnmarshaler = &IntegrationSummary{}

func (s *IntegrationSummary) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

func (s *IntegrationSummary) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

func (s *IntegrationSummary) MatchesEventType(eventType string) bool {
	return s.EventType == EventTypeAny || s.EventType == eventType
}

func (s *IntegrationSummary) IsOutbound() bool {
	return s.Direction == "" || s.Direction == DirectionOutbound
}

// AppliesTo mirrors Integration.AppliesTo for the summary projection.
func (s *IntegrationSummary) AppliesTo(ownerID, orgID int64) bool {
	if ownerID == orgID {
		return true
	}
	if s.Scope == ScopeEntityOnly {
		return false
	}
	return !slices.Contains(s.ExcludedOrgUnitRIDs, orgID)
}

// ToSummary projects the integration into its summary form.
func (i *Integration) ToSummary() *IntegrationSummary {
	return &IntegrationSummary{
		ID:                  i.ID,
		EventType:           i.EventType,
		Direction:           i.Direction,
		IsActive:            i.IsActive,
		Scope:               i.Scope,
		ExcludedOrgUnitRIDs: i.ExcludedOrgUnitRIDs,
		UpdatedAt:           i.UpdatedAt,
	}
}

func (i *Integration) HTTPMethod() string {
	if i.Method == "" {
		return "POST"
	}
	return i.Method
}

func (i *Integration) Timeout() time.Duration {
	if i.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(i.TimeoutSeconds) * time.Second
}

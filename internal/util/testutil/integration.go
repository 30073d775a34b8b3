package testutil

import (
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// ============================== Mock Integration ==============================

var IntegrationFactory = &mockIntegrationFactory{}

type mockIntegrationFactory struct {
}

func (f *mockIntegrationFactory) Any(opts ...func(*models.Integration)) models.Integration {
	integration := models.Integration{
		ID:        RandomString(8),
		OrgID:     84,
		EventType: TestEventTypes[2],
		IsActive:  true,
		URL:       "http://host.docker.internal:4444",
		Transformation: models.TransformationConfig{
			Mode: models.TransformSimple,
		},
		DeliveryMode: models.DeliveryModeImmediate,
		RetryCount:   3,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&integration)
	}

	return integration
}

func (f *mockIntegrationFactory) WithID(id string) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.ID = id
	}
}

func (f *mockIntegrationFactory) WithOrgID(orgID int64) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.OrgID = orgID
	}
}

func (f *mockIntegrationFactory) WithEventType(eventType string) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.EventType = eventType
	}
}

func (f *mockIntegrationFactory) WithIsActive(isActive bool) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.IsActive = isActive
	}
}

func (f *mockIntegrationFactory) WithURL(url string) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.URL = url
	}
}

func (f *mockIntegrationFactory) WithScope(scope models.Scope) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.Scope = scope
	}
}

func (f *mockIntegrationFactory) WithExcludedOrgUnitRIDs(rids []int64) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.ExcludedOrgUnitRIDs = rids
	}
}

func (f *mockIntegrationFactory) WithDeliveryMode(mode models.DeliveryMode) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.DeliveryMode = mode
	}
}

func (f *mockIntegrationFactory) WithSchedule(schedule *models.ScheduleConfig) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.Schedule = schedule
	}
}

func (f *mockIntegrationFactory) WithTransformation(transformation models.TransformationConfig) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.Transformation = transformation
	}
}

func (f *mockIntegrationFactory) WithSigning(secret string) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.SigningEnabled = true
		integration.SigningSecret = secret
	}
}

func (f *mockIntegrationFactory) WithRetryCount(retryCount int) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.RetryCount = retryCount
	}
}

func (f *mockIntegrationFactory) WithUpdatedAt(updatedAt time.Time) func(*models.Integration) {
	return func(integration *models.Integration) {
		integration.UpdatedAt = updatedAt
	}
}

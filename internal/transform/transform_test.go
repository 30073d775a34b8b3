package transform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/transform"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

func TestTransform_Simple(t *testing.T) {
	t.Parallel()

	event := testutil.EventFactory.Any(testutil.EventFactory.WithPayload(map[string]interface{}{
		"patientRid": float64(555),
		"nested":     map[string]interface{}{"value": "x"},
	}))
	integration := testutil.IntegrationFactory.Any()

	output, err := transform.Apply(&integration, &event, -1)
	require.NoError(t, err)
	assert.Equal(t, event.Payload, output.Payload)
	assert.Empty(t, output.URL)
}

func TestTransform_Template(t *testing.T) {
	t.Parallel()

	event := testutil.EventFactory.Any(testutil.EventFactory.WithPayload(map[string]interface{}{
		"patientRid": float64(555),
		"patient": map[string]interface{}{
			"firstName": "Ada",
			"lastName":  "Lovelace",
		},
	}))
	integration := testutil.IntegrationFactory.Any(testutil.IntegrationFactory.WithTransformation(
		models.TransformationConfig{
			Mode: models.TransformTemplate,
			Template: map[string]string{
				"id":           "patientRid",
				"name.first":   "patient.firstName",
				"name.last":    "patient.lastName",
				"missingField": "patient.middleName",
			},
		},
	))

	output, err := transform.Apply(&integration, &event, -1)
	require.NoError(t, err)
	assert.Equal(t, models.Data{
		"id": float64(555),
		"name": map[string]interface{}{
			"first": "Ada",
			"last":  "Lovelace",
		},
	}, output.Payload)

	t.Run("deterministic across calls", func(t *testing.T) {
		again, err := transform.Apply(&integration, &event, -1)
		require.NoError(t, err)
		assert.Equal(t, output.Payload, again.Payload)
	})
}

func TestTransform_TemplateInvalidExpression(t *testing.T) {
	t.Parallel()

	event := testutil.EventFactory.Any()
	integration := testutil.IntegrationFactory.Any(testutil.IntegrationFactory.WithTransformation(
		models.TransformationConfig{
			Mode:     models.TransformTemplate,
			Template: map[string]string{"out": "patient.["},
		},
	))

	_, err := transform.Apply(&integration, &event, -1)
	assert.ErrorIs(t, err, transform.ErrTransformFailed)
}

func TestTransform_ActionList(t *testing.T) {
	t.Parallel()

	event := testutil.EventFactory.Any(testutil.EventFactory.WithPayload(map[string]interface{}{
		"patientRid": float64(555),
	}))
	integration := testutil.IntegrationFactory.Any(testutil.IntegrationFactory.WithTransformation(
		models.TransformationConfig{
			Mode: models.TransformActionList,
			Actions: []models.TransformAction{
				{
					Name:     "notify",
					URL:      "https://notify.example.com/hook",
					Template: map[string]string{"rid": "patientRid"},
				},
				{
					Name:   "mirror",
					Method: "PUT",
				},
			},
		},
	))

	assert.Equal(t, 2, transform.Fanout(&integration))

	first, err := transform.Apply(&integration, &event, 0)
	require.NoError(t, err)
	assert.Equal(t, "notify", first.Name)
	assert.Equal(t, "https://notify.example.com/hook", first.URL)
	assert.Equal(t, models.Data{"rid": float64(555)}, first.Payload)

	second, err := transform.Apply(&integration, &event, 1)
	require.NoError(t, err)
	assert.Equal(t, "mirror", second.Name)
	assert.Equal(t, "PUT", second.Method)
	assert.Equal(t, event.Payload, second.Payload, "action without template passes payload through")

	t.Run("out of range index fails", func(t *testing.T) {
		_, err := transform.Apply(&integration, &event, 2)
		assert.ErrorIs(t, err, transform.ErrTransformFailed)
	})
}

func TestTransform_FanoutDefaults(t *testing.T) {
	t.Parallel()

	simple := testutil.IntegrationFactory.Any()
	assert.Equal(t, 1, transform.Fanout(&simple))
}

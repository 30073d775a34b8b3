package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// ErrTransformFailed wraps every mapping failure. Callers classify it
// as a transformation error, which is never retried: re-running a pure
// function over the same input cannot succeed.
var ErrTransformFailed = errors.New("transformation failed")

// Output is one ready-to-deliver payload. URL, Method, and Name are
// set only for action-list entries that override the integration.
type Output struct {
	Payload models.Data
	URL     string
	Method  string
	Name    string
}

// Fanout returns how many deliveries one event produces for the given
// integration. Action-list configs fan out to one delivery per action.
func Fanout(integration *models.Integration) int {
	if integration.Transformation.Mode == models.TransformActionList {
		if n := len(integration.Transformation.Actions); n > 0 {
			return n
		}
	}
	return 1
}

// Apply maps an event payload through the integration's transformation.
// actionIndex selects the action for ACTION_LIST configs and is -1
// otherwise. Apply is pure: same event and config always produce the
// same output, so retries re-transform instead of persisting payloads.
func Apply(integration *models.Integration, event *models.Event, actionIndex int) (*Output, error) {
	switch integration.Transformation.Mode {
	case "", models.TransformSimple:
		return &Output{Payload: event.Payload}, nil

	case models.TransformTemplate:
		payload, err := applyTemplate(integration.Transformation.Template, event)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: payload}, nil

	case models.TransformActionList:
		actions := integration.Transformation.Actions
		if actionIndex < 0 || actionIndex >= len(actions) {
			return nil, fmt.Errorf("%w: action index %d out of range (%d actions)",
				ErrTransformFailed, actionIndex, len(actions))
		}
		action := actions[actionIndex]
		template := action.Template
		payload := event.Payload
		if len(template) > 0 {
			var err error
			payload, err = applyTemplate(template, event)
			if err != nil {
				return nil, fmt.Errorf("action %q: %w", action.Name, err)
			}
		}
		return &Output{
			Payload: payload,
			URL:     action.URL,
			Method:  action.Method,
			Name:    action.Name,
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown mode %q", ErrTransformFailed, integration.Transformation.Mode)
}

// applyTemplate builds a payload from target-path to JMESPath-expression
// pairs evaluated over the event payload. Expressions resolving to null
// leave their target unset.
func applyTemplate(template map[string]string, event *models.Event) (models.Data, error) {
	source := map[string]interface{}(event.Payload)
	result := models.Data{}
	for target, expr := range template {
		value, err := jmespath.Search(expr, source)
		if err != nil {
			return nil, fmt.Errorf("%w: expression %q: %v", ErrTransformFailed, expr, err)
		}
		if value == nil {
			continue
		}
		setPath(result, target, value)
	}
	return result, nil
}

// setPath writes value at a dot-separated path, creating intermediate
// maps. A scalar collision on an intermediate segment overwrites it.
func setPath(data map[string]interface{}, path string, value interface{}) {
	segments := strings.Split(path, ".")
	current := data
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

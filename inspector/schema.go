package inspector

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/cachescope/command"
	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/transport"
)

// commandSchemas validates dashboard commands by event.
type commandSchemas struct {
	queryAction   *gojsonschema.Schema
	onlineManager *gojsonschema.Schema
}

func newCommandSchemas() (*commandSchemas, error) {
	actions := command.Actions()
	names := make([]any, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}

	queryAction, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any{
		"type":     "object",
		"required": []any{"action", "deviceId"},
		"properties": map[string]any{
			"queryHash": map[string]any{"type": "string"},
			"queryKey":  map[string]any{"type": "array"},
			"action":    map[string]any{"type": "string", "enum": names},
			"deviceId":  map[string]any{"type": "string", "minLength": 1},
		},
	}))
	if err != nil {
		return nil, errors.WrapFatal(err, "inspector", "newCommandSchemas", "compile query-action schema")
	}

	onlineManager, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any{
		"type":     "object",
		"required": []any{"action", "targetDeviceId"},
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []any{
				string(command.ActionOnlineManagerOnline),
				string(command.ActionOnlineManagerOffline),
			}},
			"targetDeviceId": map[string]any{"type": "string", "minLength": 1},
		},
	}))
	if err != nil {
		return nil, errors.WrapFatal(err, "inspector", "newCommandSchemas", "compile online-manager schema")
	}

	return &commandSchemas{queryAction: queryAction, onlineManager: onlineManager}, nil
}

// validate checks doc against the schema for event.
func (s *commandSchemas) validate(event string, doc any) error {
	var schema *gojsonschema.Schema
	switch event {
	case transport.EventQueryAction:
		schema = s.queryAction
	case transport.EventOnlineManager:
		schema = s.onlineManager
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownEvent, event),
			"inspector", "validate", "select schema")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "inspector", "validate", "load command")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(problems, "; ")),
		"inspector", "validate", "validate "+event)
}

package inspector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/transport"
)

func TestCommandSchemas(t *testing.T) {
	s, err := newCommandSchemas()
	require.NoError(t, err)

	tests := []struct {
		name  string
		event string
		doc   any
		valid bool
	}{
		{"refetch", transport.EventQueryAction,
			map[string]any{"queryHash": `["todos"]`, "queryKey": []any{"todos"}, "action": "ACTION-REFETCH", "deviceId": "ios-1"}, true},
		{"clear without hash", transport.EventQueryAction,
			map[string]any{"action": "ACTION-CLEAR-QUERY-CACHE", "deviceId": "All"}, true},
		{"unknown action", transport.EventQueryAction,
			map[string]any{"action": "ACTION-EXPLODE", "deviceId": "ios-1"}, false},
		{"missing target", transport.EventQueryAction,
			map[string]any{"action": "ACTION-REFETCH"}, false},
		{"empty target", transport.EventQueryAction,
			map[string]any{"action": "ACTION-REFETCH", "deviceId": ""}, false},
		{"key not array", transport.EventQueryAction,
			map[string]any{"action": "ACTION-REFETCH", "deviceId": "x", "queryKey": "todos"}, false},
		{"not an object", transport.EventQueryAction, []any{1, 2}, false},
		{"offline", transport.EventOnlineManager,
			map[string]any{"action": "ACTION-ONLINE-MANAGER-OFFLINE", "targetDeviceId": "All"}, true},
		{"online manager with query action", transport.EventOnlineManager,
			map[string]any{"action": "ACTION-REFETCH", "targetDeviceId": "All"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validate(tt.event, tt.doc)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsInvalid(err))
		})
	}

	assert.ErrorIs(t, s.validate(transport.EventQuerySync, map[string]any{}), errors.ErrUnknownEvent)
}

package transport

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
)

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())
	assert.Equal(t, websocket.TextMessage, c.MessageType())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, c.MessageType())

	_, err = CodecByName("msgpack")
	assert.True(t, errors.IsInvalid(err))
}

func TestCodecs_FrameRoundTrip(t *testing.T) {
	type info struct {
		DeviceName string `json:"deviceName"`
	}
	for _, codec := range []Codec{JSON{}, CBOR{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			sent := NewFrame(EventDeviceInfo)
			data, err := codec.Encode(sent, info{DeviceName: "iPhone"})
			require.NoError(t, err)

			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, sent.Type, got.Type)
			assert.Equal(t, sent.ID, got.ID)
			assert.Equal(t, sent.Timestamp, got.Timestamp)

			var payload info
			require.NoError(t, got.Decode(&payload))
			assert.Equal(t, "iPhone", payload.DeviceName)
		})
	}
}

func TestCodecs_EmptyPayload(t *testing.T) {
	for _, codec := range []Codec{JSON{}, CBOR{}} {
		data, err := codec.Encode(NewFrame(EventRequestInitialState), nil)
		require.NoError(t, err)

		got, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, EventRequestInitialState, got.Type)

		var v any
		assert.True(t, errors.IsInvalid(got.Decode(&v)))
	}
}

func TestCodecs_RejectMalformed(t *testing.T) {
	_, err := JSON{}.Decode([]byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, errors.ErrInvalidData)

	_, err = JSON{}.Decode([]byte(`not json`))
	assert.True(t, errors.IsInvalid(err))

	_, err = CBOR{}.Decode([]byte{0xff, 0x00})
	assert.True(t, errors.IsInvalid(err))
}

func TestCBOR_DecodesMapsAsStringKeyed(t *testing.T) {
	data, err := CBOR{}.Encode(NewFrame(EventQuerySync), map[string]any{"queries": []any{map[string]any{"queryHash": "[\"todos\"]"}}})
	require.NoError(t, err)
	f, err := CBOR{}.Decode(data)
	require.NoError(t, err)

	var payload any
	require.NoError(t, f.Decode(&payload))
	m, ok := payload.(map[string]any)
	require.True(t, ok)
	queries := m["queries"].([]any)
	assert.Equal(t, "[\"todos\"]", queries[0].(map[string]any)["queryHash"])
}

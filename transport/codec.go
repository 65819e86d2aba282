package transport

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/c360/cachescope/errors"
)

// Codec names
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Codec encodes frames for the wire.
type Codec interface {
	// Name is sent as the "codec" connection parameter.
	Name() string
	// MessageType is the websocket message type frames are sent as.
	MessageType() int
	Encode(f Frame, payload any) ([]byte, error)
	Decode(data []byte) (Frame, error)
	// Unmarshal decodes a frame payload.
	Unmarshal(raw []byte, v any) error
}

// CodecByName returns the codec called name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecCBOR:
		return CBOR{}, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown codec %q", name), "transport", "CodecByName", "select codec")
	}
}

// JSON frames are text messages.
type JSON struct{}

type jsonFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Name implements Codec.
func (JSON) Name() string { return CodecJSON }

// MessageType implements Codec.
func (JSON) MessageType() int { return websocket.TextMessage }

// Encode implements Codec.
func (JSON) Encode(f Frame, payload any) ([]byte, error) {
	out := jsonFrame{Type: f.Type, ID: f.ID, Timestamp: f.Timestamp}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "JSON", "Encode", "marshal payload")
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

// Decode implements Codec.
func (c JSON) Decode(data []byte) (Frame, error) {
	var in jsonFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, errors.WrapInvalid(err, "JSON", "Decode", "unmarshal frame")
	}
	if in.Type == "" {
		return Frame{}, errors.WrapInvalid(errors.ErrInvalidData, "JSON", "Decode", "read frame type")
	}
	return Frame{Type: in.Type, ID: in.ID, Timestamp: in.Timestamp, Payload: in.Payload, codec: c}, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR frames are binary messages. Struct fields use their json tags.
type CBOR struct{}

type cborFrame struct {
	Type      string          `cbor:"type"`
	ID        string          `cbor:"id"`
	Timestamp int64           `cbor:"timestamp"`
	Payload   cbor.RawMessage `cbor:"payload,omitempty"`
}

// Name implements Codec.
func (CBOR) Name() string { return CodecCBOR }

// MessageType implements Codec.
func (CBOR) MessageType() int { return websocket.BinaryMessage }

// Encode implements Codec.
func (CBOR) Encode(f Frame, payload any) ([]byte, error) {
	out := cborFrame{Type: f.Type, ID: f.ID, Timestamp: f.Timestamp}
	if payload != nil {
		raw, err := cborEnc.Marshal(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "CBOR", "Encode", "marshal payload")
		}
		out.Payload = raw
	}
	return cborEnc.Marshal(out)
}

// Decode implements Codec.
func (c CBOR) Decode(data []byte) (Frame, error) {
	var in cborFrame
	if err := cborDec.Unmarshal(data, &in); err != nil {
		return Frame{}, errors.WrapInvalid(err, "CBOR", "Decode", "unmarshal frame")
	}
	if in.Type == "" {
		return Frame{}, errors.WrapInvalid(errors.ErrInvalidData, "CBOR", "Decode", "read frame type")
	}
	return Frame{Type: in.Type, ID: in.ID, Timestamp: in.Timestamp, Payload: []byte(in.Payload), codec: c}, nil
}

// Unmarshal implements Codec.
func (CBOR) Unmarshal(raw []byte, v any) error {
	return cborDec.Unmarshal(raw, v)
}

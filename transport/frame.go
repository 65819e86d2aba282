package transport

import (
	"github.com/google/uuid"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/pkg/timestamp"
)

// Event names exchanged between devices and the inspector.
const (
	EventQuerySync           = "query-sync"
	EventDeviceInfo          = "device-info"
	EventRequestInitialState = "request-initial-state"
	EventDeviceRequest       = "device-request"
	EventQueryAction         = "query-action"
	EventOnlineManager       = "online-manager"
	EventDevices             = "devices"
)

// Frame is one message on the wire: an event name, a unique id, the send
// time in Unix milliseconds and an optional payload in codec encoding.
type Frame struct {
	Type      string
	ID        string
	Timestamp int64
	Payload   []byte

	codec Codec
}

// NewFrame stamps a frame for event.
func NewFrame(event string) Frame {
	return Frame{Type: event, ID: uuid.NewString(), Timestamp: timestamp.Now()}
}

// Decode unmarshals the payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Frame", "Decode", "read empty payload")
	}
	if f.codec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Frame", "Decode", "payload has no codec")
	}
	if err := f.codec.Unmarshal(f.Payload, v); err != nil {
		return errors.WrapInvalid(err, "Frame", "Decode", "unmarshal payload")
	}
	return nil
}

// Codec returns the codec that decoded the frame.
func (f Frame) Codec() Codec { return f.codec }

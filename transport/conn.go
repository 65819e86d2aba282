package transport

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeGracePeriod    = time.Second
)

// Conn is a framed websocket connection. Send is safe for concurrent use;
// Read must be called from a single goroutine.
type Conn struct {
	ws      *websocket.Conn
	codec   Codec
	metrics *metric.Metrics

	writeMu    sync.Mutex
	readWindow time.Duration
	closeOnce  sync.Once
	closeErr   error
}

// NewConn wraps ws. metrics may be nil.
func NewConn(ws *websocket.Conn, codec Codec, metrics *metric.Metrics) *Conn {
	if codec == nil {
		codec = JSON{}
	}
	return &Conn{ws: ws, codec: codec, metrics: metrics}
}

// Codec returns the connection codec.
func (c *Conn) Codec() Codec { return c.codec }

// Send writes one frame for event. The write deadline comes from ctx or
// defaults to ten seconds.
func (c *Conn) Send(ctx context.Context, event string, payload any) error {
	data, err := c.codec.Encode(NewFrame(event), payload)
	if err != nil {
		c.recordError("encode_error")
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(c.codec.MessageType(), data); err != nil {
		c.recordError("write_error")
		return errors.WrapTransient(err, "Conn", "Send", "write frame")
	}
	if c.metrics != nil {
		c.metrics.RecordFrame("out", event)
	}
	return nil
}

// ExpectPongs makes Read fail when neither a frame nor a pong arrives
// within window. It must be called before the first Read.
func (c *Conn) ExpectPongs(window time.Duration) {
	c.readWindow = window
	_ = c.ws.SetReadDeadline(time.Now().Add(window))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(window))
	})
}

// Ping sends a ping control frame.
func (c *Conn) Ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		c.recordError("ping_error")
		return errors.WrapTransient(err, "Conn", "Ping", "write ping")
	}
	return nil
}

// Read blocks for the next frame. Frames that fail to decode are skipped.
func (c *Conn) Read() (Frame, error) {
	for {
		if c.readWindow > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readWindow))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		frame, err := c.codec.Decode(data)
		if err != nil {
			c.recordError("parse_error")
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordFrame("in", frame.Type)
		}
		return frame, nil
	}
}

// Close sends a close frame and closes the socket. Later calls return the
// first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordTransportError(kind)
	}
}

// IsClosed reports whether err means the peer or local side closed the
// connection normally.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		stderrors.Is(err, websocket.ErrCloseSent)
}

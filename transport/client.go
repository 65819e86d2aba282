package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/identity"
	"github.com/c360/cachescope/metric"
)

// ParamCodec is the connection parameter naming the frame codec.
const ParamCodec = "codec"

const defaultHandshakeTimeout = 10 * time.Second

// Handler receives frames of one event. Handlers run on the read loop in
// arrival order.
type Handler func(ctx context.Context, f Frame)

// Client is a device-side connection to the inspector. Connect makes a
// single attempt; reconnecting is up to the caller.
type Client struct {
	url      string
	identity identity.Identity
	codec    Codec
	dialer   *websocket.Dialer
	header   http.Header
	logger   *slog.Logger
	metrics  *metric.Metrics

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
	stateFns   map[int]func(bool)
	nextFn     int

	lifecycleMu sync.Mutex
	conn        *Conn
	done        chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithCodec selects the frame codec.
func WithCodec(c Codec) Option {
	return func(cl *Client) {
		if c != nil {
			cl.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// WithMetrics records frames and connection state. A nil registry
// disables it.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(cl *Client) {
		if registry != nil {
			cl.metrics = registry.CoreMetrics()
		}
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.dialer.HandshakeTimeout = d
		}
	}
}

// WithTLSConfig sets the TLS configuration used for wss URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(cl *Client) { cl.dialer.TLSClientConfig = cfg }
}

// WithHeader adds HTTP headers to the handshake request.
func WithHeader(h http.Header) Option {
	return func(cl *Client) {
		cl.header = h.Clone()
	}
}

// NewClient creates a client for the inspector at rawURL.
func NewClient(rawURL string, id identity.Identity, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "parse url")
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unsupported scheme %q", u.Scheme), "Client", "NewClient", "parse url")
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		url:      rawURL,
		identity: id,
		codec:    JSON{},
		dialer:   &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		logger:   slog.Default(),
		handlers: make(map[string][]Handler),
		stateFns: make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the inspector URL.
func (c *Client) URL() string { return c.url }

// Identity returns the identity sent on connect.
func (c *Client) Identity() identity.Identity { return c.identity }

// On registers h for event.
func (c *Client) On(event string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnStateChange registers fn for connection state changes and returns a
// function that removes it.
func (c *Client) OnStateChange(fn func(connected bool)) func() {
	c.handlersMu.Lock()
	id := c.nextFn
	c.nextFn++
	c.stateFns[id] = fn
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.stateFns, id)
		c.handlersMu.Unlock()
	}
}

func (c *Client) dialURL() string {
	u, _ := url.Parse(c.url)
	q := u.Query()
	for k, vs := range c.identity.Values() {
		q[k] = vs
	}
	q.Set(ParamCodec, c.codec.Name())
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect dials the inspector once.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyConnected, "Client", "Connect", "dial inspector")
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.dialURL(), c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.recordError("connect_error")
		c.logger.Warn("inspector connection failed", "url", c.url, "error", err)
		return errors.WrapTransient(err, "Client", "Connect", "dial inspector")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn := NewConn(ws, c.codec, c.metrics)
	done := make(chan struct{})
	c.conn = conn
	c.done = done
	c.cancel = cancel

	c.wg.Add(1)
	go c.readLoop(runCtx, conn, done)

	c.logger.Info("connected to inspector", "url", c.url, "deviceId", c.identity.DeviceID, "codec", c.codec.Name())
	c.setState(true)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *Conn, done chan struct{}) {
	defer c.wg.Done()
	defer func() {
		c.lifecycleMu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.cancel()
		}
		c.lifecycleMu.Unlock()

		_ = conn.Close()
		close(done)
		c.setState(false)
	}()

	for {
		frame, err := conn.Read()
		if err != nil {
			if !IsClosed(err) && ctx.Err() == nil {
				c.recordError("read_error")
				c.logger.Warn("inspector connection lost", "error", err)
			} else {
				c.logger.Debug("inspector connection closed")
			}
			return
		}
		c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, f Frame) {
	c.handlersMu.RLock()
	hs := append([]Handler(nil), c.handlers[f.Type]...)
	c.handlersMu.RUnlock()

	if len(hs) == 0 {
		c.logger.Debug("no handler for event", "event", f.Type)
		return
	}
	for _, h := range hs {
		h(ctx, f)
	}
}

func (c *Client) setState(connected bool) {
	if c.metrics != nil {
		c.metrics.RecordConnection(connected)
	}
	c.handlersMu.RLock()
	fns := make([]func(bool), 0, len(c.stateFns))
	for _, fn := range c.stateFns {
		fns = append(fns, fn)
	}
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.conn != nil
}

// Done returns a channel closed when the current connection ends. It is
// already closed when there is no connection.
func (c *Client) Done() <-chan struct{} {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Emit sends payload as event.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.lifecycleMu.Lock()
	conn := c.conn
	c.lifecycleMu.Unlock()

	if conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Emit", "send "+event)
	}
	return conn.Send(ctx, event, payload)
}

// Close closes the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	c.lifecycleMu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.lifecycleMu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordTransportError(kind)
	}
}

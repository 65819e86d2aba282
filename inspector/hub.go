package inspector

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/cachescope/changedetect"
	"github.com/c360/cachescope/command"
	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/identity"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/timestamp"
	"github.com/c360/cachescope/snapshot"
	"github.com/c360/cachescope/transport"
)

// Connection roles
const (
	ParamRole     = "role"
	RoleDashboard = "dashboard"
)

const broadcastParallelism = 8

// Config holds hub settings.
type Config struct {
	Addr            string
	Path            string
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	CommandRate     float64
	CommandBurst    int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default hub settings.
func DefaultConfig() Config {
	return Config{
		Addr:            ":42831",
		Path:            "/",
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		CommandRate:     20,
		CommandBurst:    40,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Relay wraps a device payload for dashboards.
type Relay struct {
	DeviceID string `json:"deviceId"`
	Payload  any    `json:"payload"`
}

// DeviceEntry describes a connected device in a devices event.
type DeviceEntry struct {
	identity.Identity
	ConnectedAt int64 `json:"connectedAt"`
}

type deviceInfo struct {
	DeviceName string `json:"deviceName"`
}

type device struct {
	conn        *transport.Conn
	connectedAt time.Time
	cmp         *changedetect.Comparator

	mu       sync.Mutex
	id       identity.Identity
	lastSync *snapshot.SyncMessage
}

func (d *device) current() identity.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

type dashboard struct {
	conn    *transport.Conn
	limiter *rate.Limiter
}

// Hub relays between devices and dashboards.
type Hub struct {
	cfg          Config
	upgrader     websocket.Upgrader
	schemas      *commandSchemas
	logger       *slog.Logger
	metrics      *Metrics
	frameMetrics *metric.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	devices    map[string]*device
	dashboards map[*dashboard]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records hub and frame metrics. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) {
		if registry != nil {
			h.frameMetrics = registry.CoreMetrics()
			h.metrics = newMetrics(registry, h.logger)
		}
	}
}

// New creates a hub. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) (*Hub, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = def.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = def.CommandBurst
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	schemas, err := newCommandSchemas()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Devices and dashboards run on other hosts.
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		schemas:    schemas,
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		devices:    make(map[string]*device),
		dashboards: make(map[*dashboard]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handler returns the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.Path, h.handleWebSocket)
	return mux
}

// Run listens on the configured address and serves until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Hub", "Run", "listen on "+h.cfg.Addr)
	}
	return h.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then closes every connection.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.logger.Info("inspector hub listening", "addr", ln.Addr().String(), "path", h.cfg.Path)
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "Hub", "Serve", "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("inspector hub shutdown", "error", err)
		}
		h.Close()
		return nil
	})
	if h.cfg.PingInterval > 0 {
		g.Go(func() error {
			h.keepAlive(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Close disconnects every peer and waits for their loops to end.
func (h *Hub) Close() {
	h.cancel()

	h.mu.RLock()
	conns := make([]*transport.Conn, 0, len(h.devices)+len(h.dashboards))
	for _, d := range h.devices {
		conns = append(conns, d.conn)
	}
	for db := range h.dashboards {
		conns = append(conns, db.conn)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	h.wg.Wait()
}

// Devices lists connected devices ordered by id.
func (h *Hub) Devices() []DeviceEntry {
	h.mu.RLock()
	out := make([]DeviceEntry, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, DeviceEntry{Identity: d.current(), ConnectedAt: timestamp.ToUnixMs(d.connectedAt)})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codec, err := transport.CodecByName(q.Get(transport.ParamCodec))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	role := q.Get(ParamRole)
	var id identity.Identity
	if role != RoleDashboard {
		if id, err = identity.FromValues(q); err != nil {
			h.logger.Warn("device rejected", "remote", r.RemoteAddr, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	// Register with wg under mu so Close never waits on a group that can
	// still grow.
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		http.Error(w, "hub is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := transport.NewConn(ws, codec, h.frameMetrics)
	if h.cfg.PingInterval > 0 {
		conn.ExpectPongs(2 * h.cfg.PingInterval)
	}
	if h.ctx.Err() != nil {
		_ = conn.Close()
		return
	}

	if role == RoleDashboard {
		h.serveDashboard(conn)
		return
	}
	h.serveDevice(id, conn)
}

func (h *Hub) serveDevice(id identity.Identity, conn *transport.Conn) {
	d := &device{
		id:          id,
		conn:        conn,
		connectedAt: time.Now(),
		cmp:         changedetect.NewComparator(),
	}

	h.mu.Lock()
	old := h.devices[id.DeviceID]
	h.devices[id.DeviceID] = d
	devices, dashboards := len(h.devices), len(h.dashboards)
	h.mu.Unlock()

	if old != nil {
		h.logger.Warn("device id connected again, closing previous connection", "deviceId", id.DeviceID)
		h.metrics.recordReplaced()
		_ = old.conn.Close()
	}
	h.metrics.recordPeers(devices, dashboards)
	h.logger.Info("device connected", "deviceId", id.DeviceID, "deviceName", id.DeviceName, "platform", id.Platform)
	h.broadcastDevices()

	defer func() {
		h.mu.Lock()
		if h.devices[id.DeviceID] == d {
			delete(h.devices, id.DeviceID)
		}
		devices, dashboards := len(h.devices), len(h.dashboards)
		h.mu.Unlock()

		_ = conn.Close()
		h.metrics.recordPeers(devices, dashboards)
		connectedAt := timestamp.ToUnixMs(d.connectedAt)
		h.logger.Info("device disconnected",
			"deviceId", id.DeviceID,
			"connectedAt", timestamp.Format(connectedAt),
			"connectedFor", timestamp.Since(connectedAt).Round(time.Millisecond))
		h.broadcastDevices()
	}()

	for _, event := range []string{transport.EventRequestInitialState, transport.EventDeviceRequest} {
		if err := h.send(conn, event, nil); err != nil {
			h.logger.Warn("device request failed", "deviceId", id.DeviceID, "event", event, "error", err)
			return
		}
	}

	for {
		f, err := conn.Read()
		if err != nil {
			return
		}
		switch f.Type {
		case transport.EventQuerySync:
			h.onQuerySync(d, f)
		case transport.EventDeviceInfo:
			h.onDeviceInfo(d, f)
		default:
			h.logger.Debug("unexpected device event", "deviceId", id.DeviceID, "event", f.Type)
		}
	}
}

func (h *Hub) onQuerySync(d *device, f transport.Frame) {
	var msg snapshot.SyncMessage
	if err := f.Decode(&msg); err != nil {
		h.logger.Warn("malformed query sync", "deviceId", d.current().DeviceID, "error", err)
		return
	}
	if !d.cmp.Changed(msg) {
		h.metrics.recordSync(false)
		return
	}
	h.metrics.recordSync(true)

	d.mu.Lock()
	d.lastSync = &msg
	deviceID := d.id.DeviceID
	d.mu.Unlock()

	h.broadcast(transport.EventQuerySync, Relay{DeviceID: deviceID, Payload: msg})
}

func (h *Hub) onDeviceInfo(d *device, f transport.Frame) {
	var info deviceInfo
	if err := f.Decode(&info); err != nil {
		h.logger.Warn("malformed device info", "deviceId", d.current().DeviceID, "error", err)
		return
	}

	d.mu.Lock()
	if info.DeviceName != "" {
		d.id.DeviceName = info.DeviceName
	}
	deviceID := d.id.DeviceID
	d.mu.Unlock()

	h.broadcast(transport.EventDeviceInfo, Relay{DeviceID: deviceID, Payload: info})
	h.broadcastDevices()
}

func (h *Hub) serveDashboard(conn *transport.Conn) {
	db := &dashboard{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.CommandRate), h.cfg.CommandBurst),
	}

	h.mu.Lock()
	h.dashboards[db] = struct{}{}
	devices, dashboards := len(h.devices), len(h.dashboards)
	synced := make([]Relay, 0, len(h.devices))
	for id, d := range h.devices {
		d.mu.Lock()
		if d.lastSync != nil {
			synced = append(synced, Relay{DeviceID: id, Payload: *d.lastSync})
		}
		d.mu.Unlock()
	}
	h.mu.Unlock()

	h.metrics.recordPeers(devices, dashboards)
	h.logger.Info("dashboard connected")

	defer func() {
		h.mu.Lock()
		delete(h.dashboards, db)
		devices, dashboards := len(h.devices), len(h.dashboards)
		h.mu.Unlock()

		_ = conn.Close()
		h.metrics.recordPeers(devices, dashboards)
		h.logger.Info("dashboard disconnected")
	}()

	if err := h.send(conn, transport.EventDevices, h.Devices()); err != nil {
		return
	}
	sort.Slice(synced, func(i, j int) bool { return synced[i].DeviceID < synced[j].DeviceID })
	for _, relay := range synced {
		if err := h.send(conn, transport.EventQuerySync, relay); err != nil {
			return
		}
	}

	for {
		f, err := conn.Read()
		if err != nil {
			return
		}
		switch f.Type {
		case transport.EventQueryAction, transport.EventOnlineManager:
			h.route(db, f)
		case transport.EventRequestInitialState:
			h.refresh()
		default:
			h.logger.Debug("unexpected dashboard event", "event", f.Type)
		}
	}
}

// route validates a dashboard command and forwards it to its targets.
func (h *Hub) route(db *dashboard, f transport.Frame) {
	var doc any
	if err := f.Decode(&doc); err != nil {
		h.logger.Warn("malformed dashboard command", "event", f.Type, "error", err)
		h.metrics.recordCommand(f.Type, "invalid")
		return
	}
	if err := h.schemas.validate(f.Type, doc); err != nil {
		h.logger.Warn("dashboard command rejected", "event", f.Type, "error", err)
		h.metrics.recordCommand(f.Type, "invalid")
		return
	}
	if !db.limiter.Allow() {
		h.logger.Warn("dashboard command rate limited", "event", f.Type)
		h.metrics.recordCommand(f.Type, "rate_limited")
		return
	}

	fields, _ := doc.(map[string]any)
	targetField := "deviceId"
	if f.Type == transport.EventOnlineManager {
		targetField = "targetDeviceId"
	}
	target, _ := fields[targetField].(string)

	targets := h.targets(target)
	if len(targets) == 0 {
		h.logger.Warn("dashboard command has no connected target", "event", f.Type, "target", target)
		h.metrics.recordCommand(f.Type, "no_target")
		return
	}
	for _, d := range targets {
		if err := h.send(d.conn, f.Type, doc); err != nil {
			h.logger.Warn("command relay failed", "deviceId", d.current().DeviceID, "event", f.Type, "error", err)
		}
	}
	h.metrics.recordCommand(f.Type, "routed")
}

func (h *Hub) targets(target string) []*device {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if target == command.AllDevices {
		out := make([]*device, 0, len(h.devices))
		for _, d := range h.devices {
			out = append(out, d)
		}
		return out
	}
	if d, ok := h.devices[target]; ok {
		return []*device{d}
	}
	return nil
}

// refresh asks every device for its state again. Comparators are reset so
// the replies reach dashboards even when nothing changed.
func (h *Hub) refresh() {
	for _, d := range h.targets(command.AllDevices) {
		d.cmp.Reset()
		if err := h.send(d.conn, transport.EventRequestInitialState, nil); err != nil {
			h.logger.Warn("state refresh failed", "deviceId", d.current().DeviceID, "error", err)
		}
	}
}

func (h *Hub) broadcastDevices() {
	h.broadcast(transport.EventDevices, h.Devices())
}

// broadcast sends payload to every dashboard. A dashboard that cannot keep
// up is disconnected.
func (h *Hub) broadcast(event string, payload any) {
	h.mu.RLock()
	targets := make([]*dashboard, 0, len(h.dashboards))
	for db := range h.dashboards {
		targets = append(targets, db)
	}
	h.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(broadcastParallelism)
	for _, db := range targets {
		g.Go(func() error {
			if err := h.send(db.conn, event, payload); err != nil {
				h.logger.Warn("dashboard send failed, disconnecting", "event", event, "error", err)
				_ = db.conn.Close()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Hub) send(conn *transport.Conn, event string, payload any) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.WriteTimeout)
	defer cancel()
	return conn.Send(ctx, event, payload)
}

func (h *Hub) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		conns := make([]*transport.Conn, 0, len(h.devices)+len(h.dashboards))
		for _, d := range h.devices {
			conns = append(conns, d.conn)
		}
		for db := range h.dashboards {
			conns = append(conns, db.conn)
		}
		h.mu.RUnlock()

		for _, c := range conns {
			if err := c.Ping(h.cfg.WriteTimeout); err != nil {
				_ = c.Close()
			}
		}
	}
}

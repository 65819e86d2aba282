// Package session wires a device cache to one inspector connection.
//
// A Session owns the change detector, the command router, the storage
// bridge and the storage watchers for one device. It pushes query-sync
// events when the cache changes and answers inspector events:
//
//	request-initial-state  one query-sync reply
//	device-request         one device-info reply
//	query-action           routed to the command router
//	online-manager         routed to the command router
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/cachescope/changedetect"
	"github.com/c360/cachescope/command"
	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/identity"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/snapshot"
	"github.com/c360/cachescope/storagebridge"
	"github.com/c360/cachescope/transport"
)

const (
	defaultEmitTimeout = 5 * time.Second
	defaultStopTimeout = 5 * time.Second
)

// Transport is the connection a session drives. *transport.Client
// implements it.
type Transport interface {
	On(event string, h transport.Handler)
	Emit(ctx context.Context, event string, payload any) error
}

// Storage describes one mirrored storage namespace.
type Storage struct {
	Namespace    storagebridge.Namespace
	Backend      storagebridge.Backend
	PollInterval time.Duration
	// Keys lists the keys mirrored from a secure backend, which cannot
	// enumerate them.
	Keys []string
}

// DeviceInfo is the payload of a device-info event.
type DeviceInfo struct {
	DeviceName string `json:"deviceName"`
}

// Session connects a cache client to an inspector transport.
type Session struct {
	client   *querycache.Client
	conn     Transport
	identity identity.Identity
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	mode        changedetect.Mode
	storages    []Storage
	emitTimeout time.Duration
	stopTimeout time.Duration
	tailTimeout time.Duration

	detector *changedetect.Detector
	router   *command.Router
	bridge   *storagebridge.Bridge
	watchers []storagebridge.Watcher

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithMode sets the change detector push policy.
func WithMode(mode changedetect.Mode) Option {
	return func(s *Session) { s.mode = mode }
}

// WithStorage mirrors the given namespaces into the cache and routes
// inspector writes on them to their backends.
func WithStorage(storages ...Storage) Option {
	return func(s *Session) { s.storages = append(s.storages, storages...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records metrics for every component. A nil registry
// disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Session) { s.registry = registry }
}

// WithEmitTimeout bounds each outgoing event write.
func WithEmitTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.emitTimeout = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for command tails.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithTailTimeout bounds deferred command work.
func WithTailTimeout(d time.Duration) Option {
	return func(s *Session) { s.tailTimeout = d }
}

// New builds a session for the device described by id. Event handlers are
// registered on conn immediately; they ignore events until Start.
func New(client *querycache.Client, conn Transport, id identity.Identity, opts ...Option) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		client:      client,
		conn:        conn,
		identity:    id,
		logger:      slog.Default(),
		mode:        changedetect.ModeUnconditional,
		emitTimeout: defaultEmitTimeout,
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.buildStorage(); err != nil {
		return nil, err
	}

	routerOpts := []command.Option{
		command.WithLogger(s.logger),
		command.WithMetrics(s.registry),
		command.WithTailTimeout(s.tailTimeout),
	}
	if s.bridge != nil {
		routerOpts = append(routerOpts, command.WithStorageBridge(s.bridge))
	}
	s.router = command.NewRouter(client, id.DeviceID, routerOpts...)

	s.detector = changedetect.New(client, id.DeviceID, s.push,
		changedetect.WithMode(s.mode),
		changedetect.WithLogger(s.logger),
		changedetect.WithMetrics(s.registry))

	conn.On(transport.EventRequestInitialState, s.whenRunning(s.onInitialState))
	conn.On(transport.EventDeviceRequest, s.whenRunning(s.onDeviceRequest))
	conn.On(transport.EventQueryAction, s.whenRunning(s.onQueryAction))
	conn.On(transport.EventOnlineManager, s.whenRunning(s.onOnlineManager))
	return s, nil
}

func (s *Session) buildStorage() error {
	if len(s.storages) == 0 {
		return nil
	}

	backends := make(map[storagebridge.Namespace]storagebridge.Backend, len(s.storages))
	for _, st := range s.storages {
		if _, dup := backends[st.Namespace]; dup {
			return errors.WrapInvalid(fmt.Errorf("namespace %q configured twice", st.Namespace),
				"Session", "New", "configure storage")
		}
		backends[st.Namespace] = st.Backend

		w, err := s.watcherFor(st)
		if err != nil {
			return err
		}
		s.watchers = append(s.watchers, w)
	}

	bridge, err := storagebridge.New(s.client, backends,
		storagebridge.WithLogger(s.logger),
		storagebridge.WithMetrics(s.registry))
	if err != nil {
		return err
	}
	s.bridge = bridge
	return nil
}

func (s *Session) watcherFor(st Storage) (storagebridge.Watcher, error) {
	switch st.Backend.Kind {
	case storagebridge.KindMMKV:
		if b, ok := st.Backend.Instance.(storagebridge.ListenerBackend); ok {
			return storagebridge.NewListenerWatcher(s.client, st.Namespace, b, s.logger), nil
		}
	case storagebridge.KindAsync:
		if b, ok := st.Backend.Instance.(storagebridge.AsyncBackend); ok {
			return storagebridge.NewEnumeratingPoller(s.client, st.Namespace, b, st.PollInterval, s.logger), nil
		}
	case storagebridge.KindSecure:
		if b, ok := st.Backend.Instance.(storagebridge.SecureBackend); ok {
			return storagebridge.NewProbingPoller(s.client, st.Namespace, b, st.Keys, st.PollInterval, s.logger), nil
		}
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: %T as %q", errors.ErrUnsupportedBackend, st.Backend.Instance, st.Backend.Kind),
		"Session", "New", "build storage watcher")
}

// Identity returns the device identity.
func (s *Session) Identity() identity.Identity { return s.identity }

// Detector returns the change detector.
func (s *Session) Detector() *changedetect.Detector { return s.detector }

// Start starts the router, the storage watchers and the detector.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Session", "Start", "start session")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.router.Start(runCtx); err != nil {
		cancel()
		return err
	}

	for i, w := range s.watchers {
		if err := w.Start(runCtx); err != nil {
			for _, started := range s.watchers[:i] {
				started.Stop()
			}
			_ = s.router.Stop(s.stopTimeout)
			cancel()
			return errors.WrapTransient(err, "Session", "Start", "start storage watcher")
		}
	}

	if err := s.detector.Start(); err != nil {
		for _, w := range s.watchers {
			w.Stop()
		}
		_ = s.router.Stop(s.stopTimeout)
		cancel()
		return err
	}

	s.cancel = cancel
	s.running = true
	s.logger.Info("session started",
		"deviceId", s.identity.DeviceID,
		"mode", s.mode,
		"storageNamespaces", len(s.watchers))
	return nil
}

// Stop stops every component. It is safe to call more than once.
func (s *Session) Stop() error {
	s.lifecycleMu.Lock()
	if !s.running {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.lifecycleMu.Unlock()

	s.detector.Stop()
	for _, w := range s.watchers {
		w.Stop()
	}
	err := s.router.Stop(s.stopTimeout)
	cancel()

	s.logger.Info("session stopped", "deviceId", s.identity.DeviceID)
	return err
}

func (s *Session) isRunning() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.running
}

func (s *Session) whenRunning(h transport.Handler) transport.Handler {
	return func(ctx context.Context, f transport.Frame) {
		if !s.isRunning() {
			s.logger.Debug("event ignored before start", "event", f.Type)
			return
		}
		h(ctx, f)
	}
}

func (s *Session) onInitialState(context.Context, transport.Frame) {
	s.detector.Force()
}

func (s *Session) onDeviceRequest(ctx context.Context, _ transport.Frame) {
	s.emit(ctx, transport.EventDeviceInfo, DeviceInfo{DeviceName: s.identity.DeviceName})
}

func (s *Session) onQueryAction(ctx context.Context, f transport.Frame) {
	var msg command.Message
	if err := f.Decode(&msg); err != nil {
		s.logger.Warn("malformed query action", "error", err)
		return
	}
	s.router.Handle(ctx, msg)
}

func (s *Session) onOnlineManager(ctx context.Context, f transport.Frame) {
	var msg command.OnlineManagerMessage
	if err := f.Decode(&msg); err != nil {
		s.logger.Warn("malformed online manager command", "error", err)
		return
	}
	s.router.HandleOnlineManager(ctx, msg)
}

func (s *Session) push(msg snapshot.SyncMessage) {
	s.emit(context.Background(), transport.EventQuerySync, msg)
}

func (s *Session) emit(ctx context.Context, event string, payload any) {
	ctx, cancel := context.WithTimeout(ctx, s.emitTimeout)
	defer cancel()

	err := s.conn.Emit(ctx, event, payload)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrNotConnected):
		s.logger.Debug("event not sent while disconnected", "event", event)
	default:
		s.logger.Warn("event send failed", "event", event, "error", err)
	}
}

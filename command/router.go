package command

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/worker"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/storagebridge"
)

// Command outcomes reported in metrics.
const (
	OutcomeOK       = "ok"
	OutcomeIgnored  = "ignored"
	OutcomeNotFound = "not_found"
	OutcomeUnknown  = "unknown"
	OutcomeFailed   = "failed"
)

const (
	defaultTailWorkers = 4
	defaultTailQueue   = 256
	defaultTailTimeout = 2 * time.Minute
)

// StorageBridge applies writes to mirrored storage keys.
type StorageBridge interface {
	Update(ctx context.Context, key querycache.Key, data any) error
	Remove(ctx context.Context, key querycache.Key) error
}

// tail is deferred work started by a handler.
type tail struct {
	action Action
	hash   string
	run    func(ctx context.Context) error
}

// Router dispatches inspector commands to handlers.
type Router struct {
	client   *querycache.Client
	deviceID string
	bridge   StorageBridge
	logger   *slog.Logger
	metrics  *metric.Metrics
	now      func() time.Time

	tails       *worker.Pool[tail]
	tailWorkers int
	tailQueue   int
	tailTimeout time.Duration
	registry    *metric.MetricsRegistry
}

// Option configures a Router.
type Option func(*Router)

// WithStorageBridge routes writes to ["#storage", ...] keys through b.
func WithStorageBridge(b StorageBridge) Option {
	return func(r *Router) {
		r.bridge = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records command outcomes and tail pool metrics. A nil
// registry disables metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Router) {
		if registry != nil {
			r.registry = registry
			r.metrics = registry.CoreMetrics()
		}
	}
}

// WithTailPool sizes the worker pool that runs handler tails.
func WithTailPool(workers, queue int) Option {
	return func(r *Router) {
		r.tailWorkers = workers
		r.tailQueue = queue
	}
}

// WithTailTimeout bounds how long a tail may wait on a fetch or backend.
func WithTailTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.tailTimeout = d
		}
	}
}

// WithClock overrides the clock used to stamp data updates.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router for the device with id deviceID.
func NewRouter(client *querycache.Client, deviceID string, opts ...Option) *Router {
	r := &Router{
		client:      client,
		deviceID:    deviceID,
		logger:      slog.Default(),
		now:         time.Now,
		tailWorkers: defaultTailWorkers,
		tailQueue:   defaultTailQueue,
		tailTimeout: defaultTailTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	poolOpts := []worker.Option[tail]{
		worker.WithLogger[tail](r.logger),
		worker.WithErrorHandler(func(t tail, err error) {
			r.logger.Warn("command tail failed", "action", t.action, "queryHash", t.hash, "error", err)
		}),
	}
	if r.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[tail](r.registry, "command_tails"))
	}
	r.tails = worker.NewPool(r.tailWorkers, r.tailQueue, r.runTail, poolOpts...)
	return r
}

// Start launches the tail workers.
func (r *Router) Start(ctx context.Context) error {
	if err := r.tails.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "Router", "Start", "start tail pool")
	}
	return nil
}

// Stop waits up to timeout for running tails.
func (r *Router) Stop(timeout time.Duration) error {
	return r.tails.Stop(timeout)
}

// DeviceID returns the id commands are matched against.
func (r *Router) DeviceID() string { return r.deviceID }

func (r *Router) runTail(ctx context.Context, t tail) error {
	ctx, cancel := context.WithTimeout(ctx, r.tailTimeout)
	defer cancel()
	return t.run(ctx)
}

func (r *Router) submit(action Action, hash string, run func(ctx context.Context) error) {
	if err := r.tails.Submit(tail{action: action, hash: hash, run: run}); err != nil {
		r.logger.Warn("command tail dropped", "action", action, "queryHash", hash, "error", err)
	}
}

// targeted reports whether a command addressed to target is for this device.
func (r *Router) targeted(target string) bool {
	return target == AllDevices || target == r.deviceID
}

// Handle runs one query-action command. It never returns an error and never
// panics; failures are logged.
func (r *Router) Handle(ctx context.Context, msg Message) {
	start := time.Now()
	err := r.safely(msg.Action, msg.QueryHash, func() error {
		return r.dispatch(ctx, msg)
	})
	r.finish(msg.Action, msg.QueryHash, err, time.Since(start))
}

// HandleOnlineManager runs one online-manager command.
func (r *Router) HandleOnlineManager(ctx context.Context, msg OnlineManagerMessage) {
	start := time.Now()
	err := r.safely(msg.Action, "", func() error {
		if !r.targeted(msg.TargetDeviceID) {
			return fmt.Errorf("%w: target %q", errors.ErrNotTargeted, msg.TargetDeviceID)
		}
		return r.setOnline(msg.Action)
	})
	r.finish(msg.Action, "", err, time.Since(start))
}

func (r *Router) safely(action Action, hash string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("command handler panicked",
				"action", action, "queryHash", hash, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("command %s panicked: %v", action, rec)
		}
	}()
	return fn()
}

func (r *Router) finish(action Action, hash string, err error, elapsed time.Duration) {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrNotTargeted):
		outcome = OutcomeIgnored
		r.logger.Debug("command ignored", "action", action, "queryHash", hash, "reason", err)
	case stderrors.Is(err, errors.ErrQueryNotFound):
		outcome = OutcomeNotFound
		r.logger.Warn("command target not found", "action", action, "queryHash", hash)
	case stderrors.Is(err, errors.ErrUnknownAction):
		outcome = OutcomeUnknown
		r.logger.Warn("unknown command action", "action", action, "queryHash", hash)
	default:
		outcome = OutcomeFailed
		r.logger.Error("command failed", "action", action, "queryHash", hash, "error", err)
	}
	if err == nil {
		r.logger.Debug("command handled", "action", action, "queryHash", hash)
	}
	if r.metrics != nil {
		r.metrics.RecordCommand(string(action), outcome, elapsed)
	}
}

// dispatch applies the targeting, clear and resolution steps and runs the
// handler for msg.
func (r *Router) dispatch(ctx context.Context, msg Message) error {
	if !r.targeted(msg.DeviceID) {
		return fmt.Errorf("%w: target %q", errors.ErrNotTargeted, msg.DeviceID)
	}

	switch msg.Action {
	case ActionClearMutationCache:
		r.client.MutationCache().Clear()
		return nil
	case ActionClearQueryCache:
		r.client.QueryCache().Clear()
		return nil
	case ActionOnlineManagerOnline, ActionOnlineManagerOffline:
		return r.setOnline(msg.Action)
	}

	q, ok := r.client.QueryCache().Get(msg.QueryHash)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrQueryNotFound, msg.QueryHash)
	}

	h, ok := handlers[msg.Action]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownAction, msg.Action)
	}
	return h(ctx, r, q, msg)
}

func (r *Router) setOnline(action Action) error {
	switch action {
	case ActionOnlineManagerOnline:
		r.client.OnlineManager().SetOnline(true)
	case ActionOnlineManagerOffline:
		r.client.OnlineManager().SetOnline(false)
	default:
		return fmt.Errorf("%w: %s", errors.ErrUnknownAction, action)
	}
	return nil
}

func (r *Router) storageTarget(key querycache.Key) bool {
	return r.bridge != nil && storagebridge.IsStorageKey(key)
}

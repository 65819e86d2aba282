// Package changedetect decides when a cache change should be pushed to the
// inspector.
//
// A Detector subscribes to the cache's batched notification stream. In
// ModeUnconditional every batch is dehydrated and pushed. In ModeStrict a
// Comparator suppresses batches that left every relevant query field
// unchanged, which keeps fan-out channels quiet under high-frequency no-op
// notifications.
package changedetect

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/snapshot"
)

// Mode selects the push policy.
type Mode string

// Push policies
const (
	ModeUnconditional Mode = "unconditional"
	ModeStrict        Mode = "strict"
)

// ParseMode validates a mode name. Empty selects ModeUnconditional.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeUnconditional:
		return ModeUnconditional, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", errors.WrapInvalid(fmt.Errorf("unknown detector mode %q", s),
			"changedetect", "ParseMode", "parse mode")
	}
}

// PushFunc delivers a sync message.
type PushFunc func(msg snapshot.SyncMessage)

// Detector watches a client and pushes sync messages.
type Detector struct {
	client   *querycache.Client
	deviceID string
	mode     Mode
	push     PushFunc
	cmp      *Comparator
	metrics  *metric.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	unsubscribe []func()
}

// Option configures a Detector.
type Option func(*Detector)

// WithMode sets the push policy.
func WithMode(mode Mode) Option {
	return func(d *Detector) { d.mode = mode }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records pushes and suppressions. A nil registry disables it.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Detector) {
		if registry != nil {
			d.metrics = registry.CoreMetrics()
		}
	}
}

// New creates a detector. It does nothing until Start.
func New(client *querycache.Client, deviceID string, push PushFunc, opts ...Option) *Detector {
	d := &Detector{
		client:   client,
		deviceID: deviceID,
		mode:     ModeUnconditional,
		push:     push,
		cmp:      NewComparator(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mode returns the push policy.
func (d *Detector) Mode() Mode { return d.mode }

// Start subscribes to the client's query, mutation and online events.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unsubscribe != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Detector", "Start", "subscribe")
	}
	d.unsubscribe = []func(){
		d.client.Subscribe(func([]querycache.Event) { d.evaluate() }),
		d.client.OnlineManager().Subscribe(func(bool) { d.evaluate() }),
	}
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (d *Detector) Stop() {
	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

// Force pushes the current state regardless of mode and makes it the
// strict baseline.
func (d *Detector) Force() {
	msg := snapshot.NewSyncMessage(d.client, d.deviceID)
	d.cmp.Seed(msg)
	d.send(msg)
}

func (d *Detector) evaluate() {
	msg := snapshot.NewSyncMessage(d.client, d.deviceID)

	if d.mode == ModeStrict && !d.cmp.Changed(msg) {
		d.logger.Debug("cache notification suppressed", "queries", len(msg.State.Queries))
		if d.metrics != nil {
			d.metrics.RecordSuppressed()
		}
		return
	}
	d.send(msg)
}

func (d *Detector) send(msg snapshot.SyncMessage) {
	d.logger.Debug("pushing query sync",
		"mode", d.mode,
		"queries", len(msg.State.Queries),
		"mutations", len(msg.State.Mutations))
	if d.metrics != nil {
		d.metrics.RecordPush(string(d.mode), len(msg.State.Queries))
	}
	d.push(msg)
}

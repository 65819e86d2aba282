package storagebridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/querycache"
)

// Write outcomes reported in logs and metrics.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Bridge applies inspector writes to storage backends and keeps the
// mirrored cache entries consistent with them.
type Bridge struct {
	client  *querycache.Client
	writers map[Namespace]Writer
	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records write outcomes. A nil registry disables it.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// New creates a bridge over the given backends.
func New(client *querycache.Client, backends map[Namespace]Backend, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		client:  client,
		writers: make(map[Namespace]Writer, len(backends)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	for ns, backend := range backends {
		if !ns.Valid() {
			return nil, errors.WrapInvalid(fmt.Errorf("unknown namespace %q", ns),
				"Bridge", "New", "register backend")
		}
		w, err := NewWriter(backend)
		if err != nil {
			return nil, err
		}
		b.writers[ns] = w
	}
	return b, nil
}

// Update writes data to the backend behind key and invalidates the mirrored
// entry so it is re-read. When the backend write fails the value is written
// to the cache only; the entry then diverges from the backend until the next
// poll reconciles it. Only an invalid key is returned as an error.
func (b *Bridge) Update(ctx context.Context, key querycache.Key, data any) error {
	ns, name, err := ParseStorageKey(key)
	if err != nil {
		return errors.WrapInvalid(err, "Bridge", "Update", "parse storage key")
	}

	if err := b.write(ctx, ns, name, data); err != nil {
		b.logger.Warn("storage write failed, degraded to cache-only write",
			"namespace", ns, "key", name, "error", err)
		b.client.SetQueryData(key, data, querycache.SetDataOptions{})
		b.record(ns, "set", OutcomeDegraded)
		return nil
	}

	b.logger.Debug("storage write applied", "namespace", ns, "key", name)
	b.client.InvalidateQueries(querycache.Filters{QueryKey: key, Exact: true})
	b.record(ns, "set", OutcomeOK)
	return nil
}

func (b *Bridge) write(ctx context.Context, ns Namespace, name string, data any) error {
	w, ok := b.writers[ns]
	if !ok {
		return fmt.Errorf("%w: no %s backend configured", errors.ErrBackendUnavailable, ns)
	}
	value, err := encode(data)
	if err != nil {
		return errors.WrapInvalid(err, "Bridge", "Update", "encode value")
	}
	return w.Set(ctx, name, value)
}

// Remove deletes key from its backend and then evicts the mirrored entry.
// When the backend delete fails both are left as they were.
func (b *Bridge) Remove(ctx context.Context, key querycache.Key) error {
	ns, name, err := ParseStorageKey(key)
	if err != nil {
		return errors.WrapInvalid(err, "Bridge", "Remove", "parse storage key")
	}

	w, ok := b.writers[ns]
	if !ok {
		err = fmt.Errorf("%w: no %s backend configured", errors.ErrBackendUnavailable, ns)
	} else {
		err = w.Delete(ctx, name)
	}
	if err != nil {
		b.logger.Warn("storage delete failed, entry left unchanged",
			"namespace", ns, "key", name, "error", err)
		b.record(ns, "delete", OutcomeFailed)
		return nil
	}

	b.client.RemoveQueries(querycache.Filters{QueryKey: key, Exact: true})
	b.record(ns, "delete", OutcomeOK)
	return nil
}

func (b *Bridge) record(ns Namespace, op, outcome string) {
	if b.metrics != nil {
		b.metrics.RecordStorageWrite(string(ns), op, outcome)
	}
}

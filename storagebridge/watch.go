package storagebridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/querycache"
)

// DefaultPollInterval is used when a poller is built with a zero interval.
const DefaultPollInterval = time.Second

// Watcher mirrors one namespace into the cache until stopped.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
}

// ListenerWatcher mirrors a ListenerBackend. It enumerates once at start and
// then relies on the backend's change listener.
type ListenerWatcher struct {
	backend ListenerBackend
	mirror  *mirror
	logger  *slog.Logger

	lifecycleMu sync.Mutex
	remove      func()
}

// NewListenerWatcher creates a watcher for ns.
func NewListenerWatcher(client *querycache.Client, ns Namespace, backend ListenerBackend, logger *slog.Logger) *ListenerWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListenerWatcher{
		backend: backend,
		mirror:  newMirror(client, ns, mmkvReader(backend), logger),
		logger:  logger,
	}
}

// Start tracks the current keys and subscribes to changes.
func (w *ListenerWatcher) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.remove != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "ListenerWatcher", "Start", "subscribe")
	}

	keys, err := w.backend.GetAllKeys(ctx)
	if err != nil {
		return errors.WrapTransient(err, "ListenerWatcher", "Start", "enumerate keys")
	}
	w.mirror.sync(keys)

	w.remove = w.backend.AddOnValueChangedListener(w.onChange)
	w.logger.Debug("storage listener started", "namespace", w.mirror.ns, "keys", len(keys))
	return nil
}

func (w *ListenerWatcher) onChange(key string) {
	if w.mirror.tracked(key) {
		w.mirror.invalidate(key)
		return
	}
	w.mirror.track(key)
}

// Stop unsubscribes and detaches every mirrored entry.
func (w *ListenerWatcher) Stop() {
	w.lifecycleMu.Lock()
	remove := w.remove
	w.remove = nil
	w.lifecycleMu.Unlock()

	if remove != nil {
		remove()
	}
	w.mirror.close()
}

// poller runs a fixed-interval reconciliation loop.
type poller struct {
	name      string
	mirror    *mirror
	interval  time.Duration
	enumerate func(ctx context.Context) ([]string, error)
	logger    *slog.Logger

	lifecycleMu sync.Mutex
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

func (p *poller) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.shutdown != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, p.name, "Start", "start polling")
	}
	p.shutdown = make(chan struct{})

	p.tick(ctx)

	p.wg.Add(1)
	go p.loop(ctx, p.shutdown)
	return nil
}

func (p *poller) Stop() {
	p.lifecycleMu.Lock()
	shutdown := p.shutdown
	p.shutdown = nil
	p.lifecycleMu.Unlock()

	if shutdown != nil {
		close(shutdown)
		p.wg.Wait()
	}
	p.mirror.close()
}

func (p *poller) loop(ctx context.Context, shutdown <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick re-enumerates. A changed key set invalidates the whole namespace;
// otherwise only keys whose stored value differs from the cache are
// invalidated.
func (p *poller) tick(ctx context.Context) {
	keys, err := p.enumerate(ctx)
	if err != nil {
		p.logger.Warn("storage poll failed", "poller", p.name, "namespace", p.mirror.ns, "error", err)
		return
	}

	if p.mirror.sync(keys) {
		p.logger.Debug("storage key set changed", "namespace", p.mirror.ns, "keys", len(keys))
		p.mirror.invalidateAll()
		return
	}

	for _, key := range keys {
		q, ok := p.mirror.client.QueryCache().Get(querycache.HashKey(StorageKey(p.mirror.ns, key)))
		if !ok || q.IsFetching() {
			continue
		}
		current, _, err := p.mirror.read(ctx, key)
		if err != nil {
			p.logger.Warn("storage read failed", "namespace", p.mirror.ns, "key", key, "error", err)
			continue
		}
		if !cmp.Equal(normalize(current), normalize(q.State().Data)) {
			p.mirror.invalidate(key)
		}
	}
}

// EnumeratingPoller mirrors an AsyncBackend by enumerating its keys.
type EnumeratingPoller struct {
	poller
}

// NewEnumeratingPoller creates a poller for ns.
func NewEnumeratingPoller(client *querycache.Client, ns Namespace, backend AsyncBackend,
	interval time.Duration, logger *slog.Logger) *EnumeratingPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &EnumeratingPoller{poller{
		name:      "EnumeratingPoller",
		mirror:    newMirror(client, ns, textReader(backend.GetItem), logger),
		interval:  interval,
		enumerate: backend.GetAllKeys,
		logger:    logger,
	}}
}

// ProbingPoller mirrors a SecureBackend restricted to a known key list.
// Existence is tested by reading each key.
type ProbingPoller struct {
	poller
}

// NewProbingPoller creates a poller for the given keys of ns.
func NewProbingPoller(client *querycache.Client, ns Namespace, backend SecureBackend, keys []string,
	interval time.Duration, logger *slog.Logger) *ProbingPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	known := append([]string(nil), keys...)
	enumerate := func(ctx context.Context) ([]string, error) {
		present := make([]string, 0, len(known))
		for _, key := range known {
			_, ok, err := backend.GetItemAsync(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				present = append(present, key)
			}
		}
		return present, nil
	}
	return &ProbingPoller{poller{
		name:      "ProbingPoller",
		mirror:    newMirror(client, ns, textReader(backend.GetItemAsync), logger),
		interval:  interval,
		enumerate: enumerate,
		logger:    logger,
	}}
}

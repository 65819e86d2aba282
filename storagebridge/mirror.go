package storagebridge

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/cachescope/querycache"
)

// mirror keeps one observed query per storage key of a namespace. The query
// function reads the backend, so invalidating an entry re-reads the key.
type mirror struct {
	client *querycache.Client
	ns     Namespace
	read   Reader
	logger *slog.Logger

	mu        sync.Mutex
	observers map[string]*querycache.Observer
}

func newMirror(client *querycache.Client, ns Namespace, read Reader, logger *slog.Logger) *mirror {
	return &mirror{
		client:    client,
		ns:        ns,
		read:      read,
		logger:    logger,
		observers: make(map[string]*querycache.Observer),
	}
}

func (m *mirror) queryFn(key string) querycache.QueryFunc {
	return func(ctx context.Context, _ querycache.FetchContext) (any, error) {
		value, _, err := m.read(ctx, key)
		return value, err
	}
}

func (m *mirror) track(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observers[key]; ok {
		return false
	}
	m.observers[key] = m.client.Observe(querycache.Options{
		QueryKey:  StorageKey(m.ns, key),
		QueryFn:   m.queryFn(key),
		Retry:     1,
		StaleTime: -1,
	})
	return true
}

func (m *mirror) tracked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.observers[key]
	return ok
}

func (m *mirror) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.observers))
	for k := range m.observers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sync makes the tracked key set equal to keys and reports whether it
// changed. Dropped keys are removed from the cache.
func (m *mirror) sync(keys []string) bool {
	want := make(map[string]bool, len(keys))
	changed := false
	for _, k := range keys {
		want[k] = true
		if m.track(k) {
			changed = true
		}
	}

	m.mu.Lock()
	var dropped []string
	for k, obs := range m.observers {
		if !want[k] {
			obs.Destroy()
			delete(m.observers, k)
			dropped = append(dropped, k)
		}
	}
	m.mu.Unlock()

	for _, k := range dropped {
		m.client.RemoveQueries(querycache.Filters{QueryKey: StorageKey(m.ns, k), Exact: true})
	}
	return changed || len(dropped) > 0
}

func (m *mirror) invalidate(key string) {
	m.client.InvalidateQueries(querycache.Filters{QueryKey: StorageKey(m.ns, key), Exact: true})
}

func (m *mirror) invalidateAll() {
	m.client.InvalidateQueries(querycache.Filters{QueryKey: NamespaceKey(m.ns)})
}

func (m *mirror) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, obs := range m.observers {
		obs.Destroy()
		delete(m.observers, k)
	}
}

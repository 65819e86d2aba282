package querycache

import (
	"sync"

	"github.com/c360/cachescope/pkg/cache"
)

// TypeFilter selects queries by activity.
type TypeFilter string

// Type filters
const (
	TypeAll      TypeFilter = "all"
	TypeActive   TypeFilter = "active"
	TypeInactive TypeFilter = "inactive"
)

// Filters select queries. The zero value matches every query.
type Filters struct {
	QueryKey  Key
	Exact     bool
	Type      TypeFilter
	Predicate func(*Query) bool
}

// Matches reports whether q satisfies the filters.
func (f Filters) Matches(q *Query) bool {
	if f.QueryKey != nil {
		if f.Exact {
			if HashKey(f.QueryKey) != q.Hash() {
				return false
			}
		} else if !PartialMatchKey(q.Key(), f.QueryKey) {
			return false
		}
	}

	switch f.Type {
	case TypeActive:
		if !q.IsActive() {
			return false
		}
	case TypeInactive:
		if q.IsActive() {
			return false
		}
	}

	if f.Predicate != nil && !f.Predicate(q) {
		return false
	}
	return true
}

// QueryCache holds all queries of a client in insertion order.
type QueryCache struct {
	client *Client
	mu     sync.Mutex
	store  cache.Cache[*Query]
}

func newQueryCache(client *Client, store cache.Cache[*Query]) *QueryCache {
	return &QueryCache{client: client, store: store}
}

// Build returns the query for opts, creating it when absent.
func (c *QueryCache) Build(opts Options) *Query {
	hash := opts.QueryHash
	if hash == "" {
		hash = HashKey(opts.QueryKey)
	}

	c.mu.Lock()
	if q, ok := c.store.Get(hash); ok {
		c.mu.Unlock()
		return q
	}
	opts.QueryHash = hash
	q := newQuery(c.client, hash, c.client.withDefaults(opts))
	if _, err := c.store.Set(hash, q); err != nil {
		c.client.logger.Warn("query cache rejected entry", "hash", hash, "error", err)
	}
	c.mu.Unlock()

	c.client.notifier.notify(Event{Type: EventAdded, Query: q})
	return q
}

// Get returns the query with the given hash.
func (c *QueryCache) Get(hash string) (*Query, bool) {
	return c.store.Get(hash)
}

// GetAll returns every query in insertion order.
func (c *QueryCache) GetAll() []*Query {
	return c.store.Values()
}

// Find returns the first query matching the filters. Key filters match
// exactly unless Exact is explicitly relaxed by using FindAll.
func (c *QueryCache) Find(f Filters) *Query {
	if f.QueryKey != nil {
		f.Exact = true
	}
	for _, q := range c.GetAll() {
		if f.Matches(q) {
			return q
		}
	}
	return nil
}

// FindAll returns the queries matching the filters.
func (c *QueryCache) FindAll(f Filters) []*Query {
	var out []*Query
	for _, q := range c.GetAll() {
		if f.Matches(q) {
			out = append(out, q)
		}
	}
	return out
}

// Remove deletes q from the cache. A stale reference to a replaced query
// is ignored.
func (c *QueryCache) Remove(q *Query) {
	c.mu.Lock()
	current, ok := c.store.Get(q.Hash())
	if !ok || current != q {
		c.mu.Unlock()
		return
	}
	q.destroy()
	if _, err := c.store.Delete(q.Hash()); err != nil {
		c.client.logger.Warn("query cache delete failed", "hash", q.Hash(), "error", err)
	}
	c.mu.Unlock()

	c.client.notifier.notify(Event{Type: EventRemoved, Query: q})
}

// Clear removes every query in one notification batch.
func (c *QueryCache) Clear() {
	c.client.notifier.batch(func() {
		for _, q := range c.GetAll() {
			c.Remove(q)
		}
	})
}

// Subscribe registers fn for query events. Batches without query events are
// not delivered.
func (c *QueryCache) Subscribe(fn Listener) func() {
	return c.client.notifier.subscribe(func(events []Event) {
		filtered := make([]Event, 0, len(events))
		for _, e := range events {
			if e.Query != nil {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) > 0 {
			fn(filtered)
		}
	})
}

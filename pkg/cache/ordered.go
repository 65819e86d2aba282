package cache

import (
	"container/list"
	"sync"

	"github.com/c360/cachescope/errors"
)

type orderedEntry[V any] struct {
	key   string
	value V
}

// orderedCache keeps entries in a linked list for ordering and a map for lookup.
type orderedCache[V any] struct {
	mu      sync.RWMutex
	order   *list.List
	items   map[string]*list.Element
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

func newOrderedCache[V any](opts *cacheOptions[V]) (*orderedCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newOrderedCache", "metrics registration")
		}
	}

	return &orderedCache[V]{
		order:   list.New(),
		items:   make(map[string]*list.Element),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *orderedCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	elem, exists := c.items[key]
	var value V
	if exists {
		value = elem.Value.(*orderedEntry[V]).value
	}
	c.mu.RUnlock()

	if exists {
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.hits.Inc()
		}
	} else {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
	}
	return value, exists
}

func (c *orderedCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	elem, exists := c.items[key]
	if exists {
		elem.Value.(*orderedEntry[V]).value = value
	} else {
		c.items[key] = c.order.PushBack(&orderedEntry[V]{key: key, value: value})
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.sets.Inc()
		c.metrics.size.Set(float64(size))
	}
	return !exists, nil
}

func (c *orderedCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	elem, exists := c.items[key]
	var entry *orderedEntry[V]
	if exists {
		entry = elem.Value.(*orderedEntry[V])
		c.order.Remove(elem)
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}

	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.deletes.Inc()
		c.metrics.size.Set(float64(size))
	}
	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

func (c *orderedCache[V]) Clear() error {
	c.mu.Lock()
	var removed []*orderedEntry[V]
	if c.evictFn != nil {
		for e := c.order.Front(); e != nil; e = e.Next() {
			removed = append(removed, e.Value.(*orderedEntry[V]))
		}
	}
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
	for _, entry := range removed {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

func (c *orderedCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *orderedCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*orderedEntry[V]).key)
	}
	return keys
}

func (c *orderedCache[V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	values := make([]V, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		values = append(values, e.Value.(*orderedEntry[V]).value)
	}
	return values
}

func (c *orderedCache[V]) Stats() *Statistics {
	return c.stats
}

func (c *orderedCache[V]) Close() error {
	return nil
}

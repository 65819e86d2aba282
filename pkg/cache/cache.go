// Package cache provides a thread-safe, insertion-ordered key/value store with
// always-on statistics and optional Prometheus metrics.
//
// The query cache keeps its queries here so that snapshots iterate entries in
// the order they were first added.
package cache

import (
	"github.com/c360/cachescope/errors"
)

// Cache is a generic keyed store. Implementations are safe for concurrent use.
type Cache[V any] interface {
	// Get retrieves a value by key.
	Get(key string) (V, bool)

	// Set stores a value. It reports true when a new entry was created.
	// Updating an existing key keeps its position in iteration order.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. It reports true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys in insertion order.
	Keys() []string

	// Values returns all values in insertion order.
	Values() []V

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases resources.
	Close() error
}

// EvictCallback is called with each entry removed by Delete or Clear.
type EvictCallback[V any] func(key string, value V)

// New creates an insertion-ordered cache.
func New[V any](opts ...Option[V]) (Cache[V], error) {
	return newOrderedCache(applyOptions(opts...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

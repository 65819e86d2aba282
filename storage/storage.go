// Package storage defines the byte-level key-value contract shared by every
// device storage backend, and adapts it to the three backend shapes the
// storage bridge consumes.
package storage

import (
	"context"
	stderrors "errors"

	"github.com/c360/cachescope/errors"
)

// ErrNotEnumerable is returned by List on stores that cannot list keys.
var ErrNotEnumerable = stderrors.New("store cannot enumerate keys")

// Store is a key-value backend. Implementations are safe for concurrent use.
type Store interface {
	// Put stores data at key, overwriting any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the value at key, or errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key with the given prefix in lexicographic order,
	// or ErrNotEnumerable.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Watchable is implemented by stores that can report changed keys. The
// channel closes when ctx ends.
type Watchable interface {
	Watch(ctx context.Context) (<-chan string, error)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrKeyNotFound)
}

// lookup turns a not-found error into ok=false.
func lookup(ctx context.Context, s Store, key string) (string, bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

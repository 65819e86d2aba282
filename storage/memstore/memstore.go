// Package memstore is an in-memory storage.Store with change notification
// and failure injection.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/storage"
)

var (
	_ storage.Store     = (*Store)(nil)
	_ storage.Watchable = (*Store)(nil)
)

// Store keeps values in a map.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	failPut  error
	failDel  error
	watchers map[chan string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:     make(map[string][]byte),
		watchers: make(map[chan string]struct{}),
	}
}

// FailWrites makes every Put fail with err until called with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}

// FailDeletes makes every Delete fail with err until called with nil.
func (s *Store) FailDeletes(err error) {
	s.mu.Lock()
	s.failDel = err
	s.mu.Unlock()
}

// Put stores a copy of data.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	if s.failPut != nil {
		err := s.failPut
		s.mu.Unlock()
		return err
	}
	s.data[key] = append([]byte(nil), data...)
	s.mu.Unlock()

	s.notify(key)
	return nil
}

// Get returns a copy of the value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("memstore get %s: %w", key, errors.ErrKeyNotFound)
	}
	return append([]byte(nil), v...), nil
}

// List returns keys with prefix, sorted.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if s.failDel != nil {
		err := s.failDel
		s.mu.Unlock()
		return err
	}
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	if existed {
		s.notify(key)
	}
	return nil
}

// Watch streams changed keys until ctx ends. Slow readers miss updates.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *Store) notify(key string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers {
		select {
		case ch <- key:
		default:
		}
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

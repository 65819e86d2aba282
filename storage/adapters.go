package storage

import (
	"context"
	"strconv"
	"sync"
)

// Async exposes a Store as an enumerable async key-value backend.
type Async struct {
	Store Store
}

// GetItem returns the value at key.
func (a Async) GetItem(ctx context.Context, key string) (string, bool, error) {
	return lookup(ctx, a.Store, key)
}

// SetItem stores value at key.
func (a Async) SetItem(ctx context.Context, key, value string) error {
	return a.Store.Put(ctx, key, []byte(value))
}

// RemoveItem deletes key.
func (a Async) RemoveItem(ctx context.Context, key string) error {
	return a.Store.Delete(ctx, key)
}

// GetAllKeys lists every key.
func (a Async) GetAllKeys(ctx context.Context) ([]string, error) {
	return a.Store.List(ctx, "")
}

// Secure exposes a Store as a backend without key enumeration.
type Secure struct {
	Store Store
}

// GetItemAsync returns the value at key.
func (s Secure) GetItemAsync(ctx context.Context, key string) (string, bool, error) {
	return lookup(ctx, s.Store, key)
}

// SetItemAsync stores value at key.
func (s Secure) SetItemAsync(ctx context.Context, key, value string) error {
	return s.Store.Put(ctx, key, []byte(value))
}

// DeleteItemAsync deletes key.
func (s Secure) DeleteItemAsync(ctx context.Context, key string) error {
	return s.Store.Delete(ctx, key)
}

// Listener exposes a Store as a backend with typed getters and a change
// listener. When the store is Watchable, external changes are reported;
// otherwise only writes made through the Listener are.
type Listener struct {
	store Store

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(string)
	cancel    context.CancelFunc
}

// NewListener wraps store. Watching starts with the first listener and
// stops when the last one is removed.
func NewListener(store Store) *Listener {
	return &Listener{store: store, listeners: make(map[int]func(string))}
}

// GetString returns the stored text.
func (l *Listener) GetString(ctx context.Context, key string) (string, bool, error) {
	return lookup(ctx, l.store, key)
}

// GetNumber parses the stored text as a number.
func (l *Listener) GetNumber(ctx context.Context, key string) (float64, bool, error) {
	s, ok, err := lookup(ctx, l.store, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// GetBoolean parses the stored text as a boolean.
func (l *Listener) GetBoolean(ctx context.Context, key string) (bool, bool, error) {
	s, ok, err := lookup(ctx, l.store, key)
	if err != nil || !ok {
		return false, false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false, nil
	}
	return b, true, nil
}

// Set stores value at key.
func (l *Listener) Set(ctx context.Context, key, value string) error {
	if err := l.store.Put(ctx, key, []byte(value)); err != nil {
		return err
	}
	l.localChange(key)
	return nil
}

// Delete removes key.
func (l *Listener) Delete(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return err
	}
	l.localChange(key)
	return nil
}

// GetAllKeys lists every key.
func (l *Listener) GetAllKeys(ctx context.Context) ([]string, error) {
	return l.store.List(ctx, "")
}

// AddOnValueChangedListener registers fn for changed keys.
func (l *Listener) AddOnValueChangedListener(fn func(key string)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	first := len(l.listeners) == 1
	l.mu.Unlock()

	if first {
		l.startWatch()
	}

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		last := len(l.listeners) == 0
		cancel := l.cancel
		if last {
			l.cancel = nil
		}
		l.mu.Unlock()

		if last && cancel != nil {
			cancel()
		}
	}
}

func (l *Listener) startWatch() {
	w, ok := l.store.(Watchable)
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	keys, err := w.Watch(ctx)
	if err != nil {
		cancel()
		return
	}

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		for key := range keys {
			l.emit(key)
		}
	}()
}

// localChange reports a write made through the Listener when the store
// will not report it itself.
func (l *Listener) localChange(key string) {
	if _, ok := l.store.(Watchable); ok {
		return
	}
	l.emit(key)
}

func (l *Listener) emit(key string) {
	l.mu.Lock()
	fns := make([]func(string), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

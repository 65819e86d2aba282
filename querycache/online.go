package querycache

import (
	"context"
	"sync"
)

// OnlineManager holds the process-wide network-online flag. Fetches pause
// while it reports offline and resume when it flips back.
type OnlineManager struct {
	mu        sync.Mutex
	online    bool
	onlineCh  chan struct{}
	nextID    int
	listeners map[int]func(bool)
}

// NewOnlineManager creates a manager that starts online.
func NewOnlineManager() *OnlineManager {
	ch := make(chan struct{})
	close(ch)
	return &OnlineManager{
		online:    true,
		onlineCh:  ch,
		listeners: make(map[int]func(bool)),
	}
}

// IsOnline reports the current flag.
func (m *OnlineManager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline changes the flag and notifies listeners when it changed.
func (m *OnlineManager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if online {
		close(m.onlineCh)
	} else {
		m.onlineCh = make(chan struct{})
	}
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

// Subscribe registers fn for flag changes.
func (m *OnlineManager) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// WaitOnline blocks until the manager is online or ctx ends.
func (m *OnlineManager) WaitOnline(ctx context.Context) error {
	m.mu.Lock()
	ch := m.onlineCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

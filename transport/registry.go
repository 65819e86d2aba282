package transport

import (
	"sync"

	"github.com/c360/cachescope/identity"
)

// Registry owns the single inspector client of a process. Sessions share
// it while URL and identity match; any other Acquire replaces it.
type Registry struct {
	mu      sync.Mutex
	current *entry
}

type entry struct {
	client *Client
	refs   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Acquire returns the live client when url and identity match it. Otherwise
// it creates a client for url and closes the previous one. Every Acquire
// must be paired with a Release.
func (r *Registry) Acquire(url string, id identity.Identity, opts ...Option) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.current; e != nil && e.client.URL() == url && e.client.Identity().Equal(id) {
		e.refs++
		return e.client, nil
	}

	client, err := NewClient(url, id, opts...)
	if err != nil {
		return nil, err
	}
	if prev := r.current; prev != nil {
		prev.client.logger.Info("inspector target changed, replacing client",
			"previous_url", prev.client.URL(), "url", url)
		_ = prev.client.Close()
	}
	r.current = &entry{client: client, refs: 1}
	return client, nil
}

// Release drops one reference to client and closes it when none remain.
// Releasing a replaced or unknown client closes it.
func (r *Registry) Release(client *Client) error {
	r.mu.Lock()
	e := r.current
	if e == nil || e.client != client {
		r.mu.Unlock()
		return client.Close()
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	r.current = nil
	r.mu.Unlock()
	return client.Close()
}

// Len returns the number of live clients, zero or one.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return 0
	}
	return 1
}

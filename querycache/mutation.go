package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/c360/cachescope/pkg/timestamp"
)

// MutationStatus is the lifecycle state of a mutation.
type MutationStatus string

// Mutation statuses
const (
	MutationIdle    MutationStatus = "idle"
	MutationPending MutationStatus = "pending"
	MutationSuccess MutationStatus = "success"
	MutationError   MutationStatus = "error"
)

// MutationState is the observable state of a mutation. SubmittedAt is Unix
// milliseconds.
type MutationState struct {
	Context       any
	Data          any
	Error         error
	FailureCount  int
	FailureReason error
	IsPaused      bool
	Status        MutationStatus
	Variables     any
	SubmittedAt   int64
}

// MutationScope serializes mutations sharing an ID.
type MutationScope struct {
	ID string
}

// MutationFunc performs a mutation.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// MutationOptions configure a mutation.
type MutationOptions struct {
	MutationKey Key
	MutationFn  MutationFunc
	Meta        map[string]any
	Scope       *MutationScope
	GCTime      time.Duration
}

// Mutation is one tracked write.
type Mutation struct {
	cache *MutationCache
	id    int

	mu      sync.Mutex
	options MutationOptions
	state   MutationState
}

// ID returns the cache-unique mutation id.
func (m *Mutation) ID() int { return m.id }

// Options returns the mutation options.
func (m *Mutation) Options() MutationOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options
}

// State returns a copy of the mutation state.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation) update(action string, fn func(*MutationState)) {
	m.mu.Lock()
	fn(&m.state)
	m.mu.Unlock()
	m.cache.client.notifier.notify(Event{Type: EventUpdated, Action: action, Mutation: m})
}

// Execute runs the mutation function with variables.
func (m *Mutation) Execute(ctx context.Context, variables any) (any, error) {
	fn := m.Options().MutationFn
	m.update("pending", func(s *MutationState) {
		s.Variables = variables
		s.Status = MutationPending
		s.SubmittedAt = timestamp.ToUnixMs(m.cache.client.now())
		s.IsPaused = !m.cache.client.online.IsOnline()
		s.Data = nil
		s.Error = nil
		s.FailureCount = 0
		s.FailureReason = nil
	})

	if fn == nil {
		err := ErrMissingMutationFn
		m.update("error", func(s *MutationState) {
			s.Error = err
			s.FailureCount++
			s.FailureReason = err
			s.Status = MutationError
			s.IsPaused = false
		})
		return nil, err
	}

	if err := m.cache.client.online.WaitOnline(ctx); err != nil {
		return nil, err
	}
	m.update("continue", func(s *MutationState) { s.IsPaused = false })

	data, err := fn(ctx, variables)
	if err != nil {
		m.update("error", func(s *MutationState) {
			s.Error = err
			s.FailureCount++
			s.FailureReason = err
			s.Status = MutationError
		})
		return nil, err
	}

	m.update("success", func(s *MutationState) {
		s.Data = data
		s.Error = nil
		s.FailureCount = 0
		s.FailureReason = nil
		s.Status = MutationSuccess
	})
	return data, nil
}

// MutationCache tracks mutations in creation order.
type MutationCache struct {
	client *Client

	mu        sync.Mutex
	nextID    int
	mutations []*Mutation
}

func newMutationCache(client *Client) *MutationCache {
	return &MutationCache{client: client}
}

// Build registers a new idle mutation.
func (c *MutationCache) Build(opts MutationOptions) *Mutation {
	c.mu.Lock()
	c.nextID++
	m := &Mutation{
		cache:   c,
		id:      c.nextID,
		options: opts,
		state:   MutationState{Status: MutationIdle},
	}
	c.mutations = append(c.mutations, m)
	c.mu.Unlock()

	c.client.notifier.notify(Event{Type: EventAdded, Mutation: m})
	return m
}

// GetAll returns all mutations in creation order.
func (c *MutationCache) GetAll() []*Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Mutation, len(c.mutations))
	copy(out, c.mutations)
	return out
}

// Remove deletes m from the cache.
func (c *MutationCache) Remove(m *Mutation) {
	c.mu.Lock()
	found := false
	for i, existing := range c.mutations {
		if existing == m {
			c.mutations = append(c.mutations[:i], c.mutations[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found {
		c.client.notifier.notify(Event{Type: EventRemoved, Mutation: m})
	}
}

// Clear removes every mutation in one notification batch.
func (c *MutationCache) Clear() {
	c.client.notifier.batch(func() {
		for _, m := range c.GetAll() {
			c.Remove(m)
		}
	})
}

// Subscribe registers fn for mutation events.
func (c *MutationCache) Subscribe(fn Listener) func() {
	return c.client.notifier.subscribe(func(events []Event) {
		filtered := make([]Event, 0, len(events))
		for _, e := range events {
			if e.Mutation != nil {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) > 0 {
			fn(filtered)
		}
	})
}

package querycache

import (
	"sync"
	"time"

	"github.com/c360/cachescope/pkg/timestamp"
)

// Query is one cache entry: a key, its options, its state and the observers
// watching it. All methods are safe for concurrent use.
type Query struct {
	client *Client
	key    Key
	hash   string

	mu        sync.Mutex
	options   Options
	state     State
	initial   State
	revert    State
	observers []*Observer
	control   *Control
	task      *FetchTask
	gcTimer   *time.Timer
}

func newQuery(client *Client, hash string, opts Options) *Query {
	initial := initialState(opts, client.now())
	q := &Query{
		client:  client,
		key:     opts.QueryKey,
		hash:    hash,
		options: opts,
		state:   initial.Clone(),
		initial: initial,
	}
	q.scheduleGC()
	return q
}

// Key returns the query key.
func (q *Query) Key() Key { return q.key }

// Hash returns the query hash.
func (q *Query) Hash() string { return q.hash }

// State returns a copy of the current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Clone()
}

// Options returns the current options.
func (q *Query) Options() Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// Meta returns the query meta from its options.
func (q *Query) Meta() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.Meta
}

// SetOptions replaces the query options. Key and hash are fixed.
func (q *Query) SetOptions(opts Options) {
	q.mu.Lock()
	q.setOptionsLocked(opts)
	q.mu.Unlock()
}

func (q *Query) setOptionsLocked(opts Options) {
	opts.QueryKey = q.key
	opts.QueryHash = q.hash
	q.options = opts
}

// Control returns a copy of the simulated-state bookkeeping, or nil.
func (q *Query) Control() *Control {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.control == nil {
		return nil
	}
	c := *q.control
	return &c
}

// SetControl replaces the simulated-state bookkeeping. Nil clears it.
func (q *Query) SetControl(c *Control) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.control = c
}

// ObserversCount returns the number of attached observers.
func (q *Query) ObserversCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// Observers returns the attached observers in attach order.
func (q *Query) Observers() []*Observer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Observer, len(q.observers))
	copy(out, q.observers)
	return out
}

// IsActive reports whether any attached observer is enabled.
func (q *Query) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.observers {
		if !o.Options().Disabled {
			return true
		}
	}
	return false
}

// IsDisabled reports whether the query has observers and none is enabled.
func (q *Query) IsDisabled() bool {
	return q.ObserversCount() > 0 && !q.IsActive()
}

// IsStale reports whether the data needs refetching: it is missing,
// invalidated or older than the stale time.
func (q *Query) IsStale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isStaleLocked(q.client.now())
}

func (q *Query) isStaleLocked(now time.Time) bool {
	if q.state.Data == nil || q.state.IsInvalidated {
		return true
	}
	staleTime := q.options.StaleTime
	if staleTime < 0 {
		return false
	}
	return timestamp.ToUnixMs(now)-q.state.DataUpdatedAt >= staleTime.Milliseconds()
}

// SetData writes data as if a fetch had succeeded. The fetch status is kept.
func (q *Query) SetData(data any, opts SetDataOptions) {
	updatedAt := opts.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = q.client.now()
	}

	q.mu.Lock()
	q.state.Data = data
	q.state.DataUpdateCount++
	q.state.DataUpdatedAt = timestamp.ToUnixMs(updatedAt)
	q.state.Error = nil
	q.state.IsInvalidated = false
	q.state.Status = StatusSuccess
	q.mu.Unlock()

	q.dispatch("success")
}

// SetState applies fn to a copy of the state and stores the result.
func (q *Query) SetState(fn func(*State)) {
	q.mu.Lock()
	next := q.state.Clone()
	fn(&next)
	q.state = next
	q.mu.Unlock()

	q.dispatch("setState")
}

// Invalidate marks the data stale without refetching.
func (q *Query) Invalidate() {
	q.mu.Lock()
	if q.state.IsInvalidated {
		q.mu.Unlock()
		return
	}
	q.state.IsInvalidated = true
	q.mu.Unlock()

	q.dispatch("invalidate")
}

// Reset silently cancels any fetch and returns the query to its initial
// state. A pending simulation is discarded and the options it replaced are
// put back, so the next fetch uses the real fetch function again.
func (q *Query) Reset() {
	q.Cancel(CancelOptions{Silent: true})

	q.mu.Lock()
	q.state = q.initial.Clone()
	restored := q.control != nil && q.control.PreviousOptions != nil
	if restored {
		q.setOptionsLocked(*q.control.PreviousOptions)
	}
	q.control = nil
	idle := len(q.observers) == 0
	q.mu.Unlock()

	if restored && idle {
		q.scheduleGC()
	}

	q.dispatch("setState")
}

func (q *Query) addObserver(o *Observer) {
	q.mu.Lock()
	for _, existing := range q.observers {
		if existing == o {
			q.mu.Unlock()
			return
		}
	}
	q.observers = append(q.observers, o)
	q.clearGCLocked()
	q.mu.Unlock()

	q.client.notifier.notify(Event{Type: EventObserverAdded, Query: q})
}

func (q *Query) removeObserver(o *Observer) {
	q.mu.Lock()
	found := false
	for i, existing := range q.observers {
		if existing == o {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			found = true
			break
		}
	}
	empty := len(q.observers) == 0
	q.mu.Unlock()

	if !found {
		return
	}
	if empty {
		q.scheduleGC()
	}
	q.client.notifier.notify(Event{Type: EventObserverRemoved, Query: q})
}

func (q *Query) dispatch(action string) {
	q.client.notifier.notify(Event{Type: EventUpdated, Action: action, Query: q})
}

func (q *Query) scheduleGC() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearGCLocked()
	gcTime := q.options.gcTime()
	if gcTime < 0 {
		return
	}
	q.gcTimer = time.AfterFunc(gcTime, q.optionalRemove)
}

func (q *Query) clearGCLocked() {
	if q.gcTimer != nil {
		q.gcTimer.Stop()
		q.gcTimer = nil
	}
}

func (q *Query) optionalRemove() {
	q.mu.Lock()
	removable := len(q.observers) == 0 && q.state.FetchStatus == FetchIdle
	q.mu.Unlock()

	if removable {
		q.client.queryCache.Remove(q)
	}
}

// destroy stops garbage collection and silently cancels any fetch.
func (q *Query) destroy() {
	q.mu.Lock()
	q.clearGCLocked()
	q.mu.Unlock()
	q.Cancel(CancelOptions{Silent: true})
}

package querycache

import "sync"

// Observer attaches a consumer to a query. While attached the query is not
// garbage collected, and an enabled observer marks the query active.
type Observer struct {
	client *Client
	query  *Query

	mu        sync.Mutex
	options   Options
	destroyed bool
}

// Observe attaches a new observer to the query for opts, creating the query
// if needed. Stale queries are fetched unless the observer is disabled.
func (c *Client) Observe(opts Options) *Observer {
	q := c.queryCache.Build(opts)
	if opts.QueryFn != nil && q.Options().QueryFn == nil {
		q.SetOptions(c.withDefaults(opts))
	}
	o := &Observer{client: c, query: q, options: q.Options()}
	o.options.Disabled = opts.Disabled
	o.options.StaleTime = opts.StaleTime
	q.addObserver(o)

	if !opts.Disabled && q.IsStale() {
		q.Fetch(nil, FetchOptions{})
	}
	return o
}

// Query returns the observed query.
func (o *Observer) Query() *Query { return o.query }

// Hash returns the observed query hash.
func (o *Observer) Hash() string { return o.query.Hash() }

// Options returns the observer options.
func (o *Observer) Options() Options {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.options
}

// SetDisabled toggles automatic fetching for this observer.
func (o *Observer) SetDisabled(disabled bool) {
	o.mu.Lock()
	o.options.Disabled = disabled
	o.mu.Unlock()
	o.client.notifier.notify(Event{Type: EventUpdated, Action: "observerOptionsUpdated", Query: o.query})
}

// Refetch cancels any in-flight fetch and starts a new one.
func (o *Observer) Refetch() *FetchTask {
	return o.query.Fetch(nil, FetchOptions{CancelRefetch: true})
}

// Destroy detaches the observer. Calling it twice is a no-op.
func (o *Observer) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.mu.Unlock()

	o.query.removeObserver(o)
}

package querycache

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/cache"
)

// Client owns a query cache, a mutation cache and the online manager, and
// provides the bulk operations used by applications and the inspector.
type Client struct {
	queryCache    *QueryCache
	mutationCache *MutationCache
	online        *OnlineManager
	notifier      *notifier
	logger        *slog.Logger
	defaults      Options
	clock         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger   *slog.Logger
	defaults Options
	clock    func() time.Time
	online   *OnlineManager
	registry *metric.MetricsRegistry
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDefaultOptions sets defaults merged into every new query.
func WithDefaultOptions(opts Options) ClientOption {
	return func(c *clientConfig) { c.defaults = opts }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *clientConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithOnlineManager shares an online manager between clients.
func WithOnlineManager(m *OnlineManager) ClientOption {
	return func(c *clientConfig) { c.online = m }
}

// WithMetricsRegistry exports query store statistics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) ClientOption {
	return func(c *clientConfig) { c.registry = registry }
}

// NewClient creates a client. Close it to stop in-flight fetches.
func NewClient(opts ...ClientOption) *Client {
	cfg := clientConfig{logger: slog.Default(), clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.online == nil {
		cfg.online = NewOnlineManager()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		online:   cfg.online,
		notifier: newNotifier(),
		logger:   cfg.logger,
		defaults: cfg.defaults,
		clock:    cfg.clock,
		ctx:      ctx,
		cancel:   cancel,
	}

	store, err := cache.New[*Query](cache.WithMetrics[*Query](cfg.registry, "queries"))
	if err != nil {
		// Only metric registration can fail; retry without it.
		c.logger.Warn("query store metrics disabled", "error", err)
		store, _ = cache.New[*Query]()
	}
	c.queryCache = newQueryCache(c, store)
	c.mutationCache = newMutationCache(c)
	return c
}

// Close cancels every in-flight fetch.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) now() time.Time { return c.clock() }

func (c *Client) withDefaults(opts Options) Options {
	d := c.defaults
	if opts.QueryFn == nil {
		opts.QueryFn = d.QueryFn
	}
	if opts.Retry == 0 {
		opts.Retry = d.Retry
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = d.RetryDelay
	}
	if opts.StaleTime == 0 {
		opts.StaleTime = d.StaleTime
	}
	if opts.GCTime == 0 {
		opts.GCTime = d.GCTime
	}
	return opts
}

// QueryCache returns the query cache.
func (c *Client) QueryCache() *QueryCache { return c.queryCache }

// MutationCache returns the mutation cache.
func (c *Client) MutationCache() *MutationCache { return c.mutationCache }

// OnlineManager returns the online manager.
func (c *Client) OnlineManager() *OnlineManager { return c.online }

// Subscribe registers fn for every cache event batch.
func (c *Client) Subscribe(fn Listener) func() {
	return c.notifier.subscribe(fn)
}

// Batch runs fn and delivers the events it raises as one batch.
func (c *Client) Batch(fn func()) {
	c.notifier.batch(fn)
}

// GetQueryData returns the data of the query with key, or nil.
func (c *Client) GetQueryData(key Key) any {
	q, ok := c.queryCache.Get(HashKey(key))
	if !ok {
		return nil
	}
	return q.State().Data
}

// SetQueryData writes data for key, creating the query when absent.
func (c *Client) SetQueryData(key Key, data any, opts SetDataOptions) {
	q := c.queryCache.Build(Options{QueryKey: key})
	q.SetData(data, opts)
}

// FetchQuery fetches key with opts and waits for the result. Fresh data is
// returned without a fetch.
func (c *Client) FetchQuery(ctx context.Context, opts Options) (any, error) {
	q := c.queryCache.Build(opts)
	if !q.IsStale() {
		return q.State().Data, nil
	}
	return q.Fetch(&opts, FetchOptions{}).Wait(ctx)
}

// InvalidateQueries marks matching queries invalidated and refetches the
// active ones.
func (c *Client) InvalidateQueries(f Filters) []*FetchTask {
	var matched []*Query
	c.Batch(func() {
		matched = c.queryCache.FindAll(f)
		for _, q := range matched {
			q.Invalidate()
		}
	})
	return c.refetch(matched, (*Query).IsActive)
}

// RefetchQueries refetches matching queries that are not disabled.
func (c *Client) RefetchQueries(f Filters) []*FetchTask {
	return c.refetch(c.queryCache.FindAll(f), func(q *Query) bool { return !q.IsDisabled() })
}

// ResetQueries resets matching queries to their initial state and refetches
// the active ones.
func (c *Client) ResetQueries(f Filters) []*FetchTask {
	var matched []*Query
	c.Batch(func() {
		matched = c.queryCache.FindAll(f)
		for _, q := range matched {
			q.Reset()
		}
	})
	return c.refetch(matched, (*Query).IsActive)
}

// RemoveQueries removes matching queries from the cache.
func (c *Client) RemoveQueries(f Filters) {
	c.Batch(func() {
		for _, q := range c.queryCache.FindAll(f) {
			c.queryCache.Remove(q)
		}
	})
}

// CancelQueries cancels fetches of matching queries, reverting their state.
func (c *Client) CancelQueries(f Filters) {
	c.Batch(func() {
		for _, q := range c.queryCache.FindAll(f) {
			q.Cancel(CancelOptions{Revert: true})
		}
	})
}

// Clear empties both caches.
func (c *Client) Clear() {
	c.Batch(func() {
		c.queryCache.Clear()
		c.mutationCache.Clear()
	})
}

func (c *Client) refetch(queries []*Query, eligible func(*Query) bool) []*FetchTask {
	var tasks []*FetchTask
	c.Batch(func() {
		for _, q := range queries {
			if !eligible(q) {
				continue
			}
			tasks = append(tasks, q.Fetch(nil, FetchOptions{CancelRefetch: true}))
		}
	})
	return tasks
}

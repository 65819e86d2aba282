package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient()
	t.Cleanup(c.Close)
	return c
}

func constFn(v any) QueryFunc {
	return func(context.Context, FetchContext) (any, error) { return v, nil }
}

// gatedFn blocks until release is closed, then returns v.
func gatedFn(release <-chan struct{}, v any) QueryFunc {
	return func(ctx context.Context, _ FetchContext) (any, error) {
		select {
		case <-release:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func wait(t *testing.T, task *FetchTask) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func TestQuery_FetchSuccess(t *testing.T) {
	c := newTestClient(t)
	q := c.QueryCache().Build(Options{QueryKey: Key{"todos"}, QueryFn: constFn([]string{"a"})})

	assert.Equal(t, StatusPending, q.State().Status)

	data, err := wait(t, q.Fetch(nil, FetchOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, data)

	state := q.State()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, FetchIdle, state.FetchStatus)
	assert.Equal(t, 1, state.DataUpdateCount)
	assert.NotZero(t, state.DataUpdatedAt)
	assert.False(t, q.IsFetching())
}

func TestQuery_FetchJoinsInFlight(t *testing.T) {
	c := newTestClient(t)
	release := make(chan struct{})
	var calls int32
	fn := func(ctx context.Context, fc FetchContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		return gatedFn(release, "v")(ctx, fc)
	}
	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, QueryFn: fn})

	first := q.Fetch(nil, FetchOptions{})
	second := q.Fetch(nil, FetchOptions{})
	assert.Same(t, first, second)
	assert.Equal(t, FetchFetching, q.State().FetchStatus)

	close(release)
	_, err := wait(t, first)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQuery_CancelRefetchReplacesTask(t *testing.T) {
	c := newTestClient(t)
	release := make(chan struct{})
	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, QueryFn: gatedFn(release, "v")})

	first := q.Fetch(nil, FetchOptions{})
	second := q.Fetch(nil, FetchOptions{CancelRefetch: true})
	assert.NotSame(t, first, second)

	_, err := wait(t, first)
	assert.True(t, IsCancelled(err))

	close(release)
	data, err := wait(t, second)
	require.NoError(t, err)
	assert.Equal(t, "v", data)
}

func TestQuery_MissingQueryFn(t *testing.T) {
	c := newTestClient(t)
	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}})

	_, err := wait(t, q.Fetch(nil, FetchOptions{}))
	assert.ErrorIs(t, err, ErrMissingQueryFn)

	state := q.State()
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorIs(t, state.Error, ErrMissingQueryFn)
	assert.Equal(t, FetchIdle, state.FetchStatus)
}

func TestQuery_FetchErrorAfterRetries(t *testing.T) {
	c := newTestClient(t)
	boom := errors.New("boom")
	q := c.QueryCache().Build(Options{
		QueryKey:   Key{"k"},
		Retry:      2,
		RetryDelay: time.Millisecond,
		QueryFn:    func(context.Context, FetchContext) (any, error) { return nil, boom },
	})

	_, err := wait(t, q.Fetch(nil, FetchOptions{}))
	require.Error(t, err)

	state := q.State()
	assert.Equal(t, StatusError, state.Status)
	assert.ErrorIs(t, state.Error, boom)
	assert.Equal(t, 1, state.ErrorUpdateCount)
	assert.Equal(t, 3, state.FetchFailureCount)
}

func TestQuery_Cancel(t *testing.T) {
	t.Run("revert restores previous state", func(t *testing.T) {
		c := newTestClient(t)
		c.SetQueryData(Key{"k"}, "old", SetDataOptions{})
		q, _ := c.QueryCache().Get(HashKey(Key{"k"}))

		q.Fetch(&Options{QueryFn: gatedFn(make(chan struct{}), "new")}, FetchOptions{})
		require.Equal(t, FetchFetching, q.State().FetchStatus)

		q.Cancel(CancelOptions{Revert: true})
		state := q.State()
		assert.Equal(t, "old", state.Data)
		assert.Equal(t, StatusSuccess, state.Status)
		assert.Equal(t, FetchIdle, state.FetchStatus)
	})

	t.Run("non-silent records cancellation", func(t *testing.T) {
		c := newTestClient(t)
		q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, QueryFn: gatedFn(make(chan struct{}), "v")})
		q.Fetch(nil, FetchOptions{})

		q.Cancel(CancelOptions{})
		state := q.State()
		assert.Equal(t, StatusError, state.Status)
		assert.True(t, IsCancelled(state.Error))
	})

	t.Run("silent leaves state untouched", func(t *testing.T) {
		c := newTestClient(t)
		q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, QueryFn: gatedFn(make(chan struct{}), "v")})
		task := q.Fetch(nil, FetchOptions{})

		q.Cancel(CancelOptions{Silent: true})
		assert.Equal(t, FetchFetching, q.State().FetchStatus)
		assert.False(t, q.IsFetching())

		_, err := wait(t, task)
		assert.True(t, IsCancelled(err))
	})
}

func TestQuery_ResetAndInvalidate(t *testing.T) {
	c := newTestClient(t)
	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, InitialData: "seed"})
	assert.Equal(t, StatusSuccess, q.State().Status)

	q.SetData("changed", SetDataOptions{})
	q.Invalidate()
	assert.True(t, q.State().IsInvalidated)
	assert.True(t, q.IsStale())

	q.SetControl(&Control{PreviousState: &State{}})
	q.Reset()
	state := q.State()
	assert.Equal(t, "seed", state.Data)
	assert.False(t, state.IsInvalidated)
	assert.Nil(t, q.Control())
}

func TestQuery_StaleTime(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewClient(WithClock(func() time.Time { return now }))
	defer c.Close()

	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, StaleTime: time.Minute})
	q.SetData("v", SetDataOptions{})
	assert.False(t, q.IsStale())

	now = now.Add(2 * time.Minute)
	assert.True(t, q.IsStale())

	never := c.QueryCache().Build(Options{QueryKey: Key{"never"}, StaleTime: -1})
	never.SetData("v", SetDataOptions{})
	now = now.Add(time.Hour)
	assert.False(t, never.IsStale())
}

func TestQuery_PausesWhileOffline(t *testing.T) {
	c := newTestClient(t)
	c.OnlineManager().SetOnline(false)

	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, QueryFn: constFn("v")})
	task := q.Fetch(nil, FetchOptions{})
	assert.Equal(t, FetchPaused, q.State().FetchStatus)

	c.OnlineManager().SetOnline(true)
	data, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, "v", data)
	assert.Equal(t, FetchIdle, q.State().FetchStatus)
}

func TestQuery_GarbageCollection(t *testing.T) {
	c := newTestClient(t)
	obs := c.Observe(Options{QueryKey: Key{"k"}, QueryFn: constFn("v"), GCTime: 50 * time.Millisecond})
	require.Eventually(t, func() bool { return obs.Query().State().Status == StatusSuccess }, time.Second, time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	_, ok := c.QueryCache().Get(HashKey(Key{"k"}))
	assert.True(t, ok, "observed query must not be collected")

	obs.Destroy()
	require.Eventually(t, func() bool {
		_, ok := c.QueryCache().Get(HashKey(Key{"k"}))
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestQuery_NegativeGCTimeKeepsQuery(t *testing.T) {
	c := newTestClient(t)
	q := c.QueryCache().Build(Options{QueryKey: Key{"k"}, GCTime: -1})
	assert.Nil(t, q.gcTimer)
}

func TestClient_InvalidateRefetchesActiveOnly(t *testing.T) {
	c := newTestClient(t)
	var activeCalls, idleCalls int32

	obs := c.Observe(Options{QueryKey: Key{"todos", 1}, QueryFn: func(context.Context, FetchContext) (any, error) {
		atomic.AddInt32(&activeCalls, 1)
		return "a", nil
	}})
	defer obs.Destroy()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&activeCalls) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !obs.Query().IsFetching() }, time.Second, time.Millisecond)

	idle := c.QueryCache().Build(Options{QueryKey: Key{"todos", 2}, QueryFn: func(context.Context, FetchContext) (any, error) {
		atomic.AddInt32(&idleCalls, 1)
		return "b", nil
	}})

	tasks := c.InvalidateQueries(Filters{QueryKey: Key{"todos"}})
	require.Len(t, tasks, 1)
	_, err := wait(t, tasks[0])
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&activeCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&idleCalls))
	assert.True(t, idle.State().IsInvalidated)
	assert.False(t, obs.Query().State().IsInvalidated)
}

func TestClient_RemoveAndClear(t *testing.T) {
	c := newTestClient(t)
	c.SetQueryData(Key{"a"}, 1, SetDataOptions{})
	c.SetQueryData(Key{"b"}, 2, SetDataOptions{})
	c.MutationCache().Build(MutationOptions{})

	c.RemoveQueries(Filters{QueryKey: Key{"a"}, Exact: true})
	assert.Nil(t, c.GetQueryData(Key{"a"}))
	assert.Equal(t, 2, c.GetQueryData(Key{"b"}))

	c.Clear()
	assert.Empty(t, c.QueryCache().GetAll())
	assert.Empty(t, c.MutationCache().GetAll())
}

func TestQueryCache_InsertionOrderAndFind(t *testing.T) {
	c := newTestClient(t)
	for _, k := range []string{"c", "a", "b"} {
		c.QueryCache().Build(Options{QueryKey: Key{k}})
	}

	var hashes []string
	for _, q := range c.QueryCache().GetAll() {
		hashes = append(hashes, q.Hash())
	}
	assert.Equal(t, []string{`["c"]`, `["a"]`, `["b"]`}, hashes)

	assert.NotNil(t, c.QueryCache().Find(Filters{QueryKey: Key{"a"}}))
	assert.Nil(t, c.QueryCache().Find(Filters{QueryKey: Key{"z"}}))
	assert.Len(t, c.QueryCache().FindAll(Filters{Type: TypeInactive}), 3)
}

func TestNotifier_BatchDeliversOnce(t *testing.T) {
	c := newTestClient(t)
	var mu sync.Mutex
	var batches [][]Event
	unsubscribe := c.Subscribe(func(events []Event) {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
	})

	c.Batch(func() {
		c.SetQueryData(Key{"a"}, 1, SetDataOptions{})
		c.SetQueryData(Key{"b"}, 2, SetDataOptions{})
	})

	mu.Lock()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 4)
	assert.Equal(t, EventAdded, batches[0][0].Type)
	assert.Equal(t, "success", batches[0][1].Action)
	mu.Unlock()

	unsubscribe()
	c.SetQueryData(Key{"c"}, 3, SetDataOptions{})
	mu.Lock()
	assert.Len(t, batches, 1)
	mu.Unlock()
}

func TestNotifier_ReentrantEventsAreQueued(t *testing.T) {
	c := newTestClient(t)
	var order []string
	c.Subscribe(func(events []Event) {
		for _, e := range events {
			if e.Query == nil {
				continue
			}
			order = append(order, e.Query.Hash()+":"+string(e.Type))
			if e.Query.Hash() == `["a"]` && e.Type == EventAdded {
				c.QueryCache().Build(Options{QueryKey: Key{"b"}})
			}
		}
	})

	c.QueryCache().Build(Options{QueryKey: Key{"a"}})
	assert.Equal(t, []string{`["a"]:added`, `["b"]:added`}, order)
}

func TestMutation_Execute(t *testing.T) {
	c := newTestClient(t)
	m := c.MutationCache().Build(MutationOptions{
		MutationKey: Key{"addTodo"},
		MutationFn: func(_ context.Context, vars any) (any, error) {
			return vars.(string) + "!", nil
		},
	})
	assert.Equal(t, MutationIdle, m.State().Status)

	data, err := m.Execute(context.Background(), "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "buy milk!", data)

	state := m.State()
	assert.Equal(t, MutationSuccess, state.Status)
	assert.Equal(t, "buy milk", state.Variables)
	assert.NotZero(t, state.SubmittedAt)

	failing := c.MutationCache().Build(MutationOptions{})
	_, err = failing.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingMutationFn)
	assert.Equal(t, MutationError, failing.State().Status)
	assert.Equal(t, 2, failing.ID())
}

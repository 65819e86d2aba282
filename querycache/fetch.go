package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/c360/cachescope/pkg/retry"
	"github.com/c360/cachescope/pkg/timestamp"
)

const maxRetryDelay = 30 * time.Second

// FetchTask is the handle of one in-flight fetch. Concurrent Fetch calls
// join the same task.
type FetchTask struct {
	done   chan struct{}
	once   sync.Once
	data   any
	err    error
	cancel context.CancelFunc
}

func newFetchTask() *FetchTask {
	return &FetchTask{done: make(chan struct{})}
}

func (t *FetchTask) finish(data any, err error) {
	t.once.Do(func() {
		t.data = data
		t.err = err
		close(t.done)
	})
}

func (t *FetchTask) abort(err error) {
	if t.cancel != nil {
		t.cancel()
	}
	t.finish(nil, err)
}

// Done is closed when the task settles.
func (t *FetchTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task settles or ctx ends. A cancelled fetch returns
// a *CancelledError.
func (t *FetchTask) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.data, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch starts a fetch, or joins the one in flight. When opts is non-nil it
// replaces the query options first.
func (q *Query) Fetch(opts *Options, fo FetchOptions) *FetchTask {
	q.mu.Lock()
	if opts != nil {
		q.setOptionsLocked(*opts)
	}

	if q.task != nil {
		if !fo.CancelRefetch {
			task := q.task
			q.mu.Unlock()
			return task
		}
		q.task.abort(&CancelledError{Silent: true})
		q.task = nil
	}

	task := newFetchTask()
	current := q.options

	if current.QueryFn == nil {
		q.applyErrorLocked(ErrMissingQueryFn)
		q.mu.Unlock()
		task.finish(nil, ErrMissingQueryFn)
		q.dispatch("error")
		return task
	}

	q.revert = q.state.Clone()
	q.state.FetchFailureCount = 0
	q.state.FetchFailureReason = nil
	q.state.FetchMeta = nil
	q.state.FetchStatus = FetchFetching
	if !q.client.online.IsOnline() {
		q.state.FetchStatus = FetchPaused
	}
	if q.state.Data == nil {
		q.state.Status = StatusPending
		q.state.Error = nil
	}

	ctx, cancel := context.WithCancel(q.client.ctx)
	task.cancel = cancel
	q.task = task
	q.mu.Unlock()

	q.dispatch("fetch")
	go q.run(ctx, task, current)
	return task
}

func (q *Query) run(ctx context.Context, task *FetchTask, opts Options) {
	initialDelay := opts.retryDelay()
	cfg := retry.Config{
		MaxAttempts:  opts.retries() + 1,
		InitialDelay: initialDelay,
		MaxDelay:     max(maxRetryDelay, initialDelay),
		Multiplier:   2.0,
		OnRetry: func(attempt int, err error) {
			q.recordFailure(task, attempt, err)
		},
		Gate: func(ctx context.Context) error {
			return q.waitOnline(ctx, task)
		},
	}

	if err := q.waitOnline(ctx, task); err != nil {
		q.complete(task, nil, err)
		return
	}

	fc := FetchContext{QueryKey: q.key, Meta: opts.Meta}
	var lastErr error
	data, err := retry.DoWithResult(ctx, cfg, func() (any, error) {
		data, err := opts.QueryFn(ctx, fc)
		if err != nil {
			lastErr = err
		}
		return data, err
	})
	if err != nil && lastErr != nil {
		err = lastErr
	}
	q.complete(task, data, err)
}

// waitOnline parks the fetch while the online manager reports offline.
func (q *Query) waitOnline(ctx context.Context, task *FetchTask) error {
	if q.client.online.IsOnline() {
		return nil
	}
	if q.setFetchStatus(task, FetchPaused) {
		q.dispatch("pause")
	}
	if err := q.client.online.WaitOnline(ctx); err != nil {
		return err
	}
	if q.setFetchStatus(task, FetchFetching) {
		q.dispatch("continue")
	}
	return nil
}

func (q *Query) setFetchStatus(task *FetchTask, status FetchStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.task != task || q.state.FetchStatus == status {
		return false
	}
	q.state.FetchStatus = status
	return true
}

func (q *Query) recordFailure(task *FetchTask, attempt int, err error) {
	q.mu.Lock()
	if q.task != task {
		q.mu.Unlock()
		return
	}
	q.state.FetchFailureCount = attempt
	q.state.FetchFailureReason = err
	q.mu.Unlock()

	q.dispatch("failed")
}

func (q *Query) complete(task *FetchTask, data any, err error) {
	q.mu.Lock()
	if q.task != task {
		q.mu.Unlock()
		task.finish(data, err)
		return
	}
	q.task = nil

	action := "success"
	if err != nil {
		q.applyErrorLocked(err)
		action = "error"
	} else {
		q.state.Data = data
		q.state.DataUpdateCount++
		q.state.DataUpdatedAt = timestamp.ToUnixMs(q.client.now())
		q.state.Error = nil
		q.state.IsInvalidated = false
		q.state.Status = StatusSuccess
		q.state.FetchStatus = FetchIdle
		q.state.FetchFailureCount = 0
		q.state.FetchFailureReason = nil
	}
	q.mu.Unlock()

	task.finish(data, err)
	if task.cancel != nil {
		task.cancel()
	}
	q.dispatch(action)
	if q.ObserversCount() == 0 {
		q.scheduleGC()
	}
}

func (q *Query) applyErrorLocked(err error) {
	q.state.Error = err
	q.state.ErrorUpdateCount++
	q.state.ErrorUpdatedAt = timestamp.ToUnixMs(q.client.now())
	q.state.FetchFailureCount++
	q.state.FetchFailureReason = err
	q.state.FetchStatus = FetchIdle
	q.state.Status = StatusError
}

// Cancel stops the in-flight fetch, if any. Revert restores the state from
// before the fetch; otherwise a non-silent cancel records a CancelledError.
// A silent cancel leaves the state untouched.
func (q *Query) Cancel(opts CancelOptions) {
	q.mu.Lock()
	task := q.task
	if task == nil {
		q.mu.Unlock()
		return
	}
	q.task = nil

	cancelErr := &CancelledError{Silent: opts.Silent, Revert: opts.Revert}
	action := ""
	switch {
	case opts.Revert:
		q.state = q.revert.Clone()
		q.state.FetchStatus = FetchIdle
		action = "setState"
	case !opts.Silent:
		q.applyErrorLocked(cancelErr)
		action = "error"
	}
	q.mu.Unlock()

	task.abort(cancelErr)
	if action != "" {
		q.dispatch(action)
	}
}

// IsFetching reports whether a fetch is in flight.
func (q *Query) IsFetching() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.task != nil
}

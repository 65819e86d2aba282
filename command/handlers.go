package command

import (
	"context"
	stderrors "errors"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/pkg/timestamp"
	"github.com/c360/cachescope/querycache"
)

// ErrSimulated is the error shown by a query put into the error state by
// ACTION-TRIGGER-ERROR.
var ErrSimulated = stderrors.New("unknown error from devtools")

type handler func(ctx context.Context, r *Router, q *querycache.Query, msg Message) error

var handlers = map[Action]handler{
	ActionRefetch:         refetch,
	ActionInvalidate:      invalidate,
	ActionReset:           reset,
	ActionRemove:          remove,
	ActionDataUpdate:      dataUpdate,
	ActionDeleteDataField: deleteDataField,
	ActionTriggerLoading:  triggerLoading,
	ActionRestoreLoading:  restoreLoading,
	ActionTriggerError:    triggerError,
	ActionRestoreError:    restoreError,
}

func only(q *querycache.Query) querycache.Filters {
	return querycache.Filters{Predicate: func(c *querycache.Query) bool { return c == q }}
}

// awaitTasks waits for every task. Cancelled fetches are not failures.
func awaitTasks(ctx context.Context, tasks []*querycache.FetchTask) error {
	var errs []error
	for _, task := range tasks {
		if _, err := task.Wait(ctx); err != nil && !querycache.IsCancelled(err) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Router) awaitLater(action Action, q *querycache.Query, tasks []*querycache.FetchTask) {
	if len(tasks) == 0 {
		return
	}
	r.submit(action, q.Hash(), func(ctx context.Context) error {
		return awaitTasks(ctx, tasks)
	})
}

func refetch(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	task := q.Fetch(nil, querycache.FetchOptions{})
	r.awaitLater(msg.Action, q, []*querycache.FetchTask{task})
	return nil
}

func invalidate(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	r.awaitLater(msg.Action, q, r.client.InvalidateQueries(only(q)))
	return nil
}

func reset(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	r.awaitLater(msg.Action, q, r.client.ResetQueries(only(q)))
	return nil
}

func remove(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	if r.storageTarget(q.Key()) {
		key := q.Key()
		r.submit(msg.Action, q.Hash(), func(ctx context.Context) error {
			return r.bridge.Remove(ctx, key)
		})
		return nil
	}
	r.client.QueryCache().Remove(q)
	return nil
}

func dataUpdate(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	if r.storageTarget(q.Key()) {
		key, data := q.Key(), msg.Data
		r.submit(msg.Action, q.Hash(), func(ctx context.Context) error {
			return r.bridge.Update(ctx, key, data)
		})
		return nil
	}
	q.SetData(msg.Data, querycache.SetDataOptions{UpdatedAt: r.now()})
	return nil
}

func deleteDataField(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	path, err := fieldPath(msg.Data)
	if err != nil {
		return errors.WrapInvalid(err, "Router", "deleteDataField", "read field path")
	}
	updated, err := deleteAtPath(q.State().Data, path)
	if err != nil {
		return errors.WrapInvalid(err, "Router", "deleteDataField", "delete field")
	}
	if r.storageTarget(q.Key()) {
		key := q.Key()
		r.submit(msg.Action, q.Hash(), func(ctx context.Context) error {
			return r.bridge.Update(ctx, key, updated)
		})
		return nil
	}
	q.SetData(updated, querycache.SetDataOptions{UpdatedAt: r.now()})
	return nil
}

// stash records the query's options and state in its control block unless
// a simulation already did.
func stash(q *querycache.Query) {
	ctrl := q.Control()
	if ctrl == nil {
		ctrl = &querycache.Control{}
	}
	if ctrl.PreviousOptions == nil {
		opts := q.Options()
		ctrl.PreviousOptions = &opts
	}
	if ctrl.PreviousState == nil {
		state := q.State()
		ctrl.PreviousState = &state
	}
	q.SetControl(ctrl)
}

// parked never settles on its own; it returns only when its fetch is
// cancelled.
func parked(ctx context.Context, _ querycache.FetchContext) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func triggerLoading(_ context.Context, _ *Router, q *querycache.Query, _ Message) error {
	stash(q)

	opts := q.Options()
	opts.QueryFn = parked
	opts.GCTime = -1
	opts.Retry = querycache.NoRetry
	q.Fetch(&opts, querycache.FetchOptions{CancelRefetch: true})

	q.SetState(func(s *querycache.State) {
		s.Data = nil
		s.Error = nil
		s.Status = querycache.StatusPending
	})
	return nil
}

func restoreLoading(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	ctrl := q.Control()
	q.Cancel(querycache.CancelOptions{Silent: true})

	if ctrl == nil {
		q.SetState(func(s *querycache.State) {
			s.FetchStatus = querycache.FetchIdle
			s.FetchMeta = nil
		})
		return nil
	}

	if ctrl.PreviousOptions != nil {
		q.SetOptions(*ctrl.PreviousOptions)
	}
	q.SetState(func(s *querycache.State) {
		if ctrl.PreviousState != nil {
			*s = ctrl.PreviousState.Clone()
		}
		s.FetchStatus = querycache.FetchIdle
		s.FetchMeta = nil
	})
	q.SetControl(nil)

	if ctrl.PreviousOptions != nil && ctrl.PreviousOptions.QueryFn != nil {
		task := q.Fetch(nil, querycache.FetchOptions{})
		r.awaitLater(msg.Action, q, []*querycache.FetchTask{task})
	}
	return nil
}

func triggerError(_ context.Context, r *Router, q *querycache.Query, _ Message) error {
	stash(q)

	now := timestamp.ToUnixMs(r.now())
	q.SetState(func(s *querycache.State) {
		s.Status = querycache.StatusError
		s.Error = ErrSimulated
		s.ErrorUpdateCount++
		s.ErrorUpdatedAt = now
	})
	return nil
}

func restoreError(_ context.Context, r *Router, q *querycache.Query, msg Message) error {
	r.awaitLater(msg.Action, q, r.client.ResetQueries(only(q)))
	return nil
}

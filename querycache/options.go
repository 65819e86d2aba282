package querycache

import (
	"context"
	"time"
)

// DefaultGCTime is how long an unobserved query stays cached.
const DefaultGCTime = 5 * time.Minute

// NoRetry disables fetch retries when set as Options.Retry.
const NoRetry = -1

// FetchContext is passed to a QueryFunc.
type FetchContext struct {
	QueryKey Key
	Meta     map[string]any
}

// QueryFunc loads the data for a query. It must honour ctx cancellation.
type QueryFunc func(ctx context.Context, fc FetchContext) (any, error)

// Options configure a query and its observers.
type Options struct {
	QueryKey  Key
	QueryHash string
	QueryFn   QueryFunc

	// Retry is the number of retries after a failed fetch. Zero means the
	// default of three; NoRetry disables retrying.
	Retry      int
	RetryDelay time.Duration

	// StaleTime is how long data stays fresh. Negative means never stale.
	StaleTime time.Duration
	// GCTime is how long an unobserved query is kept. Zero means
	// DefaultGCTime; negative disables collection.
	GCTime time.Duration

	InitialData          any
	InitialDataUpdatedAt time.Time

	// Disabled stops observers from fetching automatically.
	Disabled bool
	Meta     map[string]any
}

func (o Options) gcTime() time.Duration {
	if o.GCTime == 0 {
		return DefaultGCTime
	}
	return o.GCTime
}

func (o Options) retries() int {
	switch {
	case o.Retry < 0:
		return 0
	case o.Retry == 0:
		return 3
	default:
		return o.Retry
	}
}

func (o Options) retryDelay() time.Duration {
	if o.RetryDelay <= 0 {
		return time.Second
	}
	return o.RetryDelay
}

// FetchOptions tune a single Fetch call.
type FetchOptions struct {
	// CancelRefetch cancels an in-flight fetch silently and starts a new one
	// instead of joining it.
	CancelRefetch bool
}

// CancelOptions tune Cancel.
type CancelOptions struct {
	// Silent suppresses any state change from the cancellation.
	Silent bool
	// Revert restores the state captured when the fetch started.
	Revert bool
}

// SetDataOptions tune SetData.
type SetDataOptions struct {
	UpdatedAt time.Time
}

// Control is transient bookkeeping used to undo simulated states. It is
// never serialized.
type Control struct {
	PreviousOptions *Options
	PreviousState   *State
}

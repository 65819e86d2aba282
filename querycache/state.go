package querycache

import (
	"errors"
	"time"

	"github.com/c360/cachescope/pkg/timestamp"
)

// Status is the data availability state of a query.
type Status string

// Query statuses
const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FetchStatus reports whether a query is fetching.
type FetchStatus string

// Fetch statuses
const (
	FetchIdle     FetchStatus = "idle"
	FetchFetching FetchStatus = "fetching"
	FetchPaused   FetchStatus = "paused"
)

// State is the full state of a query. Data is nil when no data is defined.
// Timestamps are Unix milliseconds, zero when never set.
type State struct {
	Data               any
	DataUpdateCount    int
	DataUpdatedAt      int64
	Error              error
	ErrorUpdateCount   int
	ErrorUpdatedAt     int64
	FetchFailureCount  int
	FetchFailureReason error
	FetchMeta          map[string]any
	IsInvalidated      bool
	Status             Status
	FetchStatus        FetchStatus
}

// Clone returns a copy whose FetchMeta map is not shared.
func (s State) Clone() State {
	if s.FetchMeta != nil {
		meta := make(map[string]any, len(s.FetchMeta))
		for k, v := range s.FetchMeta {
			meta[k] = v
		}
		s.FetchMeta = meta
	}
	return s
}

func initialState(opts Options, now time.Time) State {
	if opts.InitialData == nil {
		return State{Status: StatusPending, FetchStatus: FetchIdle}
	}
	updatedAt := timestamp.ToUnixMs(now)
	if !opts.InitialDataUpdatedAt.IsZero() {
		updatedAt = timestamp.ToUnixMs(opts.InitialDataUpdatedAt)
	}
	return State{
		Data:          opts.InitialData,
		DataUpdatedAt: updatedAt,
		Status:        StatusSuccess,
		FetchStatus:   FetchIdle,
	}
}

// CancelledError is the error a fetch task resolves with after Cancel.
type CancelledError struct {
	Silent bool
	Revert bool
}

func (e *CancelledError) Error() string {
	return "query cancelled"
}

// IsCancelled reports whether err came from cancelling a fetch.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// ErrMissingQueryFn is recorded on a query fetched without a query function.
var ErrMissingQueryFn = errors.New("missing queryFn")

// ErrMissingMutationFn is returned when a mutation has no function.
var ErrMissingMutationFn = errors.New("missing mutationFn")

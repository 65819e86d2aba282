// Package snapshot dehydrates a query cache into the flat, JSON-ready form
// pushed to the inspector.
package snapshot

import (
	"time"

	"github.com/c360/cachescope/querycache"
)

// MessageType is the type tag of every SyncMessage.
const MessageType = "dehydrated-state"

// Snapshot is the dehydrated content of one client.
type Snapshot struct {
	Mutations []DehydratedMutation `json:"mutations"`
	Queries   []DehydratedQuery    `json:"queries"`
}

// DehydratedQuery is one query. QueryHash is the stable identity; array
// position carries no meaning.
type DehydratedQuery struct {
	QueryHash string          `json:"queryHash"`
	QueryKey  querycache.Key  `json:"queryKey"`
	State     QueryState      `json:"state"`
	Meta      map[string]any  `json:"meta,omitempty"`
	Observers []ObserverState `json:"observers"`
}

// QueryState mirrors querycache.State. Data is omitted when undefined.
type QueryState struct {
	Data               any            `json:"data,omitempty"`
	DataUpdateCount    int            `json:"dataUpdateCount"`
	DataUpdatedAt      int64          `json:"dataUpdatedAt"`
	Error              *ErrorValue    `json:"error"`
	ErrorUpdateCount   int            `json:"errorUpdateCount"`
	ErrorUpdatedAt     int64          `json:"errorUpdatedAt"`
	FetchFailureCount  int            `json:"fetchFailureCount"`
	FetchFailureReason *ErrorValue    `json:"fetchFailureReason"`
	FetchMeta          map[string]any `json:"fetchMeta"`
	IsInvalidated      bool           `json:"isInvalidated"`
	Status             string         `json:"status"`
	FetchStatus        string         `json:"fetchStatus"`
}

// ErrorValue is the transmissible form of an error.
type ErrorValue struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ObserverState describes one observer of a query.
type ObserverState struct {
	QueryHash string          `json:"queryHash"`
	Options   ObserverOptions `json:"options"`
}

// ObserverOptions are the observer's query options without the query
// function. Durations are milliseconds; negative means infinite.
type ObserverOptions struct {
	QueryKey  querycache.Key `json:"queryKey"`
	QueryHash string         `json:"queryHash"`
	Enabled   bool           `json:"enabled"`
	StaleTime int64          `json:"staleTime"`
	GCTime    int64          `json:"gcTime"`
	Retry     int            `json:"retry"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// DehydratedMutation is one mutation.
type DehydratedMutation struct {
	MutationID  int            `json:"mutationId"`
	MutationKey querycache.Key `json:"mutationKey,omitempty"`
	State       MutationState  `json:"state"`
	Meta        map[string]any `json:"meta,omitempty"`
	Scope       *Scope         `json:"scope,omitempty"`
}

// MutationState mirrors querycache.MutationState.
type MutationState struct {
	Context       any         `json:"context,omitempty"`
	Data          any         `json:"data,omitempty"`
	Error         *ErrorValue `json:"error"`
	FailureCount  int         `json:"failureCount"`
	FailureReason *ErrorValue `json:"failureReason"`
	IsPaused      bool        `json:"isPaused"`
	Status        string      `json:"status"`
	Variables     any         `json:"variables,omitempty"`
	SubmittedAt   int64       `json:"submittedAt"`
}

// Scope is a mutation scope.
type Scope struct {
	ID string `json:"id"`
}

// SyncMessage is the payload of a query-sync event.
type SyncMessage struct {
	Type                  string   `json:"type"`
	State                 Snapshot `json:"state"`
	IsOnlineManagerOnline bool     `json:"isOnlineManagerOnline"`
	PersistentDeviceID    string   `json:"persistentDeviceId"`
}

// NewSyncMessage dehydrates client and wraps the result for deviceID.
func NewSyncMessage(client *querycache.Client, deviceID string) SyncMessage {
	return SyncMessage{
		Type:                  MessageType,
		State:                 Dehydrate(client),
		IsOnlineManagerOnline: client.OnlineManager().IsOnline(),
		PersistentDeviceID:    deviceID,
	}
}

// Dehydrate reads every query and mutation of client in cache order. It
// never modifies the cache.
func Dehydrate(client *querycache.Client) Snapshot {
	queries := client.QueryCache().GetAll()
	mutations := client.MutationCache().GetAll()

	s := Snapshot{
		Mutations: make([]DehydratedMutation, 0, len(mutations)),
		Queries:   make([]DehydratedQuery, 0, len(queries)),
	}
	for _, q := range queries {
		s.Queries = append(s.Queries, dehydrateQuery(q))
	}
	for _, m := range mutations {
		s.Mutations = append(s.Mutations, dehydrateMutation(m))
	}
	return s
}

func dehydrateQuery(q *querycache.Query) DehydratedQuery {
	observers := q.Observers()
	out := DehydratedQuery{
		QueryHash: q.Hash(),
		QueryKey:  q.Key(),
		State:     dehydrateState(q.State()),
		Meta:      q.Meta(),
		Observers: make([]ObserverState, 0, len(observers)),
	}
	for _, o := range observers {
		out.Observers = append(out.Observers, ObserverState{
			QueryHash: o.Hash(),
			Options:   scrubOptions(o.Hash(), o.Options()),
		})
	}
	return out
}

func dehydrateState(s querycache.State) QueryState {
	return QueryState{
		Data:               s.Data,
		DataUpdateCount:    s.DataUpdateCount,
		DataUpdatedAt:      s.DataUpdatedAt,
		Error:              errorValue(s.Error),
		ErrorUpdateCount:   s.ErrorUpdateCount,
		ErrorUpdatedAt:     s.ErrorUpdatedAt,
		FetchFailureCount:  s.FetchFailureCount,
		FetchFailureReason: errorValue(s.FetchFailureReason),
		FetchMeta:          s.FetchMeta,
		IsInvalidated:      s.IsInvalidated,
		Status:             string(s.Status),
		FetchStatus:        string(s.FetchStatus),
	}
}

// scrubOptions drops the query function, which cannot be transmitted.
func scrubOptions(hash string, o querycache.Options) ObserverOptions {
	return ObserverOptions{
		QueryKey:  o.QueryKey,
		QueryHash: hash,
		Enabled:   !o.Disabled,
		StaleTime: millis(o.StaleTime),
		GCTime:    gcMillis(o.GCTime),
		Retry:     o.Retry,
		Meta:      o.Meta,
	}
}

func dehydrateMutation(m *querycache.Mutation) DehydratedMutation {
	opts := m.Options()
	st := m.State()
	out := DehydratedMutation{
		MutationID:  m.ID(),
		MutationKey: opts.MutationKey,
		Meta:        opts.Meta,
		State: MutationState{
			Context:       st.Context,
			Data:          st.Data,
			Error:         errorValue(st.Error),
			FailureCount:  st.FailureCount,
			FailureReason: errorValue(st.FailureReason),
			IsPaused:      st.IsPaused,
			Status:        string(st.Status),
			Variables:     st.Variables,
			SubmittedAt:   st.SubmittedAt,
		},
	}
	if opts.Scope != nil {
		out.Scope = &Scope{ID: opts.Scope.ID}
	}
	return out
}

func millis(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

func gcMillis(d time.Duration) int64 {
	if d == 0 {
		return querycache.DefaultGCTime.Milliseconds()
	}
	return millis(d)
}

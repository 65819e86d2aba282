package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/querycache"
)

func seededClient(t *testing.T) *querycache.Client {
	t.Helper()
	c := querycache.NewClient(querycache.WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))
	t.Cleanup(c.Close)

	c.SetQueryData(querycache.Key{"todos"}, []any{"a", "b"}, querycache.SetDataOptions{})
	c.QueryCache().Build(querycache.Options{QueryKey: querycache.Key{"user", map[string]any{"id": 7}}, Meta: map[string]any{"owner": "profile"}})
	c.MutationCache().Build(querycache.MutationOptions{
		MutationKey: querycache.Key{"addTodo"},
		Scope:       &querycache.MutationScope{ID: "todos"},
	})
	return c
}

func TestDehydrate_Idempotent(t *testing.T) {
	c := seededClient(t)

	first := Dehydrate(c)
	second := Dehydrate(c)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshots differ (-first +second):\n%s", diff)
	}
}

func TestDehydrate_QueriesInCacheOrder(t *testing.T) {
	c := seededClient(t)
	s := Dehydrate(c)

	require.Len(t, s.Queries, 2)
	assert.Equal(t, `["todos"]`, s.Queries[0].QueryHash)
	assert.Equal(t, `["user",{"id":7}]`, s.Queries[1].QueryHash)
	assert.Equal(t, "success", s.Queries[0].State.Status)
	assert.Equal(t, "idle", s.Queries[0].State.FetchStatus)
	assert.Equal(t, map[string]any{"owner": "profile"}, s.Queries[1].Meta)

	require.Len(t, s.Mutations, 1)
	assert.Equal(t, 1, s.Mutations[0].MutationID)
	assert.Equal(t, &Scope{ID: "todos"}, s.Mutations[0].Scope)
	assert.Equal(t, "idle", s.Mutations[0].State.Status)
}

func TestDehydrate_OmitsUndefinedData(t *testing.T) {
	c := seededClient(t)
	raw, err := json.Marshal(Dehydrate(c))
	require.NoError(t, err)

	var decoded struct {
		Queries []struct {
			State map[string]any `json:"state"`
		} `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	_, hasData := decoded.Queries[0].State["data"]
	assert.True(t, hasData)
	_, hasData = decoded.Queries[1].State["data"]
	assert.False(t, hasData, "pending query must not carry data")
}

func TestDehydrate_ObserverOptionsAreScrubbed(t *testing.T) {
	c := querycache.NewClient()
	defer c.Close()

	obs := c.Observe(querycache.Options{
		QueryKey:  querycache.Key{"todos"},
		QueryFn:   func(context.Context, querycache.FetchContext) (any, error) { return "v", nil },
		StaleTime: -1,
		Disabled:  true,
	})
	defer obs.Destroy()

	s := Dehydrate(c)
	require.Len(t, s.Queries, 1)
	require.Len(t, s.Queries[0].Observers, 1)

	opts := s.Queries[0].Observers[0].Options
	assert.False(t, opts.Enabled)
	assert.Equal(t, int64(-1), opts.StaleTime)
	assert.Equal(t, querycache.DefaultGCTime.Milliseconds(), opts.GCTime)

	raw, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "queryFn")
}

func TestDehydrate_Errors(t *testing.T) {
	c := seededClient(t)
	q, ok := c.QueryCache().Get(`["todos"]`)
	require.True(t, ok)
	q.SetState(func(s *querycache.State) {
		s.Status = querycache.StatusError
		s.Error = errors.New("Unknown error from devtools")
	})

	s := Dehydrate(c)
	assert.Equal(t, &ErrorValue{Name: "Error", Message: "Unknown error from devtools"}, s.Queries[0].State.Error)
	assert.Nil(t, s.Queries[0].State.FetchFailureReason)
	assert.Equal(t, "CancelledError", errorValue(&querycache.CancelledError{}).Name)
}

func TestNewSyncMessage(t *testing.T) {
	c := seededClient(t)
	c.OnlineManager().SetOnline(false)

	msg := NewSyncMessage(c, "ios-1")
	assert.Equal(t, MessageType, msg.Type)
	assert.Equal(t, "ios-1", msg.PersistentDeviceID)
	assert.False(t, msg.IsOnlineManagerOnline)
	assert.Len(t, msg.State.Queries, 2)
}

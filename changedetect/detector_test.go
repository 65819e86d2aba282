package changedetect

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/snapshot"
)

type recorder struct {
	mu   sync.Mutex
	msgs []snapshot.SyncMessage
}

func (r *recorder) push(msg snapshot.SyncMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newClient(t *testing.T) *querycache.Client {
	t.Helper()
	c := querycache.NewClient()
	t.Cleanup(c.Close)
	return c
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeUnconditional, mode)

	mode, err = ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, mode)

	_, err = ParseMode("sometimes")
	assert.True(t, errors.IsInvalid(err))
}

func TestDetector_UnconditionalPushesEveryBatch(t *testing.T) {
	c := newClient(t)
	rec := &recorder{}
	d := New(c, "ios-1", rec.push)
	require.NoError(t, d.Start())
	defer d.Stop()

	q := c.QueryCache().Build(querycache.Options{QueryKey: querycache.Key{"todos"}})
	q.SetState(func(*querycache.State) {})
	q.SetState(func(*querycache.State) {})

	assert.Equal(t, 3, rec.count())
	assert.Equal(t, "ios-1", rec.msgs[0].PersistentDeviceID)
}

func TestDetector_StrictSuppressesIdenticalState(t *testing.T) {
	c := newClient(t)
	rec := &recorder{}
	registry := metric.NewMetricsRegistry()
	d := New(c, "ios-1", rec.push, WithMode(ModeStrict), WithMetrics(registry))
	require.NoError(t, d.Start())
	defer d.Stop()

	q := c.QueryCache().Build(querycache.Options{QueryKey: querycache.Key{"todos"}})
	require.Equal(t, 1, rec.count())

	// The second write stores equal data in a different Go type.
	q.SetState(func(s *querycache.State) { s.Data = []string{"a"} })
	q.SetState(func(s *querycache.State) { s.Data = []any{"a"} })
	assert.Equal(t, 2, rec.count())

	q.SetState(func(s *querycache.State) { s.IsInvalidated = true })
	assert.Equal(t, 3, rec.count())
}

func TestDetector_StrictIgnoresIrrelevantFields(t *testing.T) {
	c := newClient(t)
	rec := &recorder{}
	d := New(c, "ios-1", rec.push, WithMode(ModeStrict))
	require.NoError(t, d.Start())
	defer d.Stop()

	q := c.QueryCache().Build(querycache.Options{QueryKey: querycache.Key{"todos"}})
	q.SetState(func(s *querycache.State) { s.DataUpdateCount = 42 })
	assert.Equal(t, 1, rec.count())
}

func TestDetector_ForceAndStop(t *testing.T) {
	c := newClient(t)
	rec := &recorder{}
	d := New(c, "ios-1", rec.push, WithMode(ModeStrict))
	require.NoError(t, d.Start())
	assert.Error(t, d.Start())

	d.Force()
	d.Force()
	assert.Equal(t, 2, rec.count())

	c.OnlineManager().SetOnline(false)
	require.Equal(t, 3, rec.count())
	assert.False(t, rec.msgs[2].IsOnlineManagerOnline)

	d.Stop()
	d.Stop()
	c.QueryCache().Build(querycache.Options{QueryKey: querycache.Key{"late"}})
	assert.Equal(t, 3, rec.count())
}

func TestComparator(t *testing.T) {
	cmp := NewComparator()
	s := snapshot.SyncMessage{State: snapshot.Snapshot{Queries: []snapshot.DehydratedQuery{{
		QueryHash: `["a"]`,
		State:     snapshot.QueryState{Status: "success", FetchStatus: "idle", Data: map[string]int{"n": 1}},
	}}}}

	assert.True(t, cmp.Changed(s))
	assert.False(t, cmp.Changed(s))

	s.State.Queries[0].State.Data = map[string]any{"n": 1.0}
	assert.False(t, cmp.Changed(s), "normalized data compares equal")

	s.State.Queries[0].State.Error = &snapshot.ErrorValue{Name: "Error", Message: "x"}
	assert.True(t, cmp.Changed(s))

	s.IsOnlineManagerOnline = true
	assert.True(t, cmp.Changed(s))

	cmp.Reset()
	assert.True(t, cmp.Changed(s))
}

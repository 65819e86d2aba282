package command

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/metric"
	"github.com/c360/cachescope/pkg/logging"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/storagebridge"
)

const (
	deviceID = "ios-1"
	waitFor  = 2 * time.Second
	tick     = 5 * time.Millisecond
)

type bridgeCall struct {
	key  querycache.Key
	data any
}

type fakeBridge struct {
	mu      sync.Mutex
	updates []bridgeCall
	removes []querycache.Key
}

func (b *fakeBridge) Update(_ context.Context, key querycache.Key, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, bridgeCall{key: key, data: data})
	return nil
}

func (b *fakeBridge) Remove(_ context.Context, key querycache.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes = append(b.removes, key)
	return nil
}

func (b *fakeBridge) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates), len(b.removes)
}

func setup(t *testing.T, opts ...Option) (*querycache.Client, *Router) {
	t.Helper()
	client := querycache.NewClient(querycache.WithLogger(logging.Discard()))
	t.Cleanup(client.Close)

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	r := NewRouter(client, deviceID, opts...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop(time.Second) })
	return client, r
}

func seed(client *querycache.Client, key querycache.Key, data any) *querycache.Query {
	client.SetQueryData(key, data, querycache.SetDataOptions{})
	q, _ := client.QueryCache().Get(querycache.HashKey(key))
	return q
}

func msgFor(q *querycache.Query, action Action, data any) Message {
	return Message{QueryHash: q.Hash(), QueryKey: q.Key(), Action: action, Data: data, DeviceID: deviceID}
}

func TestRouter_Targeting(t *testing.T) {
	client, r := setup(t)
	q := seed(client, querycache.Key{"todos"}, "original")

	msg := msgFor(q, ActionDataUpdate, "other device")
	msg.DeviceID = "android-7"
	r.Handle(context.Background(), msg)
	assert.Equal(t, "original", q.State().Data)

	msg = msgFor(q, ActionDataUpdate, "broadcast")
	msg.DeviceID = AllDevices
	r.Handle(context.Background(), msg)
	assert.Equal(t, "broadcast", q.State().Data)

	r.Handle(context.Background(), msgFor(q, ActionDataUpdate, "direct"))
	assert.Equal(t, "direct", q.State().Data)

	err := r.dispatch(context.Background(), Message{DeviceID: "", Action: ActionClearQueryCache})
	assert.ErrorIs(t, err, errors.ErrNotTargeted)
	assert.Len(t, client.QueryCache().GetAll(), 1)
}

func TestRouter_NotFoundIsSafe(t *testing.T) {
	client, r := setup(t)
	q := seed(client, querycache.Key{"todos"}, []any{"a"})
	before := q.State()

	msg := Message{QueryHash: `["missing"]`, Action: ActionRemove, DeviceID: deviceID}
	assert.NotPanics(t, func() { r.Handle(context.Background(), msg) })

	err := r.dispatch(context.Background(), msg)
	assert.ErrorIs(t, err, errors.ErrQueryNotFound)

	assert.Len(t, client.QueryCache().GetAll(), 1)
	assert.Equal(t, before, q.State())
}

func TestRouter_UnknownAction(t *testing.T) {
	client, r := setup(t)
	q := seed(client, querycache.Key{"todos"}, 1)

	err := r.dispatch(context.Background(), msgFor(q, "ACTION-EXPLODE", nil))
	assert.ErrorIs(t, err, errors.ErrUnknownAction)
}

func TestRouter_ClearCaches(t *testing.T) {
	client, r := setup(t)
	seed(client, querycache.Key{"a"}, 1)
	seed(client, querycache.Key{"b"}, 2)
	client.MutationCache().Build(querycache.MutationOptions{MutationKey: querycache.Key{"add"}})

	r.Handle(context.Background(), Message{Action: ActionClearMutationCache, DeviceID: deviceID})
	assert.Empty(t, client.MutationCache().GetAll())
	assert.Len(t, client.QueryCache().GetAll(), 2)

	r.Handle(context.Background(), Message{Action: ActionClearQueryCache, DeviceID: AllDevices})
	assert.Empty(t, client.QueryCache().GetAll())
}

func TestRouter_OnlineManager(t *testing.T) {
	client, r := setup(t)
	online := client.OnlineManager()

	r.HandleOnlineManager(context.Background(), OnlineManagerMessage{Action: ActionOnlineManagerOffline, TargetDeviceID: "web-2"})
	assert.True(t, online.IsOnline())

	r.HandleOnlineManager(context.Background(), OnlineManagerMessage{Action: ActionOnlineManagerOffline, TargetDeviceID: deviceID})
	assert.False(t, online.IsOnline())

	r.Handle(context.Background(), Message{Action: ActionOnlineManagerOnline, DeviceID: AllDevices})
	assert.True(t, online.IsOnline())
}

func TestRouter_OfflineToggleResumesPausedFetch(t *testing.T) {
	client, r := setup(t)
	r.HandleOnlineManager(context.Background(), OnlineManagerMessage{Action: ActionOnlineManagerOffline, TargetDeviceID: AllDevices})

	q := client.QueryCache().Build(querycache.Options{
		QueryKey: querycache.Key{"feed"},
		QueryFn:  func(context.Context, querycache.FetchContext) (any, error) { return "fresh", nil },
	})
	q.Fetch(nil, querycache.FetchOptions{})
	require.Eventually(t, func() bool { return q.State().FetchStatus == querycache.FetchPaused }, waitFor, tick)

	r.HandleOnlineManager(context.Background(), OnlineManagerMessage{Action: ActionOnlineManagerOnline, TargetDeviceID: AllDevices})
	assert.Eventually(t, func() bool { return q.State().Data == "fresh" }, waitFor, tick)
}

func TestRouter_PanicIsIsolated(t *testing.T) {
	client, r := setup(t)
	q := seed(client, querycache.Key{"todos"}, "before")

	const boom Action = "ACTION-BOOM"
	handlers[boom] = func(context.Context, *Router, *querycache.Query, Message) error { panic("handler exploded") }
	defer delete(handlers, boom)

	assert.NotPanics(t, func() { r.Handle(context.Background(), msgFor(q, boom, nil)) })

	r.Handle(context.Background(), msgFor(q, ActionDataUpdate, "after"))
	assert.Equal(t, "after", q.State().Data)
}

func TestRouter_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, r := setup(t, WithMetrics(registry))
	q := seed(client, querycache.Key{"todos"}, 1)

	r.Handle(context.Background(), msgFor(q, ActionInvalidate, nil))
	r.Handle(context.Background(), Message{QueryHash: "nope", Action: ActionReset, DeviceID: deviceID})

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	outcomes := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "cachescope_commands_handled_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" {
					outcomes[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(1), outcomes[OutcomeOK])
	assert.Equal(t, float64(1), outcomes[OutcomeNotFound])
}

func TestRouter_StorageKeysUseBridge(t *testing.T) {
	bridge := &fakeBridge{}
	client, r := setup(t, WithStorageBridge(bridge))
	key := storagebridge.StorageKey(storagebridge.NamespaceAsync, "token")
	q := seed(client, key, "old")

	r.Handle(context.Background(), msgFor(q, ActionDataUpdate, "abc123"))
	require.Eventually(t, func() bool { u, _ := bridge.counts(); return u == 1 }, waitFor, tick)
	assert.Equal(t, "old", q.State().Data)
	assert.Equal(t, key, bridge.updates[0].key)
	assert.Equal(t, "abc123", bridge.updates[0].data)

	r.Handle(context.Background(), msgFor(q, ActionRemove, nil))
	require.Eventually(t, func() bool { _, n := bridge.counts(); return n == 1 }, waitFor, tick)
	_, stillCached := client.QueryCache().Get(q.Hash())
	assert.True(t, stillCached)
}

func TestRouter_StorageKeysWithoutBridgeAreCacheOnly(t *testing.T) {
	client, r := setup(t)
	key := storagebridge.StorageKey(storagebridge.NamespaceSecure, "pin")
	q := seed(client, key, "0000")

	r.Handle(context.Background(), msgFor(q, ActionDataUpdate, "1234"))
	assert.Equal(t, "1234", q.State().Data)
}

func TestRouter_Refetch(t *testing.T) {
	client, r := setup(t)
	var calls int32
	q := client.QueryCache().Build(querycache.Options{
		QueryKey: querycache.Key{"todos"},
		QueryFn: func(context.Context, querycache.FetchContext) (any, error) {
			return atomic.AddInt32(&calls, 1), nil
		},
	})

	r.Handle(context.Background(), msgFor(q, ActionRefetch, nil))
	assert.Eventually(t, func() bool { return q.State().Data == int32(1) }, waitFor, tick)
	assert.False(t, q.State().IsInvalidated)
}

func TestRouter_RefetchFailureIsContained(t *testing.T) {
	client, r := setup(t)
	q := client.QueryCache().Build(querycache.Options{
		QueryKey: querycache.Key{"todos"},
		Retry:    querycache.NoRetry,
		QueryFn: func(context.Context, querycache.FetchContext) (any, error) {
			return nil, stderrors.New("server down")
		},
	})

	assert.NotPanics(t, func() { r.Handle(context.Background(), msgFor(q, ActionRefetch, nil)) })
	assert.Eventually(t, func() bool { return q.State().Status == querycache.StatusError }, waitFor, tick)
}

func TestRouter_StorageFieldDeleteUsesBridge(t *testing.T) {
	bridge := &fakeBridge{}
	client, r := setup(t, WithStorageBridge(bridge))
	key := storagebridge.StorageKey(storagebridge.NamespaceMMKV, "settings")
	original := map[string]any{"theme": "dark", "beta": true}
	q := seed(client, key, original)

	r.Handle(context.Background(), msgFor(q, ActionDeleteDataField, map[string]any{"path": []any{"beta"}}))
	require.Eventually(t, func() bool { u, _ := bridge.counts(); return u == 1 }, waitFor, tick)

	bridge.mu.Lock()
	call := bridge.updates[0]
	bridge.mu.Unlock()
	assert.Equal(t, key, call.key)
	assert.Equal(t, map[string]any{"theme": "dark"}, call.data)
	assert.Equal(t, original, q.State().Data)
}

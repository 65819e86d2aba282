package storagebridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/pkg/logging"
	"github.com/c360/cachescope/querycache"
	"github.com/c360/cachescope/storage"
	"github.com/c360/cachescope/storage/memstore"
)

func cached(client *querycache.Client, ns Namespace, key string) bool {
	_, ok := client.QueryCache().Get(querycache.HashKey(StorageKey(ns, key)))
	return ok
}

func TestListenerWatcher_MirrorsChanges(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := memstore.New()
	require.NoError(t, store.Put(ctx, "theme", []byte("dark")))
	listener := storage.NewListener(store)

	w := NewListenerWatcher(client, NamespaceMMKV, listener, logging.Discard())
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.True(t, errors.IsInvalid(w.Start(ctx)))

	theme := StorageKey(NamespaceMMKV, "theme")
	require.Eventually(t, func() bool { return client.GetQueryData(theme) == "dark" }, waitFor, tick)

	require.NoError(t, listener.Set(ctx, "theme", "light"))
	assert.Eventually(t, func() bool { return client.GetQueryData(theme) == "light" }, waitFor, tick)

	require.NoError(t, listener.Set(ctx, "launches", "3"))
	assert.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceMMKV, "launches")) == float64(3)
	}, waitFor, tick)
}

func TestListenerWatcher_StopDetachesObservers(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := memstore.New()
	require.NoError(t, store.Put(ctx, "theme", []byte("dark")))

	w := NewListenerWatcher(client, NamespaceMMKV, storage.NewListener(store), logging.Discard())
	require.NoError(t, w.Start(ctx))

	theme := StorageKey(NamespaceMMKV, "theme")
	require.Eventually(t, func() bool { return cached(client, NamespaceMMKV, "theme") }, waitFor, tick)
	q, _ := client.QueryCache().Get(querycache.HashKey(theme))
	assert.Equal(t, 1, q.ObserversCount())

	w.Stop()
	assert.Equal(t, 0, q.ObserversCount())
}

func TestEnumeratingPoller_TracksKeySet(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := memstore.New()
	require.NoError(t, store.Put(ctx, "a", []byte("1")))

	p := NewEnumeratingPoller(client, NamespaceAsync, storage.Async{Store: store}, 10*time.Millisecond, logging.Discard())
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceAsync, "a")) == float64(1)
	}, waitFor, tick)

	require.NoError(t, store.Put(ctx, "b", []byte("two")))
	require.NoError(t, store.Delete(ctx, "a"))

	assert.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceAsync, "b")) == "two" &&
			!cached(client, NamespaceAsync, "a")
	}, waitFor, tick)

	require.NoError(t, store.Put(ctx, "b", []byte("three")))
	assert.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceAsync, "b")) == "three"
	}, waitFor, tick)
}

func TestEnumeratingPoller_InvalidatesOnlyChangedKeys(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := memstore.New()
	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "b", []byte("1")))

	p := NewEnumeratingPoller(client, NamespaceAsync, storage.Async{Store: store}, 10*time.Millisecond, logging.Discard())
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	keyA, keyB := StorageKey(NamespaceAsync, "a"), StorageKey(NamespaceAsync, "b")
	require.Eventually(t, func() bool {
		return client.GetQueryData(keyA) == float64(1) && client.GetQueryData(keyB) == float64(1)
	}, waitFor, tick)
	qa, _ := client.QueryCache().Get(querycache.HashKey(keyA))
	qb, _ := client.QueryCache().Get(querycache.HashKey(keyB))
	fetchesA := qa.State().DataUpdateCount
	fetchesB := qb.State().DataUpdateCount

	require.NoError(t, store.Put(ctx, "b", []byte("2")))
	require.Eventually(t, func() bool { return client.GetQueryData(keyB) == float64(2) }, waitFor, tick)

	// Let several more polls run over the unchanged key set.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fetchesA, qa.State().DataUpdateCount)
	assert.False(t, qa.State().IsInvalidated)
	assert.Equal(t, fetchesB+1, qb.State().DataUpdateCount)
}

func TestProbingPoller_OnlyKnownKeys(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := memstore.New()
	require.NoError(t, store.Put(ctx, "token", []byte("abc")))
	require.NoError(t, store.Put(ctx, "unlisted", []byte("hidden")))

	p := NewProbingPoller(client, NamespaceSecure, storage.Secure{Store: store},
		[]string{"pin", "token"}, 10*time.Millisecond, logging.Discard())
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceSecure, "token")) == "abc"
	}, waitFor, tick)
	assert.False(t, cached(client, NamespaceSecure, "pin"))
	assert.False(t, cached(client, NamespaceSecure, "unlisted"))

	require.NoError(t, store.Put(ctx, "pin", []byte("1234")))
	assert.Eventually(t, func() bool {
		return client.GetQueryData(StorageKey(NamespaceSecure, "pin")) == float64(1234)
	}, waitFor, tick)

	require.NoError(t, store.Delete(ctx, "token"))
	assert.Eventually(t, func() bool { return !cached(client, NamespaceSecure, "token") }, waitFor, tick)
}

func TestPoller_DefaultInterval(t *testing.T) {
	client := newClient(t)
	p := NewEnumeratingPoller(client, NamespaceAsync, storage.Async{Store: memstore.New()}, 0, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
}

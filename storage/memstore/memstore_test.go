package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/storage"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Put(ctx, "b", []byte("2")))
	require.NoError(t, s.Put(ctx, "a", []byte("1")))

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = s.Get(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	keys, _ = s.List(ctx, "")
	assert.Equal(t, []string{"b"}, keys)
}

func TestStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("disk full")

	s.FailWrites(boom)
	assert.ErrorIs(t, s.Put(ctx, "k", nil), boom)
	s.FailWrites(nil)
	require.NoError(t, s.Put(ctx, "k", nil))

	s.FailDeletes(boom)
	assert.ErrorIs(t, s.Delete(ctx, "k"), boom)
}

func TestStore_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()

	keys, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "token", []byte("x")))
	select {
	case k := <-keys:
		assert.Equal(t, "token", k)
	case <-time.After(time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case _, open := <-keys:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestShapes(t *testing.T) {
	ctx := context.Background()
	s := New()

	async := storage.Async{Store: s}
	require.NoError(t, async.SetItem(ctx, "token", "abc123"))
	v, ok, err := async.GetItem(ctx, "token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	secure := storage.Secure{Store: s}
	_, ok, err = secure.GetItemAsync(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	listener := storage.NewListener(s)
	require.NoError(t, listener.Set(ctx, "count", "42"))
	n, ok, err := listener.GetNumber(ctx, "count")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42.0, n)

	_, ok, _ = listener.GetBoolean(ctx, "count")
	assert.False(t, ok)
}

func TestListener_ReportsChanges(t *testing.T) {
	s := New()
	listener := storage.NewListener(s)

	changed := make(chan string, 4)
	remove := listener.AddOnValueChangedListener(func(key string) { changed <- key })
	defer remove()

	// External write straight to the store.
	require.NoError(t, s.Put(context.Background(), "theme", []byte("dark")))
	select {
	case k := <-changed:
		assert.Equal(t, "theme", k)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
}

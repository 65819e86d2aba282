//go:build integration

package natskv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/natsclient"
	"github.com/c360/cachescope/storage"
)

func TestStore_Integration(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := New(ctx, tc.Client, "device-mmkv")
	require.NoError(t, err)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "theme", []byte("dark")))
	select {
	case k := <-changes:
		assert.Equal(t, "theme", k)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not report the write")
	}

	v, err := store.Get(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, []byte("dark"), v)

	require.NoError(t, store.Delete(ctx, "theme"))
	_, err = store.Get(ctx, "theme")
	assert.True(t, storage.IsNotFound(err))
}

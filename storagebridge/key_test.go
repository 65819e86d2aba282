package storagebridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/querycache"
)

func TestParseStorageKey(t *testing.T) {
	ns, name, err := ParseStorageKey(StorageKey(NamespaceAsync, "token"))
	require.NoError(t, err)
	assert.Equal(t, NamespaceAsync, ns)
	assert.Equal(t, "token", name)

	invalid := []querycache.Key{
		{"todos"},
		{"#storage", "async"},
		{"#storage", "cloud", "token"},
		{"storage", "async", "token"},
		{"#storage", "async", 7},
		{"#storage", "async", "token", "extra"},
	}
	for _, key := range invalid {
		_, _, err := ParseStorageKey(key)
		assert.ErrorIs(t, err, errors.ErrInvalidStorageKey, "%v", key)
		assert.False(t, IsStorageKey(key))
	}
	assert.True(t, IsStorageKey(querycache.Key{"#storage", "mmkv", ""}))
}

func TestNamespaceKeyIsPrefix(t *testing.T) {
	f := querycache.Filters{QueryKey: NamespaceKey(NamespaceSecure)}
	client := querycache.NewClient()
	defer client.Close()

	client.SetQueryData(StorageKey(NamespaceSecure, "pin"), "1234", querycache.SetDataOptions{})
	client.SetQueryData(StorageKey(NamespaceAsync, "pin"), "other", querycache.SetDataOptions{})

	matched := client.QueryCache().FindAll(f)
	require.Len(t, matched, 1)
	assert.Equal(t, StorageKey(NamespaceSecure, "pin"), matched[0].Key())
}

func TestCodec(t *testing.T) {
	s, err := encode("abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", s)

	s, err = encode(map[string]any{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada","age":36}`, s)

	assert.Equal(t, "abc123", decode("abc123"))
	assert.Equal(t, map[string]any{"dark": true}, decode(`{"dark":true}`))
	assert.Equal(t, float64(3), decode("3"))

	assert.Equal(t, map[string]any{"n": float64(1)}, normalize(map[string]int{"n": 1}))
	assert.Nil(t, normalize(nil))
}

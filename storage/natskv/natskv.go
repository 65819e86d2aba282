// Package natskv stores device key-values in a NATS JetStream KV bucket.
// The bucket's watch stream makes the store Watchable, so it backs the
// listener-capable storage shape.
package natskv

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/natsclient"
	"github.com/c360/cachescope/storage"
)

var (
	_ storage.Store     = (*Store)(nil)
	_ storage.Watchable = (*Store)(nil)
)

// Store is a storage.Store over one KV bucket.
type Store struct {
	kv     *natsclient.KVStore
	bucket string
}

// New opens bucket, creating it when absent.
func New(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	kv, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cachescope device storage",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "New", fmt.Sprintf("open bucket %s", bucket))
	}
	return &Store{kv: natsclient.NewKVStore(kv), bucket: bucket}, nil
}

// Put writes data at key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "natskv", "Put", "write key")
	}
	return nil
}

// Get reads key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("natskv get %s: %w", key, errors.ErrKeyNotFound)
		}
		return nil, errors.WrapTransient(err, "natskv", "Get", "read key")
	}
	return entry.Value, nil
}

// List returns the bucket keys with prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "List", "list keys")
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return errors.WrapTransient(err, "natskv", "Delete", "delete key")
	}
	return nil
}

// Watch streams keys changed by any writer of the bucket.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	ch, err := s.kv.WatchUpdates(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "Watch", "watch bucket")
	}
	return ch, nil
}

// Close is a no-op; the connection belongs to the natsclient.Client.
func (s *Store) Close() error { return nil }

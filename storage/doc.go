// Package storage provides the key-value Store contract for device storage
// backends.
//
// # Store
//
// Store is a small byte-oriented key-value interface:
//   - Keys are strings
//   - Values are opaque []byte; the storage bridge stores text
//   - Every operation takes a context for cancellation and timeouts
//
// Implementations live in subpackages:
//   - memstore: in-memory, with failure injection for tests
//   - natskv: NATS JetStream key-value bucket, Watchable
//   - redisstore: Redis keys under a prefix
//   - sqlitestore: a single SQLite table
//   - sealedstore: age-encrypted files named by key hash; not enumerable
//
// # Shapes
//
// The storage bridge consumes three backend shapes. Async and Secure adapt
// any Store directly. Listener adds typed getters and a change listener;
// with a Watchable store it reports external changes, otherwise it reports
// the writes made through it.
//
//	store, _ := natskv.New(ctx, natsClient, "device-mmkv")
//	backend := storagebridge.Backend{
//	    Kind:     storagebridge.KindMMKV,
//	    Instance: storage.NewListener(store),
//	}
package storage

// Package natsclient owns a NATS connection for storage backends built on
// JetStream key-value buckets.
//
// Client tracks connection status, opens a circuit breaker after repeated
// connection failures and exposes create-or-get access to KV buckets.
// KVStore wraps a bucket with per-operation timeouts, uniform not-found
// errors, key listing and an update watcher.
//
// TestClient starts a JetStream-enabled NATS server with testcontainers for
// integration tests.
package natsclient

// Package cachescope mirrors an in-process query cache to a remote inspector
// and lets the inspector drive that cache.
//
// # Architecture
//
// A device process embeds a querycache.Client. A session watches the cache,
// turns it into snapshots, and pushes them to the inspector hub whenever
// something relevant changed. The hub relays snapshots to dashboards and
// routes dashboard commands back to one device or all of them.
//
//	┌─────────────────────────────────────┐
//	│        Device (cachescope-agent)    │
//	│                                     │
//	│  querycache ──▶ snapshot ──▶ changedetect
//	│       ▲                         │   │
//	│       │                         ▼   │
//	│   command ◀──────────── session     │
//	│       │                     │       │
//	│  storagebridge              │       │
//	│  (memstore, sqlite, redis,  │       │
//	│   nats kv, sealed files)    │       │
//	└─────────────────────────────┼───────┘
//	                              │ websocket (json or cbor)
//	┌─────────────────────────────┼───────┐
//	│        Hub (cachescope-hub) ▼       │
//	│   devices ◀── inspector ──▶ dashboards
//	└─────────────────────────────────────┘
//
// # Wire Events
//
// Every frame carries an event name, a device id, a millisecond timestamp
// and a payload:
//
//	query-sync             device → hub → dashboards   cache snapshot
//	device-info            device → hub                identity update
//	request-initial-state  hub → device                ask for a full snapshot
//	query-action           dashboard → hub → device    cache command
//	online-manager         dashboard → hub → device    toggle online state
//	devices                hub → dashboards            connected device list
//
// # Packages
//
// Cache and protocol:
//   - querycache: queries, mutations, observers, garbage collection
//   - snapshot: serializable view of the cache
//   - changedetect: decides whether a cache notification warrants a push
//   - command: applies inspector commands to the cache
//   - storagebridge: exposes device key-value stores as queries
//   - session: ties the above to a transport connection
//
// Infrastructure:
//   - transport: websocket client, codecs and the shared connection registry
//   - inspector: the hub
//   - identity: device id resolution and persistence
//   - storage: key-value backends and the adapters that wrap them
//   - config: layered JSON/YAML configuration with environment overrides
//   - metric, health: Prometheus metrics and the /health endpoint
//   - errors: classified errors shared by every package
//
// # Running
//
//	cachescope-hub --addr :42831
//	cachescope-agent --inspector-url ws://localhost:42831/ --device-name pixel-7
//
// Both binaries accept one or more -c/--config files; later files override
// earlier ones and CACHESCOPE_* environment variables override the files.
//
// # Testing
//
// Unit tests run with go test ./... and use testify. Tests that need a NATS
// or Redis server are behind the integration build tag and start the server
// with testcontainers.
package cachescope

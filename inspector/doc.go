// Package inspector implements the hub that devices and dashboards connect
// to.
//
// Devices connect with their identity as query parameters. Dashboards
// connect with role=dashboard. The hub asks every new device for its
// initial state and its device info, relays device query-sync events to
// every dashboard and routes dashboard commands to their target device, or
// to every device when the target is "All".
//
// A device id is held by one connection at a time; a new connection with
// the same id replaces the old one. Query-sync events that leave every
// relevant query field unchanged are not relayed. Dashboard commands are
// validated against a JSON schema and rate limited per dashboard.
//
// Relayed frames carry the device id next to the original payload:
//
//	{"deviceId": "ios-1", "payload": {...}}
package inspector

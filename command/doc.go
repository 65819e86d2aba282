// Package command executes inspector commands against the local query cache.
//
// A Router receives query-action and online-manager messages, drops those
// addressed to another device, resolves the target query by hash and runs the
// matching handler. Handlers return quickly: anything that waits on a fetch
// or a storage backend runs as a tail on a bounded worker pool, so Handle
// never blocks on I/O. Every command is isolated; a failing or panicking
// handler is logged with its action and query hash and the router carries on.
//
// The simulated states (loading and error) stash the query's options and
// state in the query's control block and are undone by the matching restore
// action. The simulated loading fetch is parked on its context and is always
// cancelled silently, so it can never surface as an error.
package command

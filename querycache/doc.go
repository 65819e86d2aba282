// Package querycache is an in-process query cache: keyed queries with
// status and fetch status, observers, invalidation, cancellation, garbage
// collection and a mutation cache, plus an online manager that pauses
// fetches while offline.
//
// It is the collaborator that the sync agent mirrors to the inspector. The
// agent only relies on the public surface here: enumerating queries and
// mutations, reading their state, subscribing to change batches and the bulk
// operations on Client.
//
// Basic usage:
//
//	client := querycache.NewClient(querycache.WithLogger(logger))
//	defer client.Close()
//
//	obs := client.Observe(querycache.Options{
//	    QueryKey: querycache.Key{"todos"},
//	    QueryFn:  loadTodos,
//	})
//	defer obs.Destroy()
//
// Change notification is batched: Client.Batch groups the events raised by
// a bulk operation into one delivery, and listeners never run concurrently.
package querycache

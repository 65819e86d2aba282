// Package storagebridge mirrors device key-value storage into the query
// cache and applies inspector writes to it.
//
// Every stored key appears in the cache under ["#storage", namespace, key].
// Writes go to the real backend first and then invalidate the mirrored entry
// so it is re-read; a failed backend write falls back to a cache-only write
// that is logged as degraded. Three read-side watchers keep the mirror fresh:
// ListenerWatcher for backends with a change listener, EnumeratingPoller for
// backends that can list their keys and ProbingPoller for backends that can
// only be probed for an allow-listed set of keys.
//
// Backends are supplied as a tagged Backend{Kind, Instance}. Detect derives
// the tag from the implemented interface when only the instance is known.
package storagebridge

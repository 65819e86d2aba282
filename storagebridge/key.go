package storagebridge

import (
	"fmt"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/querycache"
)

// KeyPrefix is the first element of every mirrored storage key.
const KeyPrefix = "#storage"

// Namespace names a storage backend.
type Namespace string

// Storage namespaces
const (
	NamespaceMMKV   Namespace = "mmkv"
	NamespaceAsync  Namespace = "async"
	NamespaceSecure Namespace = "secure"
)

// Valid reports whether n is a known namespace.
func (n Namespace) Valid() bool {
	switch n {
	case NamespaceMMKV, NamespaceAsync, NamespaceSecure:
		return true
	}
	return false
}

// StorageKey returns the cache key mirroring key in namespace.
func StorageKey(ns Namespace, key string) querycache.Key {
	return querycache.Key{KeyPrefix, string(ns), key}
}

// NamespaceKey returns the cache key prefix shared by every key of ns.
func NamespaceKey(ns Namespace) querycache.Key {
	return querycache.Key{KeyPrefix, string(ns)}
}

// IsStorageKey reports whether key has the mirrored storage shape.
func IsStorageKey(key querycache.Key) bool {
	_, _, err := ParseStorageKey(key)
	return err == nil
}

// ParseStorageKey splits a mirrored key into namespace and storage key.
func ParseStorageKey(key querycache.Key) (Namespace, string, error) {
	if len(key) != 3 {
		return "", "", invalidKey(key)
	}
	prefix, ok := key[0].(string)
	if !ok || prefix != KeyPrefix {
		return "", "", invalidKey(key)
	}
	ns, ok := key[1].(string)
	if !ok || !Namespace(ns).Valid() {
		return "", "", invalidKey(key)
	}
	name, ok := key[2].(string)
	if !ok {
		return "", "", invalidKey(key)
	}
	return Namespace(ns), name, nil
}

func invalidKey(key querycache.Key) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidStorageKey, querycache.HashKey(key))
}

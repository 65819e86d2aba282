package querycache

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Key identifies a query or mutation. Elements must be JSON serializable.
type Key []any

// HashKey derives the stable hash for a key. Object keys are sorted by the
// JSON encoder, so structurally equal keys always hash the same.
func HashKey(key Key) string {
	if key == nil {
		key = Key{}
	}
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Sprintf("%v", []any(key))
	}
	return string(data)
}

// normalize converts v into the plain JSON value space (map[string]any,
// []any, float64, string, bool, nil) so values from different Go types can be
// compared structurally.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// PartialMatchKey reports whether filter is a prefix of key. Objects match
// when every field present in the filter matches; arrays match element-wise
// on the filter's length.
func PartialMatchKey(key, filter Key) bool {
	return partialMatch(normalize(key), normalize(filter))
}

func partialMatch(a, b any) bool {
	switch bv := b.(type) {
	case map[string]any:
		av, ok := a.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range bv {
			if !partialMatch(av[k], v) {
				return false
			}
		}
		return true
	case []any:
		av, ok := a.([]any)
		if !ok || len(bv) > len(av) {
			return false
		}
		for i := range bv {
			if !partialMatch(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

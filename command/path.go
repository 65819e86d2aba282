package command

import (
	"encoding/json"
	"fmt"
	"math"
)

// fieldPath extracts the path of ACTION-DELETE-DATA-FIELD from the command
// data, given either as {"path": [...]} or as the bare array.
func fieldPath(data any) ([]any, error) {
	raw := data
	if m, ok := data.(map[string]any); ok {
		raw = m["path"]
	}
	path, ok := raw.([]any)
	if !ok || len(path) == 0 {
		return nil, fmt.Errorf("path must be a non-empty array, got %T", raw)
	}
	return path, nil
}

// deleteAtPath returns a copy of value without the element addressed by
// path. Object members are addressed by string, array elements by index.
// Only the maps and slices along path are copied; untouched branches are
// shared with value and keep their Go types.
func deleteAtPath(value any, path []any) (any, error) {
	return deleteIn(value, path)
}

func deleteIn(node any, path []any) (any, error) {
	seg := path[0]
	last := len(path) == 1

	switch n := node.(type) {
	case map[string]any:
		name, ok := seg.(string)
		if !ok {
			return nil, fmt.Errorf("object member must be addressed by string, got %v", seg)
		}
		child, exists := n[name]
		if !exists {
			return nil, fmt.Errorf("no member %q", name)
		}
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = v
		}
		if last {
			delete(out, name)
			return out, nil
		}
		updated, err := deleteIn(child, path[1:])
		if err != nil {
			return nil, err
		}
		out[name] = updated
		return out, nil

	case []any:
		i, err := index(seg, len(n))
		if err != nil {
			return nil, err
		}
		if last {
			out := make([]any, 0, len(n)-1)
			out = append(out, n[:i]...)
			return append(out, n[i+1:]...), nil
		}
		updated, err := deleteIn(n[i], path[1:])
		if err != nil {
			return nil, err
		}
		out := append([]any(nil), n...)
		out[i] = updated
		return out, nil

	default:
		// Typed values (structs, typed maps and slices) are descended as
		// their JSON form.
		converted, err := plain(node)
		if err != nil {
			return nil, err
		}
		switch converted.(type) {
		case map[string]any, []any:
			return deleteIn(converted, path)
		}
		return nil, fmt.Errorf("cannot descend into %T at %v", node, seg)
	}
}

func index(seg any, length int) (int, error) {
	var f float64
	switch v := seg.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := json.Number(v).Int64()
		if err != nil {
			return 0, fmt.Errorf("array element must be addressed by index, got %q", v)
		}
		f = float64(parsed)
	default:
		return 0, fmt.Errorf("array element must be addressed by index, got %v", seg)
	}
	if f != math.Trunc(f) || f < 0 || f >= float64(length) {
		return 0, fmt.Errorf("index %v out of range [0,%d)", seg, length)
	}
	return int(f), nil
}

// plain converts v into its JSON value form. Numbers become float64.
func plain(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

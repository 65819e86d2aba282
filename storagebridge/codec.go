package storagebridge

import (
	"encoding/json"
)

// encode turns cache data into storable text. Strings are stored verbatim.
func encode(data any) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decode parses JSON text, falling back to the raw string.
func decode(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// normalize maps v onto plain JSON values for comparison.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return decode(string(raw))
}

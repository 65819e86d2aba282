package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldPath(t *testing.T) {
	p, err := fieldPath(map[string]any{"path": []any{"a", float64(1)}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", float64(1)}, p)

	p, err = fieldPath([]any{"a"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, p)

	_, err = fieldPath(map[string]any{"path": []any{}})
	assert.Error(t, err)
	_, err = fieldPath("a.b")
	assert.Error(t, err)
}

func TestDeleteAtPath(t *testing.T) {
	value := map[string]any{
		"items": []any{map[string]any{"id": 1, "done": true}, map[string]any{"id": 2}},
		"count": 2,
	}

	out, err := deleteAtPath(value, []any{"items", "0", "done"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"items": []any{map[string]any{"id": 1}, map[string]any{"id": 2}},
		"count": 2,
	}, out)

	out, err = deleteAtPath(value, []any{"items", 1})
	require.NoError(t, err)
	assert.Len(t, out.(map[string]any)["items"], 1)

	out, err = deleteAtPath(value, []any{"count"})
	require.NoError(t, err)
	assert.NotContains(t, out, "count")

	assert.Contains(t, value, "count", "input must not be modified")
	assert.Contains(t, value["items"].([]any)[0], "done")
	assert.Len(t, value["items"], 2)
}

func TestDeleteAtPath_TypedValues(t *testing.T) {
	type todo struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	value := map[string]any{"todo": todo{Title: "ship", Tags: []string{"a", "b"}}, "rev": 7}

	out, err := deleteAtPath(value, []any{"todo", "tags", 0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"todo": map[string]any{"title": "ship", "tags": []any{"b"}},
		"rev":  7,
	}, out)
}

func TestDeleteAtPath_Errors(t *testing.T) {
	value := map[string]any{"items": []any{"a"}, "n": 1}

	cases := map[string][]any{
		"missing member":       {"nope"},
		"index out of range":   {"items", 3},
		"negative index":       {"items", -1},
		"fractional index":     {"items", 0.5},
		"string index on list": {"items", "x"},
		"number on object":     {float64(0)},
		"descend into scalar":  {"n", "x"},
		"huge index":           {"items", 1e20},
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := deleteAtPath(value, path)
			assert.Error(t, err)
		})
	}
}

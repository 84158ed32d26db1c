package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStruct(t *testing.T) {
	type args struct {
		A     float64 `json:"a" description:"first addend"`
		B     float64 `json:"b"`
		Label string  `json:"label,omitempty"`
	}

	s := FromStruct(args{})
	props := s["properties"].(map[string]any)
	assert.Equal(t, "number", props["a"].(map[string]any)["type"])
	assert.Equal(t, "first addend", props["a"].(map[string]any)["description"])
	assert.ElementsMatch(t, []string{"a", "b"}, s["required"])
}

func TestValidate(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"n": map[string]any{"type": "integer"},
		},
		"required": []string{"a"},
	}

	require.NoError(t, Validate(map[string]any{"a": 1.5, "n": float64(3)}, s))

	err := Validate(map[string]any{}, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field is missing")

	err = Validate(map[string]any{"a": "nope"}, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected type number")

	// Non-integral floats do not pass as integers.
	assert.Error(t, Validate(map[string]any{"a": 1.0, "n": 3.5}, s))
}

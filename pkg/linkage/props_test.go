package linkage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeProps(t *testing.T) {
	t.Run("incoming keys win", func(t *testing.T) {
		merged := MergeProps(
			map[string]any{"tier": "gold", "seats": 3},
			map[string]any{"tier": "platinum"},
		)

		assert.Equal(t, "platinum", merged["tier"])
		assert.Equal(t, 3, merged["seats"])
	})

	t.Run("shallow only", func(t *testing.T) {
		merged := MergeProps(
			map[string]any{"nested": map[string]any{"a": 1, "b": 2}},
			map[string]any{"nested": map[string]any{"a": 9}},
		)

		nested := merged["nested"].(map[string]any)
		assert.Equal(t, 9, nested["a"])
		assert.NotContains(t, nested, "b")
	})

	t.Run("empty destination", func(t *testing.T) {
		merged := MergeProps(nil, map[string]any{"k": "v"})
		assert.Equal(t, map[string]any{"k": "v"}, merged)
	})

	t.Run("empty source preserves destination", func(t *testing.T) {
		merged := MergeProps(map[string]any{"k": "v"}, nil)
		assert.Equal(t, map[string]any{"k": "v"}, merged)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		dst := map[string]any{"tier": "gold"}
		src := map[string]any{"tier": "platinum"}
		MergeProps(dst, src)

		assert.Equal(t, "gold", dst["tier"])
	})
}

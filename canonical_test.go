package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytes(t *testing.T) {
	t.Run("Key order does not matter", func(t *testing.T) {
		a, err := CanonicalBytes(map[string]any{"b": 1, "a": "x"})
		require.NoError(t, err)
		b, err := CanonicalBytes(map[string]any{"a": "x", "b": 1})
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, `{"a":"x","b":1}`, string(a))
	})

	t.Run("Nested structures are normalized", func(t *testing.T) {
		a, err := CanonicalBytes(map[string]any{
			"outer": map[string]any{"z": true, "a": []int{1, 2}},
		})
		require.NoError(t, err)
		assert.Equal(t, `{"outer":{"a":[1,2],"z":true}}`, string(a))
	})
}

func TestCanonicalHash(t *testing.T) {
	t.Run("Stable across key order", func(t *testing.T) {
		h1, err := CanonicalHash(map[string]any{"to": "0xabc", "value": "10"})
		require.NoError(t, err)
		h2, err := CanonicalHash(map[string]any{"value": "10", "to": "0xabc"})
		require.NoError(t, err)

		assert.Equal(t, h1, h2)
	})

	t.Run("Format is 0x plus 64 lowercase hex chars", func(t *testing.T) {
		h, err := CanonicalHash(map[string]any{"k": "v"})
		require.NoError(t, err)

		require.Len(t, h, 66)
		assert.True(t, strings.HasPrefix(h, "0x"))
		assert.Equal(t, strings.ToLower(h), h)
	})

	t.Run("Different content different hash", func(t *testing.T) {
		h1, err := CanonicalHash(map[string]any{"value": "10"})
		require.NoError(t, err)
		h2, err := CanonicalHash(map[string]any{"value": "11"})
		require.NoError(t, err)

		assert.NotEqual(t, h1, h2)
	})
}

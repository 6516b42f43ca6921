package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		lg := NewLoggerIPFS("test").With("intentID", "intent-ctx")
		ctx := SetContextLogger(context.Background(), lg)

		got := LoggerFromContext(ctx)
		assert.Same(t, lg, got)
	})

	t.Run("Missing logger falls back", func(t *testing.T) {
		got := LoggerFromContext(context.Background())
		require.NotNil(t, got)
	})
}

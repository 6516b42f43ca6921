package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerLogAndTrail(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ledger := NewLedger(db)
	ctx := context.Background()

	require.NoError(t, ledger.Log(ctx, "intent-a", EventIntentReceived, map[string]any{"wallet": testWallet}))
	require.NoError(t, ledger.Log(ctx, "intent-a", EventPolicyEvaluated, map[string]any{"decision": "allow"}))
	require.NoError(t, ledger.Log(ctx, "intent-b", EventIntentReceived, nil))

	t.Run("Trail is ordered and scoped to the intent", func(t *testing.T) {
		trail, err := ledger.GetTrail(ctx, "intent-a")
		require.NoError(t, err)
		require.Len(t, trail, 2)

		assert.Equal(t, EventIntentReceived, trail[0].Event)
		assert.Equal(t, EventPolicyEvaluated, trail[1].Event)
		assert.LessOrEqual(t, trail[0].Timestamp, trail[1].Timestamp)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(trail[0].Data, &payload))
		assert.Equal(t, testWallet, payload["wallet"])
	})

	t.Run("Recent events are newest first", func(t *testing.T) {
		events, err := ledger.GetRecentEvents(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.GreaterOrEqual(t, events[0].ID, events[1].ID)
	})
}

func TestLedgerRateLimitWindow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ledger := NewLedger(db)
	ctx := context.Background()

	base := time.Now()
	windowMs := int64(3600_000)

	record := func(age time.Duration) {
		ledger.now = func() time.Time { return base.Add(-age) }
		require.NoError(t, ledger.RecordRateLimitTick(ctx, testWallet))
	}

	record(2 * time.Hour)              // outside
	record(time.Hour)                  // exactly at the boundary
	record(time.Hour - time.Millisecond) // just inside
	record(time.Minute)                // inside
	record(0)                          // inside

	ledger.now = func() time.Time { return base }

	t.Run("Boundary tick is excluded", func(t *testing.T) {
		count, err := ledger.CountRecentTxByWallet(ctx, testWallet, windowMs)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Other wallets are not counted", func(t *testing.T) {
		count, err := ledger.CountRecentTxByWallet(ctx, testSpender, windowMs)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("Ticks age out as time advances", func(t *testing.T) {
		ledger.now = func() time.Time { return base.Add(30 * time.Minute) }
		count, err := ledger.CountRecentTxByWallet(ctx, testWallet, windowMs)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

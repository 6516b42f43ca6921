package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingApprovalStore(t *testing.T) {
	t.Run("Approve resolves the channel with true", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		requestID, resultCh, err := store.Add("transfer 100 USDC")
		require.NoError(t, err)

		require.True(t, store.Decide(requestID, true))
		select {
		case approved := <-resultCh:
			assert.True(t, approved)
		case <-time.After(time.Second):
			t.Fatal("decision never arrived")
		}
	})

	t.Run("Reject resolves with false", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		requestID, resultCh, err := store.Add("approve UNLIMITED")
		require.NoError(t, err)

		require.True(t, store.Decide(requestID, false))
		assert.False(t, <-resultCh)
	})

	t.Run("First decision wins", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		requestID, resultCh, err := store.Add("swap")
		require.NoError(t, err)

		assert.True(t, store.Decide(requestID, false))
		assert.False(t, store.Decide(requestID, true))
		assert.False(t, <-resultCh)
	})

	t.Run("Unknown id reports false", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		assert.False(t, store.Decide("no-such-request", true))
	})

	t.Run("Get and List see live entries", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		requestID, _, err := store.Add("transfer")
		require.NoError(t, err)

		entry, ok := store.Get(requestID)
		require.True(t, ok)
		assert.Equal(t, "transfer", entry.Summary)
		assert.Len(t, store.List(), 1)

		store.Decide(requestID, true)
		_, ok = store.Get(requestID)
		assert.False(t, ok)
		assert.Empty(t, store.List())
	})

	t.Run("Close fails outstanding entries closed", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))

		_, resultCh, err := store.Add("transfer")
		require.NoError(t, err)

		store.Close()
		assert.False(t, <-resultCh)

		_, _, err = store.Add("after close")
		require.Error(t, err)
	})

	t.Run("Capacity limit", func(t *testing.T) {
		store := NewPendingApprovalStore(time.Minute, NewLoggerIPFS("test"))
		defer store.Close()

		for i := 0; i < maxPendingApprovals; i++ {
			_, _, err := store.Add("bulk")
			require.NoError(t, err)
		}
		_, _, err := store.Add("one too many")
		require.Error(t, err)
	})
}

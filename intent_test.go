package main

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testToken   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	testToken2  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	testSpender = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
)

func testTransferIntentJSON(t *testing.T) []byte {
	t.Helper()
	payload := map[string]any{
		"id":        "intent-1",
		"timestamp": time.Now().Unix(),
		"chain":     map[string]any{"type": "evm", "id": 1},
		"wallet":    testWallet,
		"action": map[string]any{
			"type":   "transfer",
			"asset":  map[string]any{"kind": "erc20", "address": testToken, "symbol": "USDC"},
			"to":     testSpender,
			"amount": "1000000",
		},
		"constraints": map[string]any{},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func TestNewUint256FromString(t *testing.T) {
	t.Run("Valid decimal", func(t *testing.T) {
		u, err := NewUint256FromString("123456789012345678901234567890")
		require.NoError(t, err)
		assert.Equal(t, "123456789012345678901234567890", u.String())
	})

	t.Run("Rejects empty", func(t *testing.T) {
		_, err := NewUint256FromString("")
		require.Error(t, err)
	})

	t.Run("Rejects hex", func(t *testing.T) {
		_, err := NewUint256FromString("0x10")
		require.Error(t, err)
	})

	t.Run("Rejects negative", func(t *testing.T) {
		_, err := NewUint256FromString("-5")
		require.Error(t, err)
	})

	t.Run("Rejects float", func(t *testing.T) {
		_, err := NewUint256FromString("1.5")
		require.Error(t, err)
	})
}

func TestUint256JSON(t *testing.T) {
	t.Run("Marshals as decimal string", func(t *testing.T) {
		u, err := NewUint256FromString("42")
		require.NoError(t, err)
		raw, err := json.Marshal(u)
		require.NoError(t, err)
		assert.Equal(t, `"42"`, string(raw))
	})

	t.Run("Rejects JSON number", func(t *testing.T) {
		var u Uint256
		err := json.Unmarshal([]byte(`42`), &u)
		require.Error(t, err)
	})
}

func TestIsUnlimitedApproval(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.True(t, IsUnlimitedApproval(max))
	assert.False(t, IsUnlimitedApproval(new(big.Int).Sub(max, big.NewInt(1))))
	assert.False(t, IsUnlimitedApproval(nil))
}

func TestActionEnvelopeUnmarshal(t *testing.T) {
	t.Run("Dispatches transfer variant", func(t *testing.T) {
		var env ActionEnvelope
		err := json.Unmarshal([]byte(`{
			"type": "transfer",
			"asset": {"kind": "erc20", "address": "`+testToken+`"},
			"to": "`+testSpender+`",
			"amount": "100"
		}`), &env)
		require.NoError(t, err)

		action, ok := env.Action.(*TransferAction)
		require.True(t, ok)
		assert.Equal(t, testToken, action.Asset.Address)
		assert.Equal(t, "100", action.Amount.String())
	})

	t.Run("Rejects unknown action type", func(t *testing.T) {
		var env ActionEnvelope
		err := json.Unmarshal([]byte(`{"type": "teleport", "to": "0x1"}`), &env)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "teleport")
	})

	t.Run("Rejects missing type tag", func(t *testing.T) {
		var env ActionEnvelope
		err := json.Unmarshal([]byte(`{"to": "0x1", "amount": "1"}`), &env)
		require.Error(t, err)
	})

	t.Run("Rejects unknown fields inside a variant", func(t *testing.T) {
		var env ActionEnvelope
		err := json.Unmarshal([]byte(`{
			"type": "transfer_native",
			"to": "`+testSpender+`",
			"amount": "100",
			"extra": true
		}`), &env)
		require.Error(t, err)
	})

	t.Run("Round trips through marshal", func(t *testing.T) {
		amount, err := NewUint256FromString("7")
		require.NoError(t, err)
		env := ActionEnvelope{Action: &TransferNativeAction{To: testSpender, Amount: amount}}

		raw, err := json.Marshal(env)
		require.NoError(t, err)

		var decoded ActionEnvelope
		require.NoError(t, json.Unmarshal(raw, &decoded))
		action, ok := decoded.Action.(*TransferNativeAction)
		require.True(t, ok)
		assert.Equal(t, testSpender, action.To)
		assert.Equal(t, "7", action.Amount.String())
	})
}

func TestParseIntent(t *testing.T) {
	v := NewIntentValidator()

	t.Run("Valid transfer intent", func(t *testing.T) {
		intent, err := ParseIntent(v, testTransferIntentJSON(t), time.Now())
		require.NoError(t, err)
		assert.Equal(t, "intent-1", intent.ID)
		assert.Equal(t, uint64(1), intent.Chain.ID)
		assert.Equal(t, ActionTransfer, intent.Action.Action.Type())
	})

	t.Run("Assigns id when missing", func(t *testing.T) {
		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(testTransferIntentJSON(t), &payload))
		delete(payload, "id")
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		intent, err := ParseIntent(v, raw, time.Now())
		require.NoError(t, err)
		assert.NotEmpty(t, intent.ID)
	})

	t.Run("Rejects malformed JSON", func(t *testing.T) {
		_, err := ParseIntent(v, []byte(`{not json`), time.Now())
		require.Error(t, err)
		assert.IsType(t, ValidationError{}, err)
	})

	t.Run("Rejects invalid wallet address", func(t *testing.T) {
		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(testTransferIntentJSON(t), &payload))
		payload["wallet"] = json.RawMessage(`"not-an-address"`)
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		_, err = ParseIntent(v, raw, time.Now())
		require.Error(t, err)
	})

	t.Run("Rejects passed deadline", func(t *testing.T) {
		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(testTransferIntentJSON(t), &payload))
		payload["constraints"] = json.RawMessage(`{"deadline": 1000}`)
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		_, err = ParseIntent(v, raw, time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
	})
}

func TestIntentHash(t *testing.T) {
	v := NewIntentValidator()

	t.Run("Deterministic for equal intents", func(t *testing.T) {
		raw := testTransferIntentJSON(t)
		first, err := ParseIntent(v, raw, time.Now())
		require.NoError(t, err)
		second, err := ParseIntent(v, raw, time.Now())
		require.NoError(t, err)

		h1, err := IntentHash(first)
		require.NoError(t, err)
		h2, err := IntentHash(second)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("Changes when the amount changes", func(t *testing.T) {
		first, err := ParseIntent(v, testTransferIntentJSON(t), time.Now())
		require.NoError(t, err)
		second, err := ParseIntent(v, testTransferIntentJSON(t), time.Now())
		require.NoError(t, err)
		second.Action.Action.(*TransferAction).Amount, err = NewUint256FromString("999")
		require.NoError(t, err)

		h1, err := IntentHash(first)
		require.NoError(t, err)
		h2, err := IntentHash(second)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

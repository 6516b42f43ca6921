package main

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRouterAddr = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"

func mustUint256(t *testing.T, s string) *Uint256 {
	t.Helper()
	u, err := NewUint256FromString(s)
	require.NoError(t, err)
	return u
}

func testIntent(t *testing.T, action Action) *Intent {
	t.Helper()
	return &Intent{
		ID:        "intent-build",
		Timestamp: time.Now().Unix(),
		Chain:     ChainDescriptor{Type: "evm", ID: 1},
		Wallet:    testWallet,
		Action:    ActionEnvelope{Action: action},
	}
}

func testRouters(t *testing.T) *RoutersConfig {
	t.Helper()
	routers, err := NewRoutersConfig(RouterConfig{
		Name:    "uniswap_v2",
		ChainID: 1,
		Address: testRouterAddr,
	})
	require.NoError(t, err)
	return routers
}

func TestBuildERC20Transfer(t *testing.T) {
	intent := testIntent(t, &TransferAction{
		Asset:  Asset{Kind: "erc20", Address: testToken, Symbol: "USDC"},
		To:     testSpender,
		Amount: mustUint256(t, "1000000"),
	})

	plan, err := BuildERC20Transfer(intent)
	require.NoError(t, err)

	// The transaction targets the token contract, not the recipient.
	assert.Equal(t, testToken, plan.TxRequest.To)
	assert.Equal(t, big.NewInt(0), plan.TxRequest.Value)
	assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+selectorERC20Transfer))
	assert.Len(t, plan.TxRequest.Data, 2+8+64+64)
	assert.Contains(t, plan.Description, "USDC")
	assert.Contains(t, plan.Description, testSpender)
	assert.NotEmpty(t, plan.TxRequestHash)
}

func TestBuildNativeTransfer(t *testing.T) {
	intent := testIntent(t, &TransferNativeAction{
		To:     testSpender,
		Amount: mustUint256(t, "5000000000000000"),
	})

	plan, err := BuildNativeTransfer(intent)
	require.NoError(t, err)

	assert.Equal(t, testSpender, plan.TxRequest.To)
	assert.Equal(t, "0x", plan.TxRequest.Data)
	assert.Equal(t, "5000000000000000", plan.TxRequest.Value.String())
}

func TestBuildApprove(t *testing.T) {
	t.Run("Bounded amount", func(t *testing.T) {
		intent := testIntent(t, &ApproveAction{
			Asset:   Asset{Kind: "erc20", Address: testToken},
			Spender: testSpender,
			Amount:  mustUint256(t, "1000"),
		})

		plan, err := BuildApprove(intent)
		require.NoError(t, err)

		assert.Equal(t, testToken, plan.TxRequest.To)
		assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+selectorERC20Approve))
		assert.NotContains(t, plan.Description, "UNLIMITED")
	})

	t.Run("Unlimited amount is called out", func(t *testing.T) {
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		intent := testIntent(t, &ApproveAction{
			Asset:   Asset{Kind: "erc20", Address: testToken},
			Spender: testSpender,
			Amount:  NewUint256(max),
		})

		plan, err := BuildApprove(intent)
		require.NoError(t, err)
		assert.Contains(t, plan.Description, "UNLIMITED")
	})

	t.Run("Rejects wrong action type", func(t *testing.T) {
		intent := testIntent(t, &TransferNativeAction{To: testSpender, Amount: mustUint256(t, "1")})
		_, err := BuildApprove(intent)
		require.Error(t, err)
		assert.Contains(t, err.Error(), string(ActionApprove))
		assert.Contains(t, err.Error(), string(ActionTransferNative))
	})
}

func TestBuildSwapExactIn(t *testing.T) {
	swap := &SwapExactInAction{
		AssetIn:      Asset{Kind: "erc20", Address: testToken},
		AssetOut:     Asset{Kind: "erc20", Address: testToken2},
		AmountIn:     mustUint256(t, "1000000"),
		MinAmountOut: mustUint256(t, "990000"),
	}

	t.Run("Uses the chain's default router", func(t *testing.T) {
		intent := testIntent(t, swap)
		plan, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{Routers: testRouters(t)})
		require.NoError(t, err)

		assert.Equal(t, testRouterAddr, plan.TxRequest.To)
		assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+selectorSwapExactIn))
		assert.Contains(t, plan.Description, "uniswap_v2")
	})

	t.Run("Rejects unlisted router", func(t *testing.T) {
		badSwap := *swap
		badSwap.Router = testWallet
		intent := testIntent(t, &badSwap)

		_, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{Routers: testRouters(t)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), testRouterAddr)
	})

	t.Run("No router for chain", func(t *testing.T) {
		intent := testIntent(t, swap)
		intent.Chain.ID = 42161

		_, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{Routers: testRouters(t)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "42161")
	})

	t.Run("Deadline comes from constraints when set", func(t *testing.T) {
		intent := testIntent(t, swap)
		intent.Constraints.Deadline = intent.Timestamp + 600

		withDeadline, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{Routers: testRouters(t)})
		require.NoError(t, err)

		intent.Constraints.Deadline = 0
		withoutDeadline, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{Routers: testRouters(t)})
		require.NoError(t, err)

		assert.NotEqual(t, withDeadline.TxRequest.Data, withoutDeadline.TxRequest.Data)
	})
}

func TestBuildSwapExactOut(t *testing.T) {
	intent := testIntent(t, &SwapExactOutAction{
		AssetIn:     Asset{Kind: "erc20", Address: testToken},
		AssetOut:    Asset{Kind: "erc20", Address: testToken2},
		AmountOut:   mustUint256(t, "1000000"),
		MaxAmountIn: mustUint256(t, "1010000"),
	})

	plan, err := BuildSwapExactOut(intent, BuildDeps{Routers: testRouters(t)})
	require.NoError(t, err)

	assert.Equal(t, testRouterAddr, plan.TxRequest.To)
	assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+selectorSwapExactOut))
}

type stubAggregator struct {
	quote *SwapQuote
	err   error
	calls int
}

func (s *stubAggregator) GetSwap(ctx context.Context, chainID uint64, req SwapQuoteRequest) (*SwapQuote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.quote, nil
}

func (s *stubAggregator) SupportsChain(chainID uint64) bool { return chainID == 1 }

func TestBuildSwapExactInAggregator(t *testing.T) {
	swap := &SwapExactInAction{
		Provider:     AggregatorProvider1inch,
		AssetIn:      Asset{Kind: "erc20", Address: testToken},
		AssetOut:     Asset{Kind: "erc20", Address: testToken2},
		AmountIn:     mustUint256(t, "1000000"),
		MinAmountOut: mustUint256(t, "990000"),
	}

	t.Run("Aggregator path wins when it succeeds", func(t *testing.T) {
		agg := &stubAggregator{quote: &SwapQuote{
			Tx:         AggregatorTx{To: "0x1111111254EEB25477B68fb85Ed929f73A960582", Data: "0xdeadbeef", Value: big.NewInt(0)},
			FromAmount: big.NewInt(1000000),
			ToAmount:   big.NewInt(995000),
		}}

		intent := testIntent(t, swap)
		plan, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{
			Routers:    testRouters(t),
			Aggregator: agg,
			Logger:     NewLoggerIPFS("test"),
		})
		require.NoError(t, err)

		assert.Equal(t, 1, agg.calls)
		assert.Equal(t, "0x1111111254EEB25477B68fb85Ed929f73A960582", plan.TxRequest.To)
		assert.Equal(t, "0xdeadbeef", plan.TxRequest.Data)
		assert.Contains(t, plan.Description, "1inch")
	})

	t.Run("Falls back to the router on aggregator failure", func(t *testing.T) {
		agg := &stubAggregator{err: NewUpstreamError(assert.AnError)}

		intent := testIntent(t, swap)
		plan, err := BuildSwapExactIn(context.Background(), intent, BuildDeps{
			Routers:    testRouters(t),
			Aggregator: agg,
			Logger:     NewLoggerIPFS("test"),
		})
		require.NoError(t, err)

		assert.Equal(t, 1, agg.calls)
		assert.Equal(t, testRouterAddr, plan.TxRequest.To)
		assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+selectorSwapExactIn))
	})
}

func TestTxRequestHash(t *testing.T) {
	base := TxRequest{
		ChainID: 1,
		To:      testToken,
		Data:    "0xa9059cbb",
		Value:   big.NewInt(0),
		Type:    DynamicFeeTxType,
	}

	t.Run("Equal content equal hash", func(t *testing.T) {
		other := base
		h1, err := base.Hash()
		require.NoError(t, err)
		h2, err := other.Hash()
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("Nonce does not change the hash", func(t *testing.T) {
		other := base
		other.Nonce = 42
		other.GasLimit = 100000

		h1, err := base.Hash()
		require.NoError(t, err)
		h2, err := other.Hash()
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("Calldata changes the hash", func(t *testing.T) {
		other := base
		other.Data = "0x095ea7b3"

		h1, err := base.Hash()
		require.NoError(t, err)
		h2, err := other.Hash()
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})
}

func TestBuildFromIntentDispatch(t *testing.T) {
	deps := BuildDeps{Routers: testRouters(t)}

	cases := []struct {
		name   string
		action Action
		prefix string
	}{
		{"transfer", &TransferAction{Asset: Asset{Kind: "erc20", Address: testToken}, To: testSpender, Amount: mustUint256(t, "1")}, selectorERC20Transfer},
		{"approve", &ApproveAction{Asset: Asset{Kind: "erc20", Address: testToken}, Spender: testSpender, Amount: mustUint256(t, "1")}, selectorERC20Approve},
		{"swap_exact_in", &SwapExactInAction{AssetIn: Asset{Kind: "erc20", Address: testToken}, AssetOut: Asset{Kind: "erc20", Address: testToken2}, AmountIn: mustUint256(t, "1"), MinAmountOut: mustUint256(t, "1")}, selectorSwapExactIn},
		{"swap_exact_out", &SwapExactOutAction{AssetIn: Asset{Kind: "erc20", Address: testToken}, AssetOut: Asset{Kind: "erc20", Address: testToken2}, AmountOut: mustUint256(t, "1"), MaxAmountIn: mustUint256(t, "1")}, selectorSwapExactOut},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := BuildFromIntent(context.Background(), testIntent(t, tc.action), deps)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(plan.TxRequest.Data, "0x"+tc.prefix))
		})
	}

	t.Run("native transfer has empty calldata", func(t *testing.T) {
		plan, err := BuildFromIntent(context.Background(),
			testIntent(t, &TransferNativeAction{To: testSpender, Amount: mustUint256(t, "1")}), deps)
		require.NoError(t, err)
		assert.Equal(t, "0x", plan.TxRequest.Data)
	})
}

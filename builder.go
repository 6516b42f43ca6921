package main

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ERC-20 and UniswapV2-style router function selectors.
const (
	selectorERC20Transfer = "a9059cbb" // transfer(address,uint256)
	selectorERC20Approve  = "095ea7b3" // approve(address,uint256)
	selectorSwapExactIn   = "38ed1739" // swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	selectorSwapExactOut  = "8803dbee" // swapTokensForExactTokens(uint256,uint256,address[],address,uint256)
)

// swapDeadlineSlack is added to the intent timestamp when the caller set
// no explicit deadline, keeping the encoded calldata a pure function of
// the intent.
const swapDeadlineSlack = 1200 // seconds

// DynamicFeeTxType marks an EIP-1559 transaction request.
const DynamicFeeTxType = uint8(2)

var (
	abiUint256, _      = abi.NewType("uint256", "", nil)
	abiAddress, _      = abi.NewType("address", "", nil)
	abiAddressSlice, _ = abi.NewType("address[]", "", nil)

	// Both router swap functions share the argument layout
	// (amountA, amountB, path, to, deadline).
	swapArguments = abi.Arguments{
		{Type: abiUint256},
		{Type: abiUint256},
		{Type: abiAddressSlice},
		{Type: abiAddress},
		{Type: abiUint256},
	}
)

// TxRequest is a chain-executable transaction request. Nonce and fee
// fields are filled in by the signing pipeline; the request hash is
// computed over the build-time projection only, so it is stable from the
// moment the plan exists.
type TxRequest struct {
	ChainID              uint64
	To                   string
	Data                 string // 0x-prefixed calldata; "0x" when empty
	Value                *big.Int
	Nonce                uint64
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Type                 uint8
}

// hashProjection is the JSON-serializable view of the request that gets
// canonically hashed. Every 64-bit+ number is a decimal string.
func (r *TxRequest) hashProjection() map[string]any {
	value := "0"
	if r.Value != nil {
		value = r.Value.String()
	}
	return map[string]any{
		"chainId": strconv.FormatUint(r.ChainID, 10),
		"to":      strings.ToLower(r.To),
		"data":    r.Data,
		"value":   value,
		"type":    int(r.Type),
	}
}

// Hash returns the canonical content hash of the request. Equal requests
// always produce equal hashes; this is what approval tokens bind to.
func (r *TxRequest) Hash() (string, error) {
	return CanonicalHash(r.hashProjection())
}

// BuildPlan is the builder's output: an executable transaction request,
// its content hash, and a human-readable description of what it does.
type BuildPlan struct {
	IntentID      string    `json:"intent_id"`
	TxRequest     TxRequest `json:"-"`
	TxRequestHash string    `json:"tx_request_hash"`
	Description   string    `json:"description"`
}

// BuildDeps carries the builder's collaborators. Routers is required for
// swaps; Aggregator is optional and only consulted for exact-in swaps
// that name a provider.
type BuildDeps struct {
	Routers    *RoutersConfig
	Aggregator AggregatorClient
	Logger     Logger
}

// BuildFromIntent turns a validated intent into a build plan, dispatching
// exhaustively over the closed action set.
func BuildFromIntent(ctx context.Context, intent *Intent, deps BuildDeps) (*BuildPlan, error) {
	switch intent.Action.Action.(type) {
	case *TransferAction:
		return BuildERC20Transfer(intent)
	case *TransferNativeAction:
		return BuildNativeTransfer(intent)
	case *ApproveAction:
		return BuildApprove(intent)
	case *SwapExactInAction:
		return BuildSwapExactIn(ctx, intent, deps)
	case *SwapExactOutAction:
		return BuildSwapExactOut(intent, deps)
	}
	return nil, BuildErrorf("intent %s has no buildable action", intent.ID)
}

// BuildERC20Transfer encodes an ERC-20 transfer call. The transaction
// target is the token contract, not the counterparty.
func BuildERC20Transfer(intent *Intent) (*BuildPlan, error) {
	action, ok := intent.Action.Action.(*TransferAction)
	if !ok {
		return nil, builderMismatch(ActionTransfer, intent.Action.Action)
	}

	data := encodeAddressAmountCall(selectorERC20Transfer, common.HexToAddress(action.To), action.Amount.BigInt())
	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      action.Asset.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Type:    DynamicFeeTxType,
	}

	description := fmt.Sprintf("transfer %s %s (token %s) to %s",
		action.Amount.String(), action.Asset.DisplayName(), action.Asset.Address, action.To)
	return finishPlan(intent, request, description)
}

// BuildNativeTransfer encodes a plain value transfer with empty calldata.
func BuildNativeTransfer(intent *Intent) (*BuildPlan, error) {
	action, ok := intent.Action.Action.(*TransferNativeAction)
	if !ok {
		return nil, builderMismatch(ActionTransferNative, intent.Action.Action)
	}

	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      action.To,
		Data:    "0x",
		Value:   new(big.Int).Set(action.Amount.BigInt()),
		Type:    DynamicFeeTxType,
	}

	description := fmt.Sprintf("send %s wei to %s", action.Amount.String(), action.To)
	return finishPlan(intent, request, description)
}

// BuildApprove encodes an ERC-20 approve call. Amounts equal to the
// maximum 256-bit unsigned integer are described as UNLIMITED.
func BuildApprove(intent *Intent) (*BuildPlan, error) {
	action, ok := intent.Action.Action.(*ApproveAction)
	if !ok {
		return nil, builderMismatch(ActionApprove, intent.Action.Action)
	}

	data := encodeAddressAmountCall(selectorERC20Approve, common.HexToAddress(action.Spender), action.Amount.BigInt())
	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      action.Asset.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Type:    DynamicFeeTxType,
	}

	amountText := action.Amount.String()
	if IsUnlimitedApproval(action.Amount.BigInt()) {
		amountText = "UNLIMITED"
	}
	description := fmt.Sprintf("approve %s to spend %s %s (token %s)",
		action.Spender, amountText, action.Asset.DisplayName(), action.Asset.Address)
	return finishPlan(intent, request, description)
}

// BuildSwapExactIn encodes an exact-in swap. When the intent names the
// 1inch provider the aggregator path is attempted first; any aggregator
// failure falls back to the default on-chain router path rather than
// failing the build. The fallback is attempted exactly once.
func BuildSwapExactIn(ctx context.Context, intent *Intent, deps BuildDeps) (*BuildPlan, error) {
	action, ok := intent.Action.Action.(*SwapExactInAction)
	if !ok {
		return nil, builderMismatch(ActionSwapExactIn, intent.Action.Action)
	}

	if action.Provider == AggregatorProvider1inch && deps.Aggregator != nil {
		plan, err := buildAggregatorSwap(ctx, intent, action, deps.Aggregator)
		if err == nil {
			return plan, nil
		}
		if deps.Logger != nil {
			deps.Logger.Warn("aggregator swap failed, falling back to router",
				"intentID", intent.ID, "error", err)
		}
	}

	router, err := resolveRouter(intent.Chain.ID, action.Router, deps.Routers)
	if err != nil {
		return nil, err
	}

	data, err := encodeRouterSwap(selectorSwapExactIn,
		action.AmountIn.BigInt(), action.MinAmountOut.BigInt(),
		action.AssetIn.Address, action.AssetOut.Address,
		intent.Wallet, swapDeadline(intent))
	if err != nil {
		return nil, err
	}

	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      router.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Type:    DynamicFeeTxType,
	}

	description := fmt.Sprintf("swap %s %s for at least %s %s via %s router %s",
		action.AmountIn.String(), action.AssetIn.DisplayName(),
		action.MinAmountOut.String(), action.AssetOut.DisplayName(),
		router.Name, router.Address)
	return finishPlan(intent, request, description)
}

// BuildSwapExactOut encodes an exact-out swap against the on-chain
// router. The aggregator only supports exact-in, so this path never
// consults it.
func BuildSwapExactOut(intent *Intent, deps BuildDeps) (*BuildPlan, error) {
	action, ok := intent.Action.Action.(*SwapExactOutAction)
	if !ok {
		return nil, builderMismatch(ActionSwapExactOut, intent.Action.Action)
	}

	router, err := resolveRouter(intent.Chain.ID, action.Router, deps.Routers)
	if err != nil {
		return nil, err
	}

	data, err := encodeRouterSwap(selectorSwapExactOut,
		action.AmountOut.BigInt(), action.MaxAmountIn.BigInt(),
		action.AssetIn.Address, action.AssetOut.Address,
		intent.Wallet, swapDeadline(intent))
	if err != nil {
		return nil, err
	}

	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      router.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Type:    DynamicFeeTxType,
	}

	description := fmt.Sprintf("swap at most %s %s for exactly %s %s via %s router %s",
		action.MaxAmountIn.String(), action.AssetIn.DisplayName(),
		action.AmountOut.String(), action.AssetOut.DisplayName(),
		router.Name, router.Address)
	return finishPlan(intent, request, description)
}

func buildAggregatorSwap(ctx context.Context, intent *Intent, action *SwapExactInAction, aggregator AggregatorClient) (*BuildPlan, error) {
	quote, err := aggregator.GetSwap(ctx, intent.Chain.ID, SwapQuoteRequest{
		Src:             common.HexToAddress(action.AssetIn.Address),
		Dst:             common.HexToAddress(action.AssetOut.Address),
		Amount:          action.AmountIn.BigInt(),
		From:            common.HexToAddress(intent.Wallet),
		SlippagePercent: SlippageBpsToPercent(intent.Constraints.MaxSlippageBps),
		DisableEstimate: true,
	})
	if err != nil {
		return nil, err
	}

	request := TxRequest{
		ChainID: intent.Chain.ID,
		To:      quote.Tx.To,
		Data:    quote.Tx.Data,
		Value:   quote.Tx.Value,
		Type:    DynamicFeeTxType,
	}

	description := fmt.Sprintf("swap %s %s for about %s %s via 1inch (contract %s)",
		action.AmountIn.String(), action.AssetIn.DisplayName(),
		quote.ToAmount.String(), action.AssetOut.DisplayName(),
		quote.Tx.To)
	return finishPlan(intent, request, description)
}

// resolveRouter picks the router for a chain and enforces the allowlist.
// An intent naming an unlisted router is rejected with the address the
// chain is configured for.
func resolveRouter(chainID uint64, requested string, routers *RoutersConfig) (RouterConfig, error) {
	if routers == nil {
		return RouterConfig{}, BuildErrorf("no router configuration available")
	}
	router, ok := routers.DefaultRouter(chainID)
	if !ok {
		return RouterConfig{}, BuildErrorf("no swap router configured for chain %d", chainID)
	}
	if requested != "" && common.HexToAddress(requested) != common.HexToAddress(router.Address) {
		return RouterConfig{}, BuildErrorf("router %s is not allowlisted for chain %d (expected %s)",
			requested, chainID, router.Address)
	}
	return router, nil
}

func swapDeadline(intent *Intent) *big.Int {
	if d := intent.Constraints.Deadline; d != 0 {
		return big.NewInt(d)
	}
	return big.NewInt(intent.Timestamp + swapDeadlineSlack)
}

// encodeAddressAmountCall packs selector ++ pad32(address) ++ pad32(amount),
// the shared layout of ERC-20 transfer and approve.
func encodeAddressAmountCall(selector string, addr common.Address, amount *big.Int) string {
	data := make([]byte, 0, 4+32+32)
	data = append(data, common.Hex2Bytes(selector)...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return hexutil.Encode(data)
}

func encodeRouterSwap(selector string, amountA, amountB *big.Int, assetIn, assetOut, recipient string, deadline *big.Int) (string, error) {
	packed, err := swapArguments.Pack(
		amountA,
		amountB,
		[]common.Address{common.HexToAddress(assetIn), common.HexToAddress(assetOut)},
		common.HexToAddress(recipient),
		deadline,
	)
	if err != nil {
		return "", BuildErrorf("swap calldata encoding failed: %v", err)
	}

	data := make([]byte, 0, 4+len(packed))
	data = append(data, common.Hex2Bytes(selector)...)
	data = append(data, packed...)
	return hexutil.Encode(data), nil
}

func builderMismatch(expected ActionType, got Action) error {
	return BuildErrorf("builder for %s received action type %s", expected, got.Type())
}

func finishPlan(intent *Intent, request TxRequest, description string) (*BuildPlan, error) {
	hash, err := request.Hash()
	if err != nil {
		return nil, err
	}
	return &BuildPlan{
		IntentID:      intent.ID,
		TxRequest:     request,
		TxRequestHash: hash,
		Description:   description,
	}, nil
}

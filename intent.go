package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// maxUint256 is 2^256 - 1, the largest value an EVM word can hold.
// Approvals of exactly this amount are treated as unlimited.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// IsUnlimitedApproval reports whether amount equals 2^256 - 1.
func IsUnlimitedApproval(amount *big.Int) bool {
	return amount != nil && amount.Cmp(maxUint256) == 0
}

// Uint256 is a non-negative arbitrary-precision integer carried as a
// base-10 decimal string on the wire. Amounts never touch floating point:
// a float would not survive re-serialization with an identical hash.
type Uint256 struct {
	big.Int
}

// NewUint256 wraps an existing big.Int value.
func NewUint256(v *big.Int) *Uint256 {
	u := &Uint256{}
	u.Set(v)
	return u
}

// NewUint256FromString parses a strict base-10 unsigned integer string.
func NewUint256FromString(s string) (*Uint256, error) {
	if s == "" {
		return nil, ValidationErrorf("amount is empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, ValidationErrorf("amount %q is not a base-10 unsigned integer", s)
		}
	}

	u := &Uint256{}
	if _, ok := u.SetString(s, 10); !ok {
		return nil, ValidationErrorf("amount %q is not a base-10 unsigned integer", s)
	}
	return u, nil
}

// BigInt returns the underlying big.Int.
func (u *Uint256) BigInt() *big.Int {
	return &u.Int
}

func (u *Uint256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ValidationErrorf("amount must be a decimal string, got %s", string(data))
	}

	parsed, err := NewUint256FromString(s)
	if err != nil {
		return err
	}
	u.Set(&parsed.Int)
	return nil
}

func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// ActionType identifies one variant of the closed action set.
type ActionType string

const (
	ActionTransfer       ActionType = "transfer"
	ActionTransferNative ActionType = "transfer_native"
	ActionApprove        ActionType = "approve"
	ActionSwapExactIn    ActionType = "swap_exact_in"
	ActionSwapExactOut   ActionType = "swap_exact_out"
)

// Action is the closed set of operations an intent can request. Every
// dispatch site switches exhaustively over the concrete types; adding a
// variant means adding a case, not falling through a default branch.
type Action interface {
	Type() ActionType
	isAction()
}

// Asset identifies an ERC-20 token instance.
type Asset struct {
	Kind     string `json:"kind" validate:"required,oneof=erc20"`
	Address  string `json:"address" validate:"required,eth_addr"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *uint8 `json:"decimals,omitempty"`
}

// DisplayName returns the symbol when known, the address otherwise.
func (a Asset) DisplayName() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.Address
}

type TransferAction struct {
	Asset  Asset    `json:"asset" validate:"required"`
	To     string   `json:"to" validate:"required,eth_addr"`
	Amount *Uint256 `json:"amount" validate:"required"`
}

func (*TransferAction) Type() ActionType { return ActionTransfer }
func (*TransferAction) isAction()        {}

type TransferNativeAction struct {
	To     string   `json:"to" validate:"required,eth_addr"`
	Amount *Uint256 `json:"amount" validate:"required"`
}

func (*TransferNativeAction) Type() ActionType { return ActionTransferNative }
func (*TransferNativeAction) isAction()        {}

type ApproveAction struct {
	Asset   Asset    `json:"asset" validate:"required"`
	Spender string   `json:"spender" validate:"required,eth_addr"`
	Amount  *Uint256 `json:"amount" validate:"required"`
}

func (*ApproveAction) Type() ActionType { return ActionApprove }
func (*ApproveAction) isAction()        {}

type SwapExactInAction struct {
	// Router is optional; when empty the chain's default router is used.
	Router       string   `json:"router,omitempty" validate:"omitempty,eth_addr"`
	Provider     string   `json:"provider,omitempty" validate:"omitempty,oneof=1inch"`
	AssetIn      Asset    `json:"assetIn" validate:"required"`
	AssetOut     Asset    `json:"assetOut" validate:"required"`
	AmountIn     *Uint256 `json:"amountIn" validate:"required"`
	MinAmountOut *Uint256 `json:"minAmountOut" validate:"required"`
}

func (*SwapExactInAction) Type() ActionType { return ActionSwapExactIn }
func (*SwapExactInAction) isAction()        {}

type SwapExactOutAction struct {
	Router      string   `json:"router,omitempty" validate:"omitempty,eth_addr"`
	Provider    string   `json:"provider,omitempty" validate:"omitempty,oneof=1inch"`
	AssetIn     Asset    `json:"assetIn" validate:"required"`
	AssetOut    Asset    `json:"assetOut" validate:"required"`
	AmountOut   *Uint256 `json:"amountOut" validate:"required"`
	MaxAmountIn *Uint256 `json:"maxAmountIn" validate:"required"`
}

func (*SwapExactOutAction) Type() ActionType { return ActionSwapExactOut }
func (*SwapExactOutAction) isAction()        {}

// ActionEnvelope carries the tagged action variant on the wire as
// {"type": "...", ...variant fields}. Unknown variants and unknown fields
// inside a variant are both rejected: an action's required fields are
// exactly those permitted, nothing extra.
type ActionEnvelope struct {
	Action Action
}

func newActionForType(t ActionType) (Action, error) {
	switch t {
	case ActionTransfer:
		return &TransferAction{}, nil
	case ActionTransferNative:
		return &TransferNativeAction{}, nil
	case ActionApprove:
		return &ApproveAction{}, nil
	case ActionSwapExactIn:
		return &SwapExactInAction{}, nil
	case ActionSwapExactOut:
		return &SwapExactOutAction{}, nil
	default:
		return nil, ValidationErrorf("unknown action type %q", t)
	}
}

func (e *ActionEnvelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ValidationErrorf("action must be an object: %v", err)
	}

	typeRaw, ok := fields["type"]
	if !ok {
		return ValidationErrorf("action is missing the type tag")
	}
	var actionType ActionType
	if err := json.Unmarshal(typeRaw, &actionType); err != nil {
		return ValidationErrorf("invalid action type tag: %v", err)
	}

	target, err := newActionForType(actionType)
	if err != nil {
		return err
	}

	delete(fields, "type")
	variant, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(variant, target); err != nil {
		return ValidationErrorf("action %s: %v", actionType, err)
	}

	e.Action = target
	return nil
}

func (e ActionEnvelope) MarshalJSON() ([]byte, error) {
	if e.Action == nil {
		return nil, ValidationErrorf("action is not set")
	}

	variant, err := json.Marshal(e.Action)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(variant, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(e.Action.Type())
	return json.Marshal(fields)
}

func strictUnmarshal(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// ChainDescriptor identifies the target blockchain of an intent.
type ChainDescriptor struct {
	Type    string `json:"type" validate:"required,oneof=evm"`
	ID      uint64 `json:"id" validate:"required"`
	RPCHint string `json:"rpcHint,omitempty"`
}

// Constraints bound what the caller is willing to pay and tolerate.
type Constraints struct {
	// MaxGasWei is a decimal-string wei amount; zero value means no cap.
	MaxGasWei *Uint256 `json:"maxGasWei,omitempty"`
	// Deadline is a unix-seconds timestamp after which the intent is void.
	Deadline int64 `json:"deadline,omitempty"`
	// MaxSlippageBps is the tolerated slippage in basis points.
	MaxSlippageBps uint32 `json:"maxSlippageBps,omitempty"`
}

// IntentMetadata is free-form caller context. It never influences policy.
type IntentMetadata struct {
	Source string `json:"source,omitempty"`
}

// Intent is a versioned request to move value, prior to any
// chain-specific encoding.
type Intent struct {
	ID          string          `json:"id"`
	Timestamp   int64           `json:"timestamp" validate:"required"`
	Chain       ChainDescriptor `json:"chain"`
	Wallet      string          `json:"wallet" validate:"required,eth_addr"`
	Action      ActionEnvelope  `json:"action" validate:"-"`
	Constraints Constraints     `json:"constraints"`
	Metadata    IntentMetadata  `json:"metadata,omitempty"`
}

// ParseIntent decodes and strictly validates an intent payload.
func ParseIntent(v *validator.Validate, data []byte, now time.Time) (*Intent, error) {
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		if _, ok := err.(ValidationError); ok {
			return nil, err
		}
		return nil, ValidationErrorf("malformed intent: %v", err)
	}

	if err := ValidateIntent(v, &intent, now); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ValidateIntent checks structural validity, assigns an id when the caller
// supplied none, and rejects intents whose deadline has already passed.
// The validator is passed explicitly; there is no package-level singleton.
func ValidateIntent(v *validator.Validate, intent *Intent, now time.Time) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Action.Action == nil {
		return ValidationErrorf("intent %s has no action", intent.ID)
	}

	if err := v.Struct(intent); err != nil {
		return ValidationErrorf("intent %s: %v", intent.ID, err)
	}
	if err := v.Struct(intent.Action.Action); err != nil {
		return ValidationErrorf("intent %s action %s: %v", intent.ID, intent.Action.Action.Type(), err)
	}

	if d := intent.Constraints.Deadline; d != 0 && now.Unix() > d {
		return ValidationErrorf("intent %s deadline %d has passed", intent.ID, d)
	}
	return nil
}

// IntentHash is the canonical content hash of the whole intent.
func IntentHash(intent *Intent) (string, error) {
	return CanonicalHash(intent)
}

// NewIntentValidator builds the struct validator used for intents.
func NewIntentValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

package main

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const policyFileName = "policy.yaml"

// Decision is the policy verdict for one intent.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// PolicyDecision is produced per intent and travels attached to the
// signing request it gated; it is never persisted on its own.
type PolicyDecision struct {
	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons"`
}

// ApprovalThresholdConfig sets the value above which signing requires an
// explicit approval even when nothing else is suspicious.
type ApprovalThresholdConfig struct {
	// ValueWei is a decimal-string wei amount; empty disables the threshold.
	ValueWei string `yaml:"value_wei"`
}

// PolicyConfig is the versioned limit set evaluated for every intent.
// It is loaded once at startup and treated as immutable afterwards.
type PolicyConfig struct {
	// Version tracks the policy document revision for audit purposes.
	Version int `yaml:"version"`
	// MaxValueWei caps the moved value per transaction (decimal string, wei).
	MaxValueWei string `yaml:"max_value_wei"`
	// MaxApprovalAmount caps ERC-20 approval amounts (decimal string).
	MaxApprovalAmount string `yaml:"max_approval_amount"`
	// ContractAllowlist holds token/contract addresses considered known.
	ContractAllowlist []string `yaml:"contract_allowlist"`
	// TokenAllowlist holds ERC-20 token addresses considered known.
	TokenAllowlist []string `yaml:"token_allowlist"`
	// RecipientAllowlist restricts counterparties when non-empty.
	RecipientAllowlist []string `yaml:"recipient_allowlist"`
	// AllowedChains lists the chain ids intents may target.
	AllowedChains []uint64 `yaml:"allowed_chains"`
	// MaxRiskScore is the deny threshold for the risk score.
	MaxRiskScore int `yaml:"max_risk_score"`
	// RequireApprovalAbove forces interactive approval above a value.
	RequireApprovalAbove ApprovalThresholdConfig `yaml:"require_approval_above"`
	// MaxTxPerHour limits signing attempts per wallet per sliding hour.
	MaxTxPerHour int `yaml:"max_tx_per_hour"`

	maxValueWei          *big.Int
	maxApprovalAmount    *big.Int
	requireApprovalAbove *big.Int
	contractSet          map[common.Address]struct{}
	tokenSet             map[common.Address]struct{}
	recipientSet         map[common.Address]struct{}
	chainSet             map[uint64]struct{}
}

// LoadPolicy loads and validates the policy configuration from
// <configDirPath>/policy.yaml.
func LoadPolicy(configDirPath string) (*PolicyConfig, error) {
	policyPath := filepath.Join(configDirPath, policyFileName)
	f, err := os.Open(policyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg PolicyConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// verifyVariables parses decimal-string limits and builds lookup sets.
func (c *PolicyConfig) verifyVariables() error {
	parse := func(name, s string) (*big.Int, error) {
		if s == "" {
			return nil, nil
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("policy %s: %q is not a non-negative base-10 integer", name, s)
		}
		return v, nil
	}

	var err error
	if c.maxValueWei, err = parse("max_value_wei", c.MaxValueWei); err != nil {
		return err
	}
	if c.maxApprovalAmount, err = parse("max_approval_amount", c.MaxApprovalAmount); err != nil {
		return err
	}
	if c.requireApprovalAbove, err = parse("require_approval_above.value_wei", c.RequireApprovalAbove.ValueWei); err != nil {
		return err
	}

	toSet := func(name string, addrs []string) (map[common.Address]struct{}, error) {
		set := make(map[common.Address]struct{}, len(addrs))
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("policy %s: %q is not a valid address", name, a)
			}
			set[common.HexToAddress(a)] = struct{}{}
		}
		return set, nil
	}
	if c.contractSet, err = toSet("contract_allowlist", c.ContractAllowlist); err != nil {
		return err
	}
	if c.tokenSet, err = toSet("token_allowlist", c.TokenAllowlist); err != nil {
		return err
	}
	if c.recipientSet, err = toSet("recipient_allowlist", c.RecipientAllowlist); err != nil {
		return err
	}

	c.chainSet = make(map[uint64]struct{}, len(c.AllowedChains))
	for _, id := range c.AllowedChains {
		c.chainSet[id] = struct{}{}
	}
	return nil
}

// IsChainAllowed reports whether intents may target the given chain id.
func (c *PolicyConfig) IsChainAllowed(chainID uint64) bool {
	_, ok := c.chainSet[chainID]
	return ok
}

// IsContractAllowlisted reports whether the address is a known contract.
func (c *PolicyConfig) IsContractAllowlisted(addr string) bool {
	_, ok := c.contractSet[common.HexToAddress(addr)]
	return ok
}

// IsTokenAllowlisted reports whether the address is a known token.
func (c *PolicyConfig) IsTokenAllowlisted(addr string) bool {
	_, ok := c.tokenSet[common.HexToAddress(addr)]
	return ok
}

// IsRecipientAllowlisted reports whether the address may receive funds.
// An empty recipient allowlist means no restriction.
func (c *PolicyConfig) IsRecipientAllowlisted(addr string) bool {
	if len(c.recipientSet) == 0 {
		return true
	}
	_, ok := c.recipientSet[common.HexToAddress(addr)]
	return ok
}

// MaxValue returns the per-transaction value cap, or nil when unset.
func (c *PolicyConfig) MaxValue() *big.Int { return c.maxValueWei }

// MaxApproval returns the approval amount cap, or nil when unset.
func (c *PolicyConfig) MaxApproval() *big.Int { return c.maxApprovalAmount }

// ApprovalThreshold returns the require-approval value, or nil when unset.
func (c *PolicyConfig) ApprovalThreshold() *big.Int { return c.requireApprovalAbove }

// intentExposure extracts the policy-relevant quantities of an action:
// the moved value, the approval amount and the counterparty, each nil or
// empty when the variant has none.
func intentExposure(action Action) (value, approval *big.Int, recipient string) {
	switch a := action.(type) {
	case *TransferAction:
		return a.Amount.BigInt(), nil, a.To
	case *TransferNativeAction:
		return a.Amount.BigInt(), nil, a.To
	case *ApproveAction:
		return nil, a.Amount.BigInt(), a.Spender
	case *SwapExactInAction:
		return a.AmountIn.BigInt(), nil, ""
	case *SwapExactOutAction:
		return a.MaxAmountIn.BigInt(), nil, ""
	}
	return nil, nil, ""
}

// DecidePolicy combines the policy configuration, the risk result and the
// wallet's recent signing count into a verdict.
//
// Hard denies are evaluated first and aggregated: a deny reports every
// triggered condition, not just the first, and is never escalated to
// require_approval. Absent a hard deny, a risk score above the configured
// maximum denies; otherwise a value at or above the approval threshold or
// any non-zero risk score requires approval; otherwise the intent is
// allowed.
func DecidePolicy(intent *Intent, plan *BuildPlan, risk RiskResult, cfg *PolicyConfig, recentTxCount int) PolicyDecision {
	value, approval, recipient := intentExposure(intent.Action.Action)

	var denyReasons []string
	if !cfg.IsChainAllowed(intent.Chain.ID) {
		denyReasons = append(denyReasons,
			fmt.Sprintf("chain %d is not in the allowed chain list", intent.Chain.ID))
	}
	if recipient != "" && !cfg.IsRecipientAllowlisted(recipient) {
		denyReasons = append(denyReasons,
			fmt.Sprintf("recipient %s is not allowlisted", recipient))
	}
	if value != nil && cfg.MaxValue() != nil && value.Cmp(cfg.MaxValue()) > 0 {
		denyReasons = append(denyReasons,
			fmt.Sprintf("value %s wei exceeds the maximum %s wei", value, cfg.MaxValue()))
	}
	if approval != nil && cfg.MaxApproval() != nil && approval.Cmp(cfg.MaxApproval()) > 0 {
		denyReasons = append(denyReasons,
			fmt.Sprintf("approval amount %s exceeds the maximum %s", approval, cfg.MaxApproval()))
	}
	if cfg.MaxTxPerHour > 0 && recentTxCount >= cfg.MaxTxPerHour {
		denyReasons = append(denyReasons,
			fmt.Sprintf("wallet reached %d of %d transactions in the last hour", recentTxCount, cfg.MaxTxPerHour))
	}
	if len(denyReasons) > 0 {
		return PolicyDecision{Decision: DecisionDeny, Reasons: denyReasons}
	}

	if risk.Score > cfg.MaxRiskScore {
		reasons := append([]string{
			fmt.Sprintf("risk score %d exceeds the maximum %d", risk.Score, cfg.MaxRiskScore),
		}, risk.Reasons...)
		return PolicyDecision{Decision: DecisionDeny, Reasons: reasons}
	}

	var approvalReasons []string
	if value != nil && cfg.ApprovalThreshold() != nil && value.Cmp(cfg.ApprovalThreshold()) >= 0 {
		approvalReasons = append(approvalReasons,
			fmt.Sprintf("value %s wei is at or above the approval threshold %s wei", value, cfg.ApprovalThreshold()))
	}
	if risk.Score > 0 {
		approvalReasons = append(approvalReasons, risk.Reasons...)
	}
	if len(approvalReasons) > 0 {
		return PolicyDecision{Decision: DecisionRequireApproval, Reasons: approvalReasons}
	}

	return PolicyDecision{Decision: DecisionAllow}
}

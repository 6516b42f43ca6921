package main

import (
	"fmt"
	"math/big"
)

// Risk penalty weights. Each signal is evaluated independently; every
// applicable reason is reported even when the cap is hit.
const (
	riskPenaltyContractNotAllowlisted = 40
	riskPenaltyTokenNotAllowlisted    = 20
	riskPenaltyHighSlippage           = 15
	riskPenaltyLargeValue             = 20
	riskPenaltyLargeApproval          = 25
	riskPenaltySimulationReverted     = 50
	riskPenaltyHighGas                = 10

	riskSlippageThresholdBps = 300
	riskGasThreshold         = 400_000
	riskScoreCap             = 100
)

// RiskContext is a snapshot of the contextual signals for one intent.
// It is assembled by the gateway from policy config, the build plan and
// best-effort chain estimates; scoring itself performs no I/O.
type RiskContext struct {
	ContractAllowlisted bool
	TokenAllowlisted    bool
	SlippageBps         uint32
	// ValueWei is the moved value when the action carries one; nil otherwise.
	ValueWei    *big.Int
	MaxValueWei *big.Int
	// ApprovalAmount is set for approve actions; nil otherwise.
	ApprovalAmount     *big.Int
	MaxApprovalAmount  *big.Int
	SimulationReverted bool
	GasEstimate        uint64
}

// RiskResult is a bounded score with the reasons that contributed to it,
// in evaluation order.
type RiskResult struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// ScoreRisk evaluates all penalty rules additively and caps the total at
// 100. The reasons embed each contributing delta so the audit trail shows
// how the score was reached.
func ScoreRisk(ctx RiskContext) RiskResult {
	var result RiskResult

	add := func(penalty int, format string, args ...any) {
		result.Score += penalty
		result.Reasons = append(result.Reasons,
			fmt.Sprintf(format, args...)+fmt.Sprintf(" (+%d)", penalty))
	}

	if !ctx.ContractAllowlisted {
		add(riskPenaltyContractNotAllowlisted, "contract is not allowlisted")
	}
	if !ctx.TokenAllowlisted {
		add(riskPenaltyTokenNotAllowlisted, "token is not allowlisted")
	}
	if ctx.SlippageBps > riskSlippageThresholdBps {
		add(riskPenaltyHighSlippage, "slippage %d bps exceeds %d bps", ctx.SlippageBps, riskSlippageThresholdBps)
	}
	if ctx.ValueWei != nil && ctx.MaxValueWei != nil && ctx.MaxValueWei.Sign() > 0 {
		half := new(big.Int).Rsh(ctx.MaxValueWei, 1)
		if ctx.ValueWei.Cmp(half) > 0 {
			add(riskPenaltyLargeValue, "value %s wei exceeds half of the configured maximum", ctx.ValueWei)
		}
	}
	if ctx.ApprovalAmount != nil {
		switch {
		case IsUnlimitedApproval(ctx.ApprovalAmount):
			add(riskPenaltyLargeApproval, "approval amount is unlimited")
		case ctx.MaxApprovalAmount != nil && ctx.MaxApprovalAmount.Sign() > 0:
			tenfold := new(big.Int).Mul(ctx.MaxApprovalAmount, big.NewInt(10))
			if ctx.ApprovalAmount.Cmp(tenfold) > 0 {
				add(riskPenaltyLargeApproval, "approval amount %s exceeds 10x the configured maximum", ctx.ApprovalAmount)
			}
		}
	}
	if ctx.SimulationReverted {
		add(riskPenaltySimulationReverted, "preflight simulation reverted")
	}
	if ctx.GasEstimate > riskGasThreshold {
		add(riskPenaltyHighGas, "gas estimate %d exceeds %d", ctx.GasEstimate, riskGasThreshold)
	}

	if result.Score > riskScoreCap {
		result.Score = riskScoreCap
	}
	return result
}

package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// rateLimitWindowMs is the sliding window the per-wallet transaction
	// limit is counted over.
	rateLimitWindowMs = int64(time.Hour / time.Millisecond)

	// fallbackGasLimit is used when no rpc client can estimate gas.
	fallbackGasLimit = uint64(250_000)
)

// ProcessResult is the outcome of one intent run: the verdict, the plan
// that was evaluated, and the signed transaction when one was produced.
type ProcessResult struct {
	IntentID   string             `json:"intent_id"`
	IntentHash string             `json:"intent_hash"`
	Decision   PolicyDecision     `json:"decision"`
	Risk       RiskResult         `json:"risk"`
	Plan       *BuildPlan         `json:"plan,omitempty"`
	Signed     *SignedTransaction `json:"signed,omitempty"`
}

// Gateway runs the full trust pipeline for an intent: validation,
// transaction building, risk scoring, the policy verdict, approval
// escalation, and finally the signer. It owns no policy logic itself;
// it only sequences the components and records what happened.
type Gateway struct {
	validator  *validator.Validate
	policy     *PolicyConfig
	routers    *RoutersConfig
	aggregator AggregatorClient
	chains     *ChainRouter
	ledger     *Ledger
	pending    *PendingApprovalStore
	tokens     *ApprovalTokenManager
	signer     *WalletSigner
	metrics    *Metrics
	lg         Logger
	tracer     trace.Tracer

	approvalTokenTTL time.Duration
}

// GatewayParams bundles the gateway's collaborators. Chains, Aggregator
// and Metrics are optional; everything else is required.
type GatewayParams struct {
	Policy     *PolicyConfig
	Routers    *RoutersConfig
	Aggregator AggregatorClient
	Chains     *ChainRouter
	Ledger     *Ledger
	Pending    *PendingApprovalStore
	Tokens     *ApprovalTokenManager
	Signer     *WalletSigner
	Metrics    *Metrics
	Logger     Logger

	// ApprovalTokenTTL overrides the default lifetime of issued approval
	// tokens when positive.
	ApprovalTokenTTL time.Duration
}

func NewGateway(params GatewayParams) *Gateway {
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	tokenTTL := params.ApprovalTokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultApprovalTokenTTL
	}
	return &Gateway{
		validator:        NewIntentValidator(),
		policy:           params.Policy,
		routers:          params.Routers,
		aggregator:       params.Aggregator,
		chains:           params.Chains,
		ledger:           params.Ledger,
		pending:          params.Pending,
		tokens:           params.Tokens,
		signer:           params.Signer,
		metrics:          metrics,
		lg:               params.Logger.NewSystem("gateway"),
		tracer:           otel.Tracer("signet/gateway"),
		approvalTokenTTL: tokenTTL,
	}
}

// ProcessIntent runs one raw intent payload through the whole pipeline.
// A deny verdict still reaches the signer so the refusal is recorded at
// the enforcement point, not only at the gateway.
func (g *Gateway) ProcessIntent(ctx context.Context, payload []byte) (*ProcessResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.ProcessIntent")
	defer span.End()

	g.metrics.IntentsReceived.Inc()

	intent, err := ParseIntent(g.validator, payload, time.Now())
	if err != nil {
		g.metrics.IntentsRejected.Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.String("intent.id", intent.ID),
		attribute.String("intent.action", string(intent.Action.Action.Type())),
		attribute.Int64("intent.chain_id", int64(intent.Chain.ID)),
	)
	// Downstream components log through the intent-scoped logger.
	ctx = SetContextLogger(ctx, g.lg.With("intentID", intent.ID))

	intentHash, err := IntentHash(intent)
	if err != nil {
		return nil, err
	}
	if err := g.ledger.Log(ctx, intent.ID, EventIntentReceived, map[string]any{
		"intent_hash": intentHash,
		"wallet":      intent.Wallet,
		"action":      intent.Action.Action.Type(),
		"chain_id":    intent.Chain.ID,
	}); err != nil {
		return nil, err
	}

	plan, err := g.buildPlan(ctx, intent)
	if err != nil {
		return nil, err
	}

	risk, err := g.scoreRisk(ctx, intent, plan)
	if err != nil {
		return nil, err
	}
	g.metrics.RiskScore.Observe(float64(risk.Score))

	recentTxCount, err := g.ledger.CountRecentTxByWallet(ctx, intent.Wallet, rateLimitWindowMs)
	if err != nil {
		return nil, err
	}

	decision := DecidePolicy(intent, plan, risk, g.policy, recentTxCount)
	g.metrics.PolicyDecisions.WithLabelValues(string(decision.Decision)).Inc()
	if err := g.ledger.Log(ctx, intent.ID, EventPolicyEvaluated, map[string]any{
		"decision":        decision.Decision,
		"reasons":         decision.Reasons,
		"risk_score":      risk.Score,
		"risk_reasons":    risk.Reasons,
		"recent_tx_count": recentTxCount,
	}); err != nil {
		return nil, err
	}

	result := &ProcessResult{
		IntentID:   intent.ID,
		IntentHash: intentHash,
		Decision:   decision,
		Risk:       risk,
		Plan:       plan,
	}

	signReq := SignRequest{
		IntentID:       intent.ID,
		WalletAddress:  intent.Wallet,
		TxRequest:      plan.TxRequest,
		TxRequestHash:  plan.TxRequestHash,
		PolicyDecision: &decision,
	}

	if decision.Decision == DecisionRequireApproval {
		token, err := g.escalate(ctx, intent, plan, decision)
		if err != nil {
			return result, err
		}
		signReq.ApprovalToken = token
	}

	signed, err := g.sign(ctx, signReq)
	if err != nil {
		return result, err
	}
	result.Signed = signed
	return result, nil
}

func (g *Gateway) buildPlan(ctx context.Context, intent *Intent) (*BuildPlan, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.buildPlan")
	defer span.End()

	plan, err := BuildFromIntent(ctx, intent, BuildDeps{
		Routers:    g.routers,
		Aggregator: g.aggregator,
		Logger:     g.lg,
	})
	if err != nil {
		return nil, err
	}

	if err := g.fillGasLimit(ctx, intent, &plan.TxRequest); err != nil {
		return nil, err
	}

	g.metrics.PlansBuilt.WithLabelValues(string(intent.Action.Action.Type())).Inc()
	if err := g.ledger.Log(ctx, intent.ID, EventPlanBuilt, map[string]any{
		"tx_request_hash": plan.TxRequestHash,
		"description":     plan.Description,
		"to":              plan.TxRequest.To,
		"gas_limit":       plan.TxRequest.GasLimit,
	}); err != nil {
		return nil, err
	}
	return plan, nil
}

// fillGasLimit estimates gas via the chain client when one is configured;
// otherwise the fallback constant is used. An estimation failure falls
// back too: the simulation signal already captures a reverting request.
func (g *Gateway) fillGasLimit(ctx context.Context, intent *Intent, request *TxRequest) error {
	request.GasLimit = fallbackGasLimit
	if g.chains == nil {
		return nil
	}

	chain, err := g.chains.Get(intent.Chain.ID)
	if err != nil {
		return nil
	}

	gas, err := chain.EstimateGas(ctx, intent.Wallet, request.To, request.Value, decodeHexOrNil(request.Data))
	if err != nil {
		g.lg.Warn("gas estimation failed, using fallback limit",
			"intentID", intent.ID, "error", err)
		return nil
	}
	request.GasLimit = gas + gas/5 // 20% headroom

	if gasCap := intent.Constraints.MaxGasWei; gasCap != nil {
		maxFee, _, err := chain.EstimateFeesPerGas(ctx)
		if err == nil {
			cost := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(request.GasLimit))
			if cost.Cmp(gasCap.BigInt()) > 0 {
				return ValidationErrorf("intent %s estimated gas cost %s wei exceeds the caller cap %s wei",
					intent.ID, cost, gasCap)
			}
		}
	}
	return nil
}

// scoreRisk assembles the risk context from policy config and best-effort
// chain reads, then evaluates it. Chain unavailability never fails the
// pipeline; the signals it would feed simply stay at their zero values.
func (g *Gateway) scoreRisk(ctx context.Context, intent *Intent, plan *BuildPlan) (RiskResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.scoreRisk")
	defer span.End()

	value, approval, _ := intentExposure(intent.Action.Action)

	riskCtx := RiskContext{
		ContractAllowlisted: g.policy.IsContractAllowlisted(plan.TxRequest.To),
		TokenAllowlisted:    g.tokenAllowlisted(intent.Action.Action),
		SlippageBps:         intent.Constraints.MaxSlippageBps,
		ValueWei:            value,
		MaxValueWei:         g.policy.MaxValue(),
		ApprovalAmount:      approval,
		MaxApprovalAmount:   g.policy.MaxApproval(),
		GasEstimate:         plan.TxRequest.GasLimit,
	}

	if g.chains != nil {
		if chain, err := g.chains.Get(intent.Chain.ID); err == nil {
			reverted, err := SimulateTxRequest(ctx, chain, &plan.TxRequest)
			if err != nil {
				return RiskResult{}, err
			}
			riskCtx.SimulationReverted = reverted
		}
	}

	return ScoreRisk(riskCtx), nil
}

// tokenAllowlisted checks the token allowlist for every asset the action
// touches. Actions without a token, like native transfers, pass.
func (g *Gateway) tokenAllowlisted(action Action) bool {
	switch a := action.(type) {
	case *TransferAction:
		return g.policy.IsTokenAllowlisted(a.Asset.Address)
	case *TransferNativeAction:
		return true
	case *ApproveAction:
		return g.policy.IsTokenAllowlisted(a.Asset.Address)
	case *SwapExactInAction:
		return g.policy.IsTokenAllowlisted(a.AssetIn.Address) && g.policy.IsTokenAllowlisted(a.AssetOut.Address)
	case *SwapExactOutAction:
		return g.policy.IsTokenAllowlisted(a.AssetIn.Address) && g.policy.IsTokenAllowlisted(a.AssetOut.Address)
	}
	return false
}

// escalate parks the intent as a pending approval and blocks until a
// decision arrives or the request expires. Approval yields a one-shot
// token bound to this intent and transaction; rejection and expiry both
// fail closed.
func (g *Gateway) escalate(ctx context.Context, intent *Intent, plan *BuildPlan, decision PolicyDecision) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.escalate")
	defer span.End()

	summary := fmt.Sprintf("%s [%s]", plan.Description, strings.Join(decision.Reasons, "; "))
	requestID, resultCh, err := g.pending.Add(summary)
	if err != nil {
		return "", err
	}
	g.metrics.PendingApprovals.Set(float64(g.pending.Len()))

	if err := g.ledger.Log(ctx, intent.ID, EventApprovalPending, map[string]any{
		"request_id": requestID,
		"summary":    summary,
		"reasons":    decision.Reasons,
	}); err != nil {
		return "", err
	}

	var approved bool
	select {
	case <-ctx.Done():
		g.pending.Decide(requestID, false)
		<-resultCh
		approved = false
	case approved = <-resultCh:
	}
	g.metrics.PendingApprovals.Set(float64(g.pending.Len()))

	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	g.metrics.ApprovalsDecided.WithLabelValues(outcome).Inc()
	if err := g.ledger.Log(ctx, intent.ID, EventApprovalDecided, map[string]any{
		"request_id": requestID,
		"approved":   approved,
	}); err != nil {
		return "", err
	}

	if !approved {
		return "", ApprovalRequiredErrorf("intent %s was not approved", intent.ID)
	}

	tokenString, token, err := g.tokens.Issue(ctx, intent.ID, plan.TxRequestHash, g.approvalTokenTTL)
	if err != nil {
		return "", err
	}
	g.metrics.TokensIssued.Inc()

	if err := g.ledger.Log(ctx, intent.ID, EventTokenIssued, map[string]any{
		"token_id":        token.ID,
		"tx_request_hash": plan.TxRequestHash,
		"expires_at":      token.ExpiresAt().Unix(),
	}); err != nil {
		return "", err
	}
	return tokenString, nil
}

func (g *Gateway) sign(ctx context.Context, req SignRequest) (*SignedTransaction, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.sign")
	defer span.End()

	g.metrics.SignAttemptsTotal.Inc()
	signed, err := g.signer.Sign(ctx, req)
	if err != nil {
		g.metrics.SignAttemptsFail.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}
	g.metrics.SignAttemptsSuccess.Inc()
	return signed, nil
}

func failureKind(err error) string {
	switch err.(type) {
	case PolicyDeniedError:
		return "policy_denied"
	case ApprovalRequiredError:
		return "approval_required"
	case ApprovalInvalidError:
		return "approval_invalid"
	case KeyUnavailableError:
		return "key_unavailable"
	case ValidationError:
		return "validation"
	case UpstreamError:
		return "upstream"
	default:
		return "other"
	}
}

func decodeHexOrNil(data string) []byte {
	decoded, err := hexutil.Decode(data)
	if err != nil {
		return nil
	}
	return decoded
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AggregatorProvider1inch is the only aggregator provider intents may
// name. The aggregator handles exact-in swaps only.
const AggregatorProvider1inch = "1inch"

// oneInchSupportedChains is the fixed set of chains the aggregator
// serves. Requesting any other chain is a hard error, never a silent
// fallback at this layer; the builder decides what to do with it.
var oneInchSupportedChains = map[uint64]struct{}{
	1:     {}, // ethereum
	10:    {}, // optimism
	56:    {}, // bnb
	137:   {}, // polygon
	8453:  {}, // base
	42161: {}, // arbitrum
	43114: {}, // avalanche
}

// SwapQuoteRequest describes an exact-in swap for the aggregator.
type SwapQuoteRequest struct {
	Src             common.Address
	Dst             common.Address
	Amount          *big.Int
	From            common.Address
	SlippagePercent decimal.Decimal
	// DisableEstimate skips the aggregator's own gas estimation;
	// preflight simulation happens upstream of the builder.
	DisableEstimate bool
}

// SwapQuote is the aggregator's executable response.
type SwapQuote struct {
	Tx         AggregatorTx
	FromAmount *big.Int
	ToAmount   *big.Int
}

// AggregatorTx is the transaction payload returned by the aggregator.
type AggregatorTx struct {
	To    string
	Data  string
	Value *big.Int
}

// AggregatorClient is the consumed contract of a 1inch-style swap
// aggregator.
type AggregatorClient interface {
	// GetSwap returns an executable swap transaction for a supported
	// chain. An unsupported chain is a hard error.
	GetSwap(ctx context.Context, chainID uint64, req SwapQuoteRequest) (*SwapQuote, error)
	// SupportsChain reports membership in the fixed chain allowlist.
	SupportsChain(chainID uint64) bool
}

// OneInchClient talks to the 1inch swap REST API.
type OneInchClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *Metrics
	lg      Logger
}

const (
	oneInchDefaultBaseURL = "https://api.1inch.dev/swap/v6.0"
	oneInchRequestTimeout = 10 * time.Second
)

// NewOneInchClient creates a client for the 1inch swap API. metrics may
// be nil; request counts are then not recorded.
func NewOneInchClient(baseURL, apiKey string, metrics *Metrics, lg Logger) *OneInchClient {
	if baseURL == "" {
		baseURL = oneInchDefaultBaseURL
	}
	return &OneInchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: oneInchRequestTimeout},
		metrics: metrics,
		lg:      lg.NewSystem("oneinch"),
	}
}

func (c *OneInchClient) SupportsChain(chainID uint64) bool {
	_, ok := oneInchSupportedChains[chainID]
	return ok
}

// oneInchSwapResponse mirrors the wire format of the swap endpoint.
// Amounts arrive as decimal strings.
type oneInchSwapResponse struct {
	Tx struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
	FromAmount string `json:"fromAmount"`
	ToAmount   string `json:"toAmount"`
}

func (c *OneInchClient) GetSwap(ctx context.Context, chainID uint64, req SwapQuoteRequest) (*SwapQuote, error) {
	quote, err := c.getSwap(ctx, chainID, req)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.AggregatorRequests.WithLabelValues(AggregatorProvider1inch, status).Inc()
	}
	return quote, err
}

func (c *OneInchClient) getSwap(ctx context.Context, chainID uint64, req SwapQuoteRequest) (*SwapQuote, error) {
	if !c.SupportsChain(chainID) {
		return nil, BuildErrorf("aggregator does not support chain %d", chainID)
	}

	query := url.Values{}
	query.Set("src", req.Src.Hex())
	query.Set("dst", req.Dst.Hex())
	query.Set("amount", req.Amount.String())
	query.Set("from", req.From.Hex())
	query.Set("slippage", req.SlippagePercent.String())
	if req.DisableEstimate {
		query.Set("disableEstimate", "true")
	}

	endpoint := fmt.Sprintf("%s/%d/swap?%s", c.baseURL, chainID, query.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, NewUpstreamError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewUpstreamError(fmt.Errorf("aggregator returned status %d", resp.StatusCode))
	}

	var decoded oneInchSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewUpstreamError(fmt.Errorf("aggregator response: %w", err))
	}
	return parseOneInchSwap(decoded)
}

func parseOneInchSwap(decoded oneInchSwapResponse) (*SwapQuote, error) {
	parse := func(name, s string) (*big.Int, error) {
		if s == "" {
			return big.NewInt(0), nil
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, NewUpstreamError(fmt.Errorf("aggregator %s %q is not a decimal integer", name, s))
		}
		return v, nil
	}

	value, err := parse("tx.value", decoded.Tx.Value)
	if err != nil {
		return nil, err
	}
	fromAmount, err := parse("fromAmount", decoded.FromAmount)
	if err != nil {
		return nil, err
	}
	toAmount, err := parse("toAmount", decoded.ToAmount)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(decoded.Tx.To) {
		return nil, NewUpstreamError(fmt.Errorf("aggregator tx.to %q is not an address", decoded.Tx.To))
	}

	return &SwapQuote{
		Tx: AggregatorTx{
			To:    decoded.Tx.To,
			Data:  decoded.Tx.Data,
			Value: value,
		},
		FromAmount: fromAmount,
		ToAmount:   toAmount,
	}, nil
}

// SlippageBpsToPercent converts basis points to the percent value the
// aggregator expects (e.g. 50 bps -> 0.5).
func SlippageBpsToPercent(bps uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(decimal.NewFromInt(100))
}

package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// ERC-20 read selectors.
const (
	selectorBalanceOf = "70a08231" // balanceOf(address)
	selectorAllowance = "dd62ed3e" // allowance(address,address)
)

// ChainRPC is the read and broadcast surface of one EVM chain. Nothing
// behind this interface signs; it only observes chain state and relays
// already-signed payloads.
type ChainRPC interface {
	ChainID() uint64
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	ReadBalance(ctx context.Context, token, owner string) (*big.Int, error)
	ReadNativeBalance(ctx context.Context, owner string) (*big.Int, error)
	ReadAllowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
	GetTransactionCount(ctx context.Context, owner string) (uint64, error)
	EstimateFeesPerGas(ctx context.Context) (maxFee, maxPriority *big.Int, err error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// EthChainRPC implements ChainRPC over go-ethereum's ethclient.
type EthChainRPC struct {
	chainID uint64
	client  *ethclient.Client
}

func NewEthChainRPC(ctx context.Context, chainID uint64, rpcURL string) (*EthChainRPC, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial chain %d rpc", chainID)
	}

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chain id from %s", rpcURL)
	}
	if remoteID.Uint64() != chainID {
		return nil, errors.Errorf("rpc %s reports chain id %s, expected %d", rpcURL, remoteID, chainID)
	}

	return &EthChainRPC{chainID: chainID, client: client}, nil
}

func (c *EthChainRPC) ChainID() uint64 {
	return c.chainID
}

func (c *EthChainRPC) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	toAddr := common.HexToAddress(to)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &toAddr, Data: data}, nil)
	if err != nil {
		return nil, NewUpstreamError(errors.Wrapf(err, "eth_call to %s failed", to))
	}
	return result, nil
}

func (c *EthChainRPC) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	toAddr := common.HexToAddress(to)
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  common.HexToAddress(from),
		To:    &toAddr,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, NewUpstreamError(errors.Wrap(err, "gas estimation failed"))
	}
	return gas, nil
}

func (c *EthChainRPC) ReadBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, common.Hex2Bytes(selectorBalanceOf)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)

	result, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(result), nil
}

func (c *EthChainRPC) ReadNativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return nil, NewUpstreamError(errors.Wrapf(err, "failed to read native balance of %s", owner))
	}
	return balance, nil
}

func (c *EthChainRPC) ReadAllowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, common.Hex2Bytes(selectorAllowance)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(spender).Bytes(), 32)...)

	result, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(result), nil
}

func (c *EthChainRPC) GetTransactionCount(ctx context.Context, owner string) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, common.HexToAddress(owner))
	if err != nil {
		return 0, NewUpstreamError(errors.Wrapf(err, "failed to read nonce of %s", owner))
	}
	return nonce, nil
}

// EstimateFeesPerGas returns EIP-1559 fee caps: the suggested tip plus
// twice the latest base fee as headroom.
func (c *EthChainRPC) EstimateFeesPerGas(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, NewUpstreamError(errors.Wrap(err, "failed to suggest gas tip cap"))
	}

	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, NewUpstreamError(errors.Wrap(err, "failed to fetch latest header"))
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return maxFee, tip, nil
}

func (c *EthChainRPC) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return NewUpstreamError(errors.Wrapf(err, "failed to broadcast tx %s", tx.Hash().Hex()))
	}
	return nil
}

func (c *EthChainRPC) GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, NewUpstreamError(errors.Wrapf(err, "failed to fetch receipt for %s", txHash))
	}
	return receipt, nil
}

// Close releases the underlying client connection.
func (c *EthChainRPC) Close() {
	c.client.Close()
}

// ChainRouter resolves a ChainRPC by chain id.
type ChainRouter struct {
	chains map[uint64]ChainRPC
}

func NewChainRouter(chains ...ChainRPC) *ChainRouter {
	byID := make(map[uint64]ChainRPC, len(chains))
	for _, chain := range chains {
		byID[chain.ChainID()] = chain
	}
	return &ChainRouter{chains: byID}
}

func (r *ChainRouter) Get(chainID uint64) (ChainRPC, error) {
	chain, ok := r.chains[chainID]
	if !ok {
		return nil, errors.Errorf("no rpc client configured for chain %d", chainID)
	}
	return chain, nil
}

// SimulateTxRequest runs the request through eth_call and reports whether
// it would revert. Any call failure counts as a revert: the risk layer
// fails closed rather than guessing whether the node or the contract
// said no.
func SimulateTxRequest(ctx context.Context, chain ChainRPC, request *TxRequest) (bool, error) {
	data, err := hexutil.Decode(request.Data)
	if err != nil {
		return false, ValidationErrorf("tx request calldata is not hex: %v", err)
	}

	if _, err := chain.Call(ctx, request.To, data); err != nil {
		return true, nil
	}
	return false, nil
}

// Package chain adapts the go-ethereum client libraries to the narrow
// surface this engine needs: batched eth_call, event subscriptions with
// heartbeat-based reconnect, and raw-transaction broadcast. Spec §1 treats
// "on-chain RPC transport" as an out-of-scope external collaborator with a
// named interface (spec §6.A/§6.B/§6.C) — Client is that interface; EthClient
// is the concrete go-ethereum-backed adapter the engine actually runs with.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// BatchCall is one element of a batched eth_call request.
type BatchCall struct {
	To       common.Address
	Data     []byte
	BlockTag string // "latest", "pending", or a 0x-prefixed hex block number
	Result   []byte // populated on success
	Err      error  // populated on per-call failure
}

// Client is the minimal on-chain read/write/subscribe surface the engine
// depends on. EthClient (below) is the only production implementation;
// tests substitute a fake.
type Client interface {
	// Call performs a single eth_call against `to` with `data`, targeting
	// blockTag ("latest", "pending", or a hex block number).
	Call(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error)

	// BatchCall performs a JSON-RPC batch of eth_call requests in one round
	// trip (spec §6.B's "batched-read aggregator" concept, realized over
	// the node's native batch transport rather than an on-chain Multicall3
	// call; contracts.go also carries aggregate3 encode/decode helpers).
	BatchCall(ctx context.Context, calls []BatchCall) error

	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	Close()
}

// EthClient wraps one go-ethereum RPC endpoint (an ethclient.Client plus the
// underlying rpc.Client for batch calls).
type EthClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Dial connects to a single RPC endpoint (HTTP or WS, per the URL scheme).
func Dial(ctx context.Context, url string) (*EthClient, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &EthClient{eth: ethclient.NewClient(rc), rpc: rc}, nil
}

func (c *EthClient) Close() { c.eth.Close() }

func (c *EthClient) Call(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	var result hexutil.Bytes
	callMsg := map[string]any{"to": to, "data": hexutil.Bytes(data)}
	if err := c.rpc.CallContext(ctx, &result, "eth_call", callMsg, blockTag); err != nil {
		return nil, err
	}
	return result, nil
}

// BatchCall issues one JSON-RPC batch containing all the requested
// eth_call elements; each element's Result/Err is populated independently,
// matching the aggregate3 "(success, returnData)[]" contract at the
// transport layer instead of via an on-chain call.
func (c *EthClient) BatchCall(ctx context.Context, calls []BatchCall) error {
	elems := make([]rpc.BatchElem, len(calls))
	results := make([]hexutil.Bytes, len(calls))
	for i, call := range calls {
		callMsg := map[string]any{"to": call.To, "data": hexutil.Bytes(call.Data)}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{callMsg, call.BlockTag},
			Result: &results[i],
		}
	}
	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return err
	}
	for i := range elems {
		if elems[i].Error != nil {
			calls[i].Err = elems[i].Error
			continue
		}
		calls[i].Result = results[i]
	}
	return nil
}

func (c *EthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *EthClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}

func (c *EthClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

func (c *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

func (c *EthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *EthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasTipCap(ctx)
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *EthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *EthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

func (c *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

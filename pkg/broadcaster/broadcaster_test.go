package broadcaster

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
)

// fakeClient is a chain.Client stand-in used for both write endpoints and
// the monitor, mirroring pkg/verifier and pkg/planner's fake-client tests.
type fakeClient struct {
	mu               sync.Mutex
	sendErr          error
	sentTxs          []*types.Transaction
	nonce            uint64
	tipCap, gasPrice *big.Int
	receipts         []*types.Receipt // nil entry == "not found yet"
	receiptCalls     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{tipCap: big.NewInt(2), gasPrice: big.NewInt(100)}
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTxs = append(f.sentTxs, tx)
	return nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentTxs)
}

func (f *fakeClient) sentAt(i int) *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentTxs[i]
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return f.tipCap, nil }
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error)  { return f.gasPrice, nil }

func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptCalls >= len(f.receipts) {
		return nil, errors.New("not found")
	}
	r := f.receipts[f.receiptCalls]
	f.receiptCalls++
	if r == nil {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (f *fakeClient) Call(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) BatchCall(ctx context.Context, calls []chain.BatchCall) error { return nil }
func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, nil
}
func (f *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) Close() {}

type instantClock struct{ t time.Time }

func (c *instantClock) Now() time.Time { return c.t }
func (c *instantClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t.Add(d)
	return ch
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(key, big.NewInt(1))
}

func testConfig() Config {
	return Config{MaxReplacements: 2, ReplacementDelay: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond, FeeBumpBps: 2000}
}

func TestBroadcastMinesOnFirstRound(t *testing.T) {
	ep := newFakeClient()
	ep.nonce = 5
	ep.receipts = []*types.Receipt{{Status: types.ReceiptStatusSuccessful}}
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	result := b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	assert.Equal(t, domain.AttemptIncluded, result.Status)
	assert.Equal(t, 1, ep.sentCount())
}

func TestBroadcastRevertedWhenReceiptStatusZero(t *testing.T) {
	ep := newFakeClient()
	ep.receipts = []*types.Receipt{{Status: types.ReceiptStatusFailed}}
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	result := b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	assert.Equal(t, domain.AttemptReverted, result.Status)
}

func TestBroadcastFailedWhenNoEndpointEverSucceeds(t *testing.T) {
	ep := newFakeClient()
	ep.sendErr = errors.New("connection refused")
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	result := b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	assert.Equal(t, domain.AttemptFailed, result.Status)
}

func TestBroadcastPendingWhenBroadcastSucceedsButNeverMines(t *testing.T) {
	ep := newFakeClient() // no receipts ever returned
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	result := b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	assert.Equal(t, domain.AttemptPending, result.Status)
	assert.Equal(t, 3, ep.sentCount(), "one send per attempt across MaxReplacements+1 rounds")
}

func TestBroadcastReusesNonceAcrossReplacements(t *testing.T) {
	ep := newFakeClient()
	ep.nonce = 42
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	require.GreaterOrEqual(t, ep.sentCount(), 2)
	for i := 0; i < ep.sentCount(); i++ {
		assert.Equal(t, uint64(42), ep.sentAt(i).Nonce())
	}
}

func TestBroadcastBumpsFeesOnReplacement(t *testing.T) {
	ep := newFakeClient()
	b := New(testConfig(), []chain.Client{ep}, ep, testSigner(t), &instantClock{}, nil, zap.NewNop())

	b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	require.GreaterOrEqual(t, ep.sentCount(), 2)
	first := ep.sentAt(0).GasFeeCap()
	second := ep.sentAt(1).GasFeeCap()
	assert.Equal(t, 1, second.Cmp(first), "second attempt's fee cap must exceed the first")
}

func TestBroadcastAnySuccessfulEndpointCountsAsBroadcastOk(t *testing.T) {
	good := newFakeClient()
	good.receipts = []*types.Receipt{{Status: types.ReceiptStatusSuccessful}}
	bad := newFakeClient()
	bad.sendErr = errors.New("rpc down")
	b := New(testConfig(), []chain.Client{good, bad}, good, testSigner(t), &instantClock{}, nil, zap.NewNop())

	result := b.Broadcast(context.Background(), common.HexToAddress("0x01"), []byte{0xaa}, 21000)

	assert.Equal(t, domain.AttemptIncluded, result.Status)
}

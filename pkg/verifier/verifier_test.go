package verifier

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/riskset"
	"github.com/onchainops/liquidator/pkg/scanregistry"
)

// fakeClient is a minimal chain.Client stand-in: BatchCall answers from a
// map keyed by the exact calldata, since getUserAccountData(user)'s
// calldata is a pure function of the user address.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string][]byte
	batchCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(map[string][]byte)}
}

func (f *fakeClient) setUser(t *testing.T, user common.Address, collateralBase, debtBase, hfRaw *big.Int) {
	t.Helper()
	data, err := chain.PackGetUserAccountData(user)
	require.NoError(t, err)
	out, err := chain.PoolDataProviderABI.Methods["getUserAccountData"].Outputs.Pack(
		collateralBase, debtBase, big.NewInt(0), big.NewInt(8000), big.NewInt(7500), hfRaw,
	)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[string(data)] = out
}

func (f *fakeClient) Call(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	return nil, nil
}

func (f *fakeClient) BatchCall(ctx context.Context, calls []chain.BatchCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	for i, c := range calls {
		if out, ok := f.responses[string(c.Data)]; ok {
			calls[i].Result = out
			continue
		}
		calls[i].Err = context.DeadlineExceeded
	}
	return nil
}

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
func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error)   { return nil, nil }
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error)    { return nil, nil }
func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeClient) Close() {}

type instantClock struct{ t time.Time }

func (c *instantClock) Now() time.Time { return c.t }
func (c *instantClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t.Add(d)
	return ch
}

func testConfig() Config {
	return Config{
		BatchSize:              10,
		MinChunkSize:           2,
		ChunkTimeout:           50 * time.Millisecond,
		ChunkRetryAttempts:     1,
		BackoffBase:            time.Millisecond,
		BackoffCap:             5 * time.Millisecond,
		RateLimitPerSec:        1000,
		RateBurst:              1000,
		ExecutionThreshold:     1.0,
		HysteresisBps:          20,
		NearThresholdBandBps:   50,
		MinDebtUsd1e18:         big.NewInt(10).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		MicroVerifyMaxPerBlock: 100,
		ScanDedupWindow:        time.Minute,
	}
}

func newTestVerifier(t *testing.T, client *fakeClient) (*Verifier, *riskset.RiskSet) {
	t.Helper()
	risk := riskset.New()
	registry := scanregistry.New(time.Minute, &instantClock{t: time.Unix(0, 0)})
	v := New(testConfig(), common.HexToAddress("0x00000000000000000000000000000000000f00"), client, nil, risk, registry, &instantClock{t: time.Unix(0, 0)}, metrics.NoOp{})
	return v, risk
}

func ray() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }

func TestVerifyPrunesZeroDebtAndDust(t *testing.T) {
	client := newFakeClient()
	v, _ := newTestVerifier(t, client)

	zeroDebtUser := common.HexToAddress("0x0000000000000000000000000000000000000001")
	dustUser := common.HexToAddress("0x0000000000000000000000000000000000000002")
	healthyDebtUser := common.HexToAddress("0x0000000000000000000000000000000000000003")

	client.setUser(t, zeroDebtUser, big.NewInt(1000e8), big.NewInt(0), ray())
	client.setUser(t, dustUser, big.NewInt(1000e8), big.NewInt(5e8), ray()) // $5 debt, below $10 min
	client.setUser(t, healthyDebtUser, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(9e17))

	result, err := v.Verify(context.Background(), Input{
		Users:   []domain.Address{domain.NewAddress(zeroDebtUser), domain.NewAddress(dustUser), domain.NewAddress(healthyDebtUser)},
		Trigger: domain.TriggerHead,
		Block:   100,
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.NewAddress(healthyDebtUser), result.Results[0].User)
}

func TestVerifyEmitsActionableOnSafeToLiqTransition(t *testing.T) {
	client := newFakeClient()
	v, _ := newTestVerifier(t, client)

	user := common.HexToAddress("0x0000000000000000000000000000000000000004")
	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(995e15)) // hf=0.995

	result, err := v.Verify(context.Background(), Input{
		Users:   []domain.Address{domain.NewAddress(user)},
		Trigger: domain.TriggerHead,
		Block:   200,
	})
	require.NoError(t, err)
	require.Len(t, result.Actionables, 1)
	assert.Equal(t, domain.ReasonSafeToLiq, result.Actionables[0].Reason)
}

func TestVerifyHysteresisSuppressesSmallWorsening(t *testing.T) {
	client := newFakeClient()
	v, _ := newTestVerifier(t, client)

	user := common.HexToAddress("0x0000000000000000000000000000000000000005")
	addr := domain.NewAddress(user)

	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(995e15))
	first, err := v.Verify(context.Background(), Input{Users: []domain.Address{addr}, Trigger: domain.TriggerHead, Block: 300})
	require.NoError(t, err)
	require.Len(t, first.Actionables, 1)

	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(994e15))
	second, err := v.Verify(context.Background(), Input{Users: []domain.Address{addr}, Trigger: domain.TriggerHead, Block: 301})
	require.NoError(t, err)
	assert.Empty(t, second.Actionables)

	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(990e15))
	third, err := v.Verify(context.Background(), Input{Users: []domain.Address{addr}, Trigger: domain.TriggerHead, Block: 302})
	require.NoError(t, err)
	require.Len(t, third.Actionables, 1)
	assert.Equal(t, domain.ReasonWorsened, third.Actionables[0].Reason)
}

func TestVerifySuppressedByScanLock(t *testing.T) {
	client := newFakeClient()
	v, _ := newTestVerifier(t, client)
	user := common.HexToAddress("0x0000000000000000000000000000000000000006")
	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), ray())

	key := scanregistry.Key{Trigger: domain.TriggerHead, Block: 400}
	heldID, ok := v.registry.TryAcquire(key)
	require.True(t, ok)

	result, err := v.Verify(context.Background(), Input{Users: []domain.Address{domain.NewAddress(user)}, Trigger: domain.TriggerHead, Block: 400})
	require.NoError(t, err)
	assert.True(t, result.SuppressedByLock)
	assert.Equal(t, heldID, result.CorrelationID, "a suppressed scan reports the owning scan's correlation id")
	assert.Equal(t, 0, client.batchCalls)
}

func TestVerifyAtMostOneActionablePerBlock(t *testing.T) {
	client := newFakeClient()
	v, _ := newTestVerifier(t, client)
	user := common.HexToAddress("0x0000000000000000000000000000000000000007")
	addr := domain.NewAddress(user)
	client.setUser(t, user, big.NewInt(1000e8), big.NewInt(500e8), big.NewInt(9e17))

	first, err := v.Verify(context.Background(), Input{Users: []domain.Address{addr}, Trigger: domain.TriggerHead, Block: 500, SymbolOrReserve: "a"})
	require.NoError(t, err)
	require.Len(t, first.Actionables, 1)

	second, err := v.Verify(context.Background(), Input{Users: []domain.Address{addr}, Trigger: domain.TriggerEvent, Block: 500, SymbolOrReserve: "b"})
	require.NoError(t, err)
	assert.Empty(t, second.Actionables)
}

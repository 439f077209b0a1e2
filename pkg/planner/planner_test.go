package planner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/pricecache"
	"github.com/onchainops/liquidator/pkg/protocoldata"
)

// fakeClient is a minimal chain.Client stand-in, keyed by exact calldata
// bytes, mirroring pkg/verifier's fakeClient test double.
type fakeClient struct {
	responses map[string][]byte
	fail      bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{responses: make(map[string][]byte)}
}

func (f *fakeClient) setUserReserve(t *testing.T, asset, user common.Address, aTokenBalance, stableDebt, variableDebt *big.Int, collateralEnabled bool) {
	t.Helper()
	data, err := chain.PackGetUserReserveData(asset, user)
	require.NoError(t, err)
	out, err := chain.PoolDataProviderABI.Methods["getUserReserveData"].Outputs.Pack(
		aTokenBalance, stableDebt, variableDebt,
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		collateralEnabled,
	)
	require.NoError(t, err)
	f.responses[string(data)] = out
}

func (f *fakeClient) Call(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	return nil, nil
}

func (f *fakeClient) BatchCall(ctx context.Context, calls []chain.BatchCall) error {
	if f.fail {
		return context.DeadlineExceeded
	}
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
func (f *fakeClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return nil, nil }
func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error)  { return nil, nil }
func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeClient) Close() {}

var (
	weth = domain.ParseAddress("0x0000000000000000000000000000000000000a")
	usdc = domain.ParseAddress("0x0000000000000000000000000000000000000b")
	user = common.HexToAddress("0x0000000000000000000000000000000000000c")
)

func newReserves() *protocoldata.Cache {
	r := protocoldata.New(protocoldata.DefaultLiquidationBonusFallbackBps)
	r.Put(weth, 18, 10500, true, true, domain.Address(""), domain.Address(""), domain.Address(""))
	r.Put(usdc, 6, 0, true, true, domain.Address(""), domain.Address(""), domain.Address(""))
	return r
}

func newPrices() *pricecache.Cache {
	p := pricecache.New()
	p.PutUSD1e18(weth, new(big.Int).Mul(big.NewInt(2000), ray()), 0)
	p.PutUSD1e18(usdc, ray(), 0)
	return p
}

func ray() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }

func newTestPlanner(client *fakeClient, reserves *protocoldata.Cache, prices *pricecache.Cache) *Planner {
	return New(Config{}, client, common.HexToAddress("0x00000000000000000000000000000000000f00"), reserves, prices, nil, zap.NewNop())
}

// TestPlanProfitablePairSelected is spec §8's literal worked example:
// aBalance(WETH)=2e18, debt(USDC)=4000e6, WETH=$2000, USDC=$1,
// liqBonusBps=500, haircutBps=200 -> oracleScore=98e18, plan accepted.
func TestPlanProfitablePairSelected(t *testing.T) {
	client := newFakeClient()
	client.setUserReserve(t, weth.Common(), user, big.NewInt(2e18), big.NewInt(0), big.NewInt(0), true)
	client.setUserReserve(t, usdc.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(4000e6), false)

	p := newTestPlanner(client, newReserves(), newPrices())
	plans := p.Plan(context.Background(), domain.NewAddress(user))

	require.Len(t, plans, 1)
	plan := plans[0]
	assert.Equal(t, usdc, plan.DebtAsset)
	assert.Equal(t, weth, plan.CollateralAsset)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(98), ray()), plan.OracleScore1e18)
}

// TestPlanInsufficientCollateralExcludesPair: aBalance(WETH)=1e18, below the
// 1.05e18 the liquidation bonus would require, so the pair is dropped.
func TestPlanInsufficientCollateralExcludesPair(t *testing.T) {
	client := newFakeClient()
	client.setUserReserve(t, weth.Common(), user, big.NewInt(1e18), big.NewInt(0), big.NewInt(0), true)
	client.setUserReserve(t, usdc.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(4000e6), false)

	p := newTestPlanner(client, newReserves(), newPrices())
	plans := p.Plan(context.Background(), domain.NewAddress(user))

	assert.Empty(t, plans)
}

func TestPlanReturnsEmptyOnBatchFailure(t *testing.T) {
	client := newFakeClient()
	client.fail = true

	p := newTestPlanner(client, newReserves(), newPrices())
	plans := p.Plan(context.Background(), domain.NewAddress(user))

	assert.Empty(t, plans)
}

func TestPlanDropsNonPositiveOracleScore(t *testing.T) {
	client := newFakeClient()
	client.setUserReserve(t, weth.Common(), user, big.NewInt(2e18), big.NewInt(0), big.NewInt(0), true)
	client.setUserReserve(t, usdc.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(1), false)

	reserves := newReserves()
	prices := pricecache.New()
	prices.PutUSD1e18(weth, ray(), 0) // 1 raw unit of USDC debt: the 50% close factor rounds the cover to 0, so the score is 0
	prices.PutUSD1e18(usdc, ray(), 0)

	p := newTestPlanner(client, reserves, prices)
	plans := p.Plan(context.Background(), domain.NewAddress(user))

	assert.Empty(t, plans)
}

func TestPlanTruncatesToTopN(t *testing.T) {
	client := newFakeClient()
	client.setUserReserve(t, weth.Common(), user, new(big.Int).Mul(big.NewInt(100), ray()), big.NewInt(0), big.NewInt(0), true)
	client.setUserReserve(t, usdc.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(1000e6), false)

	reserves := newReserves()
	dai := domain.ParseAddress("0x0000000000000000000000000000000000000d")
	link := domain.ParseAddress("0x0000000000000000000000000000000000000e")
	uni := domain.ParseAddress("0x0000000000000000000000000000000000000f")
	reserves.Put(dai, 18, 10500, true, true, domain.Address(""), domain.Address(""), domain.Address(""))
	reserves.Put(link, 18, 10500, true, true, domain.Address(""), domain.Address(""), domain.Address(""))
	reserves.Put(uni, 18, 10500, true, true, domain.Address(""), domain.Address(""), domain.Address(""))
	client.setUserReserve(t, dai.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(1000e6), false)
	client.setUserReserve(t, link.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(1000e6), false)
	client.setUserReserve(t, uni.Common(), user, big.NewInt(0), big.NewInt(0), big.NewInt(1000e6), false)

	prices := newPrices()
	prices.PutUSD1e18(dai, ray(), 0)
	prices.PutUSD1e18(link, ray(), 0)
	prices.PutUSD1e18(uni, ray(), 0)

	p := newTestPlanner(client, reserves, prices)
	plans := p.Plan(context.Background(), domain.NewAddress(user))

	assert.Len(t, plans, 3)
}

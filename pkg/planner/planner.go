// Package planner implements the LiquidationPlanner (spec §4.I): given one
// user, fetch its per-reserve positions, prefetch prices/decimals/reserve
// config in a single concurrency wave, and score every (debt, collateral)
// pair by exact-integer oracleScore, returning the top 3 CandidatePlans.
package planner

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/pricecache"
	"github.com/onchainops/liquidator/pkg/protocoldata"
)

// Config bundles the planner's tunables (spec §4.I).
type Config struct {
	CloseFactorBps int64 // default 5000 (50%)
	HaircutBps     int64 // default 200
	TopN           int   // default 3
}

// Planner is the LiquidationPlanner.
type Planner struct {
	cfg              Config
	client           chain.Client
	dataProviderAddr common.Address
	reserves         *protocoldata.Cache
	prices           *pricecache.Cache
	sink             metrics.MetricsSink
	log              *zap.Logger
}

// New constructs a Planner. dataProviderAddr is the lending protocol's
// batched-read view contract (spec §6.A/§6.B) getUserReserveData is called
// against.
func New(cfg Config, client chain.Client, dataProviderAddr common.Address, reserves *protocoldata.Cache, prices *pricecache.Cache, sink metrics.MetricsSink, log *zap.Logger) *Planner {
	if cfg.CloseFactorBps == 0 {
		cfg.CloseFactorBps = 5000
	}
	if cfg.HaircutBps == 0 {
		cfg.HaircutBps = 200
	}
	if cfg.TopN == 0 {
		cfg.TopN = 3
	}
	if sink == nil {
		sink = metrics.NoOp{}
	}
	return &Planner{cfg: cfg, client: client, dataProviderAddr: dataProviderAddr, reserves: reserves, prices: prices, sink: sink, log: log}
}

type position struct {
	reserve           domain.Reserve
	aTokenBalance     *big.Int
	totalDebtRaw      *big.Int
	collateralEnabled bool
}

// Plan runs spec §4.I's full algorithm for one user. Per step 1, any fetch
// failure for the position snapshot returns an empty result rather than an
// error, so callers never special-case a planner error against "no
// profitable pair found".
func (p *Planner) Plan(ctx context.Context, user domain.Address) []domain.CandidatePlan {
	positions, ok := p.fetchPositions(ctx, user)
	if !ok {
		return nil
	}

	var debtPositions, collateralPositions []position
	assetSet := make(map[domain.Address]struct{})
	for _, pos := range positions {
		if pos.totalDebtRaw.Sign() > 0 {
			debtPositions = append(debtPositions, pos)
			assetSet[pos.reserve.Underlying] = struct{}{}
		}
		if pos.collateralEnabled && pos.aTokenBalance.Sign() > 0 {
			collateralPositions = append(collateralPositions, pos)
			assetSet[pos.reserve.Underlying] = struct{}{}
		}
	}
	if len(debtPositions) == 0 || len(collateralPositions) == 0 {
		return nil
	}

	assets := make([]domain.Address, 0, len(assetSet))
	for a := range assetSet {
		assets = append(assets, a)
	}
	prices := p.prefetchPrices(ctx, assets)

	var plans []domain.CandidatePlan
	for _, debt := range debtPositions {
		debtPrice, ok := prices[debt.reserve.Underlying]
		if !ok {
			continue
		}
		for _, collateral := range collateralPositions {
			if collateral.reserve.Underlying == debt.reserve.Underlying {
				continue
			}
			collateralPrice, ok := prices[collateral.reserve.Underlying]
			if !ok {
				continue
			}
			plan, ok := buildCandidate(p.cfg, debt, collateral, debtPrice, collateralPrice)
			if !ok {
				continue
			}
			plans = append(plans, plan)
		}
	}

	if len(plans) == 0 {
		p.sink.IncCounter(metrics.CounterSkipNoPair, nil)
		return nil
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].OracleScore1e18.Cmp(plans[j].OracleScore1e18) > 0 })
	if len(plans) > p.cfg.TopN {
		plans = plans[:p.cfg.TopN]
	}
	return plans
}

// buildCandidate implements spec §4.I step 4's exact-integer formulas for
// one (debt, collateral) pair.
func buildCandidate(cfg Config, debt, collateral position, debtPrice, collateralPrice *big.Int) (domain.CandidatePlan, bool) {
	debtToCoverRaw := domain.ApplyBps(debt.totalDebtRaw, cfg.CloseFactorBps)
	debtToCover1e18 := domain.RescaleTo1e18(debtToCoverRaw, uint(debt.reserve.Decimals))
	debtUsd1e18 := domain.MulDiv1e18(debtToCover1e18, debtPrice)

	collateralAmount1e18 := domain.DivMul1e18(debtUsd1e18, collateralPrice)
	expectedCollateral1e18 := domain.ApplyBps(collateralAmount1e18, 10000+int64(collateral.reserve.LiquidationBonusBps))
	expectedCollateralRaw := domain.Rescale(expectedCollateral1e18, 18, uint(collateral.reserve.Decimals))

	if expectedCollateralRaw.Cmp(collateral.aTokenBalance) > 0 {
		return domain.CandidatePlan{}, false
	}

	collateralOutUsd1e18 := domain.MulDiv1e18(domain.RescaleTo1e18(expectedCollateralRaw, uint(collateral.reserve.Decimals)), collateralPrice)
	profit1e18 := new(big.Int).Sub(collateralOutUsd1e18, debtUsd1e18)
	oracleScore1e18 := new(big.Int).Sub(profit1e18, domain.ApplyBps(profit1e18, cfg.HaircutBps))

	if oracleScore1e18.Sign() <= 0 {
		return domain.CandidatePlan{}, false
	}

	return domain.CandidatePlan{
		DebtAsset:                debt.reserve.Underlying,
		CollateralAsset:          collateral.reserve.Underlying,
		DebtToCoverRaw:           debtToCoverRaw,
		ExpectedCollateralOutRaw: expectedCollateralRaw,
		DebtDecimals:             debt.reserve.Decimals,
		CollateralDecimals:       collateral.reserve.Decimals,
		LiquidationBonusBps:      collateral.reserve.LiquidationBonusBps,
		OracleScore1e18:          oracleScore1e18,
	}, true
}

// fetchPositions performs step 1: one multicall batch of getUserReserveData
// across every known reserve.
func (p *Planner) fetchPositions(ctx context.Context, user domain.Address) ([]position, bool) {
	reserves := p.reserves.All()
	if len(reserves) == 0 {
		return nil, false
	}

	calls := make([]chain.BatchCall, len(reserves))
	for i, r := range reserves {
		data, err := chain.PackGetUserReserveData(r.Underlying.Common(), user.Common())
		if err != nil {
			p.log.Warn("planner: pack getUserReserveData failed", zap.Error(err))
			return nil, false
		}
		calls[i] = chain.BatchCall{To: p.dataProviderAddr, Data: data, BlockTag: "latest"}
	}
	if err := p.client.BatchCall(ctx, calls); err != nil {
		p.log.Warn("planner: getUserReserveData batch failed", zap.Error(err))
		return nil, false
	}

	out := make([]position, 0, len(reserves))
	for i, r := range reserves {
		if calls[i].Err != nil {
			continue
		}
		decoded, err := chain.UnpackUserReserveData(calls[i].Result)
		if err != nil {
			continue
		}
		totalDebt := new(big.Int).Add(decoded.CurrentStableDebt, decoded.CurrentVariableDebt)
		out = append(out, position{
			reserve:           r,
			aTokenBalance:     decoded.CurrentATokenBalance,
			totalDebtRaw:      totalDebt,
			collateralEnabled: decoded.UsageAsCollateralEnabled,
		})
	}
	return out, true
}

// prefetchPrices resolves every asset's USD price in one concurrency wave
// (spec §4.I step 3), cache-first with a cold eth_call fallback to the
// asset's price feed on a miss.
func (p *Planner) prefetchPrices(ctx context.Context, assets []domain.Address) map[domain.Address]*big.Int {
	out := make(map[domain.Address]*big.Int, len(assets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, asset := range assets {
		asset := asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, ok := p.resolvePrice(ctx, asset)
			if !ok {
				return
			}
			mu.Lock()
			out[asset] = price
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (p *Planner) resolvePrice(ctx context.Context, asset domain.Address) (*big.Int, bool) {
	if price, err := p.prices.GetUSD1e18(asset); err == nil {
		return price, true
	}

	reserve, ok := p.reserves.Reserve(asset)
	if !ok || reserve.PriceFeedHandle == "" {
		return nil, false
	}

	calldata, err := chain.PackLatestRoundData()
	if err != nil {
		return nil, false
	}
	raw, err := p.client.Call(ctx, reserve.PriceFeedHandle.Common(), calldata, "latest")
	if err != nil {
		p.log.Debug("planner: price cold-fetch failed", zap.String("asset", string(asset)), zap.Error(err))
		return nil, false
	}
	round, err := chain.UnpackLatestRoundData(raw)
	if err != nil {
		return nil, false
	}
	decimals, ok := p.prices.FeedDecimals(reserve.PriceFeedHandle)
	if !ok {
		decimals = 8
	}
	price1e18, err := pricecache.NormalizeAnswer(round.Answer, decimals)
	if err != nil {
		return nil, false
	}
	p.prices.PutUSD1e18(asset, price1e18, 0)
	return price1e18, true
}

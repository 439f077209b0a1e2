// Package verifier implements the Verifier (spec §4.G): batched on-chain
// health-factor checks with hedged, rate-limited, dedup-guarded multicall
// execution, producing edge-triggered Actionable signals and feeding the
// RiskSet and micro-verify scheduling hook.
package verifier

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/policy"
	"github.com/onchainops/liquidator/pkg/riskset"
	"github.com/onchainops/liquidator/pkg/scanregistry"
)

// Config bundles every operator-tunable knob named in spec §6 that bears on
// the Verifier.
type Config struct {
	BatchSize              int           // MULTICALL_BATCH_SIZE
	MinChunkSize           int           // floor for adaptive shrink, spec default 50
	ChunkTimeout           time.Duration // CHUNK_TIMEOUT_MS
	ChunkRetryAttempts     int           // CHUNK_RETRY_ATTEMPTS
	HedgeDelay             time.Duration // HEAD_CHECK_HEDGE_MS; 0 disables hedging
	BackoffBase            time.Duration // base 1s per spec
	BackoffCap             time.Duration
	RateLimitPerSec        float64 // GLOBAL_RPC_RATE_LIMIT
	RateBurst              int     // GLOBAL_RPC_BURST_CAPACITY
	RateLimitWait          time.Duration // cap on waiting for tokens, spec "within 5s"
	ExecutionThreshold     float64       // HF below which a user is actionable, strict <
	HysteresisBps          int64
	NearThresholdBandBps   int64
	MinDebtUsd1e18         *big.Int
	MicroVerifyMaxPerBlock int
	ScanDedupWindow        time.Duration
	PendingVerifyEnabled   bool
}

// Input is one Verifier invocation (spec §4.G "Input").
type Input struct {
	Users           []domain.Address
	Trigger         domain.TriggerKind
	BlockTag        domain.BlockTag
	SymbolOrReserve string
	Block           uint64 // confirmed head this scan is keyed to, for dedup/edge-trigger
}

// UserResult is one surviving (non-pruned) user's decoded account data.
type UserResult struct {
	User                   domain.Address
	HF                     float64
	TotalDebtUsd1e18       *big.Int
	TotalCollateralUsd1e18 *big.Int
}

// BatchResult is the Verify outcome (spec §4.G "Output" plus the
// scheduling hook of §4.G).
type BatchResult struct {
	Results               []UserResult
	Actionables           []domain.Actionable
	MicroVerifyCandidates []domain.Address
	SuppressedByLock      bool
	// CorrelationID identifies this scan (or, when SuppressedByLock, the
	// scan holding the key) across log lines and the Actionables/
	// AttemptRecords it produced.
	CorrelationID string
}

// Verifier is the batched HF-check engine. It holds no per-call state
// beyond the adaptive chunk sizer and edge tracker, both concurrency-safe,
// so a single Verifier instance is shared across head/event/price triggers.
type Verifier struct {
	cfg       Config
	primary   chain.Client
	secondary chain.Client // optional hedge endpoint; nil disables hedging
	poolAddr  common.Address

	risk     *riskset.RiskSet
	registry *scanregistry.Registry
	limiter  *rate.Limiter
	clock    util.Clock
	sink     metrics.MetricsSink

	adaptive *adaptiveChunking
	edges    *edgeTracker
}

// New constructs a Verifier. poolAddr is the lending-protocol view
// contract's address (spec §6.A).
func New(cfg Config, poolAddr common.Address, primary, secondary chain.Client, risk *riskset.RiskSet, registry *scanregistry.Registry, clock util.Clock, sink metrics.MetricsSink) *Verifier {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	return &Verifier{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		poolAddr:  poolAddr,
		risk:      risk,
		registry:  registry,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateBurst),
		clock:     clock,
		sink:      sink,
		adaptive:  newAdaptiveChunking(cfg.BatchSize, cfg.MinChunkSize),
		edges:     newEdgeTracker(),
	}
}

// Verify runs the full step 1-7 algorithm of spec §4.G against in.Users.
func (v *Verifier) Verify(ctx context.Context, in Input) (BatchResult, error) {
	key := scanregistry.Key{Trigger: in.Trigger, SymbolOrReserve: in.SymbolOrReserve, Block: int64(in.Block)}
	corrID, acquired := v.registry.TryAcquire(key)
	if !acquired {
		v.sink.IncCounter(metrics.CounterScanSuppressedByLock, map[string]string{"trigger": string(in.Trigger)})
		return BatchResult{SuppressedByLock: true, CorrelationID: corrID}, nil
	}
	defer v.registry.Release(key)

	if len(in.Users) == 0 {
		return BatchResult{CorrelationID: corrID}, nil
	}

	waitTimeout := v.cfg.RateLimitWait
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	tokensNeeded := (len(in.Users) + v.cfg.BatchSize - 1) / v.cfg.BatchSize
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	err := v.limiter.WaitN(waitCtx, tokensNeeded)
	cancel()
	if err != nil {
		return BatchResult{}, fmt.Errorf("verifier: rate limiter wait: %w", err)
	}

	blockTag := v.resolveBlockTag(in)

	result := BatchResult{CorrelationID: corrID}
	chunkSize := v.adaptive.ChunkSize()
	for start := 0; start < len(in.Users); start += chunkSize {
		end := start + chunkSize
		if end > len(in.Users) {
			end = len(in.Users)
		}
		chunk := in.Users[start:end]

		decoded, latency, err := v.verifyChunk(ctx, chunk, blockTag)
		v.sink.ObserveLatency(metrics.LatencyBatchVerify, map[string]string{"trigger": string(in.Trigger)}, latency.Seconds())
		if err != nil {
			if isRateLimitErr(err) {
				v.adaptive.OnRateLimited()
				v.sink.IncCounter(metrics.CounterRateLimited, map[string]string{"trigger": string(in.Trigger)})
			} else {
				v.sink.IncCounter(metrics.CounterChunkTimeouts, map[string]string{"trigger": string(in.Trigger)})
			}
			chunkSize = v.adaptive.ChunkSize()
			continue
		}
		v.adaptive.OnSuccess()
		chunkSize = v.adaptive.ChunkSize()

		for _, d := range decoded {
			v.applyResult(&result, d, in)
		}
	}

	if len(result.MicroVerifyCandidates) > v.cfg.MicroVerifyMaxPerBlock {
		result.MicroVerifyCandidates = result.MicroVerifyCandidates[:v.cfg.MicroVerifyMaxPerBlock]
	}
	return result, nil
}

type decodedUser struct {
	user domain.Address
	data *chain.UserAccountData
	err  error
}

// verifyChunk performs the hedged, retried multicall for one sub-batch
// (spec §4.G step 3/4).
func (v *Verifier) verifyChunk(ctx context.Context, users []domain.Address, blockTag string) ([]decodedUser, time.Duration, error) {
	started := v.clock.Now()

	calls := make([]chain.BatchCall, len(users))
	for i, u := range users {
		data, err := chain.PackGetUserAccountData(u.Common())
		if err != nil {
			return nil, 0, fmt.Errorf("verifier: pack getUserAccountData: %w", err)
		}
		calls[i] = chain.BatchCall{To: v.poolAddr, Data: data, BlockTag: blockTag}
	}

	p := policy.Policy{
		Timeout:       v.cfg.ChunkTimeout,
		HedgeDelay:    v.cfg.HedgeDelay,
		RetryAttempts: v.cfg.ChunkRetryAttempts,
		BackoffBase:   v.cfg.BackoffBase,
		BackoffCap:    v.cfg.BackoffCap,
		Clock:         v.clock,
	}

	primaryAttempt := func(ctx context.Context) ([]chain.BatchCall, error) {
		batch := cloneBatchCalls(calls)
		if err := v.primary.BatchCall(ctx, batch); err != nil {
			if isBlockTagUnsupportedErr(err) && blockTag == "pending" {
				v.sink.IncCounter(metrics.CounterPendingVerifyErrors, nil)
				for i := range batch {
					batch[i].BlockTag = "latest"
				}
				err = v.primary.BatchCall(ctx, batch)
			}
			if err != nil {
				return nil, err
			}
		}
		return batch, nil
	}

	var secondaryAttempt policy.Attempt[[]chain.BatchCall]
	if v.secondary != nil && v.cfg.HedgeDelay > 0 {
		secondaryAttempt = func(ctx context.Context) ([]chain.BatchCall, error) {
			v.sink.IncCounter(metrics.CounterHedgeFires, nil)
			batch := cloneBatchCalls(calls)
			if err := v.secondary.BatchCall(ctx, batch); err != nil {
				return nil, err
			}
			return batch, nil
		}
	}

	batch, outcome, err := policy.Execute[[]chain.BatchCall](ctx, p, primaryAttempt, secondaryAttempt)
	if err != nil {
		return nil, v.clock.Now().Sub(started), err
	}
	if outcome.UsedSecondary {
		v.sink.IncCounter(metrics.CounterHedgeFires, map[string]string{"winner": "secondary"})
	}

	out := make([]decodedUser, len(users))
	for i, call := range batch {
		if call.Err != nil {
			out[i] = decodedUser{user: users[i], err: call.Err}
			continue
		}
		data, derr := chain.UnpackUserAccountData(call.Result)
		out[i] = decodedUser{user: users[i], data: data, err: derr}
	}
	return out, v.clock.Now().Sub(started), nil
}

func cloneBatchCalls(calls []chain.BatchCall) []chain.BatchCall {
	out := make([]chain.BatchCall, len(calls))
	copy(out, calls)
	return out
}

// applyResult runs steps 5-6 (decode/prune/edge-trigger) for one user and
// folds it into the accumulating BatchResult.
func (v *Verifier) applyResult(result *BatchResult, d decodedUser, in Input) {
	if d.err != nil || d.data == nil {
		v.sink.IncCounter(metrics.CounterPruned, map[string]string{"reason": "decode_error"})
		return
	}
	if d.data.TotalDebtBase.Sign() == 0 {
		v.sink.IncCounter(metrics.CounterPruned, map[string]string{"reason": "zero_debt"})
		v.risk.UpdateHF(d.user, domain.NoDebtHF, big.NewInt(0), domain.RescaleTo1e18(d.data.TotalCollateralBase, 8), in.Block)
		return
	}

	debtUsd1e18 := domain.RescaleTo1e18(d.data.TotalDebtBase, 8)
	collateralUsd1e18 := domain.RescaleTo1e18(d.data.TotalCollateralBase, 8)

	if debtUsd1e18.Cmp(v.cfg.MinDebtUsd1e18) < 0 {
		v.sink.IncCounter(metrics.CounterPruned, map[string]string{"reason": "dust"})
		return
	}

	hf := domain.HFDisplay(d.data.HealthFactor)
	v.risk.UpdateHF(d.user, hf, debtUsd1e18, collateralUsd1e18, in.Block)

	result.Results = append(result.Results, UserResult{
		User:                   d.user,
		HF:                     hf,
		TotalDebtUsd1e18:       debtUsd1e18,
		TotalCollateralUsd1e18: collateralUsd1e18,
	})

	belowThreshold := hf < v.cfg.ExecutionThreshold
	if reason, emit := v.edges.Observe(d.user, hf, in.Block, belowThreshold, v.cfg.HysteresisBps); emit {
		v.sink.IncCounter(metrics.CounterActionableEmitted, map[string]string{"reason": string(reason)})
		result.Actionables = append(result.Actionables, domain.Actionable{
			User:          d.user,
			Block:         in.Block,
			HF:            hf,
			DebtUsd1e18:   debtUsd1e18,
			Reason:        reason,
			Trigger:       in.Trigger,
			CorrelationID: result.CorrelationID,
		})
	}

	if v.needsMicroVerify(d.user, hf) {
		result.MicroVerifyCandidates = append(result.MicroVerifyCandidates, d.user)
	}
}

// needsMicroVerify implements the scheduling hook of spec §4.G: projected
// next-block HF below 1.0 by linear extrapolation over the last <=4
// observations, or current HF in the near-threshold band with a negative
// delta.
func (v *Verifier) needsMicroVerify(user domain.Address, currentHF float64) bool {
	u, ok := v.risk.Get(user)
	if !ok || len(u.HFHistory) == 0 {
		return false
	}

	band := float64(v.cfg.NearThresholdBandBps) / 10000
	inBand := currentHF >= v.cfg.ExecutionThreshold && currentHF <= v.cfg.ExecutionThreshold+band

	if len(u.HFHistory) < 2 {
		return inBand
	}

	last := u.HFHistory[len(u.HFHistory)-1]
	prev := u.HFHistory[len(u.HFHistory)-2]
	delta := last.HF - prev.HF
	if inBand && delta < 0 {
		return true
	}

	projected := last.HF + delta
	return projected < 1.0
}

// resolveBlockTag implements spec §4.G "Block-tag semantics": Price/Reserve
// triggers without an explicit block request "pending" when enabled.
func (v *Verifier) resolveBlockTag(in Input) string {
	if in.BlockTag.Number != nil || in.BlockTag.Pending {
		return chain.BlockTagString(in.BlockTag)
	}
	if v.cfg.PendingVerifyEnabled && (in.Trigger == domain.TriggerPrice || in.Trigger == domain.TriggerReserve) {
		return "pending"
	}
	if in.Block > 0 {
		return chain.BlockTagString(domain.BlockTag{Number: &in.Block})
	}
	return "latest"
}

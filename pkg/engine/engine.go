// Package engine wires every other package into the running liquidation
// bot (spec §2 "Control flow"): E/F push triggers into D, H drains D and
// calls G, G's Actionable signals are what this package turns into an
// execution attempt — consulting K, asking I for candidates, quoting with
// the external swap oracle, picking the highest net-profit candidate, and
// handing a signed transaction to J. L runs independently alongside.
//
// The teacher (blackholedex.Blackhole) is a single DEX strategy struct
// driven by one TxListener; this Engine generalizes that shape to a dozen+
// long-lived drivers, following the same constructor-injection style used
// throughout this repository's own pkg/scheduler, pkg/verifier, etc.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/audit"
	"github.com/onchainops/liquidator/pkg/broadcaster"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/dirtyqueue"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/external"
	"github.com/onchainops/liquidator/pkg/history"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/pricefeed"
	"github.com/onchainops/liquidator/pkg/riskset"
	"github.com/onchainops/liquidator/pkg/scheduler"
	"github.com/onchainops/liquidator/pkg/verifier"
)

// Planner is the narrow surface Engine needs from pkg/planner, declared
// here so tests can substitute a fake without constructing a real
// chain-backed Planner (mirrors pkg/scheduler's own Verifier interface).
type Planner interface {
	Plan(ctx context.Context, user domain.Address) []domain.CandidatePlan
}

// Broadcaster is the narrow surface Engine needs from pkg/broadcaster.
type Broadcaster interface {
	Broadcast(ctx context.Context, to common.Address, data []byte, gasLimit uint64) broadcaster.Result
}

// Config bundles the Engine's own tunables: the ones spec §6's Config
// surface lists that don't belong to any single inner component
// (EXECUTION_ENABLED gates dry-run vs real broadcasts; the rest size the
// executor call and the execution fan-out).
type Config struct {
	ExecutionEnabled        bool
	ExecutorAddress         common.Address
	Payout                  domain.Address
	GasLimit                uint64
	SwapSlippageBps         int64
	MaxConcurrentExecutions int
	ExecutionTimeout        time.Duration
	WsHeartbeatMs           int64
}

// Engine is the root orchestrator. It owns no chain state of its own beyond
// a head-watch subscription; every other piece of state lives in the
// injected components.
type Engine struct {
	cfg Config

	scheduler *scheduler.Scheduler
	planner   Planner
	broadcast Broadcaster
	audit     *audit.AuditListener

	risk     *riskset.RiskSet
	attempts *history.History

	priceFeed  *pricefeed.Listener
	poolEvents *poolevents.Listener
	headClient chain.Client

	swaps    external.SwapOracle
	executor external.Executor
	notifier external.Notifier

	clock util.Clock
	sink  metrics.MetricsSink
	log   *zap.Logger

	execSem chan struct{}
}

// New constructs the Engine. verify is the raw Verifier; the Engine wraps
// it in an internal decorator so every Actionable surfaced during a
// scheduler-driven Verify call is queued for execution without the
// Scheduler itself having to know about planning/broadcasting (the
// Scheduler's own Verifier interface stays exactly as narrow as
// pkg/scheduler declares it).
func New(
	cfg Config,
	schedCfg scheduler.Config,
	verify *verifier.Verifier,
	plan Planner,
	broadcast Broadcaster,
	auditListener *audit.AuditListener,
	risk *riskset.RiskSet,
	dirty *dirtyqueue.Queue,
	attempts *history.History,
	priceFeed *pricefeed.Listener,
	poolEvents *poolevents.Listener,
	borrowers external.BorrowerIndex,
	swaps external.SwapOracle,
	executor external.Executor,
	notifier external.Notifier,
	headClient chain.Client,
	clock util.Clock,
	sink metrics.MetricsSink,
	log *zap.Logger,
) *Engine {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	maxConcurrent := cfg.MaxConcurrentExecutions
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	e := &Engine{
		cfg:        cfg,
		planner:    plan,
		broadcast:  broadcast,
		audit:      auditListener,
		risk:       risk,
		attempts:   attempts,
		priceFeed:  priceFeed,
		poolEvents: poolEvents,
		headClient: headClient,
		swaps:      swaps,
		executor:   executor,
		notifier:   notifier,
		clock:      clock,
		sink:       sink,
		log:        log,
		execSem:    make(chan struct{}, maxConcurrent),
	}
	av := &actionableVerifier{inner: verify, engine: e}
	e.scheduler = scheduler.New(schedCfg, av, risk, dirty, priceFeed, poolEvents, borrowers, clock, sink, log)
	return e
}

// actionableVerifier decorates *verifier.Verifier so every Actionable a
// Verify call surfaces is dispatched for execution, while still satisfying
// exactly the narrow scheduler.Verifier interface the Scheduler depends on.
type actionableVerifier struct {
	inner  *verifier.Verifier
	engine *Engine
}

func (v *actionableVerifier) Verify(ctx context.Context, in verifier.Input) (verifier.BatchResult, error) {
	result, err := v.inner.Verify(ctx, in)
	if err == nil {
		for _, a := range result.Actionables {
			v.engine.dispatch(ctx, a)
		}
	}
	return result, err
}

// Run starts every long-lived driver and blocks until one fails or ctx is
// cancelled (spec §5 "Scheduling model"). A single failing driver brings
// down the whole engine; the caller decides whether to restart the
// process.
func (e *Engine) Run(ctx context.Context) error {
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, external.Notification{Kind: external.NotifyStartup, Message: "liquidation engine starting"}); err != nil {
			e.log.Warn("engine: startup notify failed", zap.Error(err))
		}
	}

	e.priceFeed.Seed(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.priceFeed.Run(gctx) })
	g.Go(func() error { return e.poolEvents.Run(gctx) })
	g.Go(func() error { return e.scheduler.RunHeadLoop(gctx) })
	g.Go(func() error { return e.scheduler.RunEventLoop(gctx) })
	g.Go(func() error { return e.scheduler.RunPriceShockLoop(gctx) })
	g.Go(func() error { return e.audit.Run(gctx, e.poolEvents.Liquidations()) })
	g.Go(func() error { return e.runHeadWatcher(gctx) })

	err := g.Wait()
	if err != nil && e.notifier != nil {
		if nerr := e.notifier.Notify(context.Background(), external.Notification{
			Kind: external.NotifyFatalError, Message: "liquidation engine stopped",
			Fields: map[string]string{"error": err.Error()},
		}); nerr != nil {
			e.log.Warn("engine: fatal-error notify failed", zap.Error(nerr))
		}
	}
	return err
}

// Shutdown waits for every in-flight execution to release its slot (spec §5
// "On shutdown": "the monitor provider awaits all in-flight broadcasts to
// complete or timeout"), or for ctx to expire first. Callers cancel the
// context passed to Run before calling Shutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	for i := 0; i < cap(e.execSem); i++ {
		select {
		case e.execSem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dispatch bounds in-flight executions to cap(execSem); an Actionable
// arriving while every slot is busy is dropped with a metric rather than
// queued, since a stale execution attempt past the next head is worthless
// (spec §2's racing premise).
func (e *Engine) dispatch(ctx context.Context, a domain.Actionable) {
	select {
	case e.execSem <- struct{}{}:
	default:
		e.sink.IncCounter(metrics.CounterExecutionDropped, map[string]string{"reason": "max_concurrent"})
		return
	}
	go func() {
		defer func() { <-e.execSem }()
		execCtx := ctx
		if e.cfg.ExecutionTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
			defer cancel()
		}
		e.execute(execCtx, a)
	}()
}

// execute runs the actionable path spec §2 describes in one sentence:
// consult K, ask I for candidates, quote with the swap oracle, pick the
// winner by net debt-token profit, hand the signed tx to J.
func (e *Engine) execute(ctx context.Context, a domain.Actionable) {
	if e.attempts.HasPending(a.User) {
		e.sink.IncCounter(metrics.CounterExecutionSkipped, map[string]string{"reason": "attempt_pending"})
		return
	}

	started := e.clock.Now()
	candidates := e.planner.Plan(ctx, a.User)
	if len(candidates) == 0 {
		e.attempts.Record(domain.AttemptRecord{User: a.User, Timestamp: started, Status: domain.AttemptSkipNoPair, CorrelationID: a.CorrelationID})
		e.sink.IncCounter(metrics.CounterExecutionSkipped, map[string]string{"reason": "no_pair"})
		return
	}

	winner, quote, ok := e.quoteBest(ctx, candidates)
	if !ok {
		e.attempts.Record(domain.AttemptRecord{User: a.User, Timestamp: started, Status: domain.AttemptSkipNoPair, CorrelationID: a.CorrelationID})
		e.sink.IncCounter(metrics.CounterExecutionSkipped, map[string]string{"reason": "no_profitable_quote"})
		return
	}

	params := external.LiquidationParams{
		User:                     a.User,
		CollateralAsset:          winner.CollateralAsset,
		DebtAsset:                winner.DebtAsset,
		DebtToCoverRaw:           winner.DebtToCoverRaw,
		SwapCalldata:             quote.Data,
		MinOutRaw:                quote.MinOutRaw,
		Payout:                   e.cfg.Payout,
		ExpectedCollateralOutRaw: winner.ExpectedCollateralOutRaw,
	}
	data, err := e.executor.BuildLiquidationTx(ctx, params)
	if err != nil {
		e.log.Warn("engine: build liquidation tx failed",
			zap.String("user", a.User.String()), zap.String("correlation_id", a.CorrelationID), zap.Error(err))
		e.attempts.Record(errorAttempt(a.User, a.CorrelationID, started, winner, err))
		return
	}

	if !e.cfg.ExecutionEnabled {
		e.log.Info("engine: dry-run liquidation would execute",
			zap.String("user", a.User.String()), zap.String("correlation_id", a.CorrelationID),
			zap.String("debt_asset", winner.DebtAsset.String()),
			zap.String("collateral_asset", winner.CollateralAsset.String()))
		e.notifyDetected(ctx, a, winner, "dry_run", nil)
		return
	}

	result := e.broadcast.Broadcast(ctx, e.cfg.ExecutorAddress, data, e.cfg.GasLimit)
	e.sink.IncCounter(metrics.CounterExecutionTriggered, map[string]string{"status": string(result.Status)})
	e.sink.ObserveLatency(metrics.LatencyExecution, nil, e.clock.Now().Sub(started).Seconds())

	record := domain.AttemptRecord{
		User: a.User, Timestamp: started, Status: result.Status,
		DebtAsset: &winner.DebtAsset, CollateralAsset: &winner.CollateralAsset,
		DebtToCoverRaw: winner.DebtToCoverRaw, CorrelationID: a.CorrelationID,
	}
	if result.TxHash != "" {
		txHash := result.TxHash
		record.TxHash = &txHash
	}
	if result.Err != nil {
		errMsg := result.Err.Error()
		record.Error = &errMsg
	}
	e.attempts.Record(record)
	e.notifyDetected(ctx, a, winner, "broadcast", result.Err)
}

func errorAttempt(user domain.Address, correlationID string, ts time.Time, plan domain.CandidatePlan, err error) domain.AttemptRecord {
	msg := err.Error()
	return domain.AttemptRecord{
		User: user, Timestamp: ts, Status: domain.AttemptError,
		DebtAsset: &plan.DebtAsset, CollateralAsset: &plan.CollateralAsset,
		DebtToCoverRaw: plan.DebtToCoverRaw, Error: &msg, CorrelationID: correlationID,
	}
}

func (e *Engine) notifyDetected(ctx context.Context, a domain.Actionable, plan domain.CandidatePlan, mode string, execErr error) {
	if e.notifier == nil {
		return
	}
	fields := map[string]string{
		"user":             a.User.String(),
		"debt_asset":       plan.DebtAsset.String(),
		"collateral_asset": plan.CollateralAsset.String(),
		"hf":               fmt.Sprintf("%g", a.HF),
		"mode":             mode,
		"correlation_id":   a.CorrelationID,
	}
	if execErr != nil {
		fields["error"] = execErr.Error()
	}
	n := external.Notification{Kind: external.NotifyLiquidationDetected, Message: fmt.Sprintf("liquidation attempt for %s", a.User), Fields: fields}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Warn("engine: liquidation-detected notify failed", zap.Error(err))
	}
}

// quoteBest requests a swap quote for every candidate plan's collateral leg
// and returns the one with the highest net profit in debt-token raw units
// (minOutRaw - debtToCoverRaw), skipping candidates whose quote fails or
// nets non-positive (spec §2: "picks the winner by net debt-token profit").
func (e *Engine) quoteBest(ctx context.Context, candidates []domain.CandidatePlan) (domain.CandidatePlan, external.SwapQuote, bool) {
	var (
		best      domain.CandidatePlan
		bestQuote external.SwapQuote
		bestNet   *big.Int
	)
	for _, c := range candidates {
		quote, err := e.swaps.GetSwapCalldata(ctx, external.SwapRequest{
			FromToken:   c.CollateralAsset,
			ToToken:     c.DebtAsset,
			AmountRaw:   c.ExpectedCollateralOutRaw,
			FromAddress: e.cfg.Payout,
			SlippageBps: e.cfg.SwapSlippageBps,
		})
		if err != nil {
			e.log.Debug("engine: swap quote failed", zap.String("collateral", c.CollateralAsset.String()), zap.Error(err))
			continue
		}
		net := new(big.Int).Sub(quote.MinOutRaw, c.DebtToCoverRaw)
		if net.Sign() <= 0 {
			continue
		}
		if bestNet == nil || net.Cmp(bestNet) > 0 {
			best, bestQuote, bestNet = c, quote, net
		}
	}
	return best, bestQuote, bestNet != nil
}

// runHeadWatcher feeds confirmed block numbers into the scheduler's head
// loop (spec §4.H). Grounded on pkg/poolevents.Listener.Run's own
// subscribe/heartbeat/reconnect loop, narrowed to heads only.
func (e *Engine) runHeadWatcher(ctx context.Context) error {
	if e.headClient == nil {
		return nil
	}
	policy := chain.DefaultReconnectPolicy(e.clock)
	heartbeatTimeout := time.Duration(e.cfg.WsHeartbeatMs) * time.Millisecond
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		heads := make(chan *types.Header, 16)
		var sub ethereum.Subscription

		err := policy.Reconnect(ctx, e.log, func(ctx context.Context) error {
			var err error
			sub, err = e.headClient.SubscribeNewHead(ctx, heads)
			return err
		})
		if err != nil {
			e.sink.IncCounter(metrics.CounterReconnect, map[string]string{"outcome": "exhausted", "source": "head_watcher"})
			return err
		}

		hb := chain.NewHeartbeatMonitor(heartbeatTimeout, e.clock)
		disconnected := e.consumeHeads(ctx, heads, sub, hb)
		sub.Unsubscribe()
		if disconnected == nil {
			return nil
		}
		e.sink.IncCounter(metrics.CounterReconnect, map[string]string{"outcome": "retry", "source": "head_watcher"})
	}
}

func (e *Engine) consumeHeads(ctx context.Context, heads chan *types.Header, sub ethereum.Subscription, hb *chain.HeartbeatMonitor) error {
	watchDone := make(chan error, 1)
	go func() { watchDone <- hb.Watch(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchDone:
			return err
		case err := <-sub.Err():
			return err
		case head := <-heads:
			hb.Pulse()
			if head != nil {
				e.scheduler.NotifyHead(head.Number.Uint64())
			}
		}
	}
}

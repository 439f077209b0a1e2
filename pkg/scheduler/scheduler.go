package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/dirtyqueue"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/external"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/pricefeed"
	"github.com/onchainops/liquidator/pkg/riskset"
	"github.com/onchainops/liquidator/pkg/verifier"
)

// Verifier is the narrow surface the Scheduler needs from pkg/verifier,
// declared here so tests can substitute a fake without constructing a real
// rate-limited, chain-backed Verifier.
type Verifier interface {
	Verify(ctx context.Context, in verifier.Input) (verifier.BatchResult, error)
}

// Scheduler is the three-driver orchestrator of spec §4.H.
type Scheduler struct {
	cfg        Config
	verify     Verifier
	risk       *riskset.RiskSet
	dirty      *dirtyqueue.Queue
	priceFeed  *pricefeed.Listener
	poolEvents *poolevents.Listener
	borrowers  external.BorrowerIndex
	clock      util.Clock
	sink       metrics.MetricsSink
	log        *zap.Logger

	pager     *pageSizer
	coalescer *coalescer
	rot       *rotator

	mu                   sync.Mutex
	latestRequestedBlock uint64
	lastProcessedBlock   uint64
	headWake             chan struct{}

	eventSem chan struct{}
}

// New constructs a Scheduler. borrowers may be nil if no price-shock path
// is configured (the path then becomes a no-op logged once at startup).
func New(cfg Config, v Verifier, risk *riskset.RiskSet, dirty *dirtyqueue.Queue, priceFeed *pricefeed.Listener, poolEvents *poolevents.Listener, borrowers external.BorrowerIndex, clock util.Clock, sink metrics.MetricsSink, log *zap.Logger) *Scheduler {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	if borrowers == nil && log != nil {
		log.Info("scheduler: no borrower index configured, price-shock and reserve fast-lane scans are disabled")
	}
	initialPage := cfg.HeadCheckPageSize
	maxParallel := cfg.MaxParallelEventBatches
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if cfg.MaintenanceSampleSize <= 0 {
		cfg.MaintenanceSampleSize = 120
	}
	return &Scheduler{
		cfg:        cfg,
		verify:     v,
		risk:       risk,
		dirty:      dirty,
		priceFeed:  priceFeed,
		poolEvents: poolEvents,
		borrowers:  borrowers,
		clock:      clock,
		sink:       sink,
		log:        log,
		pager:      newPageSizer(initialPage, cfg.HeadPageMin, cfg.HeadPageMax, float64(cfg.HeadPageTargetMs.Milliseconds())),
		coalescer:  newCoalescer(cfg.EventBatchCoalesceMs, cfg.EventBatchMaxPerBlock),
		rot:        newRotator(),
		headWake:   make(chan struct{}, 1),
		eventSem:   make(chan struct{}, maxParallel),
	}
}

// NotifyHead records a new confirmed head and wakes the head loop. Blocks
// skipped between two NotifyHead calls are only ever logged, never
// individually processed (spec §4.H "Head loop").
func (s *Scheduler) NotifyHead(block uint64) {
	s.mu.Lock()
	if block > s.latestRequestedBlock {
		s.latestRequestedBlock = block
	}
	s.mu.Unlock()
	select {
	case s.headWake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) claimBlock() (block uint64, skipped uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestRequestedBlock <= s.lastProcessedBlock {
		return 0, 0, false
	}
	block = s.latestRequestedBlock
	if s.lastProcessedBlock > 0 && block > s.lastProcessedBlock+1 {
		skipped = block - s.lastProcessedBlock - 1
	}
	s.lastProcessedBlock = block
	return block, skipped, true
}

// requeueBlock returns an aborted block to the pending slot so the next
// head-loop iteration retries it (spec §4.H run watchdog).
func (s *Scheduler) requeueBlock(block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastProcessedBlock == block {
		s.lastProcessedBlock = block - 1
	}
	if s.latestRequestedBlock < block {
		s.latestRequestedBlock = block
	}
}

// RunHeadLoop is the single consumer task of spec §4.H's head loop: while a
// request exists, it claims the newest block, runs one head pass guarded by
// the run watchdog, then re-checks for a newer request before sleeping.
func (s *Scheduler) RunHeadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.headWake:
		}
		for {
			block, skipped, ok := s.claimBlock()
			if !ok {
				break
			}
			if skipped > 0 {
				s.log.Info("scheduler: head loop skipped blocks", zap.Uint64("skipped", skipped), zap.Uint64("block", block))
			}
			s.runHeadPassGuarded(ctx, block)
		}
	}
}

// runHeadPassGuarded wraps runHeadPass with the run watchdog: an overall
// deadline of runStallAbortMs, past which the block is requeued and the
// scan lock (held inside Verifier.Verify via scanregistry) is released by
// virtue of ctx cancellation propagating into the in-flight call.
func (s *Scheduler) runHeadPassGuarded(ctx context.Context, block uint64) {
	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RunStallAbortMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunStallAbortMs)
		defer cancel()
	}

	started := s.clock.Now()
	err := s.runHeadPass(runCtx, block)
	elapsed := s.clock.Now().Sub(started)
	timedOut := errors.Is(err, context.DeadlineExceeded)

	s.pager.Record(float64(elapsed.Milliseconds()), timedOut)
	s.sink.SetGauge(metrics.GaugeHeadPageSize, nil, float64(s.pager.PageSize()))
	s.sink.ObserveLatency(metrics.LatencyHeadRun, map[string]string{"trigger": "head"}, elapsed.Seconds())

	if timedOut {
		s.log.Warn("scheduler: head pass aborted by watchdog", zap.Uint64("block", block))
		s.requeueBlock(block)
	} else if err != nil {
		s.log.Warn("scheduler: head pass error", zap.Uint64("block", block), zap.Error(err))
	}
}

// runHeadPass implements the hotset-first prioritization and invokes the
// Verifier on the resulting plan (spec §4.H).
func (s *Scheduler) runHeadPass(ctx context.Context, block uint64) error {
	hotUsers := s.risk.BelowThreshold(s.cfg.AlwaysIncludeHfBelow, s.cfg.MinDebtUsd1e18)
	hotset := make([]HotUser, len(hotUsers))
	hot := make(map[domain.Address]bool, len(hotUsers))
	for i, u := range hotUsers {
		hotset[i] = HotUser{Address: u.Address, HF: u.HealthFactor}
		hot[u.Address] = true
	}

	all := s.risk.IterAll()
	coldSet := make([]domain.Address, 0, len(all))
	for _, u := range all {
		if !hot[u.Address] {
			coldSet = append(coldSet, u.Address)
		}
	}

	dirtyUsers := make([]domain.Address, 0)
	for _, d := range s.dirty.DrainUsers(0) {
		if _, known := s.risk.Get(d); known {
			dirtyUsers = append(dirtyUsers, d)
		}
	}

	planCfg := s.cfg
	if size := s.pager.PageSize(); size > 0 {
		planCfg.HeadCheckPageSize = size
	}
	plan := BuildHeadPassPlan(planCfg, hotset, coldSet, dirtyUsers, s.rot)
	if len(plan.Users) == 0 {
		return nil
	}

	// Each head-pass phase gets its own dedup key (spec §4.G step 1 keys
	// on Trigger+SymbolOrReserve+Block): all three phases share a Trigger
	// and Block, so leaving SymbolOrReserve empty would fold them onto one
	// registry entry and the main verify's Release would immediately
	// suppress the follow-up micro-verify as "completed within window".
	if len(plan.MicroVerify) > 0 {
		if _, err := s.verify.Verify(ctx, verifier.Input{
			Users: plan.MicroVerify, Trigger: domain.TriggerHead, SymbolOrReserve: "head-start",
			BlockTag: domain.PendingBlockTag(), Block: block,
		}); err != nil {
			s.log.Debug("scheduler: head-start micro-verify failed", zap.Error(err))
		}
	}

	result, err := s.verify.Verify(ctx, verifier.Input{
		Users: plan.Users, Trigger: domain.TriggerHead, SymbolOrReserve: "head-main",
		BlockTag: domain.LatestBlockTag(), Block: block,
	})
	if err != nil {
		return err
	}
	if len(result.Actionables) > 0 {
		s.log.Debug("scheduler: head pass produced actionables",
			zap.String("correlation_id", result.CorrelationID), zap.Int("count", len(result.Actionables)))
	}

	if len(result.MicroVerifyCandidates) > 0 {
		if _, err := s.verify.Verify(ctx, verifier.Input{
			Users: result.MicroVerifyCandidates, Trigger: domain.TriggerHead, SymbolOrReserve: "head-followup",
			BlockTag: domain.PendingBlockTag(), Block: block,
		}); err != nil {
			s.log.Debug("scheduler: follow-up micro-verify failed", zap.Error(err))
		}
	}
	return nil
}

// isWatched reports whether a user is currently in the hot/low-HF set
// (spec §4.H "Watched fast-path": "membership provided by the hot-set/
// low-HF tracker").
func (s *Scheduler) isWatched(user domain.Address) bool {
	u, ok := s.risk.Get(user)
	if !ok {
		return false
	}
	return u.HealthFactor < s.cfg.AlwaysIncludeHfBelow
}

// RunEventLoop consumes PoolEventListener updates: reserve-data-updated
// events take the fast-lane (spec §4.H), watched users bypass coalescing,
// everything else folds into the debounce coalescer which this loop also
// polls on a short tick.
func (s *Scheduler) RunEventLoop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-s.poolEvents.Updates():
			if !ok {
				return nil
			}
			s.handleUpdate(ctx, u)
		case <-ticker.C:
			s.drainCoalescer(ctx)
		}
	}
}

func (s *Scheduler) handleUpdate(ctx context.Context, u poolevents.Update) {
	if u.ReserveAffected != nil {
		s.runReserveFastLane(ctx, *u.ReserveAffected, u.Block)
		return
	}
	now := s.clock.Now()
	for _, user := range u.UsersAffected {
		if s.isWatched(user) {
			s.runSingleUserVerify(ctx, user, u.Block)
			continue
		}
		s.coalescer.Add(now, u.Block, user, user)
	}
}

func (s *Scheduler) runSingleUserVerify(ctx context.Context, user domain.Address, block uint64) {
	// SymbolOrReserve carries the user so two distinct watched users in the
	// same block don't collide on one dedup key and silently drop all but
	// the first (spec §4.H watched fast-path must check every member).
	if _, err := s.verify.Verify(ctx, verifier.Input{
		Users: []domain.Address{user}, Trigger: domain.TriggerEvent, SymbolOrReserve: user.String(), Block: block,
	}); err != nil {
		s.log.Debug("scheduler: watched fast-path verify failed", zap.Error(err))
	}
}

// runReserveFastLane implements the Reserve-data-updated fast-lane: it
// bypasses coalescing entirely and re-checks the reserve's borrower set
// immediately, capped and near-band-filtered the same way as the
// price-shock path.
func (s *Scheduler) runReserveFastLane(ctx context.Context, reserve domain.Address, block uint64) {
	if s.borrowers == nil {
		return
	}
	borrowers, err := s.borrowers.GetBorrowers(ctx, reserve)
	if err != nil {
		s.log.Debug("scheduler: reserve fast-lane borrower fetch failed", zap.Error(err))
		return
	}
	users := s.filterNearBand(borrowers)
	if len(users) == 0 {
		return
	}
	if _, err := s.verify.Verify(ctx, verifier.Input{
		Users: users, Trigger: domain.TriggerReserve, SymbolOrReserve: reserve.String(),
		BlockTag: domain.PendingBlockTag(), Block: block,
	}); err != nil {
		s.log.Debug("scheduler: reserve fast-lane verify failed", zap.Error(err))
	}
}

func (s *Scheduler) filterNearBand(borrowers []domain.Address) []domain.Address {
	lower := s.cfg.ExecutionThreshold - 0.02
	if lower < 0 {
		lower = 0
	}
	upper := s.cfg.ExecutionThreshold + float64(s.cfg.NearBandBps)/10000

	out := make([]domain.Address, 0, len(borrowers))
	for _, b := range borrowers {
		u, ok := s.risk.Get(b)
		if !ok || (u.HealthFactor >= lower && u.HealthFactor <= upper) {
			out = append(out, b)
		}
	}
	if s.cfg.PriceTriggerMaxScan > 0 && len(out) > s.cfg.PriceTriggerMaxScan {
		out = out[:s.cfg.PriceTriggerMaxScan]
	}
	return out
}

// drainCoalescer fires every debounce-elapsed accumulator, bounded by the
// per-block cap already enforced inside coalescer.Ready, running each
// batch's Verify call under the parallel-batch semaphore.
func (s *Scheduler) drainCoalescer(ctx context.Context) {
	batches, dropped := s.coalescer.Ready(s.clock.Now())
	if dropped > 0 {
		s.sink.IncCounter(metrics.CounterBatchesSkipped, map[string]string{"reason": "per_block_cap"})
	}
	for _, b := range batches {
		b := b
		select {
		case s.eventSem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-s.eventSem }()
			// SymbolOrReserve carries the batch's coalesce key so distinct
			// batches in the same block each get their own dedup entry
			// instead of the second batch finding the first's key already
			// released and being suppressed as a duplicate.
			if _, err := s.verify.Verify(ctx, verifier.Input{
				Users: b.Users, Trigger: domain.TriggerEvent, SymbolOrReserve: b.Key.String(), Block: b.Block,
			}); err != nil {
				s.log.Debug("scheduler: coalesced batch verify failed", zap.Error(err))
			}
		}()
	}
}

// RunPriceShockLoop consumes sharp-drop signals from the PriceFeedListener
// and runs the price-shock path of spec §4.H.
func (s *Scheduler) RunPriceShockLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-s.priceFeed.Signals():
			if !ok {
				return nil
			}
			go s.runPriceShock(ctx, sig)
		}
	}
}

func (s *Scheduler) runPriceShock(ctx context.Context, sig pricefeed.SharpDropSignal) {
	defer s.priceFeed.Release(sig.Symbol)

	select {
	case <-s.clock.After(sig.Delay):
	case <-ctx.Done():
		return
	}

	if s.borrowers == nil {
		return
	}
	started := s.clock.Now()
	borrowers, err := s.borrowers.GetBorrowers(ctx, sig.Reserve)
	if err != nil {
		s.log.Debug("scheduler: price-shock borrower fetch failed", zap.String("symbol", sig.Symbol), zap.Error(err))
		return
	}
	users := s.filterNearBand(borrowers)
	if len(users) == 0 {
		return
	}

	_, err = s.verify.Verify(ctx, verifier.Input{
		Users: users, Trigger: domain.TriggerPrice, SymbolOrReserve: sig.Symbol,
		BlockTag: domain.PendingBlockTag(), Block: sig.Block,
	})
	if err != nil {
		s.log.Debug("scheduler: price-shock verify failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
	s.sink.ObserveLatency(metrics.LatencyEmergencyScan, map[string]string{"symbol": sig.Symbol}, s.clock.Now().Sub(started).Seconds())
}

package pricefeed

import (
	"math/big"
	"sync"
	"time"

	"github.com/onchainops/liquidator/internal/util"
)

// feedState is the per-symbol sharp-drop bookkeeping (spec §4.E).
type feedState struct {
	lastAnswer    *big.Int
	baseline      *big.Int
	lastScanAt    time.Time
	lastScanBlock uint64
	inFlight      bool
}

// dropDetector implements the sharp-drop decision independent of any RPC
// transport, so it can be driven directly in tests (spec §9: edge-trigger
// style state machines should be testable bypassing RPC).
type dropDetector struct {
	mu                sync.Mutex
	clock             util.Clock
	globalMinInterval time.Duration
	lastGlobalScan    time.Time
	states            map[string]*feedState
}

func newDropDetector(clock util.Clock, globalMinInterval time.Duration) *dropDetector {
	return &dropDetector{
		clock:             clock,
		globalMinInterval: globalMinInterval,
		states:            make(map[string]*feedState),
	}
}

// changeBps computes basis-point change of newAnswer relative to reference:
// negative means a price drop.
func changeBps(reference, newAnswer *big.Int) int64 {
	if reference == nil || reference.Sign() == 0 {
		return 0
	}
	delta := new(big.Int).Sub(newAnswer, reference)
	delta.Mul(delta, big.NewInt(10000))
	delta.Quo(delta, reference)
	return delta.Int64()
}

// Evaluate folds a fresh answer into a symbol's sharp-drop state and
// reports the computed change and whether an emergency scan should fire,
// applying debounce, in-flight, per-block dedupe, and global min-interval
// gating in that order (spec §4.E).
func (d *dropDetector) Evaluate(symbol string, answer *big.Int, fc FeedConfig, block uint64) (changeBpsOut int64, trigger bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, known := d.states[symbol]
	if !known {
		state = &feedState{lastAnswer: answer, baseline: answer}
		d.states[symbol] = state
		return 0, false
	}

	reference := state.lastAnswer
	if fc.CumulativeMode {
		reference = state.baseline
	}
	cb := changeBps(reference, answer)
	state.lastAnswer = answer

	candidate := cb <= -fc.ThresholdBps
	if !candidate {
		return cb, false
	}

	now := d.clock.Now()
	debounce := time.Duration(fc.DebounceSec) * time.Second
	if !state.lastScanAt.IsZero() && now.Sub(state.lastScanAt) < debounce {
		return cb, false
	}
	if state.inFlight {
		return cb, false
	}
	if state.lastScanBlock == block {
		return cb, false
	}
	if !d.lastGlobalScan.IsZero() && now.Sub(d.lastGlobalScan) < d.globalMinInterval {
		return cb, false
	}

	state.inFlight = true
	state.lastScanAt = now
	state.lastScanBlock = block
	d.lastGlobalScan = now
	if fc.CumulativeMode {
		state.baseline = answer
	}
	return cb, true
}

// Release clears the in-flight flag once the scheduled emergency scan has
// completed (success or error), allowing a subsequent drop to trigger
// again.
func (d *dropDetector) Release(symbol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.states[symbol]; ok {
		s.inFlight = false
	}
}

// Seed installs an initial reference answer without evaluating a trigger,
// for startup seeding (spec §4.E: "on subscribe, fetch decimals and seed
// latest price").
func (d *dropDetector) Seed(symbol string, answer *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.states[symbol]; !known {
		d.states[symbol] = &feedState{lastAnswer: answer, baseline: answer}
	}
}

package poolevents

import (
	"math/big"
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// reserveIndices is the pair of growth indices a ReserveDataUpdated event
// carries (spec §4.F).
type reserveIndices struct {
	liquidityIndex      *big.Int
	variableBorrowIndex *big.Int
}

// indexTracker decides whether a ReserveDataUpdated event moved the indices
// enough to warrant a sweep, independent of any RPC transport so it stays
// directly testable (spec §9's testable-state-machine pattern, already used
// by the edge tracker and the sharp-drop detector).
//
// A suppressed event leaves the stored baseline untouched, so a run of
// small index bumps still accumulates toward the threshold instead of
// resetting on every observation.
type indexTracker struct {
	mu          sync.Mutex
	minDeltaBps int64
	last        map[domain.Address]reserveIndices
}

func newIndexTracker(minDeltaBps int64) *indexTracker {
	return &indexTracker{minDeltaBps: minDeltaBps, last: make(map[domain.Address]reserveIndices)}
}

// deltaBps returns the absolute basis-point change of cur relative to prev.
func deltaBps(prev, cur *big.Int) int64 {
	if prev == nil || prev.Sign() == 0 {
		return 0
	}
	delta := new(big.Int).Sub(cur, prev)
	delta.Abs(delta)
	delta.Mul(delta, big.NewInt(10000))
	delta.Quo(delta, prev)
	return delta.Int64()
}

// Observe folds a fresh (liquidityIndex, variableBorrowIndex) pair into the
// reserve's tracked baseline, reporting whether the sweep this event would
// otherwise trigger should be suppressed.
func (t *indexTracker) Observe(reserve domain.Address, liquidityIndex, variableBorrowIndex *big.Int) (suppress bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, known := t.last[reserve]
	if !known {
		t.last[reserve] = reserveIndices{liquidityIndex: liquidityIndex, variableBorrowIndex: variableBorrowIndex}
		return false
	}

	liquidityDelta := deltaBps(prev.liquidityIndex, liquidityIndex)
	borrowDelta := deltaBps(prev.variableBorrowIndex, variableBorrowIndex)
	if liquidityDelta < t.minDeltaBps && borrowDelta < t.minDeltaBps {
		return true
	}

	t.last[reserve] = reserveIndices{liquidityIndex: liquidityIndex, variableBorrowIndex: variableBorrowIndex}
	return false
}

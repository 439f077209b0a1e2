package verifier

import (
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// edgeTracker implements the per-user edge-trigger state machine (spec
// §4.G step 6, §9 design note: "implement as an explicit per-user enum
// with transition guards"). It is the sole owner of when an Actionable
// emission is allowed, enforcing invariants #2 (at most once per block)
// and #3 (hysteresis) independent of RPC behavior so it can be driven
// directly in tests.
type edgeTracker struct {
	mu        sync.Mutex
	entries   map[domain.Address]domain.EdgeTriggerEntry
	emittedAt map[domain.Address]uint64 // last block an emission fired for this user
}

func newEdgeTracker() *edgeTracker {
	return &edgeTracker{
		entries:   make(map[domain.Address]domain.EdgeTriggerEntry),
		emittedAt: make(map[domain.Address]uint64),
	}
}

// Observe feeds a fresh HF reading for a user at a block and reports
// whether an Actionable should fire, and why. belowThreshold is whether hf
// is below the execution threshold (strict <, per spec §8 boundary rule);
// hysteresisBps gates re-emission while already Liq.
func (t *edgeTracker) Observe(user domain.Address, hf float64, block uint64, belowThreshold bool, hysteresisBps int64) (domain.ActionableReason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, known := t.entries[user]
	if !known {
		entry = domain.EdgeTriggerEntry{State: domain.EdgeSafe}
	}

	if !belowThreshold {
		t.entries[user] = domain.EdgeTriggerEntry{State: domain.EdgeSafe, LastHF: hf, LastBlock: block}
		return "", false
	}

	// Invariant #2: at most one emission per (user, block), regardless of
	// trigger source.
	if last, ok := t.emittedAt[user]; ok && last == block {
		t.entries[user] = domain.EdgeTriggerEntry{State: domain.EdgeLiq, LastHF: hf, LastBlock: block}
		return "", false
	}

	var reason domain.ActionableReason
	var emit bool

	switch entry.State {
	case domain.EdgeSafe:
		reason, emit = domain.ReasonSafeToLiq, true
	case domain.EdgeLiq:
		if entry.LastHF > 0 {
			worsenedFrac := (entry.LastHF - hf) / entry.LastHF
			if worsenedFrac >= float64(hysteresisBps)/10000 {
				reason, emit = domain.ReasonWorsened, true
			}
		}
	}

	t.entries[user] = domain.EdgeTriggerEntry{State: domain.EdgeLiq, LastHF: hf, LastBlock: block}
	if emit {
		t.emittedAt[user] = block
	}
	return reason, emit
}

// State returns the current tracked state for a user, for tests/metrics.
func (t *edgeTracker) State(user domain.Address) (domain.EdgeTriggerEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[user]
	return e, ok
}

// Package scanregistry implements the scan dedup registry (spec §4.G step
// 1 / §4.H / §8 invariant): a concurrent map from dedup key
// (trigger, symbolOrReserve, block) to lock state, Held while a verification
// scan is in flight and CompletedAt(ts) for a TTL window afterward. Shared
// by the Verifier and the Scheduler so a head scan and a price-triggered
// scan for the same key never run concurrently, and a just-finished scan
// isn't immediately repeated.
package scanregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/domain"
)

// Key composes as a tuple, not a string concatenation (spec §9 design
// note), so block numbers and reserve addresses can never collide across
// fields.
type Key struct {
	Trigger         domain.TriggerKind
	SymbolOrReserve string
	Block           int64
}

type state int

const (
	stateHeld state = iota
	stateCompleted
)

type entry struct {
	state       state
	completedAt time.Time
	// id correlates every log line touching one scan — from acquire,
	// through the Verifier's batch, to the resulting attempt — across a
	// held scan and the suppressed duplicates that reference it.
	id string
}

// Registry is the concurrent-safe scan dedup lock.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]entry
	ttl     time.Duration
	clock   util.Clock
}

// New builds a Registry whose completed-scan entries are treated as fresh
// (and therefore dedup-suppressing) for ttl after release.
func New(ttl time.Duration, clock util.Clock) *Registry {
	return &Registry{
		entries: make(map[Key]entry),
		ttl:     ttl,
		clock:   clock,
	}
}

// TryAcquire returns false if the key is currently Held, or was completed
// within the dedup window; otherwise it marks the key Held and returns
// true. The returned id correlates this scan (or, on a rejection, the scan
// that owns the key) across log lines; callers thread it through the
// resulting Actionables/AttemptRecords.
func (r *Registry) TryAcquire(key Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		switch e.state {
		case stateHeld:
			return e.id, false
		case stateCompleted:
			if r.clock.Now().Sub(e.completedAt) < r.ttl {
				return e.id, false
			}
		}
	}
	id := uuid.New().String()
	r.entries[key] = entry{state: stateHeld, id: id}
	return id, true
}

// Release marks a key completed now, regardless of outcome (success or
// error both start the dedup-window clock per spec §4.G).
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = entry{state: stateCompleted, completedAt: r.clock.Now(), id: r.entries[key].id}
}

// Len reports the number of tracked keys, for metrics/tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops completed entries older than the dedup window so the map
// doesn't grow unbounded across a long-running process.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for k, e := range r.entries {
		if e.state == stateCompleted && now.Sub(e.completedAt) >= r.ttl {
			delete(r.entries, k)
		}
	}
}

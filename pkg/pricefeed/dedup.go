package pricefeed

import (
	"sync"
	"time"

	"github.com/onchainops/liquidator/internal/util"
)

// roundDedup suppresses reprocessing the same (round_id, feed) pair within
// the configured window (spec §4.E: "Dedupe by (round_id, feed_addr) for
// 10 minutes").
type roundDedup struct {
	mu     sync.Mutex
	window time.Duration
	clock  util.Clock
	seen   map[string]time.Time
}

func newRoundDedup(window time.Duration, clock util.Clock) *roundDedup {
	return &roundDedup{window: window, clock: clock, seen: make(map[string]time.Time)}
}

// Seen records the key if not already present within the window, returning
// true if this call is a duplicate that should be skipped.
func (r *roundDedup) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if last, ok := r.seen[key]; ok && now.Sub(last) < r.window {
		return true
	}
	r.seen[key] = now
	return false
}

// Sweep drops expired entries so the map doesn't grow unbounded.
func (r *roundDedup) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for k, t := range r.seen {
		if now.Sub(t) >= r.window {
			delete(r.seen, k)
		}
	}
}

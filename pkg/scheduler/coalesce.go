package scheduler

import (
	"sync"
	"time"

	"github.com/onchainops/liquidator/pkg/domain"
)

// coalesceKey identifies one debounce accumulator: a block number paired
// with the reserve-or-user key the event touched (spec §4.H "Event
// coalescing"). Reserve-data-updated events never reach the coalescer —
// they take the fast-lane the caller applies before calling Add.
type coalesceKey struct {
	block uint64
	key   domain.Address
}

type pendingBatch struct {
	users    map[domain.Address]struct{}
	deadline time.Time
}

// ReadyBatch is one coalesced accumulator whose debounce window elapsed
// (spec §4.H step "each new event resets the timer").
type ReadyBatch struct {
	Block uint64
	Key   domain.Address
	Users []domain.Address
}

// coalescer accumulates per-(block, key) user sets behind a debounce timer
// that each new event resets, and enforces a per-block cap on how many
// accumulators may ultimately fire. It is driven by an explicit Ready(now)
// poll rather than real timers, so it stays directly testable (spec §9
// design note) — the Scheduler's event loop polls it on a short tick.
type coalescer struct {
	mu          sync.Mutex
	debounce    time.Duration
	maxPerBlock int

	pending     map[coalesceKey]*pendingBatch
	firedPerBlock map[uint64]int
}

func newCoalescer(debounce time.Duration, maxPerBlock int) *coalescer {
	return &coalescer{
		debounce:      debounce,
		maxPerBlock:   maxPerBlock,
		pending:       make(map[coalesceKey]*pendingBatch),
		firedPerBlock: make(map[uint64]int),
	}
}

// Add folds one user-touching event into the (block, key) accumulator,
// resetting its debounce deadline relative to now.
func (c *coalescer) Add(now time.Time, block uint64, key domain.Address, user domain.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := coalesceKey{block: block, key: key}
	b, ok := c.pending[ck]
	if !ok {
		b = &pendingBatch{users: make(map[domain.Address]struct{})}
		c.pending[ck] = b
	}
	b.users[user] = struct{}{}
	b.deadline = now.Add(c.debounce)
}

// Ready drains and returns every accumulator whose debounce deadline has
// elapsed as of now. At most maxPerBlock batches are returned per block;
// the rest are dropped and counted in droppedOverCap for the
// batches_skipped metric.
func (c *coalescer) Ready(now time.Time) (batches []ReadyBatch, droppedOverCap int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ck, b := range c.pending {
		if now.Before(b.deadline) {
			continue
		}
		delete(c.pending, ck)

		if c.maxPerBlock > 0 && c.firedPerBlock[ck.block] >= c.maxPerBlock {
			droppedOverCap++
			continue
		}
		c.firedPerBlock[ck.block]++

		users := make([]domain.Address, 0, len(b.users))
		for u := range b.users {
			users = append(users, u)
		}
		batches = append(batches, ReadyBatch{Block: ck.block, Key: ck.key, Users: users})
	}
	return batches, droppedOverCap
}

// ForgetBlock releases the per-block fired-count bookkeeping once a block
// is old enough that no further events for it will arrive.
func (c *coalescer) ForgetBlock(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.firedPerBlock, block)
}

// Package dirtyqueue implements the coalesced dirty-set (spec §4.D):
// inserting an existing element is a no-op, draining is atomic and empties
// the set. Set membership is the only state — no per-entry count.
package dirtyqueue

import (
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// Queue holds two independent coalesced sets: touched users and touched
// reserves.
type Queue struct {
	mu       sync.Mutex
	users    map[domain.Address]struct{}
	reserves map[domain.Address]struct{}
}

func New() *Queue {
	return &Queue{
		users:    make(map[domain.Address]struct{}),
		reserves: make(map[domain.Address]struct{}),
	}
}

// TouchUser marks a user dirty; a no-op if already marked.
func (q *Queue) TouchUser(addr domain.Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users[addr] = struct{}{}
}

// TouchReserve marks a reserve dirty; a no-op if already marked.
func (q *Queue) TouchReserve(addr domain.Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reserves[addr] = struct{}{}
}

// DrainUsers atomically removes and returns up to `limit` dirty users (0 or
// negative means unbounded).
func (q *Queue) DrainUsers(limit int) []domain.Address {
	q.mu.Lock()
	defer q.mu.Unlock()
	return drainLocked(q.users, limit)
}

// DrainReserves atomically removes and returns up to `limit` dirty
// reserves.
func (q *Queue) DrainReserves(limit int) []domain.Address {
	q.mu.Lock()
	defer q.mu.Unlock()
	return drainLocked(q.reserves, limit)
}

func drainLocked(set map[domain.Address]struct{}, limit int) []domain.Address {
	if limit <= 0 || limit >= len(set) {
		out := make([]domain.Address, 0, len(set))
		for a := range set {
			out = append(out, a)
			delete(set, a)
		}
		return out
	}
	out := make([]domain.Address, 0, limit)
	for a := range set {
		if len(out) >= limit {
			break
		}
		out = append(out, a)
		delete(set, a)
	}
	return out
}

// PendingUsers reports the current dirty-user count without draining.
func (q *Queue) PendingUsers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.users)
}

// PendingReserves reports the current dirty-reserve count without
// draining.
func (q *Queue) PendingReserves() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reserves)
}

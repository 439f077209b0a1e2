// Package riskset implements the authoritative user -> {HF, debtUsd} map
// (spec §4.C). It is not a sorted container: watched subsets are produced
// by filter + sort on demand (spec). Writes are atomic per entry; readers
// may observe any committed state under concurrent writers.
package riskset

import (
	"math/big"
	"sort"
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// RiskSet is a concurrent-safe map of User entries.
type RiskSet struct {
	mu    sync.RWMutex
	users map[domain.Address]*domain.User
}

func New() *RiskSet {
	return &RiskSet{users: make(map[domain.Address]*domain.User)}
}

// Upsert inserts a user if absent; a no-op if already present (HF is
// mutated only via UpdateHF, per spec §3 lifecycle: "HF mutated by
// Verifier only").
func (r *RiskSet) Upsert(addr domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[addr]; !ok {
		r.users[addr] = &domain.User{Address: addr, HealthFactor: domain.NoDebtHF}
	}
}

// UpdateHF mutates a user's HF/debt/collateral/history in one atomic step.
// Auto-inserts the user if unseen, mirroring spec §3's "inserted on
// discovery" lifecycle note for a Verifier result arriving ahead of any
// prior Upsert.
func (r *RiskSet) UpdateHF(addr domain.Address, hf float64, debtUsd1e18, collateralUsd1e18 *big.Int, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[addr]
	if !ok {
		u = &domain.User{Address: addr}
		r.users[addr] = u
	}
	u.HealthFactor = hf
	u.LastDebtUsd1e18 = debtUsd1e18
	u.LastCollateralUsd1e18 = collateralUsd1e18
	u.LastObservedBlock = block
	u.PushHistory(hf, block)
}

// Get returns a copy of the user's current state, or false if unknown.
func (r *RiskSet) Get(addr domain.Address) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[addr]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}

// IterAll returns a snapshot slice of every user (copy-out, cheap to clone
// per spec §9's "inexpensively cloned" guidance).
func (r *RiskSet) IterAll() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out
}

// BelowThreshold returns every user with HF < threshold and debt >=
// minDebtUsd1e18, sorted ascending by HF (spec §4.C / §4.H hotset
// ordering).
func (r *RiskSet) BelowThreshold(threshold float64, minDebtUsd1e18 *big.Int) []domain.User {
	all := r.IterAll()
	out := make([]domain.User, 0, len(all))
	for _, u := range all {
		if u.HealthFactor >= threshold {
			continue
		}
		if u.LastDebtUsd1e18 == nil || u.LastDebtUsd1e18.Cmp(minDebtUsd1e18) < 0 {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HealthFactor < out[j].HealthFactor })
	return out
}

// LowestHF returns the user with the lowest HF, or false if the set is
// empty.
func (r *RiskSet) LowestHF() (domain.User, bool) {
	all := r.IterAll()
	if len(all) == 0 {
		return domain.User{}, false
	}
	best := all[0]
	for _, u := range all[1:] {
		if u.HealthFactor < best.HealthFactor {
			best = u
		}
	}
	return best, true
}

// Len reports the number of tracked users.
func (r *RiskSet) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

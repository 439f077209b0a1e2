package scheduler

import (
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// HotUser is one hotset candidate, pre-sorted ascending by HF by the caller
// (riskset.BelowThreshold already returns that order).
type HotUser struct {
	Address domain.Address
	HF      float64
}

// HeadPassPlan is the de-duplicated, priority-ordered user list for one
// head pass (spec §4.H "Prioritization for a head pass").
type HeadPassPlan struct {
	Users       []domain.Address
	MicroVerify []domain.Address // subset of Users in [threshold, threshold+band]
}

// headStartCap returns the effective head-start slice size: 300, capped at
// the operator's headCriticalBatchSize when that is smaller.
func headStartCap(cfg Config) int {
	cap := 300
	if cfg.HeadCriticalBatchSize > 0 && cfg.HeadCriticalBatchSize < cap {
		cap = cfg.HeadCriticalBatchSize
	}
	return cap
}

// rotator hands out successive fixed-size pages over a caller-supplied
// universe, wrapping around, so the cold set's maintenance sample sweeps
// the whole universe over repeated calls (spec §4.H "rotating over the
// cold set").
type rotator struct {
	mu     sync.Mutex
	offset int
}

func newRotator() *rotator { return &rotator{} }

func (r *rotator) Next(universe []domain.Address, size int) []domain.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(universe) == 0 || size <= 0 {
		return nil
	}
	n := len(universe)
	if size > n {
		size = n
	}
	out := make([]domain.Address, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, universe[(r.offset+i)%n])
	}
	r.offset = (r.offset + size) % n
	return out
}

// BuildHeadPassPlan implements spec §4.H's five-step hotset-first
// prioritization. hotset must already be HF-ascending. dirtyUsers must
// already be filtered to the tracked universe by the caller ("intersected
// with the universe"). coldSet is the maintenance-rotation universe
// (typically all tracked users not in hotset).
func BuildHeadPassPlan(cfg Config, hotset []HotUser, coldSet []domain.Address, dirtyUsers []domain.Address, rot *rotator) HeadPassPlan {
	cap := headStartCap(cfg)
	headStart := hotset
	var remaining []HotUser
	if len(headStart) > cap {
		remaining = headStart[cap:]
		headStart = headStart[:cap]
	}

	band := float64(cfg.NearBandBps) / 10000

	seen := make(map[domain.Address]bool)
	var ordered []domain.Address
	var micro []domain.Address
	add := func(a domain.Address) {
		if seen[a] {
			return
		}
		seen[a] = true
		ordered = append(ordered, a)
	}

	for _, h := range headStart {
		add(h.Address)
		if h.HF >= cfg.ExecutionThreshold && h.HF <= cfg.ExecutionThreshold+band {
			micro = append(micro, h.Address)
		}
	}
	for _, h := range remaining {
		add(h.Address)
	}
	for _, d := range dirtyUsers {
		add(d)
	}

	maintenanceSize := cfg.MaintenanceSampleSize
	if len(hotset) == 0 {
		maintenanceSize = cfg.HeadCheckPageSize
	}
	for _, m := range rot.Next(coldSet, maintenanceSize) {
		add(m)
	}

	return HeadPassPlan{Users: ordered, MicroVerify: micro}
}

package verifier

import (
	"math"
	"strings"
	"sync"
)

// adaptiveChunking holds the mutable sub-batch sizing and pending-block
// poll-interval state described in spec §4.G step 4: on repeated
// rate-limiting, shrink the chunk and widen the poll interval; on success
// streaks, restore both stepwise.
type adaptiveChunking struct {
	mu sync.Mutex

	configured     int // the operator-configured MULTICALL_BATCH_SIZE ceiling
	minChunkSize   int
	current        int
	pollMultiplier float64 // 1.0 .. 4.0, multiplies the base pending-block poll interval

	successStreak int
}

const growStreakThreshold = 5

func newAdaptiveChunking(configured, minChunkSize int) *adaptiveChunking {
	if minChunkSize <= 0 {
		minChunkSize = 50
	}
	return &adaptiveChunking{
		configured:     configured,
		minChunkSize:   minChunkSize,
		current:        configured,
		pollMultiplier: 1.0,
	}
}

func (a *adaptiveChunking) ChunkSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *adaptiveChunking) PollIntervalMultiplier() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pollMultiplier
}

// OnRateLimited shrinks the chunk size to max(minChunkSize, floor(current *
// 0.67)) and doubles the poll-interval multiplier, capped at 4x.
func (a *adaptiveChunking) OnRateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successStreak = 0
	shrunk := int(math.Floor(float64(a.current) * 0.67))
	if shrunk < a.minChunkSize {
		shrunk = a.minChunkSize
	}
	a.current = shrunk
	a.pollMultiplier = math.Min(4.0, a.pollMultiplier*2)
}

// OnSuccess records a clean chunk completion; after growStreakThreshold
// consecutive successes it restores chunk size and poll interval one step
// toward the configured ceiling / baseline.
func (a *adaptiveChunking) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successStreak++
	if a.successStreak < growStreakThreshold {
		return
	}
	a.successStreak = 0
	grown := int(math.Ceil(float64(a.current) * 1.15))
	if grown > a.configured {
		grown = a.configured
	}
	a.current = grown
	a.pollMultiplier = math.Max(1.0, a.pollMultiplier/2)
}

// isRateLimitErr classifies a transport error as rate-limiting (spec §4.G
// step 4 / §7: "timeout, rate-limit, 429, -32005"). Matched by substring
// since go-ethereum's rpc.Client surfaces provider-specific error text
// rather than a single typed sentinel.
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate limit", "429", "-32005", "too many requests", "exceeded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isBlockTagUnsupportedErr classifies a provider error as "pending block
// tag not supported" (spec §4.G block-tag semantics).
func isBlockTagUnsupportedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not supported") || strings.Contains(msg, "unsupported block")
}

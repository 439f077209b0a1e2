// Package scheduler implements the Scheduler (spec §4.H): the three-driver,
// one-serialized-engine orchestrator that turns head ticks, coalesced pool
// events, and price-shock signals into Verifier invocations, prioritizing
// the hot set first and adapting its own page size to observed latency.
package scheduler

import (
	"math/big"
	"time"
)

// Config bundles every operator-tunable knob spec §6's "Config surface"
// assigns to the Scheduler.
type Config struct {
	// Hotset-first prioritization (spec §4.H).
	HeadCriticalBatchSize int     // cap on the head-start slice, spec default 300
	AlwaysIncludeHfBelow  float64 // default 1.10
	MaintenanceSampleSize int     // fixed 120
	HeadCheckPageSize     int     // rotating page size when no hotset present
	MinDebtUsd1e18        *big.Int

	// Adaptive page sizing (spec §4.H).
	HeadPageTargetMs time.Duration
	HeadPageMin      int
	HeadPageMax      int

	// Run watchdog.
	RunStallAbortMs time.Duration

	// Event coalescing (spec §4.H).
	EventBatchCoalesceMs        time.Duration
	EventBatchMaxPerBlock       int
	MaxParallelEventBatches     int
	MaxParallelEventBatchesHigh int
	AdaptiveEventConcurrency    bool
	EventBacklogThreshold       int

	// Price-shock path (spec §4.H).
	PriceTriggerMaxScan int
	NearBandBps         int64
	ExecutionThreshold  float64 // threshold, strict <
}

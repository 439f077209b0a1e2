package scheduler

import "math"

// runSample is one head-pass outcome folded into the rolling window (spec
// §4.H "Adaptive page size").
type runSample struct {
	elapsedMs float64
	timedOut  bool
}

// pageSizer tracks the last 20 head-pass runs and grows/shrinks the
// maintenance page size by their average latency and timeout rate,
// independent of any RPC behavior so it stays directly testable — the same
// pattern as the Verifier's adaptiveChunking (spec §9 design note).
type pageSizer struct {
	targetMs float64
	min, max int
	current  int

	window []runSample
}

const pageWindowSize = 20

func newPageSizer(initial, min, max int, targetMs float64) *pageSizer {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	return &pageSizer{targetMs: targetMs, min: min, max: max, current: initial}
}

// PageSize returns the current maintenance-sample page size.
func (p *pageSizer) PageSize() int { return p.current }

// Record folds one run's outcome into the window and, once the window
// holds pageWindowSize runs, re-derives the page size: shrink by x0.85
// (floor min) when the rolling average elapsed exceeds targetMs or the
// timeout rate exceeds 5%; grow by x1.12 (ceiling max) when the average is
// under 0.6x target and zero runs in the window timed out. A resize empties
// the window, so the next decision averages only runs made at the new size.
func (p *pageSizer) Record(elapsedMs float64, timedOut bool) {
	p.window = append(p.window, runSample{elapsedMs: elapsedMs, timedOut: timedOut})
	if len(p.window) > pageWindowSize {
		p.window = p.window[len(p.window)-pageWindowSize:]
	}
	if len(p.window) < pageWindowSize {
		return
	}

	avg, timeoutRate := p.stats()

	switch {
	case avg > p.targetMs || timeoutRate > 0.05:
		p.current = p.clamp(int(math.Floor(float64(p.current) * 0.85)))
		p.window = p.window[:0]
	case avg < 0.6*p.targetMs && timeoutRate == 0:
		p.current = p.clamp(int(math.Ceil(float64(p.current) * 1.12)))
		p.window = p.window[:0]
	}
}

func (p *pageSizer) stats() (avgMs, timeoutRate float64) {
	if len(p.window) == 0 {
		return 0, 0
	}
	var sum float64
	var timeouts int
	for _, s := range p.window {
		sum += s.elapsedMs
		if s.timedOut {
			timeouts++
		}
	}
	return sum / float64(len(p.window)), float64(timeouts) / float64(len(p.window))
}

func (p *pageSizer) clamp(v int) int {
	if v < p.min {
		return p.min
	}
	if v > p.max {
		return p.max
	}
	return v
}

// Package policy extracts the single execute_with_policy combinator spec §9
// calls for (timeout, optional hedge delay, retry count, backoff function)
// instead of each component growing its own ad hoc retry loop. pkg/verifier
// uses it for its hedged chunk calls; pkg/broadcaster runs its own
// replacement loop and does not call it.
package policy

import (
	"context"
	"time"

	"github.com/onchainops/liquidator/internal/util"
)

// Policy bundles the knobs execute_with_policy needs.
type Policy struct {
	Timeout       time.Duration
	HedgeDelay    time.Duration // 0 disables hedging
	RetryAttempts int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	Clock         util.Clock
}

// Attempt is one callable unit of work: a primary and, if HedgeDelay > 0, an
// optional secondary that races it.
type Attempt[T any] func(ctx context.Context) (T, error)

// Outcome reports which call path produced the result, for metrics (spec
// §4.G step 7: "primary vs secondary share, hedge fires").
type Outcome struct {
	UsedSecondary bool
	Retries       int
	TimedOut      bool
}

// Execute runs `primary`, racing it against `secondary` after HedgeDelay if
// configured, retrying up to RetryAttempts times with jittered exponential
// backoff on timeout/failure. The first successful result wins; the
// function returns the last error if every attempt fails.
func Execute[T any](ctx context.Context, p Policy, primary, secondary Attempt[T]) (T, Outcome, error) {
	var zero T
	var lastErr error
	outcome := Outcome{}

	for attempt := 0; attempt <= p.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := util.BackoffDelay(p.BackoffBase, attempt-1, p.BackoffCap)
			select {
			case <-ctx.Done():
				return zero, outcome, ctx.Err()
			case <-p.Clock.After(delay):
			}
			outcome.Retries++
		}

		result, usedSecondary, err := runHedged(ctx, p, primary, secondary)
		if err == nil {
			outcome.UsedSecondary = usedSecondary
			return result, outcome, nil
		}
		lastErr = err
		if err == context.DeadlineExceeded {
			outcome.TimedOut = true
		}
	}
	return zero, outcome, lastErr
}

func runHedged[T any](ctx context.Context, p Policy, primary, secondary Attempt[T]) (T, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	type result struct {
		val           T
		err           error
		fromSecondary bool
	}
	resCh := make(chan result, 2)

	go func() {
		v, err := primary(callCtx)
		resCh <- result{val: v, err: err}
	}()

	if p.HedgeDelay > 0 && secondary != nil {
		go func() {
			select {
			case <-callCtx.Done():
				return
			case <-p.Clock.After(p.HedgeDelay):
			}
			v, err := secondary(callCtx)
			resCh <- result{val: v, err: err, fromSecondary: true}
		}()
	}

	var zero T
	remaining := 1
	if p.HedgeDelay > 0 && secondary != nil {
		remaining = 2
	}
	var lastErr error = context.DeadlineExceeded
	for i := 0; i < remaining; i++ {
		select {
		case <-callCtx.Done():
			return zero, false, context.DeadlineExceeded
		case r := <-resCh:
			if r.err == nil {
				return r.val, r.fromSecondary, nil
			}
			lastErr = r.err
		}
	}
	return zero, false, lastErr
}

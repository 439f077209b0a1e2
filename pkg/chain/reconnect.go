package chain

import (
	"context"
	"time"

	"github.com/onchainops/liquidator/internal/util"
	"go.uber.org/zap"
)

// ReconnectPolicy is the exponential-backoff reconnect policy of spec §5:
// "On WebSocket provider error or heartbeat timeout ... exponential backoff
// (1s x 2^n, cap 60s, max 10 attempts), reattach all subscriptions, reseed
// feed decimals and latest prices."
type ReconnectPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
	Clock      util.Clock
}

// DefaultReconnectPolicy matches the spec's literal constants.
func DefaultReconnectPolicy(clock util.Clock) ReconnectPolicy {
	return ReconnectPolicy{Base: time.Second, Cap: 60 * time.Second, MaxRetries: 10, Clock: clock}
}

// ErrReconnectExhausted is returned when MaxRetries attempts all failed.
type ErrReconnectExhausted struct{ LastErr error }

func (e *ErrReconnectExhausted) Error() string {
	return "chain: reconnect attempts exhausted: " + e.LastErr.Error()
}
func (e *ErrReconnectExhausted) Unwrap() error { return e.LastErr }

// Reconnect runs `connect` until it succeeds or MaxRetries is exhausted,
// sleeping the backoff schedule between attempts. `connect` should perform
// the full reattach: dial, resubscribe, and reseed caches (spec §5).
func (p ReconnectPolicy) Reconnect(ctx context.Context, log *zap.Logger, connect func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			delay := util.BackoffDelay(p.Base, attempt-1, p.Cap)
			log.Warn("reconnect backoff", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.Clock.After(delay):
			}
		}
		if err := connect(ctx); err != nil {
			lastErr = err
			log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return nil
	}
	return &ErrReconnectExhausted{LastErr: lastErr}
}

// HeartbeatMonitor watches a channel of "frame received" pulses; Watch
// returns ErrHeartbeatTimeout if no pulse arrives within `timeout` (spec §5: "no inbound
// frame in wsHeartbeatMs"). Call Pulse() from the subscription's message
// loop every time a frame is received.
type HeartbeatMonitor struct {
	timeout time.Duration
	clock   util.Clock
	pulse   chan struct{}
}

func NewHeartbeatMonitor(timeout time.Duration, clock util.Clock) *HeartbeatMonitor {
	return &HeartbeatMonitor{timeout: timeout, clock: clock, pulse: make(chan struct{}, 1)}
}

// Pulse records that a frame was just received.
func (h *HeartbeatMonitor) Pulse() {
	select {
	case h.pulse <- struct{}{}:
	default:
	}
}

// Watch blocks until either ctx is cancelled (returns ctx.Err()) or the
// heartbeat times out (returns ErrHeartbeatTimeout).
func (h *HeartbeatMonitor) Watch(ctx context.Context) error {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.pulse:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(h.timeout)
		case <-timer.C:
			return ErrHeartbeatTimeout
		}
	}
}

var ErrHeartbeatTimeout = &heartbeatTimeoutError{}

type heartbeatTimeoutError struct{}

func (*heartbeatTimeoutError) Error() string { return "chain: websocket heartbeat timeout" }

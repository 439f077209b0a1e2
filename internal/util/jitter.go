package util

import (
	"math/rand"
	"time"
)

// JitterDuration returns a random duration uniformly distributed in
// [min, max]. Used for the 40-60ms emergency-scan jitter (spec §4.E) and
// similar spread-out-the-herd delays.
func JitterDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(rand.Int63n(span+1))
}

// BackoffDelay computes the base-1s, x2, +/-30%-jittered exponential backoff
// used by the Verifier's chunk retry policy and the provider reconnect loop
// (spec §4.G step 4 / §5 reconnection). attempt is zero-based.
func BackoffDelay(base time.Duration, attempt int, cap time.Duration) time.Duration {
	d := base << uint(attempt)
	if cap > 0 && d > cap {
		d = cap
	}
	jitterFrac := 0.7 + rand.Float64()*0.6 // +/-30%
	return time.Duration(float64(d) * jitterFrac)
}

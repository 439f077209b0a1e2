// Package util holds small cross-cutting helpers: a fakeable clock, jitter,
// and the AES-GCM key decryption used to unwrap the signer's private key at
// startup. Pattern grounded on uhyunpark-hyperlicked/pkg/util/clock.go,
// which the same retrieval pack uses for exactly this purpose — letting
// scheduler/verifier/broadcaster tests drive debounce, backoff and jitter
// deterministically instead of sleeping in real time.
package util

import "time"

// Clock abstracts time so debounce timers, backoff delays and TTL checks in
// the scheduler, verifier and broadcaster can be driven deterministically in
// tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the production Clock backed by the standard library.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Package backoff computes retry delays for commit conflicts.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Jitter returns an exponential delay with full jitter, floored at half the
// base so two racing committers never retry in lockstep:
//
//	delay = max(base/2, rand(0, min(cap, base * 2^attempt)))
func Jitter(attempt int, base, cap time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	if exp > float64(cap) || exp <= 0 { // overflow guard
		exp = float64(cap)
	}
	jitter := time.Duration(rand.Int64N(int64(exp)))
	if floor := base / 2; jitter < floor {
		jitter = floor
	}
	return jitter
}

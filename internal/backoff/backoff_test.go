package backoff

import (
	"testing"
	"time"
)

func TestJitterExponentialGrowth(t *testing.T) {
	base := 10 * time.Millisecond
	cap := 320 * time.Millisecond

	for _, tc := range []struct {
		attempt int
		maxCap  time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{4, 160 * time.Millisecond},
		{5, 320 * time.Millisecond},
		{6, 320 * time.Millisecond},  // capped
		{10, 320 * time.Millisecond}, // capped
	} {
		for range 1000 {
			d := Jitter(tc.attempt, base, cap)
			if d > tc.maxCap {
				t.Errorf("Jitter(%d) = %v, exceeds expected cap %v", tc.attempt, d, tc.maxCap)
			}
			if d < base/2 {
				t.Errorf("Jitter(%d) = %v, below floor %v", tc.attempt, d, base/2)
			}
		}
	}
}

func TestJitterOverflowGuard(t *testing.T) {
	// A huge attempt count would overflow the exponential; the cap holds.
	d := Jitter(200, 10*time.Millisecond, 100*time.Millisecond)
	if d > 100*time.Millisecond {
		t.Errorf("Jitter(200) = %v, exceeds cap", d)
	}
}

package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy controls how long Retry waits between attempts.
type Policy struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps every computed delay. Zero means uncapped.
	Max time.Duration
	// Factor multiplies the delay for each further failure. Values
	// below 1 are treated as 1 (constant delay).
	Factor float64
	// Jitter is the fraction of the base delay randomly added on top,
	// in [0, 1].
	Jitter float64
}

// Fixed returns a policy that waits exactly d between every attempt.
func Fixed(d time.Duration) Policy {
	return Policy{Initial: d, Max: d, Factor: 1}
}

// Exponential returns a doubling policy: 100ms initial, 30s cap, 10%
// jitter.
func Exponential() Policy {
	return Policy{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// Delay returns the wait after the attempt-th failure. Attempts are
// 1-indexed; attempt 1 waits Initial (plus jitter).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 && total > float64(p.Max) {
		total = float64(p.Max)
	}
	return time.Duration(total)
}

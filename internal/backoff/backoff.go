// Package backoff computes retry delays for rate-limited remote calls.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// JitterFraction is the upper bound of the random jitter, as a fraction of the delay.
const JitterFraction = 0.1

// Source returns a uniformly distributed float in [0, 1).
type Source func() float64

// ComputeDelay returns min(base * multiplier^attempt, limit) plus a uniform
// jitter in [0, JitterFraction * delay]. attempt is zero-indexed: the first
// retry uses attempt 0. A nil rnd uses the global math/rand source.
func ComputeDelay(attempt int, base time.Duration, multiplier float64, limit time.Duration, rnd Source) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if rnd == nil {
		rnd = rand.Float64
	}

	raw := float64(base) * math.Pow(multiplier, float64(attempt))
	if math.IsNaN(raw) || math.IsInf(raw, 0) || (limit > 0 && raw > float64(limit)) {
		raw = float64(limit)
	}
	if raw < 0 {
		raw = 0
	}

	return time.Duration(raw + rnd()*JitterFraction*raw)
}

// Policy bundles the backoff parameters.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Rand       Source
}

// Default mirrors the service defaults: 1s base, doubling, 60s cap.
func Default() Policy {
	return Policy{Base: time.Second, Multiplier: 2, Max: 60 * time.Second}
}

// Delay returns the wait before retry number attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return ComputeDelay(attempt, p.Base, p.Multiplier, p.Max, p.Rand)
}

// DelayAfter is Delay, except that a positive server hint replaces the
// exponential term. The hint is still capped and jittered.
func (p Policy) DelayAfter(attempt int, hint time.Duration) time.Duration {
	if hint <= 0 {
		return p.Delay(attempt)
	}
	return ComputeDelay(0, hint, 1, p.Max, p.Rand)
}

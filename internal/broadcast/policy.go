// Package broadcast fans signed bundles out to relay and mempool channels
// concurrently, first success winning, with per-channel retry and a
// consecutive-failure circuit breaker per channel.
package broadcast

import (
	"math/rand"
	"time"
)

// RetryPolicy governs per-channel submission retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per channel per bundle.
	MaxAttempts int
	// BaseDelay is the first retry delay; each subsequent retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// JitterFraction spreads retries by up to this fraction of the delay, so
	// channels recovering together do not retry in lockstep.
	JitterFraction float64
	// BreakerThreshold marks a channel unhealthy after this many consecutive
	// failed bundles.
	BreakerThreshold int
	// BreakerCooldown is how long an unhealthy channel sits out.
	BreakerCooldown time.Duration
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		BaseDelay:        50 * time.Millisecond,
		MaxDelay:         500 * time.Millisecond,
		JitterFraction:   0.2,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = def.JitterFraction
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = def.BreakerThreshold
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = def.BreakerCooldown
	}
	return p
}

// delay returns the jittered backoff before retry attempt n (1-based; attempt
// 1 is the first retry).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.BaseDelay << (n - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(float64(d)*p.JitterFraction) + 1))
	return d + jitter
}

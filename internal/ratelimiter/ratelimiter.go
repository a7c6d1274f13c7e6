// Package ratelimiter throttles inbound packets per connection.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// unlimited is the rate used when no limit is configured. rate.Inf would skip
// burst accounting entirely, which makes Tokens meaningless.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket where one token is one packet.
//
// It wraps golang.org/x/time/rate: tokens refill at a sustained rate and the
// bucket capacity (burst) bounds how many packets may arrive back to back.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter admitting packetsPerSecond on average and up to
// burst packets at once. A zero rate disables limiting.
//
// Example:
//
//	// 500 packets/s sustained, 1000 at once
//	limiter := New(500, 1000)
func New(packetsPerSecond, burst uint) *RateLimiter {
	if packetsPerSecond == 0 {
		packetsPerSecond = unlimited
		burst = unlimited
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(packetsPerSecond), int(burst)),
	}
}

// Allow consumes one token if available and never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN consumes n tokens if all are available and never blocks.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// Wait blocks until one token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// WaitN blocks until n tokens are available or ctx is done.
//
// The network reader calls it after each framing cycle with the number of
// packets that cycle produced, so a throttled connection is read later rather
// than losing data. n above the burst is clamped to the burst, since the
// underlying limiter would otherwise reject the request outright.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if burst := r.limiter.Burst(); n > burst {
		n = burst
	}
	return r.limiter.WaitN(ctx, n)
}

// SetLimit changes the sustained rate. A burst that was at or below the old
// rate, or exactly twice it, follows the new rate at the 2x ratio.
func (r *RateLimiter) SetLimit(packetsPerSecond uint) {
	if packetsPerSecond == 0 {
		packetsPerSecond = unlimited
	}

	oldRate := uint(r.limiter.Limit())
	oldBurst := uint(r.limiter.Burst())
	r.limiter.SetLimit(rate.Limit(packetsPerSecond))

	if oldBurst == oldRate*2 || oldBurst <= oldRate {
		r.limiter.SetBurst(int(packetsPerSecond * 2))
	}
}

// SetBurst changes the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Burst returns the bucket capacity.
func (r *RateLimiter) Burst() int {
	return r.limiter.Burst()
}

// Tokens returns the tokens currently available. The value is a snapshot and
// may be fractional.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

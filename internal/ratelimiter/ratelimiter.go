// Package ratelimiter throttles shard allocation on the hosting platform.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// unlimited stands in for rate.Inf, whose Wait path reserves no tokens and
// hides misconfigured bursts.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket shared by all allocation requests.
//
// It wraps golang.org/x/time/rate and is consulted by the shard host before
// each new shard is provisioned:
//  1. Tokens refill at the configured rate (allocations per second)
//  2. Each provisioning request consumes one token
//  3. An empty bucket makes the host refuse the request as rate limited
//  4. Burst lets a wave of first-time registrations through at once
//
// A refused allocation leaves the owner without shards; the directory retries
// the provisioning on the owner's next call.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perSecond allocations with the given burst.
//
// Parameters:
//   - perSecond: Sustained rate. 0 disables limiting.
//   - burst: Bucket capacity. Raised to 1 when a rate is set and burst is 0,
//     since a zero burst would refuse every request.
//
// Special cases:
//   - perSecond <= 0: no limiting; burst is ignored
//
// Example:
//
//	// 5 shards per second, up to 20 at once
//	limiter := New(5, 20)
//
// Returns a configured RateLimiter.
func New(perSecond float64, burst uint) *RateLimiter {
	if perSecond <= 0 {
		perSecond = unlimited
		burst = unlimited
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Allow consumes a token if one is available and reports whether it did.
//
// This is the path the shard host takes: provisioning is refused rather than
// queued, so a registration burst fails fast instead of piling up callers.
//
// Returns:
//   - true if a token was consumed
//   - false if the bucket is empty (nothing consumed)
//
// Example:
//
//	if !limiter.Allow() {
//	    return errors.New("allocation rate exceeded")
//	}
//
// Thread safety:
// Safe to call concurrently.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// Parameters:
//   - ctx: Bounds the wait. Cancellation returns the context error.
//
// Returns:
//   - nil if a token was acquired
//   - the context error otherwise
//
// Thread safety:
// Safe to call concurrently.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the tokens currently in the bucket.
//
// The value is a snapshot for monitoring and tests; it may change as soon as
// the call returns.
//
// Returns:
//   - Current number of tokens (may be fractional)
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

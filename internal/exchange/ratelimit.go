// ratelimit.go implements token-bucket rate limiting for the exchange API.
//
// The exchange enforces a weighted per-IP request budget; this file uses a
// smooth token-bucket implementation that refills continuously (rather than
// in bursts) to stay well under it without hard-stalling the bot at the
// window boundary.
//
// Two buckets are maintained:
//   - Order: mutating calls (order, cancel, updateLeverage) — the
//     expensive, weighted side of the budget.
//   - Book:  info endpoint reads (meta, allMids, clearinghouseState,
//     openOrders) — cheap and far more frequent.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by exchange endpoint category. Each
// call must acquire the appropriate bucket's Wait() before making the
// HTTP request.
type RateLimiter struct {
	Order *TokenBucket // /exchange — order, cancel, updateLeverage
	Book  *TokenBucket // /info — meta, allMids, clearinghouseState, openOrders
}

// NewRateLimiter creates rate limiters tuned for a single mirrored
// account: mutating calls are capped well below the exchange's abuse
// threshold, info reads are generous since the Differ polls them on
// every reconnect.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order: NewTokenBucket(20, 5),   // 20 burst, 5/sec sustained
		Book:  NewTokenBucket(60, 10),  // 60 burst, 10/sec sustained
	}
}

// Package ratelimit provides a token bucket rate limiter for the REST
// chunk transport.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/logging"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
type RateLimiter struct {
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time we warned about rate limiting
	log          *logging.Logger
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 3.0 for 3 tokens/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		log:        logging.Nop(),
	}
}

// NewTransportRateLimiter creates the limiter shared by every request one
// REST transport makes: chunk fetches, chunk sends and finalize calls.
func NewTransportRateLimiter(log *logging.Logger) *RateLimiter {
	rl := NewRateLimiter(constants.TransportRatePerSec, constants.TransportBurstCapacity)
	if log != nil {
		rl.log = log
	}
	return rl
}

// Wait blocks until a token is available or context is cancelled.
// Returns an error if the context is cancelled before a token becomes available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	// Need to wait - warn if the wait might be long
	waitTime := rl.timeUntilNextToken()
	if waitTime > constants.RateLimitWarningThreshold {
		rl.mu.Lock()
		if time.Since(rl.lastWarnTime) > constants.RateLimitWarningInterval {
			rl.log.Warn().Dur("wait", waitTime).Msg("rate limited: waiting for request capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				rl.log.Debug().Dur("waited", actualWait).Msg("rate limit wait completed")
			}
			return nil
		}
		// Another waiter took the token; sleep until the next one.
		timer.Reset(rl.timeUntilNextToken())
	}
}

// tryAcquire attempts to acquire one token without blocking.
// Returns true if a token was acquired, false otherwise.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = min(rl.tokens+elapsed*rl.refillRate, rl.maxTokens)
	rl.lastRefill = now
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}
	secondsNeeded := tokensNeeded / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.lastRefill).Seconds()
	return min(rl.tokens+elapsed*rl.refillRate, rl.maxTokens)
}

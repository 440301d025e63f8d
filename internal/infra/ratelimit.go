package infra

import (
	"context"
	"sync"
	"time"
)

// --- Rate limiter ---

// RateLimiter provides token-bucket rate limiting.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	poll       time.Duration
	now        func() time.Time
}

// NewRateLimiter creates a limiter that allows maxTokens requests in a
// burst and adds one token every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		poll:       min(refillRate, 100*time.Millisecond),
		now:        time.Now,
	}
}

// PerSecond returns a limiter allowing rate requests per second with a
// burst of the same size.
func PerSecond(rate float64) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	burst := max(1, int(rate))
	return NewRateLimiter(burst, time.Duration(float64(time.Second)/rate))
}

// Allow takes a token if one is available without blocking.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.poll):
		}
	}
}

// refill adds tokens based on elapsed time. mu must be held.
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed < rl.refillRate {
		return
	}
	periods := int(elapsed / rl.refillRate)
	rl.tokens = min(rl.maxTokens, rl.tokens+periods)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.refillRate)
}

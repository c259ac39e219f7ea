// Package quota limits request rates per browser session.
package quota

import (
	"sync"
	"time"
)

// RateLimiter implements per-key token bucket rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rpm     int
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per key.
// rpm=0 means unlimited.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rpm:     rpm,
		now:     time.Now,
	}
}

// Enabled reports whether any limit is enforced.
func (rl *RateLimiter) Enabled() bool {
	return rl.rpm > 0
}

func (rl *RateLimiter) refillRate() float64 {
	return float64(rl.rpm) / 60.0
}

// Allow reports whether a request for key may proceed and takes a token.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rpm <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.rpm), lastRefill: now}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * rl.refillRate()
	if limit := float64(rl.rpm); bucket.tokens > limit {
		bucket.tokens = limit
	}
	bucket.lastRefill = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// RetryAfter returns the number of seconds until key gets its next token.
func (rl *RateLimiter) RetryAfter(key string) int {
	if rl.rpm <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[key]
	if !ok || bucket.tokens >= 1 {
		return 0
	}
	needed := 1.0 - bucket.tokens
	return int(needed/rl.refillRate()) + 1
}

// Cleanup removes buckets that have not been used within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxAge)
	n := 0
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

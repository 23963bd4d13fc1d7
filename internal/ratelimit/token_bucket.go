// Package ratelimit bounds how fast a single signaling connection may push
// frames at the relay.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// nanoTokensPerToken is the fixed-point scale: a rate of X tokens/sec refills
// X nano-tokens per nanosecond.
const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate using fixed-point nano-tokens so
// fractional refills do not accumulate float error.
type TokenBucket struct {
	mu sync.Mutex

	clock clock.Clock

	capacity  int64 // nano-tokens
	ratePerNs int64 // nano-tokens per ns == tokens per second

	available int64
	last      time.Time
}

// NewTokenBucket returns a full bucket holding burst tokens that refills at
// perSecond tokens per second. A nil clk uses the wall clock.
func NewTokenBucket(clk clock.Clock, burst, perSecond int64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if burst < 0 {
		burst = 0
	}
	if perSecond < 0 {
		perSecond = 0
	}
	capacity := toNano(burst)
	return &TokenBucket{
		clock:     clk,
		capacity:  capacity,
		ratePerNs: perSecond,
		available: capacity,
		last:      clk.Now(),
	}
}

// Allow consumes n tokens when available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock stepping backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.ratePerNs <= 0 || b.available >= b.capacity {
		return
	}

	need := b.capacity - b.available
	if elapsed >= need/b.ratePerNs {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.ratePerNs
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}

// FrameLimiter is the per-connection inbound frame budget. A nil *FrameLimiter
// allows everything.
type FrameLimiter struct {
	bucket *TokenBucket
}

// NewFrameLimiter allows a burst of perSecond frames refilled at perSecond
// frames per second. perSecond <= 0 disables limiting and returns nil.
func NewFrameLimiter(clk clock.Clock, perSecond int) *FrameLimiter {
	if perSecond <= 0 {
		return nil
	}
	return &FrameLimiter{bucket: NewTokenBucket(clk, int64(perSecond), int64(perSecond))}
}

func (l *FrameLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.bucket.Allow(1)
}

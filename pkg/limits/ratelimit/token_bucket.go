package ratelimit

import (
	"sync"
	"time"

	"jobmail-hq/governor/pkg/clock"
)

// TokenBucket allows bursts up to its capacity while holding the average
// rate. Reservations may drive the balance negative; the debt is paid off
// by refill before the reserving caller proceeds.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	rate     float64 // tokens per second
	last     time.Time
	clock    clock.Clock
}

// NewTokenBucket creates a full bucket.
//
//	// 5 attempts/sec on average, up to 20 back to back
//	bucket := NewTokenBucket(20, 5, nil)
func NewTokenBucket(capacity int, rate float64, clk clock.Clock) *TokenBucket {
	clk = clock.OrReal(clk)
	return &TokenBucket{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		rate:     rate,
		last:     clk.Now(),
		clock:    clk,
	}
}

// Take consumes n tokens if they are available now.
func (tb *TokenBucket) Take(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens < float64(n) {
		return false
	}
	tb.tokens -= float64(n)
	return true
}

// Remaining returns the whole tokens available now.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens < 0 {
		return 0
	}
	return int(tb.tokens)
}

// Capacity returns the burst size.
func (tb *TokenBucket) Capacity() int {
	return int(tb.capacity)
}

// TimeUntilAvailable returns how long until n tokens are available, or 0
// when they already are.
func (tb *TokenBucket) TimeUntilAvailable(n int) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.waitLocked(float64(n))
}

// reserve takes one token, going into debt if necessary, and returns how
// long the caller must wait before using it.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	tb.tokens--
	return tb.waitLocked(0)
}

// cancel returns a reserved token that was never used.
func (tb *TokenBucket) cancel() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = min(tb.tokens+1, tb.capacity)
}

func (tb *TokenBucket) waitLocked(want float64) time.Duration {
	if tb.tokens >= want {
		return 0
	}
	seconds := (want - tb.tokens) / tb.rate
	return time.Duration(seconds * float64(time.Second))
}

// refillLocked adds tokens for the time elapsed since the last refill.
// Caller must hold lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.last)
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.tokens+elapsed.Seconds()*tb.rate, tb.capacity)
	tb.last = now
}

package ratelimit

import "context"

// ConcurrentLimiter is a counting semaphore bounding in-flight attempts.
type ConcurrentLimiter struct {
	slots chan struct{}
}

// NewConcurrentLimiter allows up to limit holders at once.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{slots: make(chan struct{}, limit)}
}

// TryAcquire takes a slot if one is free.
func (cl *ConcurrentLimiter) TryAcquire() bool {
	select {
	case cl.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until a slot is free or ctx is done. A nil error must be
// paired with Release.
func (cl *ConcurrentLimiter) Acquire(ctx context.Context) error {
	select {
	case cl.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (cl *ConcurrentLimiter) Release() {
	<-cl.slots
}

// Current returns the number of slots held.
func (cl *ConcurrentLimiter) Current() int {
	return len(cl.slots)
}

// Limit returns the configured bound.
func (cl *ConcurrentLimiter) Limit() int {
	return cap(cl.slots)
}

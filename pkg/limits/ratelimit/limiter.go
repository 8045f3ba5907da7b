package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/config"
)

// ErrLimited is returned when a rate limit cannot admit the caller before
// its context deadline.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter holds the limits of every throttled action type. A nil *Limiter
// admits everything.
type Limiter struct {
	buckets map[string]*TokenBucket
	slots   map[string]*ConcurrentLimiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*limiterOptions)

type limiterOptions struct {
	clock clock.Clock
}

// WithClock drives token refill from clk.
func WithClock(clk clock.Clock) Option {
	return func(o *limiterOptions) { o.clock = clk }
}

// New builds a limiter from executor.rate_limits. Entries are expected to
// have passed config validation and defaulting.
func New(limits map[string]config.RateLimitConfig, opts ...Option) *Limiter {
	var o limiterOptions
	for _, opt := range opts {
		opt(&o)
	}

	l := &Limiter{
		buckets: make(map[string]*TokenBucket),
		slots:   make(map[string]*ConcurrentLimiter),
		sleep:   sleepContext,
	}
	for actionType, rl := range limits {
		if rl.Rate > 0 {
			l.buckets[actionType] = NewTokenBucket(max(rl.Burst, 1), rl.Rate, o.clock)
		}
		if rl.MaxConcurrent > 0 {
			l.slots[actionType] = NewConcurrentLimiter(rl.MaxConcurrent)
		}
	}
	return l
}

// Limited reports whether actionType has any limit.
func (l *Limiter) Limited(actionType string) bool {
	if l == nil {
		return false
	}
	_, rated := l.buckets[actionType]
	_, bounded := l.slots[actionType]
	return rated || bounded
}

// Wait admits one attempt of actionType. It returns a release func that
// must be called when the attempt finishes and the time spent waiting.
func (l *Limiter) Wait(ctx context.Context, actionType string) (release func(), waited time.Duration, err error) {
	release = func() {}
	if l == nil {
		return release, 0, nil
	}

	if b, ok := l.buckets[actionType]; ok {
		d := b.reserve()
		if d > 0 {
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
				b.cancel()
				return release, 0, fmt.Errorf("%w: %s needs %s before its deadline", ErrLimited, actionType, d.Round(time.Millisecond))
			}
			if err := l.sleep(ctx, d); err != nil {
				b.cancel()
				return release, 0, err
			}
			waited += d
		}
	}

	if s, ok := l.slots[actionType]; ok {
		if !s.TryAcquire() {
			start := time.Now()
			if err := s.Acquire(ctx); err != nil {
				return release, waited, err
			}
			waited += time.Since(start)
		}
		release = s.Release
	}
	return release, waited, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package rollout

import (
	"sync"
	"time"
)

// bucketsPerWindow is the granularity of a Window: an hour-long window
// keeps one-minute buckets.
const bucketsPerWindow = 60

// Counts are the outcome samples of one bundle.
type Counts struct {
	Evaluations int64
	Matches     int64
	NoMatches   int64

	Approved int64
	Rejected int64

	Executions int64 // successes plus failures
	Failures   int64

	// Cost is the summed estimated cost of executions.
	Cost float64
}

func (c *Counts) add(o Counts) {
	c.Evaluations += o.Evaluations
	c.Matches += o.Matches
	c.NoMatches += o.NoMatches
	c.Approved += o.Approved
	c.Rejected += o.Rejected
	c.Executions += o.Executions
	c.Failures += o.Failures
	c.Cost += o.Cost
}

// Decisions returns the number of approvals and rejections.
func (c Counts) Decisions() int64 {
	return c.Approved + c.Rejected
}

// ErrorRate is failed executions over executions.
func (c Counts) ErrorRate() float64 {
	return ratio(c.Failures, c.Executions)
}

// DenyRate is rejections over decisions.
func (c Counts) DenyRate() float64 {
	return ratio(c.Rejected, c.Decisions())
}

// ZeroMatchRate is evaluations without a match over evaluations.
func (c Counts) ZeroMatchRate() float64 {
	return ratio(c.NoMatches, c.Evaluations)
}

// CostPerExecution is the mean estimated cost of an execution.
func (c Counts) CostPerExecution() float64 {
	if c.Executions == 0 {
		return 0
	}
	return c.Cost / float64(c.Executions)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Window accumulates Counts over a rolling time window. The window is
// divided into fixed-size buckets; buckets that fall outside the window are
// dropped when the window is read or written.
type Window struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    []bucket
	mu         sync.Mutex
}

type bucket struct {
	start  time.Time
	counts Counts
}

// NewWindow creates a window of the given length.
func NewWindow(window time.Duration) *Window {
	size := window / bucketsPerWindow
	if size < time.Second {
		size = time.Second
	}
	n := int(window / size)
	if n == 0 {
		n = 1
	}
	return &Window{
		window:     window,
		bucketSize: size,
		buckets:    make([]bucket, n),
	}
}

// Add adds c to the bucket covering now.
func (w *Window) Add(now time.Time, c Counts) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	b := w.bucketLocked(now)
	b.counts.add(c)
}

// Sum returns the counts within the window ending at now.
func (w *Window) Sum(now time.Time) Counts {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	var sum Counts
	for i := range w.buckets {
		if !w.buckets[i].start.IsZero() {
			sum.add(w.buckets[i].counts)
		}
	}
	return sum
}

// pruneLocked clears buckets that ended before the window. Caller must hold
// the lock.
func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	for i := range w.buckets {
		if b := &w.buckets[i]; !b.start.IsZero() && !b.start.Add(w.bucketSize).After(cutoff) {
			*b = bucket{}
		}
	}
}

// bucketLocked finds or claims the bucket for now, reusing an empty or the
// oldest slot. Caller must hold the lock.
func (w *Window) bucketLocked(now time.Time) *bucket {
	start := now.Truncate(w.bucketSize)
	target := -1
	for i := range w.buckets {
		switch {
		case w.buckets[i].start.Equal(start):
			return &w.buckets[i]
		case target == -1 && w.buckets[i].start.IsZero():
			target = i
		}
	}
	if target == -1 {
		target = 0
		for i := 1; i < len(w.buckets); i++ {
			if w.buckets[i].start.Before(w.buckets[target].start) {
				target = i
			}
		}
	}
	w.buckets[target] = bucket{start: start}
	return &w.buckets[target]
}

package rollout

import (
	"sync"
	"time"

	"jobmail-hq/governor/pkg/clock"
)

// DefaultWindow is the length of the rolling outcome window.
const DefaultWindow = time.Hour

// Samples keeps one rolling window of outcome counts per bundle version.
// The action workflow writes to it; the monitor and the promotion gates
// read from it. Safe for concurrent use.
type Samples struct {
	window time.Duration
	clock  clock.Clock

	mu      sync.RWMutex
	windows map[string]*Window
}

// NewSamples creates a sample store. A non-positive window uses
// DefaultWindow.
func NewSamples(window time.Duration, clk clock.Clock) *Samples {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Samples{
		window:  window,
		clock:   clock.OrReal(clk),
		windows: make(map[string]*Window),
	}
}

func (s *Samples) windowFor(version string) *Window {
	s.mu.RLock()
	w, ok := s.windows[version]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[version]; !ok {
		w = NewWindow(s.window)
		s.windows[version] = w
	}
	return w
}

func (s *Samples) add(version string, c Counts) {
	if version == "" {
		return
	}
	s.windowFor(version).Add(s.clock.Now(), c)
}

// RecordEvaluation records one routed evaluation and whether it matched.
func (s *Samples) RecordEvaluation(version string, matched bool) {
	c := Counts{Evaluations: 1}
	if matched {
		c.Matches = 1
	} else {
		c.NoMatches = 1
	}
	s.add(version, c)
}

// RecordDecision records an approval or rejection of an action proposed by
// the bundle.
func (s *Samples) RecordDecision(version string, approved bool) {
	if approved {
		s.add(version, Counts{Approved: 1})
		return
	}
	s.add(version, Counts{Rejected: 1})
}

// RecordExecution records one execution outcome and its estimated cost.
func (s *Samples) RecordExecution(version string, success bool, cost float64) {
	c := Counts{Executions: 1, Cost: cost}
	if !success {
		c.Failures = 1
	}
	s.add(version, c)
}

// Counts returns the window's counts for version.
func (s *Samples) Counts(version string) Counts {
	s.mu.RLock()
	w, ok := s.windows[version]
	s.mu.RUnlock()
	if !ok {
		return Counts{}
	}
	return w.Sum(s.clock.Now())
}

// Forget drops the window of version.
func (s *Samples) Forget(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, version)
}

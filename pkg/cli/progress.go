package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const progressWidth = 30

// Progress renders a one-line bar for batch operations such as approving
// every pending action. Methods on a nil *Progress do nothing, so callers
// can skip the bar for single items without branching.
type Progress struct {
	mu     sync.Mutex
	w      io.Writer
	label  string
	total  int
	done   int
	failed int
}

// NewProgress creates a reporter writing to w, or os.Stderr when w is nil.
func NewProgress(w io.Writer, label string, total int) *Progress {
	if w == nil {
		w = os.Stderr
	}
	p := &Progress{w: w, label: label, total: total}
	p.render()
	return p
}

// Step records one finished item. A non-nil err counts it as failed.
func (p *Progress) Step(err error) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if err != nil {
		p.failed++
	}
	p.render()
}

// Finish ends the line.
func (p *Progress) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}

// Failed returns the number of failed items so far.
func (p *Progress) Failed() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *Progress) render() {
	if p.total <= 0 {
		return
	}
	done := min(p.done, p.total)
	filled := progressWidth * done / p.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)

	fmt.Fprintf(p.w, "\r%s [%s] %d/%d", p.label, bar, done, p.total)
	if p.failed > 0 {
		fmt.Fprintf(p.w, " (%d failed)", p.failed)
	}
}

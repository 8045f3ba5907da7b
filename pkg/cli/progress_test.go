package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Approving", 3)

	p.Step(nil)
	p.Step(errors.New("not_pending"))
	p.Step(nil)
	p.Finish()

	out := buf.String()
	frames := strings.Split(strings.TrimSuffix(out, "\n"), "\r")
	last := frames[len(frames)-1]
	if !strings.HasPrefix(last, "Approving [") || !strings.HasSuffix(last, "3/3 (1 failed)") {
		t.Errorf("last frame = %q", last)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish() should end the line")
	}
	if p.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", p.Failed())
	}
}

func TestProgress_Nil(t *testing.T) {
	var p *Progress
	p.Step(errors.New("ignored"))
	p.Finish()
	if p.Failed() != 0 {
		t.Error("nil Progress reported failures")
	}
}

func TestProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Approving", 0)
	p.Step(nil)
	p.Finish()
	if buf.String() != "\n" {
		t.Errorf("output = %q, want only a newline", buf.String())
	}
}

func TestProgress_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Approving", 100)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if i%2 == 0 {
					p.Step(nil)
				} else {
					p.Step(errors.New("x"))
				}
			}
		}()
	}
	wg.Wait()
	p.Finish()

	if p.Failed() != 50 {
		t.Errorf("Failed() = %d, want 50", p.Failed())
	}
	if !strings.Contains(buf.String(), "100/100 (50 failed)") {
		t.Error("final frame missing")
	}
}

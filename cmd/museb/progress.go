package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter redraws a single status line with elapsed or remaining time.
//
//	p := NewCountdownProgressPrinter(w, "Scanning for headbands", "scanning", d)
//	p.Start()
//	defer p.Stop()
//
// Stop must be called to release the redraw goroutine. A printer is single-use.
type ProgressPrinter struct {
	w        io.Writer
	prefix   string
	phase    atomic.Value // string
	duration time.Duration
	countUp  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	startTime time.Time
}

// NewProgressPrinter counts elapsed time.
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{w: w, prefix: prefix, countUp: true}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter counts down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{w: w, prefix: prefix, duration: duration}
	p.phase.Store(phase)
	return p
}

// isTerminal reports whether w is an interactive terminal. Progress lines are
// only drawn there; pipes and tests get clean output.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins redrawing. Calls after the first are ignored.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		p.startTime = time.Now()
		p.draw()

		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					p.draw()
				}
			}
		}()
	})
}

// SetPhase changes the label shown in parentheses. Safe from any goroutine.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

func (p *ProgressPrinter) draw() {
	phase := p.phase.Load().(string)
	elapsed := time.Since(p.startTime)

	var seconds int
	if p.countUp {
		seconds = int(elapsed.Seconds())
	} else if remaining := p.duration - elapsed; remaining > 0 {
		// round to the nearest second: 3.7s shows as 4s
		seconds = int(remaining.Seconds() + 0.5)
	}

	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Stop ends redrawing and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.stop == nil {
			return
		}
		close(p.stop)
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}

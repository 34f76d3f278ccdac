// Package progress prints a one-line live status while a run is ramping.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"stampede/internal/metrics"
)

type Progress struct {
	startTime time.Time
	agg       *metrics.Aggregator
	vus       func() int
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

// NewProgress reports from agg; vus, when non-nil, supplies the current
// active VU count.
func NewProgress(agg *metrics.Aggregator, vus func() int, quiet bool) *Progress {
	return &Progress{
		agg:    agg,
		vus:    vus,
		quiet:  quiet,
		output: os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(1 * time.Second)
	go p.run()
}

func (p *Progress) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress(time.Since(p.startTime))
		}
	}
}

// Line renders the status line for the given elapsed time.
func (p *Progress) Line(elapsed time.Duration) string {
	elapsed = elapsed.Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60

	reqs := p.agg.Count(metrics.HTTPReqs)
	iters := p.agg.Count(metrics.Iterations)
	failed, total := p.agg.RateCounts(metrics.Errors)
	rps := 0.0
	if elapsed > 0 {
		rps = float64(reqs) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total) * 100
	}
	vus := 0
	if p.vus != nil {
		vus = p.vus()
	}
	return fmt.Sprintf("[%02d:%02d] VUs: %d | Iterations: %d | Requests: %d | RPS: %.1f | Errors: %d (%.1f%%)",
		mins, secs, vus, iters, reqs, rps, failed, errorRate)
}

func (p *Progress) printProgress(elapsed time.Duration) {
	line := p.Line(elapsed)
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K%s", line)
	p.mu.Unlock()
}

func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K")
	p.mu.Unlock()
}

// Writer returns an io.Writer that clears the status line before each
// write, so log output does not interleave with it.
func (p *Progress) Writer() io.Writer {
	return lineWriter{p}
}

type lineWriter struct{ p *Progress }

func (w lineWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if !w.p.quiet && !w.p.stopped.Load() && w.p.stopCh != nil {
		fmt.Fprint(w.p.output, "\r\033[K")
	}
	return w.p.output.Write(b)
}

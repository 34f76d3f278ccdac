// Package metrics aggregates VU samples into bounded-memory metric series.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"stampede/internal/core"
)

// ErrKindMismatch is returned when a name is re-declared with another kind.
var ErrKindMismatch = errors.New("metric kind mismatch")

// Aggregator accumulates samples from every VU. Record is safe for
// concurrent use; each series is synchronized on its own so unrelated
// metrics never contend.
type Aggregator struct {
	mu     sync.RWMutex
	series map[string]*series

	clock     core.Clock
	startTime time.Time
	timesMu   sync.Mutex
	endTime   time.Time
}

// NewAggregator creates an Aggregator with the built-in metrics declared.
func NewAggregator() *Aggregator {
	return NewAggregatorWithClock(core.RealClock{})
}

// NewAggregatorWithClock creates an Aggregator with a custom clock (for testing).
func NewAggregatorWithClock(clock core.Clock) *Aggregator {
	a := &Aggregator{
		series:    make(map[string]*series, len(builtins)),
		clock:     clock,
		startTime: clock.Now(),
	}
	for _, b := range builtins {
		a.series[b.name] = newSeries(b.name, b.kind)
	}
	return a
}

// Declare registers a metric so thresholds may reference it before any
// sample arrives. Declaring an existing name with the same kind is a no-op.
func (a *Aggregator) Declare(name string, kind Kind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.series[name]; ok {
		if s.kind != kind {
			return fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, name, s.kind, kind)
		}
		return nil
	}
	a.series[name] = newSeries(name, kind)
	return nil
}

// DeclareScenario declares the per-scenario sub-metrics.
func (a *Aggregator) DeclareScenario(name string) error {
	return errors.Join(
		a.Declare(Tagged(Iterations, TagScenario, name), KindCounter),
		a.Declare(Tagged(HTTPReqDuration, TagScenario, name), KindTrend),
		a.Declare(Tagged(Errors, TagScenario, name), KindRate),
	)
}

// DeclareCheck declares the per-check sub-metric.
func (a *Aggregator) DeclareCheck(name string) error {
	return a.Declare(Tagged(Checks, TagCheck, name), KindRate)
}

// Kinds returns the kind of every declared metric.
func (a *Aggregator) Kinds() map[string]Kind {
	a.mu.RLock()
	defer a.mu.RUnlock()
	kinds := make(map[string]Kind, len(a.series))
	for name, s := range a.series {
		kinds[name] = s.kind
	}
	return kinds
}

// get returns the series, creating it on first use. Samples may reference
// scenarios or checks that were never declared (e.g. in tests).
func (a *Aggregator) get(name string, kind Kind) *series {
	a.mu.RLock()
	s, ok := a.series[name]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.series[name]; ok {
		return s
	}
	s = newSeries(name, kind)
	a.series[name] = s
	return s
}

// Add increments a counter.
func (a *Aggregator) Add(name string, n int64) {
	a.get(name, KindCounter).add(n)
}

// Observe adds a boolean observation to a rate.
func (a *Aggregator) Observe(name string, ok bool) {
	a.get(name, KindRate).observe(ok)
}

// Time adds a duration to a trend.
func (a *Aggregator) Time(name string, d time.Duration) {
	a.get(name, KindTrend).record(d)
}

// Count returns the current value of a counter without taking a snapshot.
func (a *Aggregator) Count(name string) int64 {
	a.mu.RLock()
	s, ok := a.series[name]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	return s.count.Load()
}

// RateCounts returns the numerator and denominator of a rate.
func (a *Aggregator) RateCounts(name string) (trues, total int64) {
	a.mu.RLock()
	s, ok := a.series[name]
	a.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return s.trues.Load(), s.total.Load()
}

// Record folds one sample into the built-in series and its sub-metrics.
// Aborted samples only count as aborted iterations so that cancelled
// requests do not skew latency or error rates.
func (a *Aggregator) Record(s core.Sample) {
	if s.Aborted {
		a.Add(AbortedIterations, 1)
		return
	}

	a.Add(Iterations, 1)
	if s.Scenario != "" {
		a.Add(Tagged(Iterations, TagScenario, s.Scenario), 1)
	}

	if s.Method != "" {
		a.Add(HTTPReqs, 1)
		a.Add(DataSent, s.BytesSent)
		a.Add(DataReceived, s.BytesRecv)
		a.Time(HTTPReqDuration, s.Latency)
		a.Time(HTTPReqService, s.ServiceTime())
		a.Time(PoolWait, s.PoolWait)
		a.Observe(HTTPReqFailed, !s.RequestOK)
		if s.Scenario != "" {
			a.Time(Tagged(HTTPReqDuration, TagScenario, s.Scenario), s.Latency)
		}
	}

	for _, c := range s.Checks {
		a.Observe(Checks, c.Passed)
		a.Observe(Tagged(Checks, TagCheck, c.Name), c.Passed)
	}

	a.Observe(Errors, !s.Success)
	if s.Scenario != "" {
		a.Observe(Tagged(Errors, TagScenario, s.Scenario), !s.Success)
	}
}

// Start resets the beginning of the measured interval to now. The
// controller calls it when ramping begins so setup time is excluded.
func (a *Aggregator) Start() {
	a.timesMu.Lock()
	defer a.timesMu.Unlock()
	a.startTime = a.clock.Now()
}

// Close marks the end of the measured interval.
func (a *Aggregator) Close() {
	a.timesMu.Lock()
	defer a.timesMu.Unlock()
	if a.endTime.IsZero() {
		a.endTime = a.clock.Now()
	}
}

// Duration returns the measured interval.
// If the aggregator is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (a *Aggregator) Duration() time.Duration {
	a.timesMu.Lock()
	start, end := a.startTime, a.endTime
	a.timesMu.Unlock()
	if !end.IsZero() {
		return end.Sub(start)
	}
	return a.clock.Since(start)
}

// Snapshot copies every series. Reads taken while VUs are still recording
// are eventually consistent; the final snapshot must be taken after all VUs
// have stopped.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.RLock()
	all := make([]*series, 0, len(a.series))
	for _, s := range a.series {
		all = append(all, s)
	}
	a.mu.RUnlock()

	snap := &Snapshot{
		Duration: a.Duration(),
		Metrics:  make(map[string]*MetricSnapshot, len(all)),
	}
	for _, s := range all {
		snap.Metrics[s.name] = s.snapshot()
	}
	return snap
}

// Merge folds another aggregator's series into a. Merging aggregations of
// disjoint sample sets gives the same result as recording the union.
func (a *Aggregator) Merge(other *Aggregator) error {
	snap := other.Snapshot()
	var errs []error
	for _, name := range snap.Names() {
		ms := snap.Metrics[name]
		if err := a.Declare(name, ms.Kind); err != nil {
			errs = append(errs, err)
			continue
		}
		a.get(name, ms.Kind).merge(ms)
	}
	return errors.Join(errs...)
}

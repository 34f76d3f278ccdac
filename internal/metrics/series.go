package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Kind is the aggregation type of a metric series.
type Kind int

const (
	KindCounter Kind = iota
	KindRate
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Trend histograms store microseconds from 1µs to 1h with 3 significant
// figures, which bounds memory regardless of sample count.
const (
	trendMinValue = 1
	trendMaxValue = int64(time.Hour / time.Microsecond)
	trendSigFigs  = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(trendMinValue, trendMaxValue, trendSigFigs)
}

// series is one named metric. Only the field matching kind is used.
// Counters and rates are lock-free; each trend carries its own mutex.
type series struct {
	name string
	kind Kind

	count atomic.Int64 // counter value
	trues atomic.Int64 // rate numerator
	total atomic.Int64 // rate denominator

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newSeries(name string, kind Kind) *series {
	s := &series{name: name, kind: kind}
	if kind == KindTrend {
		s.hist = newHistogram()
	}
	return s
}

func (s *series) add(n int64) {
	s.count.Add(n)
}

func (s *series) observe(ok bool) {
	if ok {
		s.trues.Add(1)
	}
	s.total.Add(1)
}

func (s *series) record(d time.Duration) {
	us := d.Microseconds()
	if us < trendMinValue {
		us = trendMinValue
	}
	if us > trendMaxValue {
		us = trendMaxValue
	}
	s.mu.Lock()
	_ = s.hist.RecordValue(us) // clamped above, cannot be out of range
	s.mu.Unlock()
}

func (s *series) snapshot() *MetricSnapshot {
	ms := &MetricSnapshot{Name: s.name, Kind: s.kind}
	switch s.kind {
	case KindCounter:
		ms.Count = s.count.Load()
	case KindRate:
		ms.Trues = s.trues.Load()
		ms.Count = s.total.Load()
	case KindTrend:
		s.mu.Lock()
		h := hdrhistogram.Import(s.hist.Export())
		s.mu.Unlock()
		ms.Trend = &TrendSnapshot{hist: h}
		ms.Count = h.TotalCount()
	}
	return ms
}

func (s *series) merge(from *MetricSnapshot) {
	switch s.kind {
	case KindCounter:
		s.count.Add(from.Count)
	case KindRate:
		s.trues.Add(from.Trues)
		s.total.Add(from.Count)
	case KindTrend:
		if from.Trend == nil {
			return
		}
		s.mu.Lock()
		s.hist.Merge(from.Trend.hist)
		s.mu.Unlock()
	}
}

package metrics

import (
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is a point-in-time copy of every series. It is not updated by
// later samples and is safe to read from any goroutine.
type Snapshot struct {
	Duration time.Duration
	Metrics  map[string]*MetricSnapshot
}

// Names returns the metric names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named metric.
func (s *Snapshot) Get(name string) (*MetricSnapshot, bool) {
	m, ok := s.Metrics[name]
	return m, ok
}

// MetricSnapshot is the frozen state of one series.
// Count holds the counter value, the rate denominator, or the trend sample count.
type MetricSnapshot struct {
	Name  string
	Kind  Kind
	Count int64
	Trues int64
	Trend *TrendSnapshot
}

// Rate returns trues/total for a rate series, 0 when empty.
func (m *MetricSnapshot) Rate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Trues) / float64(m.Count)
}

// PerSecond returns the counter value divided by d.
func (m *MetricSnapshot) PerSecond(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(m.Count) / d.Seconds()
}

// TrendSnapshot answers quantile queries over a copied histogram.
type TrendSnapshot struct {
	hist *hdrhistogram.Histogram
}

func (t *TrendSnapshot) Count() int64 { return t.hist.TotalCount() }

func (t *TrendSnapshot) Min() time.Duration {
	if t.hist.TotalCount() == 0 {
		return 0
	}
	return micros(t.hist.Min())
}

func (t *TrendSnapshot) Max() time.Duration {
	if t.hist.TotalCount() == 0 {
		return 0
	}
	return micros(t.hist.Max())
}

func (t *TrendSnapshot) Mean() time.Duration {
	if t.hist.TotalCount() == 0 {
		return 0
	}
	return time.Duration(t.hist.Mean() * float64(time.Microsecond))
}

// Quantile returns the value at percentile p (0-100).
func (t *TrendSnapshot) Quantile(p float64) time.Duration {
	if t.hist.TotalCount() == 0 {
		return 0
	}
	return micros(t.hist.ValueAtQuantile(p))
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

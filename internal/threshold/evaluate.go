package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"stampede/internal/metrics"
)

// Result represents the outcome of a single threshold check.
type Result struct {
	Spec     Spec    `json:"-"`
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Observed float64 `json:"observed"`
}

// Verdict contains all threshold check results.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

// Violations returns only the failed threshold results.
func (v *Verdict) Violations() []Result {
	violations := make([]Result, 0)
	for _, r := range v.Results {
		if !r.Passed {
			violations = append(violations, r)
		}
	}
	return violations
}

// Evaluate checks every spec against snap in order. The same snapshot
// always yields the same verdict.
func Evaluate(specs []Spec, snap *metrics.Snapshot) (*Verdict, error) {
	v := &Verdict{Passed: true, Results: make([]Result, 0, len(specs))}
	for _, spec := range specs {
		observed, err := Observe(spec, snap)
		if err != nil {
			return nil, err
		}
		passed := spec.Comparator.Compare(observed, spec.Value)
		if !passed {
			v.Passed = false
		}
		v.Results = append(v.Results, Result{
			Spec:     spec,
			Name:     spec.String(),
			Passed:   passed,
			Observed: observed,
		})
	}
	return v, nil
}

// Checkpoint evaluates the abortOnFail specs whose delay has elapsed.
// A failed verdict means the run should stop early. Checkpoint snapshots
// are taken while VUs are running and are advisory only.
func Checkpoint(specs []Spec, snap *metrics.Snapshot, elapsed time.Duration) (*Verdict, error) {
	due := make([]Spec, 0, len(specs))
	for _, spec := range specs {
		if spec.AbortOnFail && elapsed >= spec.DelayAbortEval {
			due = append(due, spec)
		}
	}
	return Evaluate(due, snap)
}

// Validate checks metric names and fields against the declared metrics
// before the run starts.
func Validate(specs []Spec, kinds map[string]metrics.Kind) error {
	var errs []error
	for _, spec := range specs {
		kind, ok := kinds[spec.Metric]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownMetric, spec.Metric))
			continue
		}
		if !fieldSupported(kind, spec.Field) {
			errs = append(errs, fmt.Errorf("%w: %s on %s %q", ErrUnsupportedField, spec.Field, kind, spec.Metric))
		}
	}
	return errors.Join(errs...)
}

func fieldSupported(kind metrics.Kind, field string) bool {
	switch kind {
	case metrics.KindTrend:
		return field != "rate"
	case metrics.KindRate:
		return field == "rate"
	case metrics.KindCounter:
		return field == "count" || field == "rate"
	}
	return false
}

// Observe returns the value of spec's field on its metric. Trend values
// are milliseconds, rates are fractions, counter rates are per second.
func Observe(spec Spec, snap *metrics.Snapshot) (float64, error) {
	m, ok := snap.Get(spec.Metric)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, spec.Metric)
	}
	if !fieldSupported(m.Kind, spec.Field) {
		return 0, fmt.Errorf("%w: %s on %s %q", ErrUnsupportedField, spec.Field, m.Kind, spec.Metric)
	}

	switch m.Kind {
	case metrics.KindRate:
		return m.Rate(), nil
	case metrics.KindCounter:
		if spec.Field == "rate" {
			return m.PerSecond(snap.Duration), nil
		}
		return float64(m.Count), nil
	}

	t := m.Trend
	switch spec.Field {
	case "avg":
		return millis(t.Mean()), nil
	case "min":
		return millis(t.Min()), nil
	case "max":
		return millis(t.Max()), nil
	case "med":
		return millis(t.Quantile(50)), nil
	case "count":
		return float64(t.Count()), nil
	}
	if p, ok := spec.Percentile(); ok {
		return millis(t.Quantile(p)), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedField, spec.Field)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FormatObserved renders an observed value in the unit of the threshold's field.
func FormatObserved(spec Spec, kind metrics.Kind, v float64) string {
	switch {
	case kind == metrics.KindRate:
		return strconv.FormatFloat(v, 'f', 4, 64)
	case kind == metrics.KindCounter && spec.Field == "count":
		return strconv.FormatFloat(v, 'f', 0, 64)
	case kind == metrics.KindTrend && spec.Field != "count":
		return strconv.FormatFloat(v, 'f', 2, 64) + "ms"
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

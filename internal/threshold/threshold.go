// Package threshold parses and evaluates pass/fail conditions over metrics.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned for expressions that do not match the grammar.
	ErrInvalidExpression = errors.New("invalid threshold expression")
	// ErrUnknownMetric is returned when a threshold names a metric that was never declared.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnsupportedField is returned when a field does not apply to the metric kind.
	ErrUnsupportedField = errors.New("unsupported field for metric")
)

// Comparator is a binary comparison operator.
type Comparator string

const (
	Less         Comparator = "<"
	LessEqual    Comparator = "<="
	Greater      Comparator = ">"
	GreaterEqual Comparator = ">="
	Equal        Comparator = "=="
	NotEqual     Comparator = "!="
)

// Compare reports whether observed <cmp> limit holds.
func (c Comparator) Compare(observed, limit float64) bool {
	switch c {
	case Less:
		return observed < limit
	case LessEqual:
		return observed <= limit
	case Greater:
		return observed > limit
	case GreaterEqual:
		return observed >= limit
	case Equal:
		return observed == limit
	case NotEqual:
		return observed != limit
	default:
		return false
	}
}

// Spec is one parsed threshold, e.g. metric http_req_duration, field p(95),
// comparator <, value 2000.
type Spec struct {
	Metric     string
	Field      string
	Comparator Comparator
	Value      float64
	Source     string

	AbortOnFail    bool
	DelayAbortEval time.Duration

	percentile float64
}

func (s Spec) String() string {
	return s.Metric + " " + s.Source
}

// Percentile returns N for a p(N) field.
func (s Spec) Percentile() (float64, bool) {
	return s.percentile, strings.HasPrefix(s.Field, "p(")
}

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*$`)

// Parse parses "<field> <cmp> <value>" for the given metric.
// Trend values are in milliseconds.
func Parse(metric, expr string) (Spec, error) {
	if strings.TrimSpace(metric) == "" {
		return Spec{}, fmt.Errorf("%w: empty metric name", ErrInvalidExpression)
	}
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %s: %q", ErrInvalidExpression, metric, expr)
	}

	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %q: %v", ErrInvalidExpression, metric, expr, err)
	}

	spec := Spec{
		Metric:     metric,
		Field:      m[1],
		Comparator: Comparator(m[3]),
		Value:      value,
		Source:     strings.TrimSpace(expr),
	}
	if m[2] != "" {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Spec{}, fmt.Errorf("%w: %s: percentile %q out of range", ErrInvalidExpression, metric, m[2])
		}
		spec.percentile = p
		spec.Field = "p(" + m[2] + ")"
	}
	return spec, nil
}

// MustParse is like Parse but panics on error. Intended for tests and literals.
func MustParse(metric, expr string) Spec {
	s, err := Parse(metric, expr)
	if err != nil {
		panic(err)
	}
	return s
}

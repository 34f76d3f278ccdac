// Package scenario holds the weighted set of request templates a VU picks
// from on every iteration.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"sort"
	"time"

	"stampede/internal/core"
)

// ErrInvalidScenario reports a scenario that cannot be registered or built.
var ErrInvalidScenario = errors.New("invalid scenario")

// Request is a fully resolved HTTP request for one iteration.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// Response is what checks get to look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// BuildContext is passed to a Builder. The VU's Rand must be the only
// source of randomness so a seeded run is reproducible.
type BuildContext struct {
	VU      *core.VU
	BaseURL string
}

// Builder produces the request for one iteration.
type Builder func(BuildContext) (*Request, error)

// Check is a named predicate evaluated on every response of a scenario.
type Check struct {
	Name      string
	Predicate func(*Response) bool
}

// Def describes one scenario.
type Def struct {
	Name   string
	Weight float64
	Build  Builder
	// ExpectStatus lists acceptable status codes. Empty means 200-399.
	ExpectStatus []int
	Checks       []Check
}

// StatusExpected reports whether code counts as a successful request.
func (d *Def) StatusExpected(code int) bool {
	if len(d.ExpectStatus) == 0 {
		return code >= 200 && code < 400
	}
	return slices.Contains(d.ExpectStatus, code)
}

// Registry is an immutable, weighted scenario set. Select is safe for
// concurrent use as long as each caller brings its own *rand.Rand.
type Registry struct {
	defs       []Def
	cumulative []float64
	total      float64
}

// New validates defs and freezes them into a Registry.
func New(defs ...Def) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no scenarios defined", ErrInvalidScenario)
	}

	r := &Registry{
		defs:       make([]Def, len(defs)),
		cumulative: make([]float64, len(defs)),
	}
	seen := make(map[string]bool, len(defs))
	var errs []error

	for i, d := range defs {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("%w: scenario %d has no name", ErrInvalidScenario, i))
		case seen[d.Name]:
			errs = append(errs, fmt.Errorf("%w: duplicate name %q", ErrInvalidScenario, d.Name))
		}
		seen[d.Name] = true

		if math.IsNaN(d.Weight) || math.IsInf(d.Weight, 0) || d.Weight <= 0 {
			errs = append(errs, fmt.Errorf("%w: %q has weight %v, must be positive", ErrInvalidScenario, d.Name, d.Weight))
		}
		if d.Build == nil {
			errs = append(errs, fmt.Errorf("%w: %q has no request builder", ErrInvalidScenario, d.Name))
		}
		for j, c := range d.Checks {
			if c.Predicate == nil {
				errs = append(errs, fmt.Errorf("%w: %q check %d has no predicate", ErrInvalidScenario, d.Name, j))
			}
		}

		d.ExpectStatus = slices.Clone(d.ExpectStatus)
		d.Checks = slices.Clone(d.Checks)
		r.defs[i] = d
		r.total += d.Weight
		r.cumulative[i] = r.total
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Select picks a scenario with probability weight/total.
func (r *Registry) Select(rng *rand.Rand) *Def {
	x := rng.Float64() * r.total
	i := sort.Search(len(r.cumulative), func(i int) bool { return r.cumulative[i] > x })
	if i == len(r.defs) {
		i--
	}
	return &r.defs[i]
}

func (r *Registry) Len() int {
	return len(r.defs)
}

// Names returns scenario names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// CheckNames returns every check name across scenarios, deduplicated, in
// registration order.
func (r *Registry) CheckNames() []string {
	var names []string
	seen := map[string]bool{}
	for _, d := range r.defs {
		for _, c := range d.Checks {
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
			}
		}
	}
	return names
}

// Probability returns the selection probability of the named scenario.
func (r *Registry) Probability(name string) float64 {
	for _, d := range r.defs {
		if d.Name == name {
			return d.Weight / r.total
		}
	}
	return 0
}

package scenario

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"stampede/internal/config"
	"stampede/internal/core"
	"stampede/internal/data"
	"stampede/internal/template"
)

// FromConfig builds a Registry from the scenarios section of cfg. Data
// files are loaded relative to the config file.
func FromConfig(cfg *config.Config) (*Registry, error) {
	defs := make([]Def, 0, len(cfg.Scenarios))
	var errs []error

	for _, sc := range cfg.Scenarios {
		def, err := defFromConfig(sc, cfg.Dir())
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %q: %w", sc.Name, err))
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return New(defs...)
}

func defFromConfig(sc config.ScenarioConfig, dir string) (Def, error) {
	checks := make([]Check, 0, len(sc.Checks))
	for i, cc := range sc.Checks {
		c, err := checkFromConfig(cc)
		if err != nil {
			return Def{}, fmt.Errorf("check %d: %w", i, err)
		}
		checks = append(checks, c)
	}

	sources := data.Sources{}
	if sc.Data != nil {
		name := data.NameFromPath(sc.Data.File)
		src, err := data.LoadFile(name, sc.Data.File, data.Mode(sc.Data.Mode), dir)
		if err != nil {
			return Def{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
		}
		sources[name] = src
	}

	return Def{
		Name:         sc.Name,
		Weight:       sc.Weight,
		Build:        templateBuilder(sc, sources),
		ExpectStatus: sc.ExpectStatus,
		Checks:       checks,
	}, nil
}

func checkFromConfig(cc config.CheckConfig) (Check, error) {
	var (
		c     Check
		kinds int
	)
	if len(cc.Status) > 0 {
		c = StatusIn(cc.Status...)
		kinds++
	}
	if cc.BodyContains != "" {
		c = BodyContains(cc.BodyContains)
		kinds++
	}
	if cc.BodyNotContains != "" {
		c = BodyNotContains(cc.BodyNotContains)
		kinds++
	}
	if cc.BodyMatches != "" {
		var err error
		if c, err = BodyMatches(cc.BodyMatches); err != nil {
			return Check{}, err
		}
		kinds++
	}
	if h := cc.Header; h != nil {
		switch {
		case h.Contains != "" && h.Equals != "":
			return Check{}, fmt.Errorf("%w: check %q: header %s sets both equals and contains", ErrInvalidScenario, cc.Name, h.Name)
		case h.Contains != "":
			c = HeaderContains(h.Name, h.Contains)
		case h.Equals != "":
			c = HeaderEquals(h.Name, h.Equals)
		default:
			return Check{}, fmt.Errorf("%w: check %q: header %s needs equals or contains", ErrInvalidScenario, cc.Name, h.Name)
		}
		kinds++
	}
	if j := cc.JSON; j != nil {
		c = JSONPath(j.Path, j.Equals)
		kinds++
	}

	if kinds != 1 {
		return Check{}, fmt.Errorf("%w: check %q must set exactly one condition, got %d", ErrInvalidScenario, cc.Name, kinds)
	}
	return c.Named(cc.Name), nil
}

// templateBuilder resolves the scenario's templates against per-iteration
// variables: baseURL, vu, iteration and data.<file>.<column>.
func templateBuilder(sc config.ScenarioConfig, sources data.Sources) Builder {
	method := sc.Method
	if method == "" {
		method = http.MethodGet
	}
	rawURL := sc.URL
	if rawURL == "" {
		path := sc.Path
		if path == "" {
			path = "/"
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		rawURL = "${baseURL}" + path
	}

	return func(bc BuildContext) (*Request, error) {
		vars := core.NewVariables()
		vars.Set("baseURL", bc.BaseURL)
		vars.Set("vu", bc.VU.ID)
		vars.Set("iteration", bc.VU.Iteration)
		rng := bc.VU.Rand
		sources.InjectVariables(vars, rng)

		url, err := template.Substitute(rawURL, vars, rng)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: url: %v", ErrInvalidScenario, sc.Name, err)
		}
		body, err := template.Substitute(sc.Body, vars, rng)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: body: %v", ErrInvalidScenario, sc.Name, err)
		}
		headers, err := template.SubstituteMap(sc.Headers, vars, rng)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScenario, sc.Name, err)
		}

		req := &Request{
			Method: method,
			URL:    url,
			Header: make(http.Header, len(headers)),
			Body:   body,
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

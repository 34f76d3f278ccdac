// Package template resolves ${...} placeholders in scenario request
// templates: per-iteration variables, environment lookups and built-in
// functions.
package template

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"stampede/internal/core"
)

// varPattern matches ${var}, ${env:VAR} and ${func(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute replaces placeholders in text. Functions draw randomness from
// rng so that a seeded VU produces a reproducible request stream; a nil rng
// falls back to a time-seeded source.
// Returns all errors joined if multiple placeholders fail.
func Substitute(text string, vars core.Variables, rng *rand.Rand) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]

		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			if val, ok := os.LookupEnv(envName); ok {
				return val
			}
			errs = append(errs, fmt.Errorf("env var %q not set", envName))
			return match
		}

		if val, ok, err := evalFunction(name, rng); ok {
			if err != nil {
				errs = append(errs, err)
				return match
			}
			return val
		}

		if vars != nil {
			if val, ok := vars.Get(name); ok {
				return fmt.Sprintf("%v", val)
			}
		}
		errs = append(errs, fmt.Errorf("variable %q not found", name))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// SubstituteMap applies substitution to all values in a map.
func SubstituteMap(m map[string]string, vars core.Variables, rng *rand.Rand) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]string, len(m))
	var errs []error

	for k, v := range m {
		substituted, err := Substitute(v, vars, rng)
		if err != nil {
			errs = append(errs, fmt.Errorf("header %q: %w", k, err))
			continue
		}
		result[k] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

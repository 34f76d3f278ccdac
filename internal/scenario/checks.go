package scenario

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"stampede/internal/template"
)

// StatusIn passes when the response status is one of codes.
func StatusIn(codes ...int) Check {
	codes = slices.Clone(codes)
	name := fmt.Sprintf("status in %v", codes)
	if len(codes) == 1 {
		name = fmt.Sprintf("status is %d", codes[0])
	}
	return Check{
		Name:      name,
		Predicate: func(r *Response) bool { return slices.Contains(codes, r.StatusCode) },
	}
}

func BodyContains(s string) Check {
	b := []byte(s)
	return Check{
		Name:      fmt.Sprintf("body contains %q", s),
		Predicate: func(r *Response) bool { return bytes.Contains(r.Body, b) },
	}
}

func BodyNotContains(s string) Check {
	b := []byte(s)
	return Check{
		Name:      fmt.Sprintf("body does not contain %q", s),
		Predicate: func(r *Response) bool { return !bytes.Contains(r.Body, b) },
	}
}

// BodyMatches compiles expr once; an invalid expression is a scenario error.
func BodyMatches(expr string) (Check, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Check{}, fmt.Errorf("%w: bodyMatches %q: %v", ErrInvalidScenario, expr, err)
	}
	return Check{
		Name:      fmt.Sprintf("body matches %q", expr),
		Predicate: func(r *Response) bool { return re.Match(r.Body) },
	}, nil
}

func HeaderEquals(name, value string) Check {
	return Check{
		Name:      fmt.Sprintf("header %s is %q", name, value),
		Predicate: func(r *Response) bool { return r.Header.Get(name) == value },
	}
}

func HeaderContains(name, value string) Check {
	return Check{
		Name:      fmt.Sprintf("header %s contains %q", name, value),
		Predicate: func(r *Response) bool { return strings.Contains(r.Header.Get(name), value) },
	}
}

// JSONPath passes when path exists in a JSON body and, if equals is set,
// its string form matches.
func JSONPath(path string, equals *string) Check {
	name := fmt.Sprintf("json %s exists", path)
	if equals != nil {
		name = fmt.Sprintf("json %s is %q", path, *equals)
	}
	return Check{
		Name: name,
		Predicate: func(r *Response) bool {
			v, ok := template.Lookup(r.Body, path)
			if !ok {
				return false
			}
			return equals == nil || v.String() == *equals
		},
	}
}

// Named returns c under a different name.
func (c Check) Named(name string) Check {
	if name != "" {
		c.Name = name
	}
	return c
}

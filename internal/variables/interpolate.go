package variables

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUndefinedReference is returned in strict mode when a command references
// a variable that has no binding anywhere in the context.
var ErrUndefinedReference = errors.New("variables: undefined reference")

// bracedPattern matches ${dotted.path}; bareWordPattern matches $identifier.
// A dedicated regex expander fits this narrow substitution contract better
// than a general templating engine — see DESIGN.md for the stdlib
// justification; the corpus's templating-capable libraries all assume
// control-flow blocks this spec explicitly does not need.
var (
	bracedPattern   = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)
	bareWordPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// Interpolate expands ${name} and $name references in template against c.
// Undefined references are a runtime error before any command runs, unless
// lax is true, in which case an unresolved ${name} expands to an empty string
// and an unresolved $name is left verbatim.
func Interpolate(template string, c *Context, lax bool) (string, error) {
	var firstErr error

	expand := func(name string) string {
		if v, ok := c.Lookup(name); ok {
			return v
		}
		if !lax && firstErr == nil {
			firstErr = fmt.Errorf("%w: %s", ErrUndefinedReference, name)
		}
		return ""
	}

	result := bracedPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := bracedPattern.FindStringSubmatch(m)[1]
		if !lax {
			if v, ok := c.Lookup(name); ok {
				return v
			}
			firstErr = fmt.Errorf("%w: %s", ErrUndefinedReference, name)
			return m
		}
		return expand(name)
	})
	if firstErr != nil {
		return "", firstErr
	}

	result = bareWordPattern.ReplaceAllStringFunc(result, func(m string) string {
		name := bareWordPattern.FindStringSubmatch(m)[1]
		if v, ok := c.Lookup(name); ok {
			return v
		}
		if !lax {
			firstErr = fmt.Errorf("%w: %s", ErrUndefinedReference, name)
			return m
		}
		return m
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// InterpolateEnv expands every value in an env map, returning the first error.
func InterpolateEnv(env map[string]string, c *Context, lax bool) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for k, v := range env {
		expanded, err := Interpolate(v, c, lax)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}

// Package routes matches request paths against route patterns.
//
// Patterns are globs ("/static/**", "/users/*") and may use Fiber (":id") or
// brace ("{id}") parameters, each of which matches exactly one path segment.
package routes

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type Matcher struct {
	patterns []string
}

// NewMatcher compiles routes in order. Blank routes are dropped.
func NewMatcher(routes []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]string, 0, len(routes))}
	for _, route := range routes {
		pattern := Normalize(route)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid route pattern %q", route)
		}
		m.patterns = append(m.patterns, pattern)
	}
	return m, nil
}

// Normalize rewrites route parameters as single segment wildcards.
func Normalize(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return ""
	}
	segments := strings.Split(route, "/")
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, ":"):
			segments[i] = "*"
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

func (m *Matcher) Match(path string) bool {
	return m.Index(path) >= 0
}

// Index returns the position of the first pattern matching path, or -1.
func (m *Matcher) Index(path string) int {
	for i, pattern := range m.patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return i
		}
	}
	return -1
}

func (m *Matcher) Len() int {
	return len(m.patterns)
}

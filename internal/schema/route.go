// Package schema maps application entity ids to souls and back.
//
// Every mapping here is pure: no store access, no I/O. Malformed input
// yields ok=false rather than an error so bulk scans can skip it.
package schema

import (
	"fmt"
	"strings"
)

// Route is a soul pattern made of literal segments and ":param" segments,
// e.g. "nab/things/:thingId/data". A param matches exactly one non-empty
// segment.
type Route struct {
	pattern  string
	segments []string
}

// NewRoute compiles a pattern. Panics on an empty pattern or a duplicate
// param name since routes are package-level constants.
func NewRoute(pattern string) Route {
	if pattern == "" {
		panic("schema: empty route pattern")
	}
	segments := strings.Split(pattern, "/")
	seen := make(map[string]bool)
	for _, seg := range segments {
		if name, ok := paramName(seg); ok {
			if seen[name] {
				panic(fmt.Sprintf("schema: duplicate param %q in %q", name, pattern))
			}
			seen[name] = true
		}
	}
	return Route{pattern: pattern, segments: segments}
}

// Pattern returns the source pattern.
func (r Route) Pattern() string {
	return r.pattern
}

// Prefix returns the literal prefix before the first param, including the
// trailing slash. Range scans start here.
func (r Route) Prefix() string {
	var b strings.Builder
	for _, seg := range r.segments {
		if _, ok := paramName(seg); ok {
			break
		}
		b.WriteString(seg)
		b.WriteByte('/')
	}
	return b.String()
}

// Match extracts params from soul. Returns ok=false when soul does not
// have the route's shape.
func (r Route) Match(soul string) (map[string]string, bool) {
	parts := strings.Split(soul, "/")
	if len(parts) != len(r.segments) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range r.segments {
		if name, ok := paramName(seg); ok {
			if parts[i] == "" {
				return nil, false
			}
			params[name] = parts[i]
			continue
		}
		if parts[i] != seg {
			return nil, false
		}
	}
	return params, true
}

// Reverse builds the soul for params. Returns ok=false when a param is
// missing, empty, or contains a slash.
func (r Route) Reverse(params map[string]string) (string, bool) {
	parts := make([]string, len(r.segments))
	for i, seg := range r.segments {
		name, ok := paramName(seg)
		if !ok {
			parts[i] = seg
			continue
		}
		v := params[name]
		if !validSegment(v) {
			return "", false
		}
		parts[i] = v
	}
	return strings.Join(parts, "/"), true
}

func paramName(seg string) (string, bool) {
	if len(seg) > 1 && seg[0] == ':' {
		return seg[1:], true
	}
	return "", false
}

func validSegment(v string) bool {
	return v != "" && !strings.Contains(v, "/")
}

// Package redact masks sensitive fields in captured bodies and header maps.
//
// Masking is keyed on field names, never on values, so applying it twice
// yields the same result as applying it once. Only JSON objects are walked;
// arrays are left exactly as they were captured.
package redact

import "strings"

// MaskToken replaces redacted string values.
const MaskToken = "******"

const authorizationHeader = "authorization"

// Policy is an immutable set of field names subject to masking.
// Matching against object keys and header names is case-sensitive.
type Policy struct {
	fields map[string]struct{}
}

// NewPolicy builds a policy from field names. Duplicates are ignored.
func NewPolicy(fields ...string) Policy {
	p := Policy{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		p.fields[f] = struct{}{}
	}
	return p
}

// Has reports whether name is a sensitive field.
func (p Policy) Has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

// Len returns the number of distinct fields in the policy.
func (p Policy) Len() int {
	return len(p.fields)
}

// Fields returns the policy fields in no particular order.
func (p Policy) Fields() []string {
	out := make([]string, 0, len(p.fields))
	for f := range p.fields {
		out = append(out, f)
	}
	return out
}

// Value masks sensitive keys inside v and returns it. Objects are modified in
// place. A sensitive string becomes MaskToken, any other sensitive value
// becomes nil. Non-object roots and arrays are returned untouched.
func Value(v any, p Policy) any {
	if obj, ok := v.(map[string]any); ok {
		maskObject(obj, p)
	}
	return v
}

func maskObject(obj map[string]any, p Policy) {
	for key, val := range obj {
		if nested, ok := val.(map[string]any); ok {
			if p.Has(key) {
				obj[key] = nil
				continue
			}
			maskObject(nested, p)
			continue
		}
		if !p.Has(key) {
			continue
		}
		if _, ok := val.(string); ok {
			obj[key] = MaskToken
		} else {
			obj[key] = nil
		}
	}
}

// Headers masks a flat header map in place and returns it.
//
// The Authorization header (any case) keeps its scheme and loses the
// credential: "Bearer abc" becomes "Bearer ******". Other headers are fully
// replaced when their name is in the policy.
func Headers(h map[string]string, p Policy) map[string]string {
	for key, val := range h {
		if strings.EqualFold(key, authorizationHeader) {
			h[key] = maskAuthorization(val)
			continue
		}
		if p.Has(key) {
			h[key] = MaskToken
		}
	}
	return h
}

func maskAuthorization(val string) string {
	scheme, _, _ := strings.Cut(val, " ")
	return scheme + " " + MaskToken
}

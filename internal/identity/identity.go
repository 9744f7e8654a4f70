// Package identity parses and matches the project:stack:context identifiers
// agents use to describe themselves and the lock/channel/service names they
// address. Matching supports a single "*" wildcard per segment without
// pulling in regexp, since patterns are compared on every lock and webhook
// dispatch and must stay allocation-light and ReDoS-free.
package identity

import "strings"

// maxSegmentLen is the longest a single project/stack/context segment may be.
const maxSegmentLen = 64

// Identity is a parsed project:stack:context triple. Stack and Context may
// be empty: one to three segments are all valid identities.
type Identity struct {
	Project string
	Stack   string
	Context string
}

// String renders the identity back to its canonical colon-delimited form,
// dropping trailing empty segments the same way Parse does.
func (id Identity) String() string {
	switch {
	case id.Context != "":
		return id.Project + ":" + id.Stack + ":" + id.Context
	case id.Stack != "":
		return id.Project + ":" + id.Stack
	default:
		return id.Project
	}
}

// Parse splits "project[:stack[:context]]" into an Identity. It returns
// false if s is empty, has more than three colon-delimited segments, any
// non-trailing segment is empty, or any segment has a character outside
// [A-Za-z0-9._*-] or is longer than 64 characters. Trailing empty segments
// (e.g. "myapp:" or "myapp::") are dropped rather than rejected.
func Parse(s string) (Identity, bool) {
	if s == "" {
		return Identity{}, false
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Identity{}, false
	}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return Identity{}, false
	}

	for _, p := range parts {
		if !validSegment(p) {
			return Identity{}, false
		}
	}

	id := Identity{Project: parts[0]}
	if len(parts) >= 2 {
		id.Stack = parts[1]
	}
	if len(parts) == 3 {
		id.Context = parts[2]
	}
	return id, true
}

// validSegment reports whether s is a non-empty string of at most
// maxSegmentLen characters drawn from [A-Za-z0-9._*-].
func validSegment(s string) bool {
	if s == "" || len(s) > maxSegmentLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '*', r == '-':
		default:
			return false
		}
	}
	return true
}

// Match reports whether pattern matches s, where pattern is a colon-delimited
// string whose segments may each be "*" to match any value in that position.
// Positions past the end of the pattern are unconstrained (e.g. "acme"
// matches any stack/context of project acme, "acme:*" matches any stack, any
// context). Any other pattern segment, including an empty one, must equal the
// subject's segment, and the subject must have at least as many segments as
// the pattern.
func Match(pattern, s string) bool {
	patParts := strings.Split(pattern, ":")
	parts := strings.Split(s, ":")

	for i, p := range patParts {
		if i >= len(parts) {
			return false
		}
		if p == "*" {
			continue
		}
		if p != parts[i] {
			return false
		}
	}
	return true
}

// MatchAny reports whether pattern matches any of the given subjects.
func MatchAny(pattern string, subjects []string) bool {
	for _, s := range subjects {
		if Match(pattern, s) {
			return true
		}
	}
	return false
}

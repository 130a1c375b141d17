package catalog

import "strings"

// Match reports whether eventType satisfies a subscription pattern.
//
//	"payment.confirmed"  exact
//	"payment.*"          one wildcard segment
//	"*"                  everything
func Match(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}

	pp := strings.Split(pattern, ".")
	ep := strings.Split(eventType, ".")
	if len(pp) != len(ep) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != ep[i] {
			return false
		}
	}
	return true
}

// MatchAny reports whether any pattern matches eventType.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}

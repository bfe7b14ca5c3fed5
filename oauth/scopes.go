package oauth

import (
	"strings"
)

const DefaultScope = "read:locations"

// Scopes is the catalog of every scope an application may be granted.
var Scopes = []string{
	"read:locations",
	"write:locations",
	"read:compliance",
	"write:compliance",
	"read:incidents",
	"write:incidents",
	"read:staff",
	"write:staff",
	"read:analytics",
	"read:reports",
	"webhooks:manage",
	"integrations:manage",
}

func IsKnownScope(scope string) bool {
	for _, s := range Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ParseScope splits a space-separated scope string, dropping duplicates.
// An empty string yields the baseline scope.
func ParseScope(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return []string{DefaultScope}
	}
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// InvalidScopes returns the requested scopes that are either unknown or not
// allowed for the application, in request order.
func InvalidScopes(requested, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	var invalid []string
	for _, s := range requested {
		if !IsKnownScope(s) || !allowedSet[s] {
			invalid = append(invalid, s)
		}
	}
	return invalid
}

package oauth

import (
	"net/url"
	"strings"
)

// resolveRedirectURI picks the redirect target for an authorization request.
// An empty request uses the first registered URI. Otherwise the requested URI
// must share origin and exact path with a registered one.
func resolveRedirectURI(registered []string, requested string) (string, bool) {
	if requested == "" {
		if len(registered) == 0 {
			return "", false
		}
		return registered[0], true
	}
	req, err := url.Parse(requested)
	if err != nil || req.Scheme == "" || req.Host == "" {
		return "", false
	}
	for _, r := range registered {
		reg, err := url.Parse(r)
		if err != nil || reg.Scheme == "" || reg.Host == "" {
			continue
		}
		if sameOrigin(reg, req) && reg.Path == req.Path {
			return requested, true
		}
	}
	return "", false
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// buildRedirectURL appends code and, when present, state to the redirect URI.
func buildRedirectURL(redirectURI, code, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

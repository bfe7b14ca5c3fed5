package platforms

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"golang.org/x/oauth2"
)

// refreshLeeway refreshes tokens slightly before they actually expire.
const refreshLeeway = time.Minute

// TokenRefresher renews OAuth2 platform credentials. The token endpoint and
// app credentials come from <PLATFORM>_TOKEN_URL, <PLATFORM>_CLIENT_ID and
// <PLATFORM>_CLIENT_SECRET.
type TokenRefresher struct {
	http *http.Client
	now  func() time.Time
}

func NewTokenRefresher(timeout time.Duration) *TokenRefresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenRefresher{
		http: &http.Client{Timeout: timeout},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func oauthConfig(platform string) (*oauth2.Config, bool) {
	prefix := strings.ToUpper(platform)
	tokenURL := strings.TrimSpace(os.Getenv(prefix + "_TOKEN_URL"))
	if tokenURL == "" {
		return nil, false
	}
	return &oauth2.Config{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}, true
}

// NeedsRefresh reports whether creds expire within the leeway and can be
// refreshed at all.
func (r *TokenRefresher) NeedsRefresh(creds Credentials) bool {
	if creds.ExpiresAt == nil || creds.RefreshToken == "" {
		return false
	}
	return !creds.ExpiresAt.After(r.now().Add(refreshLeeway))
}

// Refresh exchanges the refresh token for a new access token. ok is false
// when nothing needed refreshing.
func (r *TokenRefresher) Refresh(ctx context.Context, platform string, creds Credentials) (Credentials, bool, error) {
	if !r.NeedsRefresh(creds) {
		return creds, false, nil
	}
	cfg, ok := oauthConfig(platform)
	if !ok {
		return creds, false, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.http)
	src := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       r.now().Add(-time.Second),
	})
	tok, err := src.Token()
	if err != nil {
		return creds, false, utils.NewUpstreamError(err, "refresh %s credentials", platform)
	}
	out := creds
	out.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.ExpiresAt = &exp
	} else {
		out.ExpiresAt = nil
	}
	return out, true, nil
}

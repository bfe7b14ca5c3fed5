package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
)

func newTestRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/oauth/authorize", AuthorizeHandler(s))
	r.POST("/oauth/authorize", AuthorizeHandler(s))
	r.POST("/oauth/token", TokenHandler(s))
	r.POST("/oauth/revoke", RevokeHandler(s))
	api := r.Group("/api/v1", BearerAuth(s))
	api.GET("/staff", RequireScope("read:staff"), func(c *gin.Context) {
		tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"tenant_id": tenantId})
	})
	api.GET("/webhooks", RequireScope("webhooks:manage"), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := newTestRouter(s)

	q := url.Values{}
	q.Set("client_id", testClientId)
	q.Set("response_type", "code")
	q.Set("scope", "read:locations read:staff")
	q.Set("code_challenge", rfcChallenge)
	q.Set("code_challenge_method", "S256")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("authorize status %d: %s", w.Code, w.Body.String())
	}
	var auth AuthorizeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &auth); err != nil {
		t.Fatalf("decode: %v", err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", auth.Code)
	form.Set("redirect_uri", testRedirectURI)
	form.Set("client_id", testClientId)
	form.Set("code_verifier", rfcVerifier)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("token status %d: %s", w.Code, w.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/staff", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tenant-1") {
		t.Fatalf("scoped call: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing scope should be 403, got %d", w.Code)
	}
}

func TestTokenHandlerReturnsOAuthErrorBody(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := newTestRouter(s)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(`{"grant_type":"authorization_code","code":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != ErrCodeInvalidGrant {
		t.Fatalf("body = %v", body)
	}
}

func TestBearerAuthRejectsMissingAndForgedTokens(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := newTestRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/staff", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}

	forged, err := utils.JwtGenerate([]byte("other-key"), testClientId, "tenant-1", "read:staff", s.now(), time.Hour)
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/staff", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: %d", w.Code)
	}
}

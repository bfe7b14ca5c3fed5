package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func init() { gin.SetMode(gin.TestMode) }

func testApp() *App {
	s := config.Settings{
		GoEnv:            "test",
		InternalAPIToken: "internal-token",
		JWTSigningKey:    "signing-key",
		RateLimitBackend: RateLimitBackendRedis,
	}
	return New(s, nil, nil, nil, logrus.New())
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRouterReadinessGate(t *testing.T) {
	ready := false
	r := testApp().Router(func() bool { return ready })

	if w := serve(r, http.MethodGet, "/healthz", nil); w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/rate-limit", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready = %d", w.Code)
	}
	ready = true
	if w := serve(r, http.MethodGet, "/api/v1/rate-limit", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("ready without bearer = %d", w.Code)
	}
}

func TestRouterAuthBoundaries(t *testing.T) {
	r := testApp().Router(func() bool { return true })

	cases := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"api requires bearer", http.MethodGet, "/api/v1/integrations", nil, http.StatusUnauthorized},
		{"webhooks require bearer", http.MethodPost, "/api/v1/webhooks", nil, http.StatusUnauthorized},
		{"internal requires token", http.MethodPost, "/internal/jobs/cleanup", nil, http.StatusUnauthorized},
		{"internal rejects wrong token", http.MethodPost, "/internal/events", map[string]string{"X-Internal-Token": "nope"}, http.StatusUnauthorized},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		if w := serve(r, tc.method, tc.path, tc.headers); w.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}

func TestNewFallsBackToDatabaseRateLimitWithoutRedis(t *testing.T) {
	a := testApp()
	if a.Limiter == nil || a.RateLimit == nil {
		t.Fatalf("rate limiter not wired")
	}
	if a.Engine == nil || a.Health == nil || a.Cleaner == nil || a.Retry == nil || a.Events == nil {
		t.Fatalf("components not wired: %+v", a)
	}
}

func TestCORSConfig(t *testing.T) {
	dev := CORSConfig(false, nil)
	if !dev.AllowAllOrigins {
		t.Fatalf("development should allow all origins")
	}
	prod := CORSConfig(true, nil)
	if prod.AllowAllOrigins || prod.AllowOriginFunc == nil || prod.AllowOriginFunc("https://evil.example.com") {
		t.Fatalf("production without origins should reject every origin")
	}
	prod = CORSConfig(true, []string{"https://app.example.com"})
	if len(prod.AllowOrigins) != 1 || prod.AllowOrigins[0] != "https://app.example.com" {
		t.Fatalf("production origins = %+v", prod.AllowOrigins)
	}
}

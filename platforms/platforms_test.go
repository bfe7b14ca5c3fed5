package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/fieldmap"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
)

var fastClient = ClientOptions{Timeout: 2 * time.Second, RatePerMinute: 60000}

func adapterFor(t *testing.T, reg *Registry, platform string) *RESTAdapter {
	t.Helper()
	a, err := reg.Get(platform)
	if err != nil {
		t.Fatalf("get %s: %v", platform, err)
	}
	return a.(*RESTAdapter)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewBuiltinRegistry(BuiltinOptions{Client: fastClient})
	want := []string{"adp", "clover", "google_workspace", "gusto", "quickbooks", "square", "toast", "xero"}
	got := reg.Platforms()
	if len(got) != len(want) {
		t.Fatalf("platforms = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("platforms = %v want %v", got, want)
		}
	}
	if _, err := reg.Get("myspace"); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("expected ErrUnknownPlatform, got %v", err)
	}
	if a := adapterFor(t, reg, "gusto"); a.Category() != models.PlatformCategoryPayroll {
		t.Fatalf("gusto category = %s", a.Category())
	}
	// every default field map has an adapter endpoint behind it
	for platform, entities := range fieldmap.Defaults {
		a := adapterFor(t, reg, platform)
		for entity := range entities {
			if _, err := a.endpoint(entity); err != nil {
				t.Fatalf("%s/%s: %v", platform, entity, err)
			}
		}
	}
}

func TestPullFollowsCursorAndNormalizesAmounts(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Query().Get("cursor"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer sq-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v2/payments" || r.URL.Query().Get("updated_since") != "2025-01-01T00:00:00Z" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"data":[{"id":"p1","updated_at":"2025-02-01T10:00:00Z","amount_money":{"amount":1299,"currency":"USD"}}],"next_cursor":"c2"}`))
			return
		}
		w.Write([]byte(`{"items":[{"id":"p2","amount_money":{"amount":5,"currency":"USD"}}],"next_cursor":"","has_more":false}`))
	}))
	defer srv.Close()
	t.Setenv("SQUARE_API_BASE_URL", srv.URL)

	a := adapterFor(t, NewBuiltinRegistry(BuiltinOptions{Client: fastClient}), "square")
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recs, err := a.Pull(context.Background(), Credentials{AccessToken: "sq-token"}, fieldmap.EntityTransactions, &since)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(recs) != 2 || len(seen) != 2 || seen[1] != "c2" {
		t.Fatalf("records=%d cursors=%v", len(recs), seen)
	}
	if recs[0].ExternalId != "p1" || !recs[0].UpdatedAt.Equal(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	mapped, _ := fieldmap.MapFields(recs[0].Data, fieldmap.Defaults["square"][fieldmap.EntityTransactions], false)
	if mapped["amount"] != "12.99" || mapped["currency"] != "USD" {
		t.Fatalf("amount not normalized: %+v", mapped)
	}
	if got, _ := fieldmap.MapFields(recs[1].Data, fieldmap.Defaults["square"][fieldmap.EntityTransactions], false); got["amount"] != "0.05" {
		t.Fatalf("small amount = %v", got["amount"])
	}
}

func TestPullNormalizesPayrollPhones(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"uuid":"e1","first_name":"Ada","phone":"(512) 555-0142"},{"uuid":"e2","phone":"not a phone"}]}`))
	}))
	defer srv.Close()
	t.Setenv("GUSTO_API_BASE_URL", srv.URL)

	a := adapterFor(t, NewBuiltinRegistry(BuiltinOptions{Client: fastClient, PhoneDefaultRegion: "US"}), "gusto")
	recs, err := a.Pull(context.Background(), Credentials{AccessToken: "t"}, fieldmap.EntityEmployees, nil)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if recs[0].Data["phone"] != "+15125550142" {
		t.Fatalf("phone = %v", recs[0].Data["phone"])
	}
	if recs[1].Data["phone"] != "not a phone" {
		t.Fatalf("unparseable phone should be kept, got %v", recs[1].Data["phone"])
	}
}

func TestPullUpstreamErrorAndUnsupportedEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv("XERO_API_BASE_URL", srv.URL)

	a := adapterFor(t, NewBuiltinRegistry(BuiltinOptions{Client: fastClient}), "xero")
	if _, err := a.Pull(context.Background(), Credentials{AccessToken: "t"}, fieldmap.EntityInvoices, nil); !utils.IsKind(err, utils.ErrKindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if _, err := a.Pull(context.Background(), Credentials{AccessToken: "t"}, fieldmap.EntityEmployees, nil); !errors.Is(err, ErrUnsupportedEntity) {
		t.Fatalf("expected ErrUnsupportedEntity, got %v", err)
	}
	if _, err := a.Pull(context.Background(), Credentials{}, fieldmap.EntityInvoices, nil); !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
}

func TestPushCreatesAndUpdates(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls[r.Method+" "+r.URL.Path] = body
		mu.Unlock()
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"data":{"uuid":"new-1"}}`))
		case r.URL.Path == "/v1/employees/broken":
			w.WriteHeader(http.StatusUnprocessableEntity)
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()
	t.Setenv("GUSTO_API_BASE_URL", srv.URL)

	a := adapterFor(t, NewBuiltinRegistry(BuiltinOptions{Client: fastClient}), "gusto")
	results, err := a.Push(context.Background(), Credentials{AccessToken: "t"}, fieldmap.EntityEmployees, []OutboundRecord{
		{CanonicalId: "c1", Data: map[string]any{"first_name": "Ada"}},
		{CanonicalId: "c2", ExternalId: "e2", Data: map[string]any{"first_name": "Grace"}},
		{CanonicalId: "c3", ExternalId: "broken", Data: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].Created || results[0].ExternalId != "new-1" || results[0].Err != nil {
		t.Fatalf("create result %+v", results[0])
	}
	if results[1].Created || results[1].ExternalId != "e2" || results[1].Err != nil {
		t.Fatalf("update result %+v", results[1])
	}
	if results[2].Err == nil {
		t.Fatalf("expected failure for the rejected record")
	}
	if calls["PUT /v1/employees/e2"]["first_name"] != "Grace" {
		t.Fatalf("update body = %+v", calls["PUT /v1/employees/e2"])
	}
}

func TestTokenRefresher(t *testing.T) {
	var grant, refresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		grant = r.PostForm.Get("grant_type")
		refresh = r.PostForm.Get("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()
	t.Setenv("QUICKBOOKS_TOKEN_URL", srv.URL)
	t.Setenv("QUICKBOOKS_CLIENT_ID", "id")
	t.Setenv("QUICKBOOKS_CLIENT_SECRET", "secret")

	r := NewTokenRefresher(time.Second)
	future := time.Now().Add(time.Hour)
	if _, ok, err := r.Refresh(context.Background(), "quickbooks", Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: &future}); ok || err != nil {
		t.Fatalf("fresh token should not be refreshed: ok=%v err=%v", ok, err)
	}

	past := time.Now().Add(-time.Minute)
	creds, ok, err := r.Refresh(context.Background(), "quickbooks", Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: &past})
	if err != nil || !ok {
		t.Fatalf("refresh: ok=%v err=%v", ok, err)
	}
	if grant != "refresh_token" || refresh != "r" {
		t.Fatalf("token request grant=%q refresh=%q", grant, refresh)
	}
	if creds.AccessToken != "new-access" || creds.RefreshToken != "new-refresh" || creds.ExpiresAt == nil || !creds.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected refreshed credentials %+v", creds)
	}
}

package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type memLog struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memLog) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) Count(_ context.Context, clientId string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.ClientId == clientId && !e.At.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memLog) fill(clientId string, at time.Time, n int) {
	for i := 0; i < n; i++ {
		m.entries = append(m.entries, Entry{ClientId: clientId, At: at})
	}
}

type staticTiers string

func (s staticTiers) TierName(context.Context, string) (string, error) { return string(s), nil }

func TestTierForFallsBackToFree(t *testing.T) {
	if got := TierFor("platinum"); got.Name != "free" || got.RequestsPerMinute != 60 {
		t.Fatalf("unknown tier = %+v", got)
	}
	if got := TierFor("enterprise"); got.RequestsPerDay != 1000000 || got.Burst != 1000 {
		t.Fatalf("enterprise tier = %+v", got)
	}
}

func TestResetAtNextMinuteBoundary(t *testing.T) {
	mid := time.Date(2025, 1, 1, 10, 15, 30, 0, time.UTC)
	if got := ResetAt(mid); !got.Equal(time.Date(2025, 1, 1, 10, 16, 0, 0, time.UTC)) {
		t.Fatalf("reset = %s", got)
	}
	edge := time.Date(2025, 1, 1, 10, 16, 0, 0, time.UTC)
	if got := ResetAt(edge); !got.Equal(time.Date(2025, 1, 1, 10, 17, 0, 0, time.UTC)) {
		t.Fatalf("boundary reset = %s", got)
	}
}

func TestCheckMinuteAndDayLimits(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 30, 20, 0, time.UTC)
	cases := []struct {
		name      string
		minute    int
		earlier   int
		allowed   bool
		remaining int64
	}{
		{"fresh", 0, 0, true, 60},
		{"one under minute limit", 59, 0, true, 1},
		{"at minute limit", 60, 0, false, 0},
		{"over minute limit", 75, 0, false, 0},
		{"day exhausted", 0, 1000, false, 60},
		{"day one short", 10, 989, true, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log := &memLog{}
			log.fill("c1", now.Add(-10*time.Second), tc.minute)
			log.fill("c1", now.Add(-2*time.Hour), tc.earlier)
			log.fill("c2", now, 500)
			l := NewLimiter(log)
			l.now = func() time.Time { return now }

			res, err := l.Check(context.Background(), "c1", "free")
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if res.Allowed != tc.allowed || res.Remaining != tc.remaining {
				t.Fatalf("allowed=%v remaining=%d, want %v/%d", res.Allowed, res.Remaining, tc.allowed, tc.remaining)
			}
			if res.Headers["X-RateLimit-Limit"] != "60" || res.Reset != ResetAt(now).Unix() {
				t.Fatalf("headers = %v reset=%d", res.Headers, res.Reset)
			}
		})
	}
}

func TestCheckDayWindowStartsAtUTCMidnight(t *testing.T) {
	now := time.Date(2025, 6, 10, 0, 5, 0, 0, time.UTC)
	log := &memLog{}
	log.fill("c1", now.Add(-10*time.Minute), 1000)
	l := NewLimiter(log)
	l.now = func() time.Time { return now }
	res, err := l.Check(context.Background(), "c1", "free")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Allowed || res.Current.Day != 0 {
		t.Fatalf("yesterday's requests counted: %+v", res.Current)
	}
}

func TestMiddlewareDeniesAndRecords(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now().UTC()
	counter := &memLog{}
	after := &memLog{}
	l := NewLimiter(counter)
	l.now = func() time.Time { return now }
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	mw := NewMiddleware(l, staticTiers("free"), counter, after, logger)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := utils.SetClientIdInContext(c.Request.Context(), "c1")
		c.Request = c.Request.WithContext(utils.SetTenantIdInContext(ctx, "t1"))
		c.Next()
	})
	r.Use(mw.Handler())
	r.GET("/api/v1/things", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/things", nil))
	if w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Remaining") != "60" {
		t.Fatalf("first call: %d %v", w.Code, w.Header())
	}
	if n, _ := counter.Count(context.Background(), "c1", now.Add(-time.Minute)); n != 1 {
		t.Fatalf("admitted request not recorded, count=%d", n)
	}

	counter.fill("c1", now, 59)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/things", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining header = %s", w.Header().Get("X-RateLimit-Remaining"))
	}
	if !strings.Contains(w.Body.String(), `"kind":"rate_limited"`) {
		t.Fatalf("429 body = %s", w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		after.mu.Lock()
		n := len(after.entries)
		after.mu.Unlock()
		if n == 1 {
			after.mu.Lock()
			e := after.entries[0]
			after.mu.Unlock()
			if e.Status != http.StatusOK || e.Path != "/api/v1/things" || e.TenantId != "t1" {
				t.Fatalf("request log entry = %+v", e)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request log row was not written")
}

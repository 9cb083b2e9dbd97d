package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coordinator/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Test that when rate limiting is disabled, middleware lets all requests through.
func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, w.Code)
		}
	}
}

// Test basic per-IP rate limiting behaviour.
func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// First request should pass.
	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected status 200 for first request, got %d", w1.Code)
	}

	// Second immediate request from same "IP" should be limited.
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 for second request, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
	if !strings.Contains(w2.Body.String(), `"error":"RATE_LIMIT_EXCEEDED"`) {
		t.Fatalf("expected rate limit error code in body, got %s", w2.Body.String())
	}

	// A different forwarded client has its own budget.
	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req3.Header.Set("X-Forwarded-For", "10.0.0.7, 192.168.1.1")
	router.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("expected status 200 for another client, got %d", w3.Code)
	}
}

func TestHTTPRateLimitMiddleware_MaxConcurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 100
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 1

	entered := make(chan struct{})
	release := make(chan struct{})
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/slow", func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})
	router.GET("/fast", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
		done <- w.Code
	}()
	<-entered

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while the slot is taken, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"SERVICE_UNAVAILABLE"`) {
		t.Fatalf("expected service unavailable code in body, got %s", w.Body.String())
	}

	close(release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("slow request: expected 200, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "192.0.2.1:5555", "", "192.0.2.1"},
		{"single forwarded", "192.0.2.1:5555", "203.0.113.9", "203.0.113.9"},
		{"forwarded chain", "192.0.2.1:5555", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"garbage forwarded", "192.0.2.1:5555", "not-an-ip", "192.0.2.1"},
		{"no port", "pipe", "", "pipe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(r); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimiterStore_EvictsIdleEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	store := newRateLimiterStore(rate.Limit(1), 1)
	store.now = func() time.Time { return now }

	store.getLimiter("a")
	store.getLimiter("b")
	if store.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", store.size())
	}

	now = now.Add(2 * limiterIdleTTL)
	store.getLimiter("c")
	if store.size() != 1 {
		t.Fatalf("expected idle limiters to be evicted, got %d", store.size())
	}
}

func TestConnectionLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 2
	cfg.RateLimiting.WebSocket.MaxConcurrent = 1

	l := NewConnectionLimiter(cfg)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "198.51.100.4:1000"

	release, ok := l.Acquire(r)
	if !ok {
		t.Fatal("first connection should be admitted")
	}
	if _, ok := l.Acquire(r); ok {
		t.Fatal("second concurrent connection should exceed max_concurrent_connections")
	}

	release()
	release() // idempotent

	// Rejection at the concurrency cap does not spend the per-minute budget.
	release2, ok := l.Acquire(r)
	if !ok {
		t.Fatal("expected a connection after release")
	}
	release2()
}

func TestConnectionLimiter_PerIPBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 1
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	l := NewConnectionLimiter(cfg)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "198.51.100.4:1000"

	if _, ok := l.Acquire(r); !ok {
		t.Fatal("first connection should be admitted")
	}
	if _, ok := l.Acquire(r); ok {
		t.Fatal("second connection within the minute should be rejected")
	}

	other := httptest.NewRequest(http.MethodGet, "/ws", nil)
	other.RemoteAddr = "198.51.100.5:1000"
	if _, ok := l.Acquire(other); !ok {
		t.Fatal("another IP should be admitted")
	}
}

func TestConnectionLimiter_DisabledIsNilAndAdmits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	l := NewConnectionLimiter(cfg)
	if l != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	release, ok := l.Acquire(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !ok || release == nil {
		t.Fatal("nil limiter should admit")
	}
	release()
}

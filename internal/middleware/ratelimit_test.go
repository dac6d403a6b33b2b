package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DukeRupert/chartlens/internal/auth"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// MemoryLimiter Tests
// =============================================================================

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "ip:1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	now = now.Add(20 * time.Second)
	ok, retry, err := l.Allow(ctx, "ip:1.2.3.4")
	if err != nil || ok {
		t.Fatalf("third request: ok=%v err=%v, want rejected", ok, err)
	}
	if retry != 40*time.Second {
		t.Errorf("retryAfter = %v, want 40s", retry)
	}

	if ok, _, _ := l.Allow(ctx, "ip:5.6.7.8"); !ok {
		t.Error("other keys have their own window")
	}

	now = now.Add(40 * time.Second)
	if ok, _, _ := l.Allow(ctx, "ip:1.2.3.4"); !ok {
		t.Error("a new window should allow again")
	}
}

func TestMemoryLimiter_Evict(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	_, _, _ = l.Allow(context.Background(), "a")
	now = now.Add(2 * time.Minute)
	l.evict()

	if len(l.entries) != 0 {
		t.Errorf("expected stale entries evicted, have %d", len(l.entries))
	}
}

func TestMemoryLimiter_RunStopsWithContext(t *testing.T) {
	l := NewMemoryLimiter(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// =============================================================================
// RedisLimiter Tests (integration)
// =============================================================================

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	prefix := "test-" + uuid.NewString()
	l := NewRedisLimiter(client, prefix, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "ip:1.2.3.4")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, retry, err := l.Allow(ctx, "ip:1.2.3.4")
	if err != nil || ok {
		t.Fatalf("third request: ok=%v err=%v, want rejected", ok, err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Errorf("retryAfter = %v, want within the window", retry)
	}
}

// =============================================================================
// Rate Limit Middleware Tests
// =============================================================================

type fakeLimiter struct {
	allowed bool
	retry   time.Duration
	err     error
	keys    []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	f.keys = append(f.keys, key)
	return f.allowed, f.retry, f.err
}

func TestRateLimitMiddleware_Rejects(t *testing.T) {
	limiter := &fakeLimiter{allowed: false, retry: 1500 * time.Millisecond}
	mw := NewRateLimitMiddleware("analyze", limiter, false, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	mw.Limit(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "rate_limit" {
		t.Errorf("code = %q, want rate_limit", body.Error.Code)
	}
	if limiter.keys[0] != "ip:10.0.0.1" {
		t.Errorf("key = %q, want ip:10.0.0.1", limiter.keys[0])
	}
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}
	mw := NewRateLimitMiddleware("analyze", limiter, false, testLogger())
	user := newTestUser()

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", nil)
	req = req.WithContext(auth.SetUser(req.Context(), user))
	rec := httptest.NewRecorder()
	mw.Limit(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if limiter.keys[0] != "user:"+user.ID.String() {
		t.Errorf("key = %q, want user id", limiter.keys[0])
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mw := NewRateLimitMiddleware("auth", &fakeLimiter{err: errors.New("redis: connection refused")}, false, testLogger())

	rec := httptest.NewRecorder()
	mw.Limit(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the limiter is down", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remote     string
		trustProxy bool
		want       string
	}{
		{"headers ignored by default", "203.0.113.7", "198.51.100.4", "10.0.0.1:1", false, "10.0.0.1"},
		{"last forwarded hop", "203.0.113.7, 198.51.100.20", "", "10.0.0.1:1", true, "198.51.100.20"},
		{"real ip", "203.0.113.7", "198.51.100.4", "10.0.0.1:1", true, "198.51.100.4"},
		{"remote addr", "", "", "192.0.2.9:443", true, "192.0.2.9"},
		{"remote without port", "", "", "192.0.2.9", false, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := getClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware_SpoofedForwardedForSharesKey(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	mw := NewRateLimitMiddleware("auth", limiter, false, testLogger())
	h := mw.Limit(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 2)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.50:5555"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}

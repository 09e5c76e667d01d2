package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestLocalLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewLocalLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected third request blocked")
	}
	if result.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", result.RetryAfter)
	}

	// A different key has its own bucket.
	result, err = limiter.Allow(ctx, "other")
	if err != nil {
		t.Fatalf("allow other: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected other key allowed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewLocalLimiter(1, time.Minute)
	handler := RateLimit(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.RemoteAddr = "10.0.0.1:12345"

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 second request, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Another client is unaffected.
	other := httptest.NewRequest(http.MethodGet, "/users", nil)
	other.RemoteAddr = "10.0.0.2:12345"
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, other)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for other client, got %d", resp.Code)
	}

	// Health and metrics stay exempt.
	for _, path := range []string{"/healthz", "/metrics"} {
		exempt := httptest.NewRequest(http.MethodGet, path, nil)
		exempt.RemoteAddr = "10.0.0.1:12345"
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, exempt)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected %s exempt, got %d", path, resp.Code)
		}
	}
}

func TestClientKeyPrefersToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	if key := clientKey(req); key != "ip:10.0.0.1" {
		t.Fatalf("expected ip key, got %q", key)
	}

	req.Header.Set("Authorization", "Bearer secret")
	if key := clientKey(req); key != "token:secret" {
		t.Fatalf("expected token key, got %q", key)
	}
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	limiter := NewRedisLimiter(client, 2, time.Minute)
	fixed := time.Now()
	limiter.now = func() time.Time { return fixed } // pin the bucket
	key := "test:" + fixed.Format("150405.000000000")

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected third request blocked")
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", result.RetryAfter)
	}
}

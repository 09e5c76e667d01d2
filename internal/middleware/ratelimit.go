// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dosetrack/dosetrack/internal/app/metrics"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a client may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// LocalLimiter is a per-key token bucket limiter held in process memory. It
// serves as the fallback when no shared store is configured.
type LocalLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

var _ Limiter = (*LocalLimiter)(nil)

// NewLocalLimiter creates a limiter allowing requestsPerWindow requests per
// window per key, with the same value as burst.
func NewLocalLimiter(requestsPerWindow int, window time.Duration) *LocalLimiter {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:    requestsPerWindow,
	}
}

func (l *LocalLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	limiter := l.getLimiter(key)
	if limiter.Allow() {
		return Result{Allowed: true}, nil
	}

	reservation := limiter.Reserve()
	retryAfter := reservation.Delay()
	reservation.Cancel()
	return Result{Allowed: false, RetryAfter: retryAfter}, nil
}

// Cleanup removes accumulated limiters. Should be called periodically.
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine to periodically clean up.
func (l *LocalLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			l.Cleanup()
		}
	}()
}

// RateLimit wraps next with a rate limit check keyed by bearer token when
// present, otherwise by client IP. Health and metrics endpoints are exempt.
// When the limiter errors the request is allowed through.
func RateLimit(limiter Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			key := clientKey(r)
			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.WithError(err).Warn("rate limit check failed; allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				metrics.RecordRateLimited()
				log.WithField("key", key).
					WithField("path", r.URL.Path).
					WithField("method", r.Method).
					Warn("rate limit exceeded")

				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if parts := strings.SplitN(auth, " ", 2); len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
		return "token:" + parts[1]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

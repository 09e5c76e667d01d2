package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	app "github.com/dosetrack/dosetrack/internal/app"
)

// ServerOptions configures the request wrappers applied around the router.
type ServerOptions struct {
	// AuthTokens is the set of accepted bearer tokens. Empty disables auth.
	AuthTokens []string
	// Audit receives an entry for every authenticated API request. Nil
	// disables auditing.
	Audit *AuditLog
}

// NewServer builds the router with auth and audit wrappers applied.
func NewServer(application *app.Application, opts ServerOptions) http.Handler {
	handler := NewHandler(application, opts.Audit)
	handler = wrapWithAudit(handler, opts.Audit)
	handler = wrapWithAuth(handler, opts.AuthTokens)
	return handler
}

// openPaths are reachable without a bearer token.
var openPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// wrapWithAuth requires one of the configured bearer tokens on every request
// except the open paths. An empty token list disables authentication.
func wrapWithAuth(next http.Handler, tokens []string) http.Handler {
	allowed := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			allowed[trimmed] = true
		}
	}
	if len(allowed) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || !allowed[parts[1]] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAudit records each API request in the audit log.
func wrapWithAudit(next http.Handler, audit *AuditLog) http.Handler {
	if audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

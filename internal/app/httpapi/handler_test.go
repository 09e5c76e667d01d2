package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/dosetrack/dosetrack/internal/app"
	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
)

const testAuthToken = "test-token"

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Config{ReminderSchedule: "off"}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })

	audit, err := NewAuditLog(100, "")
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}
	return NewServer(application, ServerOptions{
		AuthTokens: []string{testAuthToken},
		Audit:      audit,
	})
}

func TestHandlerLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	today := time.Now().UTC().Format(injection.DateLayout)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(injection.DateLayout)

	body := marshal(map[string]any{"name": "alice", "timezone": "UTC", "medication": "enoxaparin"})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users", body))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create user, got %d: %s", resp.Code, resp.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	id := created["id"].(string)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users", body))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate name, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list users, got %d", resp.Code)
	}

	patchBody := marshal(map[string]any{"display_name": "Alice"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPatch, "/users/"+id, patchBody))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 patch user, got %d: %s", resp.Code, resp.Body.String())
	}

	injBody := marshal(map[string]any{"date": yesterday, "slot": "morning", "site": "abdomen-left"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users/"+id+"/injections", injBody))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 record injection, got %d: %s", resp.Code, resp.Body.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal injection: %v", err)
	}
	injID := rec["id"].(string)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users/"+id+"/injections", injBody))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate slot, got %d", resp.Code)
	}

	eveningBody := marshal(map[string]any{"date": yesterday, "slot": "evening", "site": "abdomen-right"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users/"+id+"/injections", eveningBody))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 evening injection, got %d: %s", resp.Code, resp.Body.String())
	}

	badSlot := marshal(map[string]any{"date": today, "slot": "noon", "site": "abdomen-left"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users/"+id+"/injections", badSlot))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 bad slot, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+id+"/injections", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list injections, got %d", resp.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal injections: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 injections, got %d", len(list))
	}
	if list[0]["slot"] != "evening" {
		t.Fatalf("expected newest-first ordering, got %v first", list[0]["slot"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+id+"/injections/next-site", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 next-site, got %d", resp.Code)
	}
	var suggestion map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &suggestion); err != nil {
		t.Fatalf("unmarshal suggestion: %v", err)
	}
	if suggestion["site"] != "thigh-left" {
		t.Fatalf("expected thigh-left suggestion, got %q", suggestion["site"])
	}

	notesBody := marshal(map[string]any{"notes": "slight bruising"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPatch, "/users/"+id+"/injections/"+injID, notesBody))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 patch injection, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+id+"/stats", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 stats, got %d: %s", resp.Code, resp.Body.String())
	}
	var report map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report["taken_doses"].(float64) != 2 {
		t.Fatalf("expected 2 taken doses, got %v", report["taken_doses"])
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/stats", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 overview, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/audit", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 audit, got %d", resp.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal audit entries: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected audit entries to be recorded")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health without auth, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodDelete, "/users/"+id+"/injections/"+injID, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 delete injection, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+id+"/injections/"+injID, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleted injection, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodDelete, "/users/"+id, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 delete user, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+id, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleted user, got %d", resp.Code)
	}
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	handler := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/users", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.Code)
	}
}

func TestHandlerCrossUserInjectionLookup(t *testing.T) {
	handler := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users", marshal(map[string]any{"name": "alice"})))
	var alice map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &alice)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users", marshal(map[string]any{"name": "bob"})))
	var bob map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &bob)

	injBody := marshal(map[string]any{"slot": "morning", "site": "thigh-left"})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users/"+alice["id"].(string)+"/injections", injBody))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 record injection, got %d", resp.Code)
	}
	var rec map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &rec)

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/"+bob["id"].(string)+"/injections/"+rec["id"].(string), nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's injection, got %d", resp.Code)
	}
}

func TestHandlerUnknownUser(t *testing.T) {
	handler := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/missing/injections", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown user injections, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodGet, "/users/missing/stats", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown user stats, got %d", resp.Code)
	}
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	handler := newTestHandler(t)

	body := marshal(map[string]any{"name": "alice", "favourite_colour": "green"})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, authedRequest(http.MethodPost, "/users", body))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}
}

func authedRequest(method, url string, body []byte) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

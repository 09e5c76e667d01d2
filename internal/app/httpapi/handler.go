package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/dosetrack/dosetrack/internal/app"
	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/metrics"
	injectionsvc "github.com/dosetrack/dosetrack/internal/app/services/injections"
	userssvc "github.com/dosetrack/dosetrack/internal/app/services/users"
	"github.com/dosetrack/dosetrack/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application, audit *AuditLog) http.Handler {
	h := &handler{app: application, audit: audit}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)

	r.HandleFunc("/users", h.createUser).Methods(http.MethodPost)
	r.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.patchUser).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/users/{id}/injections", h.recordInjection).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/injections", h.listInjections).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/injections/next-site", h.nextSite).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/injections/{injectionID}", h.getInjection).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/injections/{injectionID}", h.patchInjection).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id}/injections/{injectionID}", h.deleteInjection).Methods(http.MethodDelete)

	r.HandleFunc("/users/{id}/stats", h.userStats).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.overview).Methods(http.MethodGet)

	r.Use(metrics.InstrumentHandler)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- users ------------------------------------------------------------------

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Timezone    string `json:"timezone"`
		Medication  string `json:"medication"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Create(r.Context(), payload.Name, payload.DisplayName, payload.Timezone, payload.Medication)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) patchUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName *string `json:"display_name"`
		Timezone    *string `json:"timezone"`
		Medication  *string `json:"medication"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	u, err := h.app.Users.Update(r.Context(), mux.Vars(r)["id"], payload.DisplayName, payload.Timezone, payload.Medication)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- injections -------------------------------------------------------------

func (h *handler) recordInjection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Date    string `json:"date"`
		Slot    string `json:"slot"`
		Site    string `json:"site"`
		Dose    string `json:"dose"`
		Notes   string `json:"notes"`
		TakenAt string `json:"taken_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := injection.Record{
		UserID: mux.Vars(r)["id"],
		Date:   payload.Date,
		Slot:   injection.Slot(payload.Slot),
		Site:   payload.Site,
		Dose:   payload.Dose,
		Notes:  payload.Notes,
	}
	if strings.TrimSpace(payload.TakenAt) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.TakenAt))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("taken_at must be RFC3339 timestamp"))
			return
		}
		rec.TakenAt = parsed
	}

	created, err := h.app.Injections.Record(r.Context(), rec)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listInjections(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Injections.List(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getInjection(w http.ResponseWriter, r *http.Request) {
	rec, err := h.resolveInjection(r)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) patchInjection(w http.ResponseWriter, r *http.Request) {
	rec, err := h.resolveInjection(r)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}

	var payload struct {
		Site    *string `json:"site"`
		Dose    *string `json:"dose"`
		Notes   *string `json:"notes"`
		TakenAt *string `json:"taken_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var takenAt *time.Time
	if payload.TakenAt != nil {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.TakenAt))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("taken_at must be RFC3339 timestamp"))
			return
		}
		takenAt = &parsed
	}

	updated, err := h.app.Injections.Update(r.Context(), rec.ID, payload.Site, payload.Dose, payload.Notes, takenAt)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteInjection(w http.ResponseWriter, r *http.Request) {
	rec, err := h.resolveInjection(r)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	if err := h.app.Injections.Delete(r.Context(), rec.ID); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) nextSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.app.Injections.SuggestSite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"site": site})
}

// resolveInjection loads the record and verifies it belongs to the user in
// the path.
func (h *handler) resolveInjection(r *http.Request) (injection.Record, error) {
	vars := mux.Vars(r)
	rec, err := h.app.Injections.Get(r.Context(), vars["injectionID"])
	if err != nil {
		return injection.Record{}, err
	}
	if rec.UserID != vars["id"] {
		return injection.Record{}, fmt.Errorf("injection %s: %w", vars["injectionID"], storage.ErrNotFound)
	}
	return rec, nil
}

// --- stats ------------------------------------------------------------------

func (h *handler) userStats(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))
	report, err := h.app.Stats.Report(r.Context(), mux.Vars(r)["id"], window)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))
	overview, err := h.app.Stats.Overview(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// --- helpers ----------------------------------------------------------------

func errStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, injectionsvc.ErrDuplicateSlot), errors.Is(err, userssvc.ErrNameInUse):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Package api exposes HTTP handlers for the step tracker.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"example.com/steptracker/internal/accumulator"
	"example.com/steptracker/internal/auth"
	"example.com/steptracker/internal/calendar"
	"example.com/steptracker/internal/domain"
	"example.com/steptracker/internal/tracker"
)

// Tracking is the start/stop surface of the tracker controller.
type Tracking interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	Snapshot() (tracker.Snapshot, bool)
}

// Handler coordinates HTTP requests with the tracker.
type Handler struct {
	base     context.Context
	tracking Tracking
	repo     domain.StepRepository
	clock    calendar.Clock
	stream   http.Handler
}

// NewHandler builds a Handler. base outlives requests and scopes tracking sessions started over HTTP.
func NewHandler(base context.Context, tracking Tracking, repo domain.StepRepository, clock calendar.Clock, stream http.Handler) *Handler {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &Handler{base: base, tracking: tracking, repo: repo, clock: clock, stream: stream}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/steps/today", h.today)
	mux.HandleFunc("/v1/tracking/start", h.start)
	mux.HandleFunc("/v1/tracking/stop", h.stop)
	if h.stream != nil {
		mux.Handle("/v1/stream", h.requireScope(auth.ScopeStepsRead, h.stream))
	}
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// TodayResponse is the body of GET /v1/steps/today.
type TodayResponse struct {
	Date      string              `json:"date"`
	Steps     int                 `json:"steps"`
	Tracking  bool                `json:"tracking"`
	Phase     accumulator.Phase   `json:"phase,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Location  *domain.Coordinates `json:"location,omitempty"`
}

// TrackingResponse is the body of the start/stop endpoints.
type TrackingResponse struct {
	Tracking bool `json:"tracking"`
}

func (h *Handler) today(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorized(w, r, auth.ScopeStepsRead) {
		return
	}

	if snap, ok := h.tracking.Snapshot(); ok {
		writeJSON(w, http.StatusOK, TodayResponse{
			Date:      snap.Date,
			Steps:     snap.Steps,
			Tracking:  true,
			Phase:     snap.Phase,
			SessionID: snap.SessionID,
			Location:  snap.Location,
		})
		return
	}

	// Not tracking: show the stored total if it belongs to today, zero otherwise.
	today := calendar.Today(h.clock)
	resp := TodayResponse{Date: today}
	record, found, err := h.repo.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if found && calendar.SameDay(record.Date, today) {
		resp.Steps = record.Steps
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorized(w, r, auth.ScopeStepsWrite) {
		return
	}
	h.tracking.Start(h.base)
	writeJSON(w, http.StatusAccepted, TrackingResponse{Tracking: h.tracking.Running()})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorized(w, r, auth.ScopeStepsWrite) {
		return
	}
	h.tracking.Stop()
	writeJSON(w, http.StatusOK, TrackingResponse{Tracking: h.tracking.Running()})
}

func (h *Handler) requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r, scope) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorized(w http.ResponseWriter, r *http.Request, scope string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

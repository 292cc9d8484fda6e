package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/tlog/internal/activity"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps are the daemon components the HTTP API drives.
type AppDeps struct {
	Tracker *tracker.Tracker
	Store   *storage.Store
	Tabs    *activity.BrowserTabSource
	Rules   *rules.Holder
	// ManualDefault applies when a start request does not say.
	ManualDefault bool
}

// NewAppHandler returns the local control API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requireJSON)

	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(deps))

	r.Route("/tracking", func(r chi.Router) {
		r.Post("/start", handleStart(deps))
		r.Post("/stop", handleStop(deps))
		r.Post("/save", handleSave(deps))
		r.Post("/discard", handleDiscard(deps))
	})

	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}", handleGetSession(deps))
	r.Delete("/sessions/{id}", handleDeleteSession(deps))
	r.Get("/stats", handleStats(deps))
	r.Get("/categories", handleCategories(deps))

	r.Post("/tab", handleTab(deps))
	r.Post("/rules/reload", handleRulesReload(deps))
	r.Get("/events", handleEvents(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Tracker.Snapshot(r.Context())
		if err != nil {
			trackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

type startRequest struct {
	Manual *bool `json:"manual"`
}

func handleStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		opts := tracker.StartOptions{Manual: deps.ManualDefault}
		if req.Manual != nil {
			opts.Manual = *req.Manual
		}

		snap, err := deps.Tracker.Start(r.Context(), opts)
		if err != nil {
			trackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Tracker.Stop(r.Context())
		if err != nil {
			trackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// SaveRequest labels a stopped run.
type SaveRequest struct {
	Label   string `json:"label"`
	Summary string `json:"summary"`
}

func handleSave(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		rec, err := deps.Tracker.Save(r.Context(), req.Label, req.Summary)
		if err != nil {
			trackerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleDiscard(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tracker.Discard(r.Context()); err != nil {
			trackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.Store.ListSessions(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if recs == nil {
			recs = []session.Record{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "since must be RFC3339: %v", err)
				return
			}
			since = t
		}

		st, err := deps.Store.Stats(r.Context(), since)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}
		if st.Categories == nil {
			st.Categories = []storage.CategoryTotal{}
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := deps.Store.SessionCategories(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories: %v", err)
			return
		}
		if cats == nil {
			cats = []string{}
		}
		writeJSON(w, http.StatusOK, cats)
	}
}

// TabRequest reports the active browser tab.
type TabRequest struct {
	URL string `json:"url"`
}

func handleTab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TabRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		emitted := deps.Tabs.Push(req.URL)
		writeJSON(w, http.StatusOK, map[string]bool{"emitted": emitted})
	}
}

func handleRulesReload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := deps.Rules.Reload()
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "config_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":  deps.Rules.Path(),
			"rules": rs.Len(),
		})
	}
}

// requireJSON rejects state-changing requests not declared as JSON, bodiless
// ones included.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trackerError maps tracker and session errors to HTTP statuses.
func trackerError(w http.ResponseWriter, err error) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
	case errors.Is(err, tracker.ErrNothingToSave),
		errors.Is(err, tracker.ErrNotStopped),
		errors.Is(err, tracker.ErrAlreadyRunning):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, tracker.ErrClosed):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

// decodeOptional decodes a JSON body if one was sent. It writes a 400 and
// returns false on malformed input.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

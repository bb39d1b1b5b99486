package debugapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/adarshbhattarai/airabook-voice/internal/observability"
	"github.com/adarshbhattarai/airabook-voice/internal/transcript"
	"github.com/adarshbhattarai/airabook-voice/internal/voice"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server is the loopback debug surface: health, metrics, the live session
// snapshot and the rolling latency window. It never carries audio.
type Server struct {
	ctrl    *voice.Controller
	latency *observability.LatencyWindow
	archive transcript.Store
}

func New(ctrl *voice.Controller, latency *observability.LatencyWindow, archive transcript.Store) *Server {
	return &Server{
		ctrl:    ctrl,
		latency: latency,
		archive: archive,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/transcript", s.handleTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"archive_enabled": s.archive != nil,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.latency.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusNotFound, "archive_disabled", "no transcript store configured")
		return
	}
	snap := s.ctrl.Snapshot()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = snap.SessionID
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	turns, err := s.archive.ListTurnsBySession(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
)

type unloadResponse struct {
	Message string `json:"message"`
}

type transcriptResponse struct {
	Key     string              `json:"key"`
	Records []transcript.Record `json:"records"`
}

// handleLoad creates a session for ?key= with the agent from the body. The
// agent gets a fresh id.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_key", "query parameter key is required")
		return
	}
	var req session.LoadRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var agent session.Agent
	switch {
	case req.Agent != nil:
		agent = *req.Agent
	case s.defaultAgent != nil:
		agent = *s.defaultAgent
	default:
		respondError(w, http.StatusBadRequest, "missing_agent", "agent is required")
		return
	}
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		respondError(w, http.StatusBadRequest, "missing_user_name", "userName is required")
		return
	}
	agent.ID = uuid.NewString()

	sess, err := s.sessions.Create(key, agent, userName)
	if err != nil {
		if errors.Is(err, session.ErrExists) {
			respondError(w, http.StatusConflict, "session_exists", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("loaded").Inc()
	respondJSON(w, http.StatusOK, session.LoadResponse{Agent: sess.Agent})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_key", "query parameter key is required")
		return
	}
	if !s.sessions.Destroy(key) {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("unloaded").Inc()
	respondJSON(w, http.StatusOK, unloadResponse{Message: "Session unloaded"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "key"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	key := chi.URLParam(r, "key")
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := s.transcripts.List(r.Context(), key, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	if records == nil {
		records = []transcript.Record{}
	}
	respondJSON(w, http.StatusOK, transcriptResponse{Key: key, Records: records})
}

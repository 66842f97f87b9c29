// Package handlers implements the HTTP handlers for the OpsLeuth
// investigation engine: intake of troubleshooting requests and read
// access to stored sessions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsleuth/opsleuth/internal/confidence"
	"github.com/opsleuth/opsleuth/internal/orchestrator"
	"github.com/opsleuth/opsleuth/internal/store"
	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Sessions store.SessionRepository
	Engine   *orchestrator.Engine
}

// New creates a new Handlers instance with all dependencies.
func New(sessions store.SessionRepository, engine *orchestrator.Engine) *Handlers {
	return &Handlers{
		Sessions: sessions,
		Engine:   engine,
	}
}

// TroubleshootRequest is the inbound intake payload.
type TroubleshootRequest struct {
	UserRequest string `json:"user_request"`
	ProjectID   string `json:"project_id"`
	RepoURL     string `json:"repo_url"`
	UserEmail   string `json:"user_email,omitempty"`
}

// TroubleshootResponse is the terminal result of a completed investigation.
type TroubleshootResponse struct {
	Status          models.SessionStatus `json:"status"`
	SessionID       string               `json:"session_id"`
	Confidence      float64              `json:"confidence,omitempty"`
	RCAURL          string               `json:"rca_url,omitempty"`
	Warnings        []string             `json:"warnings,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Error           string               `json:"error,omitempty"`
	Blockers        []string             `json:"blockers,omitempty"`
}

// Troubleshoot runs a full investigation synchronously and returns its
// terminal result.
func (h *Handlers) Troubleshoot(w http.ResponseWriter, r *http.Request) {
	var req TroubleshootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserRequest == "" {
		respondError(w, http.StatusBadRequest, "user_request is required")
		return
	}

	sess := models.NewSession(uuid.New().String(), req.UserRequest, req.ProjectID, req.RepoURL, req.UserEmail)
	if err := h.Sessions.CreateSession(r.Context(), sess); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("session_id", sess.SessionID).
		Str("project_id", req.ProjectID).
		Msg("Troubleshooting request accepted")

	result, err := h.Engine.Run(r.Context(), sess.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, troubleshootResponse(result))
}

func troubleshootResponse(sess *models.InvestigationSession) TroubleshootResponse {
	if sess.Status == models.StatusFailure {
		errMsg := "investigation failed"
		if len(sess.Blockers) > 0 {
			errMsg = sess.Blockers[len(sess.Blockers)-1]
		}
		return TroubleshootResponse{
			Status:    sess.Status,
			SessionID: sess.SessionID,
			Error:     errMsg,
			Blockers:  sess.Blockers,
		}
	}
	return TroubleshootResponse{
		Status:          sess.Status,
		SessionID:       sess.SessionID,
		Confidence:      confidence.Aggregate(sess.ConfidenceScores),
		RCAURL:          sess.ArtifactURL,
		Warnings:        sess.Warnings,
		Recommendations: sess.Recommendations,
	}
}

// ── Session Handlers ─────────────────────────────────────────

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	sess, err := h.Sessions.GetSession(r.Context(), id)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.Sessions.ListSessions(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.InvestigationSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if err := h.Sessions.DeleteSession(r.Context(), id); err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	log.Info().Str("session_id", id).Msg("Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

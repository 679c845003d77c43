// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/decluttered-ai/reportd/internal/bus"
	"github.com/decluttered-ai/reportd/internal/contract"
	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "http.encode_error").
			Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// sessionResponse is the read-model for one session.
type sessionResponse struct {
	SessionID       string         `json:"session_id"`
	Status          session.Status `json:"status"`
	Config          session.Config `json:"config"`
	StartTime       time.Time      `json:"start_time"`
	ImagesProcessed int            `json:"images_processed"`
	UniqueObjects   []string       `json:"unique_objects"`
	TotalObjects    int            `json:"total_objects_found"`
	OverBudget      bool           `json:"over_budget,omitempty"`
	ReportPath      string         `json:"report_path,omitempty"`
	FinalizedAt     *time.Time     `json:"finalized_at,omitempty"`
}

func toSessionResponse(s *session.Session) sessionResponse {
	unique := s.UniqueCategories()
	sort.Strings(unique)
	resp := sessionResponse{
		SessionID:       s.ID,
		Status:          s.Status,
		Config:          s.Config,
		StartTime:       s.StartTime,
		ImagesProcessed: s.ImagesProcessed(),
		UniqueObjects:   unique,
		TotalObjects:    s.TotalObjects,
		OverBudget:      s.OverBudget,
		ReportPath:      s.ReportPath,
	}
	if !s.FinalizedAt.IsZero() {
		t := s.FinalizedAt
		resp.FinalizedAt = &t
	}
	return resp
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req contract.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.DurationSeconds == 0 {
		req.DurationSeconds = s.defaults.DurationSeconds
	}
	if req.MaxCaptures == 0 {
		req.MaxCaptures = s.defaults.MaxCaptures
	}
	if req.CooldownSeconds == 0 {
		req.CooldownSeconds = s.defaults.CooldownSeconds
	}

	snap, err := s.coord.StartSession(r.Context(), req)
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(snap))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.coord.Session(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(snap))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.coord.Session(id); err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	if err := s.events.Publish(r.Context(), bus.TopicStop, contract.StopRequest{SessionID: id}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "stop signal not accepted")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "state": "stopping"})
}

func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	var msg contract.StageResult
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Semantic validation and drop handling happen on the consumer side;
	// ingest stays tolerant so one producer cannot stall another.
	if err := s.events.Publish(r.Context(), bus.TopicResults, msg); err != nil {
		writeError(w, http.StatusServiceUnavailable, "ingest buffer full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": "accepted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	dropped := s.coord.Cleanup(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

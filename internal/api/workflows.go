package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/model"
	"github.com/seantiz/dataform-runner/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
	maxExecutionID   = 128
)

// runWorkflowRequest is the JSON body for POST /v1/workflows. An empty body
// runs with defaults.
type runWorkflowRequest struct {
	ExecutionID string `json:"execution_id"`
	Wait        bool   `json:"wait"`
	TimeoutS    *int   `json:"timeout_s"`
	FullRefresh *bool  `json:"full_refresh"`
}

type runWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

type listWorkflowsResponse struct {
	Workflows []manager.Entry `json:"workflows"`
	Total     int             `json:"total"`
}

type eventsResponse struct {
	ExecutionID string        `json:"execution_id"`
	Events      []model.Event `json:"events"`
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.ExecutionID) > maxExecutionID || strings.ContainsAny(req.ExecutionID, "/ ") {
		s.writeError(w, http.StatusBadRequest, "execution_id must be at most 128 characters without slashes or spaces")
		return
	}

	run := manager.RunRequest{
		ExecutionID: req.ExecutionID,
		Wait:        req.Wait,
		FullRefresh: true,
	}
	if req.FullRefresh != nil {
		run.FullRefresh = *req.FullRefresh
	}
	if req.TimeoutS != nil {
		if *req.TimeoutS <= 0 {
			s.writeError(w, http.StatusBadRequest, "timeout_s must be positive")
			return
		}
		run.Timeout = time.Duration(*req.TimeoutS) * time.Second
	}

	id, err := s.manager.RunWorkflow(r.Context(), run)
	switch {
	case errors.Is(err, manager.ErrDuplicateExecution):
		s.writeError(w, http.StatusConflict, "execution id already in use")
		return
	case errors.Is(err, manager.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, "manager is shutting down")
		return
	case err != nil:
		s.logger.Error("run workflow", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run workflow")
		return
	}

	w.Header().Set("Location", "/v1/workflows/"+id)
	s.writeJSON(w, http.StatusAccepted, runWorkflowResponse{ExecutionID: id})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	entries := s.manager.Entries()
	if entries == nil {
		entries = []manager.Entry{}
	}
	s.writeJSON(w, http.StatusOK, listWorkflowsResponse{
		Workflows: entries,
		Total:     len(entries),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, ok := s.manager.Entry(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := s.store.ListEvents(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("list events", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{ExecutionID: id, Events: events})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

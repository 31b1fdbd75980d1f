package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/scheduler"
)

type scheduleView struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
}

type listSchedulesResponse struct {
	Schedules []scheduleView `json:"schedules"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	views := []scheduleView{}
	if s.schedules != nil {
		for _, name := range s.schedules.Names() {
			next, err := s.schedules.Next(name)
			if err != nil {
				s.logger.Warn("next schedule run", "schedule", name, "error", err)
				continue
			}
			views = append(views, scheduleView{Name: name, NextRun: next.UTC()})
		}
	}
	s.writeJSON(w, http.StatusOK, listSchedulesResponse{Schedules: views})
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.schedules == nil {
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	}

	id, err := s.schedules.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		s.writeError(w, http.StatusNotFound, "schedule not found")
		return
	case errors.Is(err, manager.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, "manager is shutting down")
		return
	case err != nil:
		s.logger.Error("trigger schedule", "schedule", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to trigger schedule")
		return
	}

	w.Header().Set("Location", "/v1/workflows/"+id)
	s.writeJSON(w, http.StatusAccepted, runWorkflowResponse{ExecutionID: id})
}

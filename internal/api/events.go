package api

import (
	"net/http"

	"github.com/seantiz/dataform-runner/internal/model"
)

type recentEventsResponse struct {
	Events []model.Event `json:"events"`
	Limit  int           `json:"limit"`
}

// handleListRecentEvents returns the newest journal entries across all
// executions.
func (s *Server) handleListRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := min(max(parseIntQuery(r, "limit", defaultListLimit), 1), maxListLimit)

	events, err := s.store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("list recent events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	s.writeJSON(w, http.StatusOK, recentEventsResponse{Events: events, Limit: limit})
}

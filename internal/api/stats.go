package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Executions         int            `json:"executions"`
	Active             int            `json:"active"`
	ByKind             map[string]int `json:"by_kind"`
	ByFinalState       map[string]int `json:"by_final_state"`
	AvgDurationSeconds float64        `json:"avg_duration_s"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get journal stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Executions:         stats.Executions,
		Active:             len(s.manager.Entries()),
		ByKind:             stats.CountByKind,
		ByFinalState:       stats.CountByFinalState,
		AvgDurationSeconds: stats.AvgDurationSeconds,
	})
}

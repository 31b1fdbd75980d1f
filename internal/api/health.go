package api

import (
	"net/http"
)

type healthResponse struct {
	Status           string `json:"status"`
	ActiveExecutions int    `json:"active_executions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ActiveExecutions: len(s.manager.Entries()),
	})
}

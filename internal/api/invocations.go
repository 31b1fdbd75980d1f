package api

import (
	"errors"
	"net/http"

	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/model"
)

// invocationView is one remote invocation as returned by GET /v1/invocations.
type invocationView struct {
	model.Invocation
	ID              string   `json:"id"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type listInvocationsResponse struct {
	Invocations []invocationView `json:"invocations"`
	Limit       int              `json:"limit"`
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	handles, err := s.invocations.ListRecentWorkflows(r.Context(), limit)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, dataform.ErrRemoteUnavailable) || errors.Is(err, dataform.ErrRemoteRejected) {
			status = http.StatusBadGateway
		}
		s.writeError(w, status, "failed to list invocations")
		return
	}

	views := make([]invocationView, len(handles))
	for i, h := range handles {
		inv := h.Snapshot()
		views[i] = invocationView{Invocation: inv, ID: inv.ShortName()}
		if d, ok := inv.DurationSeconds(); ok {
			views[i].DurationSeconds = &d
		}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{Invocations: views, Limit: limit})
}

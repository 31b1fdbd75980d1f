package store

import (
	"context"

	"github.com/seantiz/dataform-runner/internal/model"
)

// Stats holds aggregate figures over the lifecycle journal.
type Stats struct {
	Executions         int            `json:"executions"`
	CountByKind        map[string]int `json:"count_by_kind"`
	CountByFinalState  map[string]int `json:"count_by_final_state"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
}

// Store is an append-only journal of manager lifecycle events. It is an
// audit trail; nothing reads it back to rebuild in-memory state.
type Store interface {
	InsertEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, executionID string) ([]model.Event, error)
	ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// executionIDPrefix is prepended to generated execution IDs.
const executionIDPrefix = "workflow-"

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewExecutionID returns a process-unique execution ID of the form
// "workflow-<ULID>".
func NewExecutionID() string {
	return executionIDPrefix + NewID()
}

// NewScopedExecutionID returns "<scope>-<ULID>", used by the scheduler so that
// runs can be traced back to the schedule that fired them.
func NewScopedExecutionID(scope string) string {
	return scope + "-" + NewID()
}

// NewEventID returns a time-ordered UUID (v7) for journal events, falling back
// to a random v4 UUID if the clock source fails.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

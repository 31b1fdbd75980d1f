package model

import "time"

// EventKind identifies a manager lifecycle event.
type EventKind string

// Lifecycle event kinds.
const (
	EventSubmitted EventKind = "submitted"
	EventStarted   EventKind = "started"
	EventRetrying  EventKind = "retrying"
	EventCompleted EventKind = "completed"
	EventError     EventKind = "error"
	EventAbandoned EventKind = "abandoned"
	EventEvicted   EventKind = "evicted"
)

// IsFinal reports whether an event of this kind ends an execution's lifecycle
// inside the manager.
func (k EventKind) IsFinal() bool {
	switch k {
	case EventCompleted, EventAbandoned, EventEvicted:
		return true
	default:
		return false
	}
}

// Event records one step in the life of a managed execution.
type Event struct {
	ID              string    `json:"id"`
	ExecutionID     string    `json:"execution_id"`
	Kind            EventKind `json:"kind"`
	InvocationName  string    `json:"invocation_name,omitempty"`
	State           State     `json:"state,omitempty"`
	Attempt         int       `json:"attempt"`
	Error           string    `json:"error,omitempty"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewEvent builds an event stamped with a fresh ID and the current time.
func NewEvent(executionID string, kind EventKind) Event {
	return Event{
		ID:          NewEventID(),
		ExecutionID: executionID,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
}

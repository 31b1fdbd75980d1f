package model

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a workflow invocation.
type State string

// Invocation states.
const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether no further transitions can occur from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}

// ParseState maps a Dataform wire state to a State. STATE_UNSPECIFIED and
// unknown values are treated as pending; CANCELING is still in flight and
// reported as running.
func ParseState(wire string) State {
	switch strings.ToUpper(wire) {
	case "RUNNING", "CANCELING":
		return StateRunning
	case "SUCCEEDED":
		return StateSucceeded
	case "FAILED":
		return StateFailed
	case "CANCELLED":
		return StateCancelled
	default:
		return StatePending
	}
}

// Timestamp mirrors the protobuf Timestamp carried by the remote API.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// TimestampFromTime converts t to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// ParseTimestamp parses an RFC 3339 timestamp as emitted by the REST API.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return TimestampFromTime(t), nil
}

// Time converts the timestamp to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

// Invocation is an immutable snapshot of a remote workflow invocation.
type Invocation struct {
	Name              string     `json:"name"`
	CompilationResult string     `json:"compilation_result"`
	State             State      `json:"state"`
	StartTime         *Timestamp `json:"start_time,omitempty"`
	EndTime           *Timestamp `json:"end_time,omitempty"`
}

// ShortName returns the last path segment of the invocation resource name.
func (inv Invocation) ShortName() string {
	if i := strings.LastIndex(inv.Name, "/"); i >= 0 {
		return inv.Name[i+1:]
	}
	return inv.Name
}

// DurationSeconds returns the elapsed time between start and end in
// fractional seconds. ok is false unless both timestamps are present.
func (inv Invocation) DurationSeconds() (seconds float64, ok bool) {
	if inv.StartTime == nil || inv.EndTime == nil {
		return 0, false
	}
	start, end := inv.StartTime, inv.EndTime
	return float64(end.Seconds-start.Seconds) + float64(end.Nanos-start.Nanos)/1e9, true
}

// CompilationResult is the artifact produced by compiling a repository revision.
type CompilationResult struct {
	Name         string            `json:"name"`
	GitCommitish string            `json:"git_commitish"`
	Vars         map[string]string `json:"vars,omitempty"`
	SchemaSuffix string            `json:"schema_suffix,omitempty"`
}

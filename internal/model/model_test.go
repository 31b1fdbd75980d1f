package model

import (
	"math"
	"regexp"
	"strings"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewExecutionIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewExecutionID()
		if !strings.HasPrefix(id, "workflow-") {
			t.Fatalf("NewExecutionID() = %q, want workflow- prefix", id)
		}
		if seen[id] {
			t.Fatalf("NewExecutionID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewScopedExecutionID(t *testing.T) {
	id := NewScopedExecutionID("nightly")
	if !strings.HasPrefix(id, "nightly-") {
		t.Errorf("NewScopedExecutionID() = %q, want nightly- prefix", id)
	}
	if !crockfordBase32.MatchString(strings.TrimPrefix(id, "nightly-")) {
		t.Errorf("suffix of %q is not a ULID", id)
	}
}

func TestNewEventID(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	if len(a) != 36 {
		t.Errorf("len(NewEventID()) = %d, want 36", len(a))
	}
	if a == b {
		t.Errorf("NewEventID() returned %q twice", a)
	}
}

func TestStateIsTerminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateSucceeded, true},
		{StateFailed, true},
		{StateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		wire string
		want State
	}{
		{"", StatePending},
		{"STATE_UNSPECIFIED", StatePending},
		{"RUNNING", StateRunning},
		{"CANCELING", StateRunning},
		{"SUCCEEDED", StateSucceeded},
		{"FAILED", StateFailed},
		{"CANCELLED", StateCancelled},
		{"succeeded", StateSucceeded},
		{"SOMETHING_NEW", StatePending},
	}
	for _, tt := range tests {
		if got := ParseState(tt.wire); got != tt.want {
			t.Errorf("ParseState(%q) = %s, want %s", tt.wire, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-01T10:00:05.250Z")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 0, 5, 250_000_000, time.UTC)
	if ts.Seconds != want.Unix() || ts.Nanos != 250_000_000 {
		t.Errorf("ParseTimestamp = %+v, want seconds=%d nanos=250000000", ts, want.Unix())
	}
	if !ts.Time().Equal(want) {
		t.Errorf("Time() = %v, want %v", ts.Time(), want)
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestDurationSeconds(t *testing.T) {
	tests := []struct {
		name   string
		start  *Timestamp
		end    *Timestamp
		want   float64
		wantOK bool
	}{
		{"both missing", nil, nil, 0, false},
		{"start missing", nil, &Timestamp{Seconds: 10}, 0, false},
		{"end missing", &Timestamp{Seconds: 10}, nil, 0, false},
		{"whole seconds", &Timestamp{Seconds: 100}, &Timestamp{Seconds: 160}, 60, true},
		{"nanos borrow", &Timestamp{Seconds: 100, Nanos: 900_000_000}, &Timestamp{Seconds: 102, Nanos: 100_000_000}, 1.2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Invocation{StartTime: tt.start, EndTime: tt.end}
			got, ok := inv.DurationSeconds()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DurationSeconds() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShortName(t *testing.T) {
	inv := Invocation{Name: "projects/p/locations/l/repositories/r/workflowInvocations/abc123"}
	if got := inv.ShortName(); got != "abc123" {
		t.Errorf("ShortName() = %q, want %q", got, "abc123")
	}
	if got := (Invocation{Name: "plain"}).ShortName(); got != "plain" {
		t.Errorf("ShortName() = %q, want %q", got, "plain")
	}
}

func TestEventKindIsFinal(t *testing.T) {
	final := map[EventKind]bool{
		EventSubmitted: false,
		EventStarted:   false,
		EventRetrying:  false,
		EventError:     false,
		EventCompleted: true,
		EventAbandoned: true,
		EventEvicted:   true,
	}
	for kind, want := range final {
		if got := kind.IsFinal(); got != want {
			t.Errorf("%s.IsFinal() = %v, want %v", kind, got, want)
		}
	}
}

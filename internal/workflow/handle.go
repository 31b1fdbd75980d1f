package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/model"
)

// ErrTimeout is returned by WaitForCompletion when the deadline passes
// before the invocation reaches a terminal state.
var ErrTimeout = errors.New("workflow did not complete before timeout")

// Handle follows a single workflow invocation. State queries re-fetch the
// invocation before answering, so each one costs a remote round trip.
// A Handle is safe for concurrent use.
type Handle struct {
	client dataform.Client

	mu  sync.RWMutex
	inv model.Invocation
}

// NewHandle wraps an invocation snapshot already fetched from client.
func NewHandle(client dataform.Client, inv model.Invocation) *Handle {
	return &Handle{client: client, inv: inv}
}

// Name returns the invocation resource name.
func (h *Handle) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inv.Name
}

// CompilationResult returns the compilation result the invocation runs.
func (h *Handle) CompilationResult() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inv.CompilationResult
}

// Snapshot returns the last fetched invocation without contacting the service.
func (h *Handle) Snapshot() model.Invocation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.inv
}

// Refresh fetches the current invocation and replaces the stored snapshot.
func (h *Handle) Refresh(ctx context.Context) error {
	name := h.Name()
	inv, err := h.client.GetWorkflowInvocation(ctx, name)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", name, err)
	}

	h.mu.Lock()
	h.inv = inv
	h.mu.Unlock()
	return nil
}

// State refreshes the invocation and returns its state.
func (h *Handle) State(ctx context.Context) (model.State, error) {
	if err := h.Refresh(ctx); err != nil {
		return "", err
	}
	return h.Snapshot().State, nil
}

// IsComplete refreshes and reports whether the invocation is terminal.
func (h *Handle) IsComplete(ctx context.Context) (bool, error) {
	s, err := h.State(ctx)
	return err == nil && s.IsTerminal(), err
}

// IsSuccessful refreshes and reports whether the invocation succeeded.
func (h *Handle) IsSuccessful(ctx context.Context) (bool, error) {
	return h.stateIs(ctx, model.StateSucceeded)
}

// IsFailed refreshes and reports whether the invocation failed.
func (h *Handle) IsFailed(ctx context.Context) (bool, error) {
	return h.stateIs(ctx, model.StateFailed)
}

// IsCancelled refreshes and reports whether the invocation was cancelled.
func (h *Handle) IsCancelled(ctx context.Context) (bool, error) {
	return h.stateIs(ctx, model.StateCancelled)
}

// IsRunning refreshes and reports whether the invocation is running.
func (h *Handle) IsRunning(ctx context.Context) (bool, error) {
	return h.stateIs(ctx, model.StateRunning)
}

func (h *Handle) stateIs(ctx context.Context, want model.State) (bool, error) {
	s, err := h.State(ctx)
	return err == nil && s == want, err
}

// StartTime returns the cached start time, or nil if not yet started.
func (h *Handle) StartTime() *model.Timestamp {
	return h.Snapshot().StartTime
}

// EndTime returns the cached end time, or nil if not yet finished.
func (h *Handle) EndTime() *model.Timestamp {
	return h.Snapshot().EndTime
}

// DurationSeconds returns the run time from the cached snapshot. ok is false
// unless both start and end times are known.
func (h *Handle) DurationSeconds() (seconds float64, ok bool) {
	return h.Snapshot().DurationSeconds()
}

// WaitForCompletion refreshes the invocation every pollInterval until it
// reaches a terminal state. It returns ErrTimeout once timeout has elapsed
// since the call started, and ctx.Err() if ctx is done first. Refresh errors
// end the wait immediately.
func (h *Handle) WaitForCompletion(ctx context.Context, pollInterval, timeout time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		done, err := h.IsComplete(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%s after %s: %w", h.Name(), timeout, ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(pollInterval, remaining)):
		}
	}
}

func (h *Handle) String() string {
	inv := h.Snapshot()
	return fmt.Sprintf("Workflow(name=%s, state=%s)", inv.ShortName(), inv.State)
}

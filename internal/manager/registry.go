package manager

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/dataform-runner/internal/model"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

// ErrDuplicateExecution is returned when an execution id is already in use.
var ErrDuplicateExecution = errors.New("execution id already in use")

// Status is where an execution sits inside the manager.
type Status string

// Execution statuses.
const (
	StatusQueued     Status = "queued"
	StatusSubmitting Status = "submitting"
	StatusRetrying   Status = "retrying"
	StatusRunning    Status = "running"
)

// Entry is a point-in-time view of a managed execution.
type Entry struct {
	ExecutionID    string      `json:"execution_id"`
	Status         Status      `json:"status"`
	Attempt        int         `json:"attempt"`
	InvocationName string      `json:"invocation_name,omitempty"`
	State          model.State `json:"state,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

type entry struct {
	id          string
	callbacks   Callbacks
	handle      *workflow.Handle
	status      Status
	attempt     int
	lastErr     string
	submittedAt time.Time
}

func (e *entry) view() Entry {
	v := Entry{
		ExecutionID: e.id,
		Status:      e.status,
		Attempt:     e.attempt,
		LastError:   e.lastErr,
		SubmittedAt: e.submittedAt,
	}
	if e.handle != nil {
		inv := e.handle.Snapshot()
		v.InvocationName = inv.Name
		v.State = inv.State
	}
	return v
}

// tracked pairs an execution id with its handle for a poll pass.
type tracked struct {
	id     string
	handle *workflow.Handle
}

// Registry holds in-flight executions keyed by execution id. Every operation
// is atomic; the lock is never held across a remote call or a callback.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// add inserts a queued entry, rejecting ids already present.
func (r *Registry) add(id string, cb Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrDuplicateExecution
	}
	r.entries[id] = &entry{
		id:          id,
		callbacks:   cb,
		status:      StatusQueued,
		submittedAt: time.Now().UTC(),
	}
	return nil
}

// update applies fn to the entry under the write lock. It reports false if
// the entry is gone.
func (r *Registry) update(id string, fn func(*entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// remove deletes and returns the entry if present. Only the first caller for
// a given id gets ok == true.
func (r *Registry) remove(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

// removeHandle deletes and returns the entry only while it still holds h.
// An observation of an earlier invocation under a reused id is a no-op.
func (r *Registry) removeHandle(id string, h *workflow.Handle) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.handle != h {
		return nil, false
	}
	delete(r.entries, id)
	return e, true
}

// updateHandle is update restricted to the entry holding h.
func (r *Registry) updateHandle(id string, h *workflow.Handle, fn func(*entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.handle != h {
		return false
	}
	fn(e)
	return true
}

// removeAll empties the registry and returns what it held.
func (r *Registry) removeAll() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e)
		delete(r.entries, id)
	}
	return out
}

// tracked copies the entries that have a registered handle.
func (r *Registry) tracked() []tracked {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tracked, 0, len(r.entries))
	for id, e := range r.entries {
		if e.handle != nil {
			out = append(out, tracked{id: id, handle: e.handle})
		}
	}
	return out
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered executions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handle returns the handle for id, or nil if the execution is unknown or
// has not been submitted yet.
func (r *Registry) Handle(id string) *workflow.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[id]; ok {
		return e.handle
	}
	return nil
}

// Handles returns all submitted handles keyed by execution id.
func (r *Registry) Handles() map[string]*workflow.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*workflow.Handle, len(r.entries))
	for id, e := range r.entries {
		if e.handle != nil {
			out[id] = e.handle
		}
	}
	return out
}

// Get returns the view of a single execution.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.view(), true
}

// List returns views of all executions, oldest first for a stable API
// response.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.view())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

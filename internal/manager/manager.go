package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/dataform-runner/internal/model"
	"github.com/seantiz/dataform-runner/internal/notify"
	"github.com/seantiz/dataform-runner/internal/store"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxRetries             = 3
	DefaultRetryDelay             = 60 * time.Second
	DefaultMaxConcurrentWorkflows = 3
	DefaultPollInterval           = 5 * time.Second
	DefaultDrainTimeout           = 60 * time.Second
	DefaultDrainPollInterval      = time.Second
)

const emitTimeout = 5 * time.Second

// ErrShutdown is returned by RunWorkflow once Shutdown has begun.
var ErrShutdown = errors.New("manager is shutting down")

// Submitter compiles and invokes a workflow without waiting for it.
// *workflow.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, executionID string, fullRefresh bool) (*workflow.Handle, error)
}

// Callbacks are optional lifecycle hooks for one execution. They run on
// manager goroutines; a panicking callback is recovered and logged.
type Callbacks struct {
	// OnStart runs after a successful submission.
	OnStart func(h *workflow.Handle)
	// OnComplete runs once when the invocation is seen in a terminal state.
	OnComplete func(h *workflow.Handle)
	// OnError runs after every failed submission attempt (h is nil) and when
	// waiting on a submitted invocation fails (h is set).
	OnError func(h *workflow.Handle, err error)
}

// RunRequest describes one managed execution.
type RunRequest struct {
	// ExecutionID is generated when empty. It must not collide with an
	// execution the manager still holds.
	ExecutionID string
	// Wait keeps the worker slot occupied until the invocation finishes or
	// Timeout elapses.
	Wait        bool
	Timeout     time.Duration
	FullRefresh bool
	Callbacks   Callbacks
}

// Config configures a Manager.
type Config struct {
	Service Submitter
	// MaxRetries is the number of resubmissions after the first failed
	// attempt. Zero selects DefaultMaxRetries; negative disables retries.
	MaxRetries             int
	RetryDelay             time.Duration
	MaxConcurrentWorkflows int
	PollInterval           time.Duration
	// WaitPollInterval paces RunRequest.Wait independently of the poller.
	// Zero selects workflow.DefaultPollInterval.
	WaitPollInterval       time.Duration
	DrainTimeout           time.Duration
	DrainPollInterval      time.Duration

	// Store journals lifecycle events when set.
	Store store.Store
	// Notifier receives every lifecycle event when set.
	Notifier notify.Notifier
	Logger   *slog.Logger
}

func (c *Config) applyDefaults() {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxConcurrentWorkflows <= 0 {
		c.MaxConcurrentWorkflows = DefaultMaxConcurrentWorkflows
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WaitPollInterval <= 0 {
		c.WaitPollInterval = workflow.DefaultPollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.DrainPollInterval <= 0 {
		c.DrainPollInterval = DefaultDrainPollInterval
	}
	if c.Notifier == nil {
		c.Notifier = notify.NoopNotifier{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager runs workflow executions on a bounded pool and tracks them until
// they finish.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
	broker   *EventBroker
	sem      *semaphore.Weighted

	// completions carries terminal handles from the poller to the dispatcher.
	completions chan tracked

	mu      sync.Mutex
	closing bool
	tasks   sync.WaitGroup

	loops     sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// New creates a Manager. Call Start to begin polling.
func New(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:         cfg,
		logger:      cfg.Logger,
		registry:    NewRegistry(),
		broker:      NewEventBroker(),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrentWorkflows)),
		completions: make(chan tracked),
		stop:        make(chan struct{}),
	}
}

// Broker returns the manager's event broker for SSE subscription.
func (m *Manager) Broker() *EventBroker {
	return m.broker
}

// Start launches the poller and the dispatcher. They run until ctx is done
// or Shutdown is called. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.loops.Go(func() { m.pollLoop(ctx) })
		m.loops.Go(func() { m.dispatchLoop(ctx) })
		m.logger.Info("workflow manager started",
			"max_concurrent", m.cfg.MaxConcurrentWorkflows,
			"max_retries", m.cfg.MaxRetries,
			"poll_interval", m.cfg.PollInterval,
		)
	})
}

// RunWorkflow registers an execution and schedules its submission on the
// worker pool. It returns the execution id without waiting for a slot.
func (m *Manager) RunWorkflow(ctx context.Context, req RunRequest) (string, error) {
	id := req.ExecutionID
	if id == "" {
		id = model.NewExecutionID()
	}
	// Background work outlives the caller's request.
	taskCtx := context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return "", ErrShutdown
	}
	if err := m.registry.add(id, req.Callbacks); err != nil {
		return "", fmt.Errorf("%s: %w", id, err)
	}
	activeExecutions.Inc()

	m.broker.reset(id)

	m.tasks.Go(func() {
		m.emit(model.NewEvent(id, model.EventSubmitted))
		if err := m.sem.Acquire(taskCtx, 1); err != nil {
			m.logger.Error("acquire worker slot", "execution_id", id, "error", err)
			return
		}
		defer m.sem.Release(1)
		m.execute(taskCtx, id, req)
	})

	m.logger.Info("workflow queued", "execution_id", id, "wait", req.Wait)
	return id, nil
}

// execute is the retry loop for one execution. Submission never blocks on
// the invocation; waiting, if requested, happens once after success.
func (m *Manager) execute(ctx context.Context, id string, req RunRequest) {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if !m.registry.update(id, func(e *entry) {
			e.status = StatusSubmitting
			e.attempt = attempt
		}) {
			m.logger.Warn("execution evicted before submission", "execution_id", id)
			return
		}

		h, err := m.cfg.Service.Submit(ctx, id, req.FullRefresh)
		if err == nil {
			submissionsTotal.WithLabelValues("success").Inc()
			m.started(ctx, id, req, h, attempt)
			return
		}

		lastErr = err
		submissionsTotal.WithLabelValues("failure").Inc()
		m.logger.Warn("workflow submission failed",
			"execution_id", id,
			"attempt", attempt+1,
			"error", err,
		)
		m.registry.update(id, func(e *entry) { e.lastErr = err.Error() })

		m.safeCall("on_error", id, func() {
			if req.Callbacks.OnError != nil {
				req.Callbacks.OnError(nil, err)
			}
		})

		ev := model.NewEvent(id, model.EventError)
		ev.Attempt = attempt
		ev.Error = err.Error()
		m.emit(ev)

		if attempt == m.cfg.MaxRetries {
			break
		}

		m.registry.update(id, func(e *entry) { e.status = StatusRetrying })
		retry := model.NewEvent(id, model.EventRetrying)
		retry.Attempt = attempt + 1
		m.emit(retry)

		time.Sleep(m.cfg.RetryDelay)
	}

	m.logger.Error("workflow abandoned after retries",
		"execution_id", id,
		"attempts", m.cfg.MaxRetries+1,
		"error", lastErr,
	)
	if e, ok := m.registry.remove(id); ok {
		activeExecutions.Dec()
		abandonedTotal.Inc()
		ev := model.NewEvent(id, model.EventAbandoned)
		ev.Attempt = e.attempt
		ev.Error = e.lastErr
		m.emit(ev)
	}
}

// started registers a submitted handle, fires OnStart and optionally waits.
func (m *Manager) started(ctx context.Context, id string, req RunRequest, h *workflow.Handle, attempt int) {
	if !m.registry.update(id, func(e *entry) {
		e.handle = h
		e.status = StatusRunning
		e.lastErr = ""
	}) {
		m.logger.Warn("execution evicted during submission; invocation is not tracked",
			"execution_id", id,
			"invocation", h.Name(),
		)
		return
	}

	inv := h.Snapshot()
	m.logger.Info("workflow started",
		"execution_id", id,
		"invocation", inv.Name,
		"attempt", attempt+1,
	)

	ev := model.NewEvent(id, model.EventStarted)
	ev.InvocationName = inv.Name
	ev.State = inv.State
	ev.Attempt = attempt
	m.emit(ev)

	m.safeCall("on_start", id, func() {
		if req.Callbacks.OnStart != nil {
			req.Callbacks.OnStart(h)
		}
	})

	if !req.Wait {
		return
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = workflow.DefaultTimeout
	}
	if err := h.WaitForCompletion(ctx, m.cfg.WaitPollInterval, timeout); err != nil {
		// The invocation stays registered; the poller still completes it.
		if !m.registry.updateHandle(id, h, func(e *entry) { e.lastErr = err.Error() }) {
			// Completed by the poller while we were waiting.
			return
		}
		m.logger.Warn("waiting for workflow failed", "execution_id", id, "error", err)
		m.safeCall("on_error", id, func() {
			if req.Callbacks.OnError != nil {
				req.Callbacks.OnError(h, err)
			}
		})
		ev := model.NewEvent(id, model.EventError)
		ev.InvocationName = h.Name()
		ev.Attempt = attempt
		ev.Error = err.Error()
		m.emit(ev)
		return
	}

	m.finish(id, h)
}

// finish completes the execution that h belongs to, once. Later calls, and
// calls carrying the handle of an earlier run under a reused id, are no-ops.
func (m *Manager) finish(id string, h *workflow.Handle) {
	e, ok := m.registry.removeHandle(id, h)
	if !ok {
		return
	}
	activeExecutions.Dec()

	inv := h.Snapshot()
	completionsTotal.WithLabelValues(string(inv.State)).Inc()
	m.logger.Info("workflow completed",
		"execution_id", id,
		"invocation", inv.Name,
		"state", inv.State,
	)

	m.safeCall("on_complete", id, func() {
		if e.callbacks.OnComplete != nil {
			e.callbacks.OnComplete(h)
		}
	})

	ev := model.NewEvent(id, model.EventCompleted)
	ev.InvocationName = inv.Name
	ev.State = inv.State
	ev.Attempt = e.attempt
	if d, ok := inv.DurationSeconds(); ok {
		ev.DurationSeconds = &d
	}
	m.emit(ev)
}

func (m *Manager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce refreshes every registered handle outside the registry lock and
// hands terminal ones to the dispatcher.
func (m *Manager) pollOnce(ctx context.Context) {
	for _, t := range m.registry.tracked() {
		if err := t.handle.Refresh(ctx); err != nil {
			m.logger.Warn("refresh workflow", "execution_id", t.id, "error", err)
			continue
		}
		if !t.handle.Snapshot().State.IsTerminal() {
			continue
		}
		select {
		case m.completions <- t:
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case t := <-m.completions:
			m.finish(t.id, t.handle)
		}
	}
}

// GetWorkflow returns the handle for an execution, or nil if it is unknown,
// not yet submitted or already finished.
func (m *Manager) GetWorkflow(executionID string) *workflow.Handle {
	return m.registry.Handle(executionID)
}

// GetAllWorkflows returns a snapshot of submitted handles by execution id.
func (m *Manager) GetAllWorkflows() map[string]*workflow.Handle {
	return m.registry.Handles()
}

// Entry returns the status view of one execution.
func (m *Manager) Entry(executionID string) (Entry, bool) {
	return m.registry.Get(executionID)
}

// Entries returns status views of every held execution.
func (m *Manager) Entries() []Entry {
	return m.registry.List()
}

// Shutdown stops accepting work and waits up to DrainTimeout for held
// executions to finish, checking every DrainPollInterval. Executions still
// held afterwards are evicted. In-flight submission tasks are then awaited,
// never cancelled; ctx bounds the whole call.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	deadline := time.Now().Add(m.cfg.DrainTimeout)
drain:
	for m.registry.Len() > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-time.After(min(m.cfg.DrainPollInterval, remaining)):
		}
	}

	for _, e := range m.registry.removeAll() {
		activeExecutions.Dec()
		evictedTotal.Inc()
		m.logger.Warn("evicting unfinished workflow", "execution_id", e.id, "status", e.status)

		ev := model.NewEvent(e.id, model.EventEvicted)
		ev.Attempt = e.attempt
		if e.handle != nil {
			inv := e.handle.Snapshot()
			ev.InvocationName = inv.Name
			ev.State = inv.State
		}
		m.emit(ev)
	}

	m.stopOnce.Do(func() { close(m.stop) })
	m.loops.Wait()

	done := make(chan struct{})
	go func() {
		m.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("workflow manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight tasks: %w", ctx.Err())
	}
}

// emit journals, publishes and broadcasts a lifecycle event. Failures are
// logged and never affect the execution.
func (m *Manager) emit(e model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.InsertEvent(ctx, e); err != nil {
			m.logger.Error("failed to journal event", "execution_id", e.ExecutionID, "kind", e.Kind, "error", err)
		}
	}
	if err := m.cfg.Notifier.Notify(ctx, e); err != nil {
		m.logger.Error("failed to publish event", "execution_id", e.ExecutionID, "kind", e.Kind, "error", err)
	}

	m.broker.Publish(e)
	if e.Kind.IsFinal() {
		m.broker.Close(e.ExecutionID)
	}
}

func (m *Manager) safeCall(name, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			callbackPanicsTotal.Inc()
			m.logger.Error("callback panicked", "callback", name, "execution_id", id, "panic", r)
		}
	}()
	fn()
}

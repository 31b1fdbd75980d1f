package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/dataform-runner/internal/dataform"
)

// Defaults for RunOptions.
const (
	DefaultTimeout      = time.Hour
	DefaultPollInterval = 30 * time.Second
)

// ExecutionIDVar is the compilation variable that carries the caller's
// execution id into the compiled project.
const ExecutionIDVar = "defaultExecutionId"

// InvocationOptions controls which actions a workflow invocation runs.
type InvocationOptions struct {
	FullRefresh         bool
	IncludeDependencies bool
	IncludeDependents   bool
}

// DefaultInvocationOptions fully refreshes incremental tables and includes
// transitive dependencies and dependents.
func DefaultInvocationOptions() InvocationOptions {
	return InvocationOptions{
		FullRefresh:         true,
		IncludeDependencies: true,
		IncludeDependents:   true,
	}
}

// RunOptions configures Service.RunWorkflow.
type RunOptions struct {
	// ExecutionID, when set, is passed to the compilation as ExecutionIDVar.
	// It is not an idempotency key.
	ExecutionID string
	// Wait blocks until the invocation is terminal or Timeout elapses.
	Wait         bool
	Timeout      time.Duration
	PollInterval time.Duration
	FullRefresh  bool
}

// DefaultRunOptions returns options with the standard timeout, poll interval
// and full refresh enabled.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		FullRefresh:  true,
	}
}

// Service composes compile, invoke and wait against one repository.
type Service struct {
	cfg    Config
	client dataform.Client
	logger *slog.Logger

	mu     sync.Mutex
	latest *Handle
}

// NewService creates a Service for the repository described by cfg.
func NewService(cfg Config, client dataform.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, client: client, logger: logger}
}

// Config returns the repository configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Client returns the remote client the service talks to.
func (s *Service) Client() dataform.Client {
	return s.client
}

// LatestWorkflow returns the handle most recently created by CreateWorkflow,
// or nil.
func (s *Service) LatestWorkflow() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Compile compiles the configured branch and returns the compilation result
// name. vars and schemaSuffix are optional.
func (s *Service) Compile(ctx context.Context, vars map[string]string, schemaSuffix string) (string, error) {
	res, err := s.client.CreateCompilationResult(ctx, dataform.CompileRequest{
		Parent:       s.cfg.RepoURI(),
		GitCommitish: s.cfg.GitBranch,
		Vars:         vars,
		SchemaSuffix: schemaSuffix,
	})
	if err != nil {
		return "", fmt.Errorf("compile %s@%s: %w", s.cfg.RepoName, s.cfg.GitBranch, err)
	}

	s.logger.Debug("compiled repository",
		"repo", s.cfg.RepoName,
		"branch", s.cfg.GitBranch,
		"compilation_result", res.Name,
	)
	return res.Name, nil
}

// CreateWorkflow invokes a compilation result and returns a handle to the
// new invocation.
func (s *Service) CreateWorkflow(ctx context.Context, compilationName string, opts InvocationOptions) (*Handle, error) {
	inv, err := s.client.CreateWorkflowInvocation(ctx, dataform.InvokeRequest{
		Parent:              s.cfg.RepoURI(),
		CompilationResult:   compilationName,
		FullRefresh:         opts.FullRefresh,
		IncludeDependencies: opts.IncludeDependencies,
		IncludeDependents:   opts.IncludeDependents,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", compilationName, err)
	}

	h := NewHandle(s.client, inv)
	s.mu.Lock()
	s.latest = h
	s.mu.Unlock()

	s.logger.Info("workflow invoked",
		"invocation", inv.Name,
		"compilation_result", compilationName,
		"state", inv.State,
	)
	return h, nil
}

// GetWorkflow returns a handle for an existing invocation.
func (s *Service) GetWorkflow(ctx context.Context, name string) (*Handle, error) {
	inv, err := s.client.GetWorkflowInvocation(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", name, err)
	}
	return NewHandle(s.client, inv), nil
}

// Submit compiles and invokes without waiting. A non-empty executionID is
// passed through as a compilation variable.
func (s *Service) Submit(ctx context.Context, executionID string, fullRefresh bool) (*Handle, error) {
	var vars map[string]string
	if executionID != "" {
		vars = map[string]string{ExecutionIDVar: executionID}
	}

	compilation, err := s.Compile(ctx, vars, "")
	if err != nil {
		return nil, err
	}

	opts := DefaultInvocationOptions()
	opts.FullRefresh = fullRefresh
	return s.CreateWorkflow(ctx, compilation, opts)
}

// RunWorkflow compiles, invokes and optionally waits for completion.
// Repeated calls with the same ExecutionID create separate invocations.
// When waiting times out, the handle is returned together with the error.
func (s *Service) RunWorkflow(ctx context.Context, opts RunOptions) (*Handle, error) {
	h, err := s.Submit(ctx, opts.ExecutionID, opts.FullRefresh)
	if err != nil {
		return nil, err
	}
	if !opts.Wait {
		return h, nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := h.WaitForCompletion(ctx, opts.PollInterval, timeout); err != nil {
		return h, err
	}
	return h, nil
}

// ListRecentWorkflows returns handles for up to limit recent invocations.
func (s *Service) ListRecentWorkflows(ctx context.Context, limit int) ([]*Handle, error) {
	invs, err := s.client.ListWorkflowInvocations(ctx, s.cfg.RepoURI(), limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	handles := make([]*Handle, len(invs))
	for i, inv := range invs {
		handles[i] = NewHandle(s.client, inv)
	}
	return handles, nil
}

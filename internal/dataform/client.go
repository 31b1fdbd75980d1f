package dataform

import (
	"context"
	"errors"

	"github.com/seantiz/dataform-runner/internal/model"
)

// Errors returned by Client implementations. Callers match them with errors.Is.
var (
	// ErrRemoteUnavailable indicates a transport failure or a retryable
	// server-side condition (5xx, 429).
	ErrRemoteUnavailable = errors.New("dataform: remote unavailable")

	// ErrRemoteRejected indicates the service refused the request
	// (validation, authentication or permission failure).
	ErrRemoteRejected = errors.New("dataform: request rejected")

	// ErrNotFound indicates the referenced resource does not exist.
	ErrNotFound = errors.New("dataform: not found")
)

// Client is the request/response contract with the remote workflow service.
type Client interface {
	// CreateCompilationResult compiles a repository revision and returns the
	// resulting compilation artifact.
	CreateCompilationResult(ctx context.Context, req CompileRequest) (model.CompilationResult, error)

	// CreateWorkflowInvocation starts a new invocation of a compilation result.
	CreateWorkflowInvocation(ctx context.Context, req InvokeRequest) (model.Invocation, error)

	// GetWorkflowInvocation fetches the current snapshot of an invocation.
	GetWorkflowInvocation(ctx context.Context, name string) (model.Invocation, error)

	// ListWorkflowInvocations returns up to pageSize invocations under parent,
	// in the order the service returns them (most recent first).
	ListWorkflowInvocations(ctx context.Context, parent string, pageSize int) ([]model.Invocation, error)
}

// CompileRequest describes a compilation of a repository revision.
type CompileRequest struct {
	Parent       string            `json:"parent"`
	GitCommitish string            `json:"git_commitish"`
	Vars         map[string]string `json:"vars,omitempty"`
	SchemaSuffix string            `json:"schema_suffix,omitempty"`
}

// InvokeRequest describes a workflow invocation of a compilation result.
type InvokeRequest struct {
	Parent              string `json:"parent"`
	CompilationResult   string `json:"compilation_result"`
	FullRefresh         bool   `json:"full_refresh"`
	IncludeDependencies bool   `json:"include_dependencies"`
	IncludeDependents   bool   `json:"include_dependents"`
}

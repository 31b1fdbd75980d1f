// Package dataformtest provides an in-memory dataform.Client for tests.
package dataformtest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/model"
)

// Client is an in-memory dataform.Client. New invocations start in
// InitialState; tests drive them forward with SetState.
type Client struct {
	mu sync.Mutex

	// InitialState is the state assigned to new invocations (default RUNNING).
	InitialState model.State

	compileErr error
	invokeErr  error
	getErr     error

	invocations map[string]model.Invocation
	order       []string
	seq         int

	compiles     []dataform.CompileRequest
	invokes      []dataform.InvokeRequest
	getCalls     int
	compileCalls int
}

var _ dataform.Client = (*Client)(nil)

// New returns an empty fake client.
func New() *Client {
	return &Client{
		InitialState: model.StateRunning,
		invocations:  make(map[string]model.Invocation),
	}
}

// FailCompile makes every subsequent compilation fail with err (nil clears it).
func (c *Client) FailCompile(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compileErr = err
}

// FailInvoke makes every subsequent invocation fail with err (nil clears it).
func (c *Client) FailInvoke(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invokeErr = err
}

// FailGet makes every subsequent get fail with err (nil clears it).
func (c *Client) FailGet(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErr = err
}

// SetState moves an invocation to state, stamping start and end times the
// way the remote service does.
func (c *Client) SetState(name string, state model.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inv, ok := c.invocations[name]
	if !ok {
		return
	}
	inv.State = state
	now := model.TimestampFromTime(time.Now())
	if state != model.StatePending && inv.StartTime == nil {
		inv.StartTime = &now
	}
	if state.IsTerminal() && inv.EndTime == nil {
		inv.EndTime = &now
	}
	c.invocations[name] = inv
}

// Put stores inv as-is, replacing any invocation with the same name.
func (c *Client) Put(inv model.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.invocations[inv.Name]; !ok {
		c.order = append(c.order, inv.Name)
	}
	c.invocations[inv.Name] = inv
}

// Names returns invocation names in creation order.
func (c *Client) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// CompileCalls returns the number of compile attempts, including failed ones.
func (c *Client) CompileCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compileCalls
}

// GetCalls returns the number of get requests served.
func (c *Client) GetCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls
}

// Compiles returns the successful compile requests in order.
func (c *Client) Compiles() []dataform.CompileRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dataform.CompileRequest(nil), c.compiles...)
}

// Invokes returns the successful invoke requests in order.
func (c *Client) Invokes() []dataform.InvokeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dataform.InvokeRequest(nil), c.invokes...)
}

// CreateCompilationResult implements dataform.Client.
func (c *Client) CreateCompilationResult(ctx context.Context, req dataform.CompileRequest) (model.CompilationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compileCalls++
	if err := ctx.Err(); err != nil {
		return model.CompilationResult{}, err
	}
	if c.compileErr != nil {
		return model.CompilationResult{}, c.compileErr
	}

	c.seq++
	c.compiles = append(c.compiles, req)
	return model.CompilationResult{
		Name:         fmt.Sprintf("%s/compilationResults/c-%d", req.Parent, c.seq),
		GitCommitish: req.GitCommitish,
		Vars:         maps.Clone(req.Vars),
		SchemaSuffix: req.SchemaSuffix,
	}, nil
}

// CreateWorkflowInvocation implements dataform.Client.
func (c *Client) CreateWorkflowInvocation(ctx context.Context, req dataform.InvokeRequest) (model.Invocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.Invocation{}, err
	}
	if c.invokeErr != nil {
		return model.Invocation{}, c.invokeErr
	}

	c.seq++
	c.invokes = append(c.invokes, req)
	inv := model.Invocation{
		Name:              fmt.Sprintf("%s/workflowInvocations/i-%d", req.Parent, c.seq),
		CompilationResult: req.CompilationResult,
		State:             c.InitialState,
	}
	if inv.State == "" {
		inv.State = model.StateRunning
	}
	if inv.State != model.StatePending {
		now := model.TimestampFromTime(time.Now())
		inv.StartTime = &now
	}
	c.invocations[inv.Name] = inv
	c.order = append(c.order, inv.Name)
	return inv, nil
}

// GetWorkflowInvocation implements dataform.Client.
func (c *Client) GetWorkflowInvocation(ctx context.Context, name string) (model.Invocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getCalls++
	if err := ctx.Err(); err != nil {
		return model.Invocation{}, err
	}
	if c.getErr != nil {
		return model.Invocation{}, c.getErr
	}
	inv, ok := c.invocations[name]
	if !ok {
		return model.Invocation{}, fmt.Errorf("get %s: %w", name, dataform.ErrNotFound)
	}
	return inv, nil
}

// ListWorkflowInvocations implements dataform.Client, newest first.
func (c *Client) ListWorkflowInvocations(ctx context.Context, parent string, pageSize int) ([]model.Invocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []model.Invocation
	for i := len(c.order) - 1; i >= 0; i-- {
		if pageSize > 0 && len(out) == pageSize {
			break
		}
		out = append(out, c.invocations[c.order[i]])
	}
	return out, nil
}

package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/dataform-runner/internal/dataform"
	"github.com/seantiz/dataform-runner/internal/dataform/dataformtest"
	"github.com/seantiz/dataform-runner/internal/model"
)

func newTestService(t *testing.T) (*Service, *dataformtest.Client) {
	t.Helper()
	fake := dataformtest.New()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := NewConfig("test-project", "us-central1", "test-repo", "main")
	return NewService(cfg, fake, logger), fake
}

func TestCompileUsesRepositoryAndBranch(t *testing.T) {
	svc, fake := newTestService(t)

	name, err := svc.Compile(context.Background(), map[string]string{"env": "dev"}, "_dev")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if name == "" {
		t.Fatal("Compile returned empty name")
	}

	compiles := fake.Compiles()
	if len(compiles) != 1 {
		t.Fatalf("compiles = %d, want 1", len(compiles))
	}
	req := compiles[0]
	if req.Parent != svc.Config().RepoURI() {
		t.Errorf("Parent = %q, want %q", req.Parent, svc.Config().RepoURI())
	}
	if req.GitCommitish != "main" || req.SchemaSuffix != "_dev" || req.Vars["env"] != "dev" {
		t.Errorf("compile request = %+v", req)
	}
}

func TestCreateWorkflowSetsLatest(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	if svc.LatestWorkflow() != nil {
		t.Fatal("LatestWorkflow() non-nil before any invocation")
	}

	comp, err := svc.Compile(ctx, nil, "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	h, err := svc.CreateWorkflow(ctx, comp, InvocationOptions{IncludeDependencies: true})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if svc.LatestWorkflow() != h {
		t.Error("LatestWorkflow() is not the handle just created")
	}
	if h.CompilationResult() != comp {
		t.Errorf("CompilationResult() = %q, want %q", h.CompilationResult(), comp)
	}

	inv := fake.Invokes()[0]
	if inv.FullRefresh || !inv.IncludeDependencies || inv.IncludeDependents {
		t.Errorf("invoke request = %+v", inv)
	}
}

func TestRunWorkflowPassesExecutionID(t *testing.T) {
	svc, fake := newTestService(t)

	opts := DefaultRunOptions()
	opts.ExecutionID = "exec-42"
	if _, err := svc.RunWorkflow(context.Background(), opts); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}

	req := fake.Compiles()[0]
	if got := req.Vars[ExecutionIDVar]; got != "exec-42" {
		t.Errorf("vars[%s] = %q, want exec-42", ExecutionIDVar, got)
	}
	if !fake.Invokes()[0].FullRefresh {
		t.Error("FullRefresh = false, want default true")
	}
}

func TestRunWorkflowWithoutExecutionIDSendsNoVars(t *testing.T) {
	svc, fake := newTestService(t)

	if _, err := svc.RunWorkflow(context.Background(), DefaultRunOptions()); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if vars := fake.Compiles()[0].Vars; len(vars) != 0 {
		t.Errorf("vars = %v, want none", vars)
	}
}

func TestRunWorkflowSameExecutionIDCreatesTwoInvocations(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	opts := DefaultRunOptions()
	opts.ExecutionID = "same"
	h1, err := svc.RunWorkflow(ctx, opts)
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	h2, err := svc.RunWorkflow(ctx, opts)
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if h1.Name() == h2.Name() {
		t.Errorf("both runs returned invocation %q", h1.Name())
	}
	if got := len(fake.Invokes()); got != 2 {
		t.Errorf("invokes = %d, want 2", got)
	}
}

func TestRunWorkflowWaits(t *testing.T) {
	svc, fake := newTestService(t)

	go func() {
		for {
			names := fake.Names()
			if len(names) > 0 {
				time.Sleep(30 * time.Millisecond)
				fake.SetState(names[0], model.StateSucceeded)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	opts := DefaultRunOptions()
	opts.Wait = true
	opts.PollInterval = 10 * time.Millisecond
	opts.Timeout = 5 * time.Second

	h, err := svc.RunWorkflow(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if got := h.Snapshot().State; got != model.StateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", got)
	}
}

func TestRunWorkflowWaitTimeoutReturnsHandle(t *testing.T) {
	svc, _ := newTestService(t)

	opts := DefaultRunOptions()
	opts.Wait = true
	opts.PollInterval = 10 * time.Millisecond
	opts.Timeout = 50 * time.Millisecond

	h, err := svc.RunWorkflow(context.Background(), opts)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if h == nil {
		t.Fatal("handle is nil on timeout")
	}
	if h.Snapshot().State != model.StateRunning {
		t.Errorf("state = %s, want RUNNING", h.Snapshot().State)
	}
}

func TestRunWorkflowPropagatesRemoteErrors(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	fake.FailCompile(dataform.ErrRemoteRejected)
	if _, err := svc.RunWorkflow(ctx, DefaultRunOptions()); !errors.Is(err, dataform.ErrRemoteRejected) {
		t.Errorf("compile failure: err = %v, want ErrRemoteRejected", err)
	}

	fake.FailCompile(nil)
	fake.FailInvoke(dataform.ErrRemoteUnavailable)
	if _, err := svc.RunWorkflow(ctx, DefaultRunOptions()); !errors.Is(err, dataform.ErrRemoteUnavailable) {
		t.Errorf("invoke failure: err = %v, want ErrRemoteUnavailable", err)
	}
	if svc.LatestWorkflow() != nil {
		t.Error("LatestWorkflow() set after failed invocation")
	}
}

func TestGetWorkflow(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	h, err := svc.Submit(ctx, "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	fake.SetState(h.Name(), model.StateCancelled)

	got, err := svc.GetWorkflow(ctx, h.Name())
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Snapshot().State != model.StateCancelled {
		t.Errorf("state = %s, want CANCELLED", got.Snapshot().State)
	}

	if _, err := svc.GetWorkflow(ctx, "missing"); !errors.Is(err, dataform.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRecentWorkflows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var last *Handle
	for range 3 {
		h, err := svc.Submit(ctx, "", true)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		last = h
	}

	handles, err := svc.ListRecentWorkflows(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentWorkflows: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("len = %d, want 2", len(handles))
	}
	if handles[0].Name() != last.Name() {
		t.Errorf("first = %q, want newest %q", handles[0].Name(), last.Name())
	}
}

package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/seantiz/dataform-runner/internal/dataform/dataformtest"
	"github.com/seantiz/dataform-runner/internal/model"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

func TestRegistryAddRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.add("a", Callbacks{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.add("a", Callbacks{}); !errors.Is(err, ErrDuplicateExecution) {
		t.Errorf("add duplicate: err = %v, want ErrDuplicateExecution", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRemoveOnlyOnce(t *testing.T) {
	r := NewRegistry()
	r.add("a", Callbacks{})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if _, ok := r.remove("a"); ok {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful removes = %d, want 1", got)
	}
	if r.Contains("a") {
		t.Error("entry still present after remove")
	}
}

func TestRegistryTrackedOnlyIncludesSubmitted(t *testing.T) {
	r := NewRegistry()
	r.add("queued", Callbacks{})
	r.add("running", Callbacks{})

	h := workflow.NewHandle(dataformtest.New(), model.Invocation{Name: "i-1", State: model.StateRunning})
	r.update("running", func(e *entry) {
		e.handle = h
		e.status = StatusRunning
	})

	tr := r.tracked()
	if len(tr) != 1 || tr[0].id != "running" {
		t.Errorf("tracked = %+v, want only running", tr)
	}
	if r.Handle("queued") != nil {
		t.Error("Handle(queued) should be nil before submission")
	}
	if got := r.Handles(); len(got) != 1 || got["running"] != h {
		t.Errorf("Handles() = %v", got)
	}

	e, ok := r.Get("running")
	if !ok || e.InvocationName != "i-1" || e.State != model.StateRunning {
		t.Errorf("Get(running) = %+v, %v", e, ok)
	}
}

func TestRegistryUpdateMissing(t *testing.T) {
	r := NewRegistry()
	if r.update("missing", func(*entry) { t.Error("fn called for missing entry") }) {
		t.Error("update reported success for missing entry")
	}
}

func TestRegistryRemoveAll(t *testing.T) {
	r := NewRegistry()
	r.add("a", Callbacks{})
	r.add("b", Callbacks{})

	if got := len(r.removeAll()); got != 2 {
		t.Errorf("removeAll() = %d entries, want 2", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryListOrdered(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.add(id, Callbacks{})
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if cur.SubmittedAt.Before(prev.SubmittedAt) {
			t.Errorf("entries out of order at %d", i)
		}
		if cur.SubmittedAt.Equal(prev.SubmittedAt) && cur.ExecutionID < prev.ExecutionID {
			t.Errorf("ties not broken by id at %d", i)
		}
	}
}

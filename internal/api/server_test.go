package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/dataform-runner/internal/dataform/dataformtest"
	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/store"
	"github.com/seantiz/dataform-runner/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithClient(t, dataformtest.New())
}

// newTestServerWithClient wires a running manager and an in-memory journal
// around fake.
func newTestServerWithClient(t *testing.T, fake *dataformtest.Client) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := workflow.NewService(workflow.NewConfig("p", "", "r", ""), fake, logger)
	mgr := manager.New(manager.Config{
		Service:           svc,
		RetryDelay:        time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		WaitPollInterval:  10 * time.Millisecond,
		DrainTimeout:      time.Second,
		DrainPollInterval: 5 * time.Millisecond,
		Store:             s,
		Logger:            logger,
	})
	mgr.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	return NewServer(Options{Addr: ":0"}, mgr, svc, s, logger)
}

func TestRequestIDInContext(t *testing.T) {
	srv := newTestServer(t)
	var reqID string
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		reqID = middleware.GetReqID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if reqID == "" {
		t.Error("request id missing from handler context")
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	srv := newTestServer(t)
	restricted := NewServer(Options{Addr: ":0", CORSOrigins: []string{"https://ops.example.com"}},
		srv.manager, srv.invocations, srv.store, srv.logger)

	ts := httptest.NewServer(restricted.Router())
	defer ts.Close()

	for origin, want := range map[string]string{
		"https://ops.example.com": "https://ops.example.com",
		"http://evil.example.com": "",
	} {
		req, _ := http.NewRequest("OPTIONS", ts.URL+"/v1/workflows", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("OPTIONS: %v", err)
		}
		resp.Body.Close()

		if v := resp.Header.Get("Access-Control-Allow-Origin"); v != want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", origin, v, want)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

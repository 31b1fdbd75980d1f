package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/dataform-runner/internal/scheduler"
)

func newScheduledServer(t *testing.T) *Server {
	t.Helper()
	base := newTestServer(t)
	sched, err := scheduler.New([]scheduler.Schedule{
		{Name: "nightly", Cron: "0 2 * * *", FullRefresh: true},
		{Name: "hourly", Cron: "@hourly"},
	}, base.manager, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return NewServer(Options{Addr: ":0", Schedules: sched}, base.manager, base.invocations, base.store, base.logger)
}

func TestListSchedules(t *testing.T) {
	srv := newScheduledServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/schedules")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listSchedulesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Schedules) != 2 {
		t.Fatalf("schedules = %+v, want 2", body.Schedules)
	}
	if body.Schedules[0].Name != "hourly" || body.Schedules[1].Name != "nightly" {
		t.Errorf("names = %s, %s; want hourly, nightly", body.Schedules[0].Name, body.Schedules[1].Name)
	}
	for _, s := range body.Schedules {
		if s.NextRun.IsZero() {
			t.Errorf("%s: next_run is zero", s.Name)
		}
	}
}

func TestListSchedulesNoneConfigured(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/schedules")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(body)); got != `{"schedules":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestTriggerSchedule(t *testing.T) {
	srv := newScheduledServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/schedules/nightly/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body runWorkflowResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.ExecutionID, "nightly-") {
		t.Errorf("execution_id = %q, want nightly- prefix", body.ExecutionID)
	}
	if _, ok := srv.manager.Entry(body.ExecutionID); !ok {
		t.Error("triggered execution is not held by the manager")
	}
}

func TestTriggerUnknownSchedule(t *testing.T) {
	for name, srv := range map[string]*Server{
		"configured":   newScheduledServer(t),
		"unconfigured": newTestServer(t),
	} {
		ts := httptest.NewServer(srv.Router())
		resp, err := http.Post(ts.URL+"/v1/schedules/missing/trigger", "application/json", nil)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		ts.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, resp.StatusCode)
		}
	}
}

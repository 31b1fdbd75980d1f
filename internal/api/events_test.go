package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/dataform-runner/internal/model"
)

func getRecentEvents(t *testing.T, srv *Server, query string) recentEventsResponse {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/events" + query)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body recentEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestListRecentEventsEmpty(t *testing.T) {
	body := getRecentEvents(t, newTestServer(t), "")

	if body.Events == nil || len(body.Events) != 0 {
		t.Errorf("events = %v, want empty slice", body.Events)
	}
	if body.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestListRecentEventsLimit(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := srv.store.InsertEvent(ctx, model.NewEvent(id, model.EventSubmitted)); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	body := getRecentEvents(t, srv, "?limit=2")
	if len(body.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(body.Events))
	}
	if body.Events[0].ExecutionID != "c" {
		t.Errorf("newest execution = %q, want c", body.Events[0].ExecutionID)
	}

	body = getRecentEvents(t, srv, "?limit=5000")
	if body.Limit != maxListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, maxListLimit)
	}
}

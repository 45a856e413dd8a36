package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer("127.0.0.1:0", st, prometheus.NewRegistry(), logrus.NewEntry(logger)), st
}

func seedRun(t *testing.T, st *store.SQLiteStore, id string, results ...domain.ExecutionResult) {
	t.Helper()
	ctx := context.Background()
	outcome := domain.NewAggregateOutcome(id)
	if err := st.CreateRun(ctx, id, len(results)); err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if err := st.Save(ctx, id, res); err != nil {
			t.Fatal(err)
		}
		_ = outcome.Record(res)
	}
	outcome.Seal()
	if err := st.FinishRun(ctx, outcome); err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthzEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body healthResponse
	if code := getJSON(t, ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestRunEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	seedRun(t, st, "run-1",
		domain.ExecutionResult{Device: domain.Device{Serial: "emulator-5554"}, Status: domain.StatusPassed},
		domain.FailedResult(domain.Device{Serial: "emulator-5556"}, domain.FailureTimeout, "no result within 10m"),
	)
	seedRun(t, st, "run-2")

	var list listRunsResponse
	if code := getJSON(t, ts.URL+"/v1/runs?limit=500", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Total != 2 || len(list.Runs) != 2 || list.Limit != defaultListLimit {
		t.Fatalf("list = %+v", list)
	}

	var got runResponse
	if code := getJSON(t, ts.URL+"/v1/runs/run-1", &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Run.ID != "run-1" || got.Run.Status != store.RunFailed || got.Run.Counts.TimedOut != 1 {
		t.Errorf("run = %+v", got.Run)
	}
	if len(got.Results) != 2 || got.Results[1].Status != domain.StatusTimedOut {
		t.Errorf("results = %+v", got.Results)
	}

	var empty runResponse
	getJSON(t, ts.URL+"/v1/runs/run-2", &empty)
	if empty.Results == nil || len(empty.Results) != 0 || empty.Run.Status != store.RunEmpty {
		t.Errorf("empty run = %+v", empty)
	}

	var errBody map[string]string
	if code := getJSON(t, ts.URL+"/v1/runs/missing", &errBody); code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", code)
	}
	if errBody["error"] == "" {
		t.Error("missing error message")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	getJSON(t, ts.URL+"/healthz", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	if !strings.Contains(body, "armada_http_requests_total") {
		t.Error("metrics output missing armada_http_requests_total")
	}
	if !strings.Contains(body, `path="/healthz"`) {
		t.Error("metrics output missing the healthz route label")
	}
}

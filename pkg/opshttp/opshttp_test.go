package opshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/status"
	"tokenforge/pkg/testkit"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New("127.0.0.1:0", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "ok\n" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestReadyzFollowsSetReady(t *testing.T) {
	srv := New("127.0.0.1:0")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("before ready: status = %d, want 503", resp.StatusCode)
	}

	srv.SetReady(true)
	resp, _ = get(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after ready: status = %d, want 200", resp.StatusCode)
	}

	srv.SetReady(false)
	resp, _ = get(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("after unready: status = %d, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Fatal("metrics body should not be empty")
	}
}

func TestBatchStatus(t *testing.T) {
	sink := testkit.NewMemorySink()
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []status.Update{
		{BatchID: "batch-1", TaskID: "task-001", ImageRef: "shots/home.png", Stage: "EXTRACTION", At: now},
		{BatchID: "batch-1", TaskID: "task-001", ImageRef: "shots/home.png", Stage: "DONE", At: now.Add(time.Second)},
		{BatchID: "batch-1", TaskID: "task-002", ImageRef: "shots/about.png", Stage: "FAILED", Detail: "extractor down", At: now},
		{BatchID: "batch-2", TaskID: "task-009", Stage: "PREPROCESSING", At: now},
	}
	for _, u := range seed {
		if err := sink.Publish(ctx, u); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	ts := newTestServer(t, WithStatusReader(sink))

	resp, body := get(t, ts.URL+"/batches/batch-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", resp.StatusCode, body)
	}

	var view struct {
		BatchID string `json:"batch_id"`
		Tasks   []struct {
			TaskID string `json:"task_id"`
			Stage  string `json:"stage"`
			Detail string `json:"detail"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.BatchID != "batch-1" {
		t.Fatalf("batch_id = %q, want batch-1", view.BatchID)
	}
	if len(view.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(view.Tasks))
	}
	// Tasks come back sorted by ID with the latest update per task.
	if view.Tasks[0].TaskID != "task-001" || view.Tasks[0].Stage != "DONE" {
		t.Fatalf("task-001 = %+v, want stage DONE", view.Tasks[0])
	}
	if view.Tasks[1].TaskID != "task-002" || view.Tasks[1].Detail != "extractor down" {
		t.Fatalf("task-002 = %+v, want failure detail", view.Tasks[1])
	}
}

func TestBatchStatusNotFound(t *testing.T) {
	ts := newTestServer(t, WithStatusReader(testkit.NewMemorySink()))

	resp, _ := get(t, ts.URL+"/batches/no-such-batch")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchStatusWithoutBackend(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := get(t, ts.URL+"/batches/batch-1")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestBreakersSnapshot(t *testing.T) {
	b := circuit.New("claude", circuit.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	b.Record(false)
	b.Record(false)

	ts := newTestServer(t, WithBreakerStats(func() []circuit.Stats {
		return []circuit.Stats{b.GetStats()}
	}))

	resp, body := get(t, ts.URL+"/breakers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats []circuit.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d breakers, want 1", len(stats))
	}
	if stats[0].Name != "claude" || stats[0].State != "OPEN" {
		t.Fatalf("stats = %+v, want claude OPEN", stats[0])
	}
}

func TestBreakersWithoutSource(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/breakers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := string(bytes.TrimSpace(body)); got != "[]" {
		t.Fatalf("body = %q, want empty list", got)
	}
}

func TestLogLevelRoundTrip(t *testing.T) {
	prevEnabled, prevComponents := logx.DebugState()
	defer logx.SetDebug(prevEnabled, prevComponents...)

	ts := newTestServer(t)

	payload := bytes.NewBufferString(`{"debug": true, "components": ["pipeline"]}`)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/loglevel", payload)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /loglevel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if !logx.IsDebugEnabled("pipeline") {
		t.Fatal("debug should be enabled for pipeline")
	}
	if logx.IsDebugEnabled("other") {
		t.Fatal("debug should be filtered to pipeline only")
	}

	getResp, body := get(t, ts.URL+"/loglevel")
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}
	var view struct {
		Debug      bool     `json:"debug"`
		Components []string `json:"components"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !view.Debug || len(view.Components) != 1 || view.Components[0] != "pipeline" {
		t.Fatalf("view = %+v, want debug on for pipeline", view)
	}
}

func TestLogLevelRejectsBadBody(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/loglevel", bytes.NewBufferString("{nope"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /loglevel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLogsEndpoint(t *testing.T) {
	logger := logx.NewLogger("ops-logs-test")
	logger.Info("breadcrumb for the logs endpoint")

	ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/logs?component=ops-logs-test")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var entries []logx.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one buffered entry")
	}
	if entries[len(entries)-1].Message != "breadcrumb for the logs endpoint" {
		t.Fatalf("unexpected entry: %+v", entries[len(entries)-1])
	}

	resp, _ = get(t, ts.URL+"/logs?since=not-a-time")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: status = %d, want 400", resp.StatusCode)
	}
}

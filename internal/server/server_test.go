package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonathan/docpipeline/internal/observability"
	"github.com/jonathan/docpipeline/internal/pipeline"
	"github.com/jonathan/docpipeline/internal/ratelimit"
	"github.com/jonathan/docpipeline/internal/stage"
	"github.com/jonathan/docpipeline/internal/store"
	"github.com/jonathan/docpipeline/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passWorker copies its input and always scores 92
type passWorker struct{ name string }

func (w passWorker) Name() string { return w.name }

func (w passWorker) Process(_ context.Context, in stage.Input, _ *stage.CorrectionContext) (*stage.Output, error) {
	files := make(map[string][]byte, len(in.Files)+1)
	for p, data := range in.Files {
		files[p] = data
	}
	files[w.name+".txt"] = []byte(w.name)
	return &stage.Output{Files: files, Signal: types.QualityScore{Score: 92}}, nil
}

type testServer struct {
	*Server
}

func newTestServer(t *testing.T, limits *ratelimit.Config) *testServer {
	t.Helper()
	th := types.Thresholds{Minimum: 80, Good: 85, Excellent: 90, EscalationFloor: 75}
	registry, err := stage.NewRegistry(
		stage.Stage{Name: stage.ContentReview, Worker: passWorker{"review"}, Thresholds: th, MaxIterations: 2},
		stage.Stage{Name: stage.LaTeXGeneration, Worker: passWorker{"latex"}, Thresholds: th, MaxIterations: 2},
	)
	require.NoError(t, err)

	if limits == nil {
		limits = &ratelimit.Config{Enabled: false}
	}
	ms := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	orch := pipeline.New(registry, ms, pipeline.Policy{OverallTarget: 85, HumanHandoffScore: 70, WorkerTimeout: 5 * time.Second},
		pipeline.WithObserver(observability.NewMetrics(reg)))

	s := New(Config{Port: 0, RateLimit: limits, Gatherer: reg}, orch)
	t.Cleanup(s.rateLimiter.Stop)
	return &testServer{Server: s}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "introduction.md"), []byte("# Introduction\n\nHello world.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.csv"), []byte("metric,value\nacc,0.9\n"), 0o644))
	return dir
}

func startRun(t *testing.T, s *testServer) string {
	t.Helper()
	body, err := json.Marshal(RunRequest{Source: sourceDir(t)})
	require.NoError(t, err)
	w := s.do(http.MethodPost, "/runs", string(body))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)
	assert.Equal(t, 2, resp.Files)
	require.NotEmpty(t, resp.RunID)
	s.Wait()
	return resp.RunID
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestCreateRun_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid JSON", body: `{"source":`},
		{name: "missing source", body: `{}`},
		{name: "blank source", body: `{"source": "   "}`},
		{name: "missing directory", body: `{"source": "/does/not/exist"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			w := s.do(http.MethodPost, "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestCreateRun_RunsInBackground(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	w := s.do(http.MethodGet, "/runs/"+runID, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, runID, report.RunID)
	assert.Equal(t, types.StatusSuccess, report.Status)
	assert.Equal(t, types.ReasonCompleted, report.Reason)
	assert.Len(t, report.Stages, 2)
}

func TestRunEvents_ReplaysFinishedRun(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	w := s.do(http.MethodGet, "/runs/"+runID+"/events", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, "event: report\n")
	assert.Contains(t, body, "v0_original")
	assert.Contains(t, body, "event: complete\ndata: {\"reason\":\"completed\",\"run_id\":\""+runID+"\",\"status\":\"SUCCESS\"}\n\n")
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: complete"))
}

func TestRunEvents_StoredRunNotStartedHere(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.orchestrator.RunPipeline(context.Background(), pipeline.RunOptions{
		RunID:  "cli-run",
		Source: "inline",
		Files:  map[string][]byte{"sections/a.md": []byte("# A\n")},
	})
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/runs/cli-run/events", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "event: progress")
	assert.Contains(t, body, "event: report\n")
	assert.Contains(t, body, "event: complete\n")
}

func TestRunEndpoints_UnknownRun(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/runs/nope", "/runs/nope/events", "/runs/nope/versions", "/runs/nope/changes"} {
		t.Run(path, func(t *testing.T) {
			w := s.do(http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
		})
	}
}

func TestRunEndpoints_RejectEscapingRunID(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{
		"/runs/..%2F..%2Fsomewhere",
		"/runs/..%2F..%2Fsomewhere/events",
		"/runs/..%2F..%2Fsomewhere/versions",
		"/runs/..%2F..%2Fsomewhere/changes",
	} {
		t.Run(path, func(t *testing.T) {
			w := s.do(http.MethodGet, path, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestRunVersionsAndChanges(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	w := s.do(http.MethodGet, "/runs/"+runID+"/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var versions struct {
		RunID    string            `json:"run_id"`
		Versions []VersionResponse `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	require.Len(t, versions.Versions, 3)
	assert.Equal(t, "v0_original", versions.Versions[0].VersionID)
	assert.Equal(t, "v1_content_review", versions.Versions[1].VersionID)
	assert.Equal(t, "v0_original", versions.Versions[1].Parent)
	assert.Contains(t, versions.Versions[0].Files, "sections/introduction.md")

	w = s.do(http.MethodGet, "/runs/"+runID+"/changes", "")
	require.Equal(t, http.StatusOK, w.Code)
	var changes struct {
		Changes []types.ChangeRecord `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &changes))
	require.NotEmpty(t, changes.Changes)
	last := changes.Changes[len(changes.Changes)-1]
	assert.Equal(t, types.ChangeAdded, last.Changes["latex.txt"])
}

func TestListRuns(t *testing.T) {
	s := newTestServer(t, nil)
	runID := startRun(t, s)

	w := s.do(http.MethodGet, "/runs", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{runID}, resp["runs"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	startRun(t, s)

	w := s.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `docpipeline_runs_finished_total{reason="completed",status="SUCCESS"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodOptions, "/runs", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit_StartingRuns(t *testing.T) {
	s := newTestServer(t, &ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/runs", Method: http.MethodPost, Limit: 1, Window: time.Hour, Burst: 1},
		},
	})

	first := s.do(http.MethodPost, "/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := s.do(http.MethodPost, "/runs", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp["error"])

	// reads use the default limit
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/runs", "").Code)
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photocron/internal/domain"
	"photocron/internal/handlers/detect"
	"photocron/internal/scheduler"
)

type fakeRuns struct {
	gotJob   string
	gotLimit int
}

func (f *fakeRuns) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.Run, error) {
	f.gotJob, f.gotLimit = jobID, limit
	if jobID == "empty" {
		return nil, nil
	}
	return []domain.Run{{ID: "run_1", JobID: jobID, Trigger: "manual", State: "finished", Status: domain.StatusSuccess, Attempts: 1}}, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	s := scheduler.New()
	require.NoError(t, s.AddJob("detect", "every 1 days", func(ctx context.Context) domain.Outcome {
		return domain.Success(map[string]any{"processed": 2})
	}))
	opts.Jobs = s
	srv := httptest.NewServer(NewServer(opts))
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := do(t, http.MethodGet, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])
}

func TestRoot_ReportsVersion(t *testing.T) {
	srv, _ := newTestServer(t, Options{Version: "1.2.3"})
	resp := do(t, http.MethodGet, srv.URL+"/")
	assert.Equal(t, "1.2.3", decode[map[string]string](t, resp)["version"])
}

func TestListAndGetJobs(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp := do(t, http.MethodGet, srv.URL+"/api/jobs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[[]domain.JobStatus](t, resp)
	require.Len(t, jobs, 1)
	assert.Equal(t, "detect", jobs[0].ID)
	assert.Equal(t, "every 1 days", jobs[0].Schedule)
	assert.NotNil(t, jobs[0].NextRun)

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/detect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.JobIdle, decode[domain.JobStatus](t, resp).State)

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunJob(t *testing.T) {
	srv, s := newTestServer(t, Options{})

	resp := do(t, http.MethodPost, srv.URL+"/api/jobs/detect/run")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[domain.Outcome](t, resp)
	assert.Equal(t, domain.StatusSuccess, out.Status)
	assert.EqualValues(t, 2, out.Detail["processed"])

	st, err := s.GetJobStatus("detect")
	require.NoError(t, err)
	require.NotNil(t, st.LastOutcome)

	resp = do(t, http.MethodPost, srv.URL+"/api/jobs/missing/run")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunJob_ConflictWhileRunning(t *testing.T) {
	srv, s := newTestServer(t, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.AddJob("slow", "every 1 minutes", func(ctx context.Context) domain.Outcome {
		close(started)
		<-release
		return domain.Success(nil)
	}))

	s.Tick(time.Now().Add(2 * time.Minute))
	<-started

	resp := do(t, http.MethodPost, srv.URL+"/api/jobs/slow/run")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "already running")

	resp = do(t, http.MethodDelete, srv.URL+"/api/jobs/slow")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodDelete, srv.URL+"/api/jobs/slow")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "being removed")

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestDeleteJob(t *testing.T) {
	srv, s := newTestServer(t, Options{})

	resp := do(t, http.MethodDelete, srv.URL+"/api/jobs/detect")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, s.ListJobs())

	resp = do(t, http.MethodDelete, srv.URL+"/api/jobs/detect")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	runs := &fakeRuns{}
	srv, _ := newTestServer(t, Options{Runs: runs})

	resp := do(t, http.MethodGet, srv.URL+"/api/jobs/detect/runs?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[[]domain.Run](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "run_1", got[0].ID)
	assert.Equal(t, "detect", runs.gotJob)
	assert.Equal(t, 5, runs.gotLimit)

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/empty/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]domain.Run](t, resp))
	assert.Equal(t, 50, runs.gotLimit)

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/detect/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListRuns_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := do(t, http.MethodGet, srv.URL+"/api/jobs/detect/runs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfig(t *testing.T) {
	srv, _ := newTestServer(t, Options{Config: map[string]any{"log_level": "info"}})
	resp := do(t, http.MethodGet, srv.URL+"/api/config")
	assert.Equal(t, "info", decode[map[string]any](t, resp)["log_level"])
}

func TestReview(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "review"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review", "x.jpg"), []byte("abcd"), 0o644))

	srv, _ := newTestServer(t, Options{Review: detect.New(detect.Config{PhotoDir: dir})})
	resp := do(t, http.MethodGet, srv.URL+"/api/review")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[detect.ReviewStats](t, resp)
	assert.True(t, stats.Exists)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, int64(4), stats.TotalSize)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	do(t, http.MethodGet, srv.URL+"/health")

	resp := do(t, http.MethodGet, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "photocron_http_requests_total")
	assert.Contains(t, string(body), "photocron_jobs_registered")
}

func TestPprofOnlyInDebug(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp := do(t, http.MethodGet, srv.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv, _ = newTestServer(t, Options{Debug: true})
	resp = do(t, http.MethodGet, srv.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

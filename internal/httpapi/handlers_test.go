package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-job-queue/internal/job"
	"content-job-queue/internal/queue"
	"content-job-queue/internal/storage"
)

func newTestRouter(t *testing.T) (http.Handler, *queue.Manager) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := queue.NewManager(store, queue.Config{})
	t.Cleanup(m.Stop)
	m.Pause() // tests inspect records before any promotion
	m.RegisterHandler("echo", func(_ context.Context, j *job.Job) error {
		j.Result = json.RawMessage(`"ok"`)
		return nil
	})
	return NewRouter(&Handler{Queue: m}), m
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	return rw
}

func TestCreateAndGetJob(t *testing.T) {
	r, _ := newTestRouter(t)

	rw := postJSON(t, r, "/jobs", map[string]any{
		"type":         "echo",
		"payload":      map[string]int{"input": 41},
		"priority":     "high",
		"max_attempts": 2,
	})
	require.Equal(t, http.StatusAccepted, rw.Code)
	assert.NotEmpty(t, rw.Header().Get("X-App-Version"))

	var created job.Job
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.Equal(t, job.PriorityHigh, created.Priority)
	assert.Equal(t, 2, created.MaxAttempts)

	req := httptest.NewRequest("GET", "/jobs/"+created.ID, nil)
	rw2 := httptest.NewRecorder()
	r.ServeHTTP(rw2, req)
	require.Equal(t, http.StatusOK, rw2.Code)

	var got job.Job
	require.NoError(t, json.NewDecoder(rw2.Body).Decode(&got))
	assert.Equal(t, created.ID, got.ID)
	assert.JSONEq(t, `{"input":41}`, string(got.Payload))
}

func TestCreateJobValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rw := postJSON(t, r, "/jobs", map[string]any{"payload": map[string]int{}})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	rw = postJSON(t, r, "/jobs", map[string]any{"type": "echo", "max_attempts": -1})
	assert.Equal(t, http.StatusBadRequest, rw.Code)

	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader([]byte(`{not json`)))
	rw2 := httptest.NewRecorder()
	r.ServeHTTP(rw2, req)
	assert.Equal(t, http.StatusBadRequest, rw2.Code)
}

func TestGetJobNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest("GET", "/jobs/nope", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestListJobsWithFilters(t *testing.T) {
	r, m := newTestRouter(t)
	_, err := m.Enqueue("echo", nil)
	require.NoError(t, err)
	_, err = m.Enqueue("video-generation", nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/jobs?type=echo", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var jobs []job.Job
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "echo", jobs[0].Type)

	req = httptest.NewRequest("GET", "/jobs?status=completed", nil)
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&jobs))
	assert.Empty(t, jobs)
}

func TestCancelJob(t *testing.T) {
	r, m := newTestRouter(t)
	id, err := m.Enqueue("echo", nil)
	require.NoError(t, err)

	rw := postJSON(t, r, "/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rw.Code)

	rw = postJSON(t, r, "/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestStatsEndpoint(t *testing.T) {
	r, m := newTestRouter(t)
	_, err := m.Enqueue("echo", nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/stats", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var st job.Stats
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&st))
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, float64(100), st.SuccessRate)
}

func TestPauseAndResume(t *testing.T) {
	r, _ := newTestRouter(t)

	rw := postJSON(t, r, "/queue/pause", nil)
	assert.Equal(t, http.StatusNoContent, rw.Code)

	rw = postJSON(t, r, "/queue/resume", nil)
	assert.Equal(t, http.StatusNoContent, rw.Code)
}

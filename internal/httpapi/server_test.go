package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/config"
	"delphi/internal/registry"
	"delphi/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.RunStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "delphi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Storage.ReportDir = filepath.Join(dir, "reports")
	cfg.Storage.LogDir = filepath.Join(dir, "logs")
	reg := registry.New(&cfg, st, nil)
	return NewServer(reg, nil), st
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStartRunRejectsMissingQuestion(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/runs", `{"expert_count": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/runs", `{"question": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRunsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Runs)
}

func TestGetRun(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateRun("run-1", "the question", ""))

	rec := do(t, srv, http.MethodGet, "/api/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got store.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "the question", got.Question)
	assert.Equal(t, store.StatusRunning, got.Status)
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/runs/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReportConflictsWhileRunning(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateRun("run-1", "q", ""))

	rec := do(t, srv, http.MethodGet, "/api/runs/run-1/report", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetReportServesPersistedJSON(t *testing.T) {
	srv, st := newTestServer(t)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"consensus_summary": "done"}`), 0o644))

	require.NoError(t, st.CreateRun("run-1", "q", ""))
	require.NoError(t, st.MarkCompleted("run-1", "consensus_reached", filepath.Join(dir, "report.md"), jsonPath))

	rec := do(t, srv, http.MethodGet, "/api/runs/run-1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "done")
}

func TestDeleteRunEvictsTerminalRun(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.CreateRun("run-1", "q", ""))
	require.NoError(t, st.MarkFailed("run-1", "x"))

	rec := do(t, srv, http.MethodDelete, "/api/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "evicted")

	rec = do(t, srv, http.MethodGet, "/api/runs/run-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodDelete, "/api/runs/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

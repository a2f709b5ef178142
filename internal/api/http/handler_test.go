package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/service"
)

type mockRunService struct {
	runs      map[uuid.UUID]*domain.Run
	submitErr error
	retries   int
}

func newMockRunService() *mockRunService {
	return &mockRunService{runs: map[uuid.UUID]*domain.Run{}}
}

func (m *mockRunService) Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Run, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	run := &domain.Run{ID: uuid.New(), Request: req, Status: domain.RunStatusPending, TaskIDs: []string{"201401"}}
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockRunService) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, errpkg.ErrRunNotFound
	}
	return run, nil
}

func (m *mockRunService) Retry(ctx context.Context) (*domain.Run, error) {
	m.retries++
	return &domain.Run{ID: uuid.New()}, nil
}

type mockStatusService struct {
	verified int
}

func (m *mockStatusService) Status() domain.StatusSummary {
	return domain.StatusSummary{
		Total: 2, Completed: 1, Failed: 1,
		Records: []domain.StatusRecord{{TaskID: "201401"}, {TaskID: "201402"}},
	}
}

func (m *mockStatusService) VerifyCompleted() (service.VerifyResult, error) {
	m.verified++
	return service.VerifyResult{Checked: 1, Valid: 1}, nil
}

func (m *mockStatusService) ExportFileList(w io.Writer) (int, error) {
	_, err := io.WriteString(w, "ERA5-Land downloaded files\nTask ID: 201401\n")
	return 1, err
}

func newTestRouter() (http.Handler, *mockRunService, *mockStatusService) {
	runs := newMockRunService()
	status := &mockStatusService{}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return NewRouter(runs, status, logger), runs, status
}

func do(t *testing.T, h http.Handler, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var data map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	return data
}

func TestRunHandler_CreateRun(t *testing.T) {
	router, runs, _ := newTestRouter()

	resp := do(t, router, http.MethodPost, "/runs", domain.DownloadRequest{
		Variables: []string{"2m_temperature"},
		StartDate: "2014-01-01",
		EndDate:   "2014-01-31",
		Area:      []float64{60, 70, 10, 140},
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := decode(t, resp)
	assert.Contains(t, data, "run_id")
	assert.Len(t, runs.runs, 1)
}

func TestRunHandler_CreateRunRejectsInvalid(t *testing.T) {
	router, runs, _ := newTestRouter()

	tests := []struct {
		name string
		body any
	}{
		{name: "no variables", body: domain.DownloadRequest{StartDate: "2014-01-01", EndDate: "2014-01-31"}},
		{name: "bad date", body: domain.DownloadRequest{Variables: []string{"x"}, StartDate: "2014/01/01", EndDate: "2014-01-31"}},
		{name: "bad area", body: domain.DownloadRequest{Variables: []string{"x"}, StartDate: "2014-01-01", EndDate: "2014-01-31", Area: []float64{1, 2}}},
		{name: "not json", body: "]["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, router, http.MethodPost, "/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			resp.Body.Close()
		})
	}
	assert.Empty(t, runs.runs)
}

func TestRunHandler_CreateRunServiceErrors(t *testing.T) {
	router, runs, _ := newTestRouter()
	body := domain.DownloadRequest{Variables: []string{"x"}, StartDate: "2014-01-01", EndDate: "2014-01-31"}

	runs.submitErr = service.ErrShuttingDown
	resp := do(t, router, http.MethodPost, "/runs", body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	runs.submitErr = errors.New("disk full")
	resp = do(t, router, http.MethodPost, "/runs", body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()
}

func TestRunHandler_GetRun(t *testing.T) {
	router, runs, _ := newTestRouter()
	run, _ := runs.Submit(context.Background(), domain.DownloadRequest{Name: "china"})

	resp := do(t, router, http.MethodGet, "/runs/"+run.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode(t, resp)
	assert.Equal(t, run.ID.String(), data["run_id"])
	assert.Equal(t, string(domain.RunStatusPending), data["status"])

	resp = do(t, router, http.MethodGet, "/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, router, http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRunHandler_Status(t *testing.T) {
	router, _, _ := newTestRouter()

	data := decode(t, do(t, router, http.MethodGet, "/status", nil))
	assert.Equal(t, float64(2), data["total"])
	assert.Nil(t, data["records"])

	data = decode(t, do(t, router, http.MethodGet, "/status?details=true", nil))
	assert.Len(t, data["records"], 2)
}

func TestRunHandler_ExportFiles(t *testing.T) {
	router, _, _ := newTestRouter()

	resp := do(t, router, http.MethodGet, "/status/export", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "downloaded_files.txt")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Task ID: 201401")
}

func TestRunHandler_RetryAndVerify(t *testing.T) {
	router, runs, status := newTestRouter()

	resp := do(t, router, http.MethodPost, "/retry", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, runs.retries)

	data := decode(t, do(t, router, http.MethodPost, "/verify", nil))
	assert.Equal(t, float64(1), data["checked"])
	assert.Equal(t, 1, status.verified)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router, _, _ := newTestRouter()

	resp := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, router, http.MethodGet, "/metrics", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

package archive

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{PollInterval: 10 * time.Millisecond, RequestTimeout: time.Second}
}

func sampleQuery() Query {
	return FromTask("reanalysis-era5-land", domain.Task{
		ID:        "201401",
		Variables: []string{"2m_temperature"},
		Year:      2014,
		Month:     1,
		Days:      []int{1, 2},
		Hours:     []string{"00:00", "12:00"},
		Region:    &domain.Region{North: 60, West: 70, South: 10, East: 140},
	})
}

const testToken = "0a1b2c3d-4e5f-6789-abcd-ef0123456789"

func TestFromTask(t *testing.T) {
	q := sampleQuery()
	assert.Equal(t, "reanalysis-era5-land", q.Dataset)
	assert.Equal(t, "2014", q.Year)
	assert.Equal(t, []string{"01"}, q.Months)
	assert.Equal(t, []string{"01", "02"}, q.Days)
	assert.Equal(t, []float64{60, 70, 10, 140}, q.Area)
	assert.Equal(t, "netcdf", q.Format)
	assert.Equal(t, "unarchived", q.DownloadFormat)

	yearly := FromTask("ds", domain.Task{ID: "2014", Year: 2014, Months: []int{11, 12}, Days: []int{5}})
	assert.Equal(t, []string{"11", "12"}, yearly.Months)
	assert.Nil(t, yearly.Area)
}

// archiveServer emulates the Retrieve API job cycle. The job reports
// "running" for the first pollsBeforeDone polls.
func archiveServer(t *testing.T, pollsBeforeDone int32, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("PRIVATE-TOKEN") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"title":"Authentication failed"}`)
			return false
		}
		return true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/retrieve/v1/processes/reanalysis-era5-land/execution", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Inputs map[string]any `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "netcdf", body.Inputs["data_format"])
		assert.Equal(t, "unarchived", body.Inputs["download_format"])
		assert.Equal(t, "2014", body.Inputs["year"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"jobID": "job-1", "status": "accepted"})
	})
	mux.HandleFunc("/api/retrieve/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		if polls.Add(1) <= pollsBeforeDone {
			_ = json.NewEncoder(w).Encode(map[string]string{"jobID": "job-1", "status": "running"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"jobID": "job-1", "status": "successful"})
	})
	mux.HandleFunc("/api/retrieve/v1/jobs/job-1/results", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		_, _ = io.WriteString(w, `{"asset":{"value":{"href":"/download/job-1.nc","file:size":25}}}`)
	})
	mux.HandleFunc("/api/download/job-1.nc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestCDSClient_FetchCompletes(t *testing.T) {
	payload := []byte("CDF\x01 fake netcdf payload")
	srv, polls := archiveServer(t, 2, payload)

	client := NewCDSClient(Credentials{URL: srv.URL + "/api", Key: testToken}, testOptions(), testLogger())
	dst := filepath.Join(t.TempDir(), "out.tmp")

	require.NoError(t, client.Fetch(context.Background(), sampleQuery(), dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int32(3), polls.Load())
}

func TestCDSClient_UnauthorizedIsFatal(t *testing.T) {
	srv, _ := archiveServer(t, 0, nil)
	client := NewCDSClient(Credentials{URL: srv.URL + "/api", Key: "wrong-token"}, testOptions(), testLogger())

	err := client.Fetch(context.Background(), sampleQuery(), filepath.Join(t.TempDir(), "out.tmp"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, errpkg.IsFatal(err))
	assert.Contains(t, err.Error(), "Authentication failed")
}

func TestCDSClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewCDSClient(Credentials{URL: srv.URL, Key: testToken}, testOptions(), testLogger())
	err := client.Fetch(context.Background(), sampleQuery(), filepath.Join(t.TempDir(), "out.tmp"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, errpkg.Transient, errpkg.KindOf(err))
	assert.Contains(t, err.Error(), "maintenance")
}

func TestCDSClient_FailedJobIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/retrieve/v1/processes/reanalysis-era5-land/execution", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobID":"j","status":"accepted"}`)
	})
	mux.HandleFunc("/retrieve/v1/jobs/j", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobID":"j","status":"failed"}`)
	})
	mux.HandleFunc("/retrieve/v1/jobs/j/results", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"title":"The job failed","detail":"2m_temp is unknown"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewCDSClient(Credentials{URL: srv.URL, Key: testToken}, testOptions(), testLogger())
	err := client.Fetch(context.Background(), sampleQuery(), filepath.Join(t.TempDir(), "out.tmp"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.True(t, errpkg.IsFatal(err))
	assert.Contains(t, err.Error(), "2m_temp is unknown")
}

func TestCDSClient_ForbiddenIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testToken, r.Header.Get("PRIVATE-TOKEN"))
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"title":"Required licences not accepted"}`)
	}))
	defer srv.Close()

	client := NewCDSClient(Credentials{URL: srv.URL, Key: testToken}, testOptions(), testLogger())
	err := client.Fetch(context.Background(), sampleQuery(), filepath.Join(t.TempDir(), "out.tmp"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.True(t, errpkg.IsFatal(err))
}

func TestCDSClient_CancelWhilePolling(t *testing.T) {
	srv, _ := archiveServer(t, 1_000_000, nil)
	client := NewCDSClient(Credentials{URL: srv.URL + "/api", Key: testToken}, testOptions(), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dst := filepath.Join(t.TempDir(), "out.tmp")
	err := client.Fetch(ctx, sampleQuery(), dst)
	require.Error(t, err)
	assert.Equal(t, errpkg.Transient, errpkg.KindOf(err))
	assert.NoFileExists(t, dst)
}

func TestCDSClient_DownloadNotFoundRemovesFile(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/retrieve/v1/processes/reanalysis-era5-land/execution", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jobID":"j","status":"successful"}`)
	})
	mux.HandleFunc("/retrieve/v1/jobs/j/results", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"asset": map[string]any{"value": map[string]string{"href": srvURL + "/gone"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	client := NewCDSClient(Credentials{URL: srv.URL, Key: testToken}, testOptions(), testLogger())
	dst := filepath.Join(t.TempDir(), "out.tmp")
	err := client.Fetch(context.Background(), sampleQuery(), dst)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errpkg.IsFatal(err))
	assert.NoFileExists(t, dst)
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".cdsapirc")
	require.NoError(t, os.WriteFile(path, []byte("url: https://cds.climate.copernicus.eu/api/\nkey: "+testToken+"\n"), 0o600))

	c, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "https://cds.climate.copernicus.eu/api", c.URL)
	assert.Equal(t, testToken, c.Key)
	assert.Equal(t, "0a1b2c******************************", c.Masked())
	assert.NoError(t, c.Validate())

	_, err = LoadCredentials(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestResolveCredentials(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")

	c, err := ResolveCredentials(missing, "https://example.test/api", "tok")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api", c.URL)

	_, err = ResolveCredentials(missing, "https://example.test/api", "")
	assert.ErrorIs(t, err, ErrNoCredentials)

	path := filepath.Join(dir, ".cdsapirc")
	require.NoError(t, os.WriteFile(path, []byte("url: https://a.test\n"), 0o600))
	_, err = ResolveCredentials(path, "", "")
	assert.ErrorContains(t, err, "missing key")

	c, err = ResolveCredentials(path, "", "tok-9")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", c.URL)
	assert.Equal(t, "tok-9", c.Key)

	_, err = ResolveCredentials(path, "", "12345:abcdef")
	assert.ErrorIs(t, err, ErrLegacyKey)
}

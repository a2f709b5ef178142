package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/metrics"
)

// Common errors.
var (
	ErrUnauthorized  = errors.New("archive: unauthorized")
	ErrForbidden     = errors.New("archive: access forbidden")
	ErrNotFound      = errors.New("archive: resource not found")
	ErrServerError   = errors.New("archive: server error")
	ErrRequestFailed = errors.New("archive: request failed")
)

// Job states reported by the Retrieve API.
const (
	stateAccepted   = "accepted"
	stateRunning    = "running"
	stateSuccessful = "successful"
	stateFailed     = "failed"
	stateRejected   = "rejected"
	stateDismissed  = "dismissed"
)

// Options configures the CDS client.
type Options struct {
	// PollInterval between job status requests.
	// Default: 5s
	PollInterval time.Duration

	// RequestTimeout bounds submit and poll calls, not the download body.
	// Default: 60s
	RequestTimeout time.Duration

	// FetchTimeout bounds a whole Fetch including queueing. Zero means no limit.
	FetchTimeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:   5 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

type executeRequest struct {
	Inputs Query `json:"inputs"`
}

type jobReply struct {
	JobID  string `json:"jobID"`
	Status string `json:"status"`
}

type resultsReply struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

type problemReply struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// CDSClient speaks the Climate Data Store Retrieve API: a job is submitted
// to /retrieve/v1/processes/{dataset}/execution, polled at
// /retrieve/v1/jobs/{id} and its asset located via /retrieve/v1/jobs/{id}/results.
// Requests authenticate with a personal access token.
type CDSClient struct {
	client *http.Client
	creds  Credentials
	opts   Options
	logger *slog.Logger
}

// NewCDSClient creates a client authenticated with creds.
func NewCDSClient(creds Credentials, opts Options, logger *slog.Logger) *CDSClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	return &CDSClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		creds:  creds,
		opts:   opts,
		logger: logger,
	}
}

// Fetch submits q, waits for the archive to prepare it and downloads the
// result into dst. Failures are tagged transient or fatal.
func (c *CDSClient) Fetch(ctx context.Context, q Query, dst string) error {
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	job, err := c.submit(ctx, q)
	if err != nil {
		return err
	}
	c.logger.Debug("job submitted", "job_id", job.JobID, "status", job.Status)

	if err := c.wait(ctx, job); err != nil {
		return err
	}

	location, err := c.results(ctx, job.JobID)
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := c.download(ctx, location, dst)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	metrics.FetchBytes.Add(float64(n))
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	c.logger.Debug("artifact downloaded", "job_id", job.JobID, "bytes", n)
	return nil
}

func (c *CDSClient) submit(ctx context.Context, q Query) (*jobReply, error) {
	body, err := json.Marshal(executeRequest{Inputs: q})
	if err != nil {
		return nil, errpkg.NewFatal("submit", fmt.Errorf("encode query: %w", err))
	}

	var job jobReply
	if err := c.call(ctx, http.MethodPost, c.endpoint("processes", q.Dataset, "execution"), body, &job); err != nil {
		return nil, wrap("submit", err)
	}
	if job.JobID == "" {
		return nil, errpkg.NewTransient("submit", fmt.Errorf("%w: reply without job id", ErrRequestFailed))
	}
	return &job, nil
}

// wait polls until the job leaves the queue. A failed or rejected job is fatal.
func (c *CDSClient) wait(ctx context.Context, job *jobReply) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	status := job.Status
	for {
		switch status {
		case stateSuccessful:
			return nil
		case stateFailed, stateRejected, stateDismissed:
			return errpkg.NewFatal("poll", fmt.Errorf("%w: job %s %s%s", ErrRequestFailed, job.JobID, status, c.problem(ctx, job.JobID)))
		case stateAccepted, stateRunning, "":
		default:
			c.logger.Debug("unknown job status", "job_id", job.JobID, "status", status)
		}

		select {
		case <-ctx.Done():
			return errpkg.NewTransient("poll", ctx.Err())
		case <-ticker.C:
		}

		var next jobReply
		if err := c.call(ctx, http.MethodGet, c.endpoint("jobs", job.JobID), nil, &next); err != nil {
			return wrap("poll", err)
		}
		status = next.Status
	}
}

// results returns the download URL of a successful job's asset.
func (c *CDSClient) results(ctx context.Context, jobID string) (string, error) {
	var res resultsReply
	if err := c.call(ctx, http.MethodGet, c.endpoint("jobs", jobID, "results"), nil, &res); err != nil {
		return "", wrap("results", err)
	}
	href := res.Asset.Value.Href
	if href == "" {
		return "", errpkg.NewTransient("results", fmt.Errorf("%w: job %s has no asset", ErrRequestFailed, jobID))
	}
	return c.resolve(href), nil
}

// problem fetches the failure detail of a job for error messages.
func (c *CDSClient) problem(ctx context.Context, jobID string) string {
	var p problemReply
	err := c.call(ctx, http.MethodGet, c.endpoint("jobs", jobID, "results"), nil, &p)
	var detail string
	if err != nil {
		detail = err.Error()
	} else {
		detail = strings.TrimSpace(p.Title + " " + p.Detail)
	}
	if detail == "" {
		return ""
	}
	return ": " + detail
}

func (c *CDSClient) download(ctx context.Context, location, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, errpkg.NewFatal("download", fmt.Errorf("create request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errpkg.NewTransient("download", err)
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return 0, wrap("download", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, errpkg.NewFatal("download", fmt.Errorf("create %s: %w", dst, err))
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errpkg.NewTransient("download", fmt.Errorf("write %s: %w", dst, err))
	}
	return n, nil
}

// call performs one JSON request and decodes the reply into out.
func (c *CDSClient) call(ctx context.Context, method, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return errpkg.NewFatal("", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("PRIVATE-TOKEN", c.creds.Key)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(bytes.TrimSpace(msg)) > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(msg))
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode reply: %v", ErrServerError, err)
	}
	return nil
}

func (c *CDSClient) endpoint(parts ...string) string {
	return c.creds.URL + "/retrieve/v1/" + strings.Join(parts, "/")
}

// resolve turns a relative download location into an absolute URL.
func (c *CDSClient) resolve(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	return c.creds.URL + "/" + strings.TrimLeft(location, "/")
}

// wrap tags err with its retry kind. Rejected credentials, missing
// resources and other client errors are fatal; everything else is transient.
func wrap(op string, err error) error {
	var tagged *errpkg.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, errClient) {
		return errpkg.NewFatal(op, err)
	}
	return errpkg.NewTransient(op, err)
}

var errClient = errors.New("archive: client error")

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	default:
		return fmt.Errorf("%w: %d %s", errClient, code, http.StatusText(code))
	}
}

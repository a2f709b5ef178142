package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	"github.com/veranemoloko/era5-downloader/internal/planner"
	"github.com/veranemoloko/era5-downloader/internal/repository"
)

// ErrShuttingDown is returned for submissions after Shutdown began.
var ErrShuttingDown = errors.New("service is shutting down")

// RetryRunName names runs created by Retry.
const RetryRunName = "retry-failed"

// Downloader runs a full request, or the failed tasks, to completion.
type Downloader interface {
	Download(ctx context.Context, req domain.DownloadRequest) (Result, error)
	RetryFailed(ctx context.Context) Result
}

// RunService accepts download requests and processes them in the
// background, one run at a time, tracking each as a Run. Runs share the
// orchestrator's worker pool, so the daemon never exceeds its configured
// concurrency however many runs are queued.
type RunService struct {
	runs   repository.RunRepo
	dl     Downloader
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	pending []*domain.Run
	wake    chan struct{}
	wg      sync.WaitGroup
}

func NewRunService(runs repository.RunRepo, dl Downloader, logger *slog.Logger) *RunService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RunService{
		runs:   runs,
		dl:     dl,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}

	s.wg.Add(1)
	go s.runner()

	return s
}

// Submit plans req, stores a pending Run and starts processing it.
func (s *RunService) Submit(ctx context.Context, req domain.DownloadRequest) (*domain.Run, error) {
	tasks, err := planner.PlanRequest(req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &domain.Run{
		ID:        uuid.New(),
		Request:   req,
		Status:    domain.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range tasks {
		run.TaskIDs = append(run.TaskIDs, t.ID)
	}

	return s.create(ctx, run)
}

// Retry starts a run that resubmits every failed task in the status store.
func (s *RunService) Retry(ctx context.Context) (*domain.Run, error) {
	now := time.Now()
	return s.create(ctx, &domain.Run{
		ID:        uuid.New(),
		Request:   domain.DownloadRequest{Name: RetryRunName},
		Status:    domain.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *RunService) create(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}

	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	bg := *run
	s.enqueueLocked(&bg)
	s.logger.Info("run queued",
		"run_id", run.ID,
		"name", run.Request.Name,
		"tasks", len(run.TaskIDs),
		"queue_length", len(s.pending),
	)
	return run, nil
}

// GetRun returns the current state of a run.
func (s *RunService) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return s.runs.GetRun(ctx, id)
}

// Recover restarts runs left pending or in progress by a previous process.
// Completed tasks are skipped by the worker, so only missing work is fetched.
func (s *RunService) Recover(ctx context.Context) error {
	var runs []*domain.Run
	for _, status := range []domain.RunStatus{domain.RunStatusPending, domain.RunStatusInProgress} {
		found, err := s.runs.GetRunsByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to get %s runs: %w", status, err)
		}
		runs = append(runs, found...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	for _, run := range runs {
		s.logger.Info("recovering run", "run_id", run.ID, "status", run.Status)
		s.enqueueLocked(run)
	}
	return nil
}

func (s *RunService) enqueueLocked(run *domain.Run) {
	s.pending = append(s.pending, run)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *RunService) next() *domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	run := s.pending[0]
	s.pending = s.pending[1:]
	return run
}

// runner processes queued runs in submission order. Runs still queued at
// shutdown stay pending in the repository and are picked up by Recover.
func (s *RunService) runner() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for run := s.next(); run != nil; run = s.next() {
			if s.ctx.Err() != nil {
				return
			}
			s.process(run)
		}
	}
}

func (s *RunService) process(run *domain.Run) {
	log := s.logger.With("run_id", run.ID)
	store := context.WithoutCancel(s.ctx)

	run.Status = domain.RunStatusInProgress
	if err := s.runs.UpdateRun(store, run); err != nil {
		log.Error("failed to mark run in progress", "error", err)
	}

	var (
		res Result
		err error
	)
	if run.Request.Name == RetryRunName && len(run.Request.Variables) == 0 {
		res = s.dl.RetryFailed(s.ctx)
	} else {
		res, err = s.dl.Download(s.ctx, run.Request)
	}

	run.Succeeded = res.Succeeded
	run.Failed = res.Failed
	run.MergedFile = res.Merged
	switch {
	case err != nil:
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		log.Error("run failed", "error", err)
	case len(res.Failed) > 0:
		run.Status = domain.RunStatusFailed
		log.Warn("run completed with failures",
			"succeeded", len(res.Succeeded),
			"failed", len(res.Failed),
		)
	default:
		run.Status = domain.RunStatusCompleted
		log.Info("run completed", "succeeded", len(res.Succeeded), "merged_file", res.Merged)
	}

	if s.ctx.Err() != nil && run.Status == domain.RunStatusFailed {
		// interrupted runs are resumed by Recover on the next start
		run.Status = domain.RunStatusInProgress
	}

	if err := s.runs.UpdateRun(store, run); err != nil {
		log.Error("failed to save run result", "error", err, "status", run.Status)
	}
}

// Shutdown stops accepting runs, cancels the one in flight and waits for it
// to save its state.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down run service")

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("run service shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("run service shutdown timed out")
		return ctx.Err()
	}
}

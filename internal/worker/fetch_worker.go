package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/veranemoloko/era5-downloader/internal/archive"
	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/metrics"
	"github.com/veranemoloko/era5-downloader/internal/repository"
	"github.com/veranemoloko/era5-downloader/internal/storage"
	"github.com/veranemoloko/era5-downloader/internal/verify"
)

// Verifier checks a file before it is placed in the output directory.
type Verifier interface {
	Verify(path string, variables []string, task *domain.Task) (verify.Report, error)
}

// Options control the retry loop.
type Options struct {
	Dataset    string
	RetryTimes int
	RetryDelay time.Duration
}

// FetchWorker runs one task through fetch, extraction, verification and
// placement, retrying transient failures with linear backoff. Concurrent
// executions for the same output file share a single run.
type FetchWorker struct {
	client   archive.Client
	verifier Verifier
	store    repository.StatusRepo
	files    *storage.FileStorage
	opts     Options
	logger   *slog.Logger

	inflight singleflight.Group
}

// NewFetchWorker creates a new FetchWorker.
func NewFetchWorker(client archive.Client, verifier Verifier, store repository.StatusRepo,
	files *storage.FileStorage, opts Options, logger *slog.Logger) *FetchWorker {
	if opts.RetryTimes < 1 {
		opts.RetryTimes = 1
	}
	return &FetchWorker{
		client:   client,
		verifier: verifier,
		store:    store,
		files:    files,
		opts:     opts,
		logger:   logger,
	}
}

// Execute brings task to a verified output file. A task already completed
// with a file that still verifies is skipped without contacting the archive.
// The output path is only ever written with a verified artifact. A caller
// arriving while the same output is being produced waits for that execution
// and receives its outcome.
func (w *FetchWorker) Execute(ctx context.Context, task domain.Task) domain.DownloadOutcome {
	v, _, shared := w.inflight.Do(task.OutputName(), func() (any, error) {
		return w.execute(ctx, task), nil
	})
	if shared {
		w.logger.Debug("joined in-flight execution", "task_id", task.ID)
	}
	return v.(domain.DownloadOutcome)
}

func (w *FetchWorker) execute(ctx context.Context, task domain.Task) domain.DownloadOutcome {
	name := task.OutputName()
	out := w.files.OutputPath(name)
	log := w.logger.With("task_id", task.ID)

	outcome := domain.DownloadOutcome{TaskID: task.ID, OutputPath: out}

	if w.alreadyDone(task, out, log) {
		metrics.TasksSkipped.Inc()
		log.Info("task already completed, skipping", "file", name)
		outcome.Success = true
		outcome.Skipped = true
		return outcome
	}

	query := archive.FromTask(w.opts.Dataset, task)
	var trace []string
	var lastErr error

	for attempt := 1; attempt <= w.opts.RetryTimes; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = errpkg.NewTransient("execute", err)
			trace = append(trace, fmt.Sprintf("attempt %d: not started: %v", attempt, err))
			break
		}

		log.Info("fetching", "attempt", attempt, "of", w.opts.RetryTimes)
		err := w.attempt(ctx, task, query, name, out, log)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("succeeded").Inc()
			return w.complete(task, out, outcome, log)
		}

		metrics.FetchAttempts.WithLabelValues("failed").Inc()
		lastErr = err
		trace = append(trace, fmt.Sprintf("attempt %d: %v", attempt, err))
		log.Warn("attempt failed",
			"attempt", attempt,
			"kind", errpkg.KindOf(err),
			"error", err,
		)

		if errpkg.IsFatal(err) || attempt == w.opts.RetryTimes {
			break
		}

		delay := w.opts.RetryDelay * time.Duration(attempt)
		log.Info("retrying after backoff", "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			trace = append(trace, fmt.Sprintf("backoff interrupted: %v", err))
			break
		}
	}

	return w.fail(task, lastErr, trace, outcome, log)
}

// attempt performs one fetch-verify-place cycle. Once started it runs to
// completion even if ctx is cancelled; scratch files never outlive it.
func (w *FetchWorker) attempt(ctx context.Context, task domain.Task, q archive.Query, name, out string, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)

	tmp := w.files.TempPath(name)
	scratch := w.files.ScratchDir(name)
	defer func() {
		if err := w.files.Remove(tmp, scratch); err != nil {
			log.Warn("failed to remove temporary files", "error", err)
		}
	}()

	if err := w.files.EnsureDirs(); err != nil {
		return errpkg.NewFatal("prepare", err)
	}
	if err := w.files.Remove(tmp, scratch); err != nil {
		return errpkg.NewFatal("prepare", err)
	}

	start := time.Now()
	if err := w.client.Fetch(ctx, q, tmp); err != nil {
		return err
	}
	log.Debug("fetched", "duration", time.Since(start))

	payload := tmp
	isZip, err := storage.IsZip(tmp)
	if err != nil {
		return errpkg.NewTransient("inspect", err)
	}
	if isZip {
		payload, err = storage.ExtractPayload(tmp, scratch, log)
		if err != nil {
			return err
		}
	}

	if _, err := w.verifier.Verify(payload, task.Variables, &task); err != nil {
		return err
	}

	if err := w.files.Place(payload, out); err != nil {
		return errpkg.NewTransient("place", err)
	}
	return nil
}

// alreadyDone reports whether the store says completed and the file still
// verifies. A completed record whose file is gone or invalid is demoted, but
// only when the record describes this task's output.
func (w *FetchWorker) alreadyDone(task domain.Task, out string, log *slog.Logger) bool {
	rec, ok := w.store.Get(task.StatusKey())
	if !ok || rec.Status != domain.TaskStatusCompleted {
		return false
	}
	if rec.Task.OutputName() != task.OutputName() {
		return false
	}

	reason := "output file missing"
	if w.files.FileExists(out) {
		_, err := w.verifier.Verify(out, task.Variables, &task)
		if err == nil {
			return true
		}
		reason = err.Error()
	}

	log.Warn("completed task needs re-download", "reason", reason)
	if err := w.store.Demote(task.StatusKey(), reason); err != nil {
		log.Error("failed to demote task", "error", err)
	}
	return false
}

func (w *FetchWorker) complete(task domain.Task, out string, outcome domain.DownloadOutcome, log *slog.Logger) domain.DownloadOutcome {
	err := w.store.Upsert(domain.StatusRecord{
		TaskID:     task.ID,
		Status:     domain.TaskStatusCompleted,
		OutputPath: out,
		Timestamp:  time.Now(),
		Variables:  task.Variables,
		Task:       task,
	})
	if err != nil {
		log.Error("failed to record completion", "error", err)
		outcome.Err = err
		metrics.TasksFailed.Inc()
		return outcome
	}

	metrics.TasksCompleted.Inc()
	log.Info("task completed", "file", out)
	outcome.Success = true
	return outcome
}

func (w *FetchWorker) fail(task domain.Task, cause error, trace []string, outcome domain.DownloadOutcome, log *slog.Logger) domain.DownloadOutcome {
	metrics.TasksFailed.Inc()
	outcome.Err = cause

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := w.store.Upsert(domain.StatusRecord{
		TaskID:    task.ID,
		Status:    domain.TaskStatusFailed,
		Timestamp: time.Now(),
		Variables: task.Variables,
		Task:      task,
		Error:     msg,
		Trace:     trace,
	})
	if err != nil {
		log.Error("failed to record failure", "error", err)
	}

	log.Error("task failed", "attempts", len(trace), "error", cause)
	return outcome
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/era5-downloader/internal/dataset"
	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/metrics"
	"github.com/veranemoloko/era5-downloader/internal/planner"
	"github.com/veranemoloko/era5-downloader/internal/repository"
	"github.com/veranemoloko/era5-downloader/internal/storage"
	"github.com/veranemoloko/era5-downloader/internal/verify"
	"github.com/veranemoloko/era5-downloader/internal/worker"
)

// Executor brings one task to a verified output file.
type Executor interface {
	Execute(ctx context.Context, task domain.Task) domain.DownloadOutcome
}

// Codec reads task outputs and writes the merged file.
type Codec interface {
	dataset.Opener
	dataset.Writer
}

// Publisher copies finished artifacts elsewhere.
type Publisher interface {
	PublishAll(ctx context.Context, paths []string) (int, error)
}

// Options are the defaults applied to requests that leave them unset.
type Options struct {
	Concurrency int
	Split       domain.SplitMode
	Merge       bool
	MergedName  string
}

// Result is the outcome of running a batch of tasks. Succeeded and Failed
// are in completion order.
type Result struct {
	Succeeded []string             `json:"succeeded"`
	Failed    []domain.TaskFailure `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Merged    string               `json:"merged_file,omitempty"`
}

// Files returns the merged file if there is one, else the task outputs.
func (r Result) Files() []string {
	if r.Merged != "" {
		return []string{r.Merged}
	}
	return r.Succeeded
}

// VerifyResult reports a re-verification pass over completed outputs.
type VerifyResult struct {
	Checked int                  `json:"checked"`
	Valid   int                  `json:"valid"`
	Invalid []domain.TaskFailure `json:"invalid,omitempty"`
}

// Orchestrator plans requests, runs tasks on a bounded pool and merges the
// results.
type Orchestrator struct {
	exec       Executor
	store      repository.StatusRepo
	verifier   worker.Verifier
	files      *storage.FileStorage
	codec      Codec
	publisher  Publisher
	transcript *verify.Transcript
	opts       Options
	logger     *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	exec Executor,
	store repository.StatusRepo,
	verifier worker.Verifier,
	files *storage.FileStorage,
	codec Codec,
	transcript *verify.Transcript,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Split == "" {
		opts.Split = domain.SplitMonth
	}
	if transcript == nil {
		transcript = verify.DiscardTranscript()
	}
	return &Orchestrator{
		exec:       exec,
		store:      store,
		verifier:   verifier,
		files:      files,
		codec:      codec,
		transcript: transcript,
		opts:       opts,
		logger:     logger,
	}
}

// SetPublisher enables publishing of the final files of every Download.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// Download plans req, runs its tasks, merges the outputs when asked and
// publishes the final files.
func (o *Orchestrator) Download(ctx context.Context, req domain.DownloadRequest) (Result, error) {
	req = o.withDefaults(req)

	tasks, err := planner.PlanRequest(req)
	if err != nil {
		return Result{}, err
	}
	metrics.TasksPlanned.Add(float64(len(tasks)))
	o.logger.Info("request planned",
		"name", req.Name,
		"tasks", len(tasks),
		"split_by", req.SplitBy,
		"workers", o.opts.Concurrency,
	)

	res := o.Run(ctx, tasks, o.opts.Concurrency)

	if req.Merge && len(res.Succeeded) > 1 {
		name := req.MergedName
		if name == "" {
			name = fmt.Sprintf("ERA5_Land_merged_%s_%s.nc", req.StartDate, req.EndDate)
		}
		merged, err := o.Merge(res.Succeeded, name)
		if err != nil {
			o.logger.Error("merge failed, task outputs kept", "error", err)
		} else {
			res.Merged = merged
		}
	}

	if o.publisher != nil && ctx.Err() == nil {
		if _, err := o.publisher.PublishAll(ctx, res.Files()); err != nil {
			return res, fmt.Errorf("publish: %w", err)
		}
	}

	return res, nil
}

func (o *Orchestrator) withDefaults(req domain.DownloadRequest) domain.DownloadRequest {
	if req.SplitBy == "" {
		req.SplitBy = o.opts.Split
	}
	if !req.Merge && o.opts.Merge {
		req.Merge = true
	}
	if req.MergedName == "" {
		req.MergedName = o.opts.MergedName
	}
	return req
}

// Run executes tasks with at most concurrency in flight. Once ctx is
// cancelled no further task is started; those tasks are reported as failed
// without reaching the executor.
func (o *Orchestrator) Run(ctx context.Context, tasks []domain.Task, concurrency int) Result {
	if concurrency < 1 {
		concurrency = o.opts.Concurrency
	}

	var (
		mu  sync.Mutex
		res = Result{Succeeded: []string{}, Failed: []domain.TaskFailure{}}
	)
	record := func(out domain.DownloadOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case out.Success:
			res.Succeeded = append(res.Succeeded, out.OutputPath)
			if out.Skipped {
				res.Skipped++
			}
		default:
			msg := "unknown error"
			if out.Err != nil {
				msg = out.Err.Error()
			}
			res.Failed = append(res.Failed, domain.TaskFailure{TaskID: out.TaskID, Error: msg})
		}
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(domain.DownloadOutcome{
					TaskID: task.ID,
					Err:    fmt.Errorf("not started: %w", err),
				})
				return nil
			}
			record(o.exec.Execute(ctx, task))
			return nil
		})
	}
	_ = g.Wait()

	o.summarize(len(tasks), res)
	return res
}

func (o *Orchestrator) summarize(total int, res Result) {
	o.logger.Info("run finished",
		"total", total,
		"succeeded", len(res.Succeeded),
		"skipped", res.Skipped,
		"failed", len(res.Failed),
	)

	t := o.transcript
	t.Info("run summary", "total", total, "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	for _, p := range res.Succeeded {
		t.Info("succeeded", "file", filepath.Base(p))
	}
	for _, f := range res.Failed {
		t.Error("failed", "task_id", f.TaskID, "error", f.Error)
	}
}

// RetryFailed reruns the tasks embedded in every failed record.
func (o *Orchestrator) RetryFailed(ctx context.Context) Result {
	tasks := o.store.GetFailed()
	if len(tasks) == 0 {
		o.logger.Info("no failed tasks to retry")
		return Result{Succeeded: []string{}, Failed: []domain.TaskFailure{}}
	}
	o.logger.Info("retrying failed tasks", "count", len(tasks))
	return o.Run(ctx, tasks, o.opts.Concurrency)
}

// Merge concatenates paths along time into the output directory under name
// and returns the merged path. The task outputs are never modified.
func (o *Orchestrator) Merge(paths []string, name string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("merge: no files")
	}
	dst := o.files.OutputPath(name)

	start := time.Now()
	if err := dataset.MergeFiles(o.codec, o.codec, paths, dst); err != nil {
		metrics.MergesTotal.WithLabelValues("failed").Inc()
		return "", err
	}
	metrics.MergesTotal.WithLabelValues("succeeded").Inc()

	o.logger.Info("files merged", "inputs", len(paths), "file", dst, "duration", time.Since(start))
	o.transcript.Info("merged", "file", filepath.Base(dst), "inputs", len(paths))
	return dst, nil
}

// VerifyCompleted re-checks every completed output. Invalid or missing files
// are demoted to failed and deleted so the next run fetches them again.
func (o *Orchestrator) VerifyCompleted() (VerifyResult, error) {
	var vr VerifyResult
	for _, rec := range o.store.Completed() {
		vr.Checked++
		path := rec.OutputPath
		if path == "" {
			path = o.files.OutputPath(rec.Task.OutputName())
		}

		var reason string
		if !o.files.FileExists(path) {
			reason = "output file missing"
		} else if _, err := o.verifier.Verify(path, rec.Variables, &rec.Task); err != nil {
			reason = err.Error()
		}

		if reason == "" {
			vr.Valid++
			continue
		}

		o.logger.Warn("completed output is invalid", "task_id", rec.TaskID, "reason", reason)
		vr.Invalid = append(vr.Invalid, domain.TaskFailure{TaskID: rec.TaskID, Error: reason})
		if err := o.store.Demote(rec.Key(), reason); err != nil {
			return vr, err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return vr, errpkg.NewFatal("remove invalid output", err)
		}
	}

	o.logger.Info("verification pass finished", "checked", vr.Checked, "valid", vr.Valid, "invalid", len(vr.Invalid))
	return vr, nil
}

// Status returns the status store summary.
func (o *Orchestrator) Status() domain.StatusSummary {
	return o.store.Summary()
}

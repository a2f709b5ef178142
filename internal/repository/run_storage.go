package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

// RunStorage provides in-memory and file-based storage for submitted runs.
type RunStorage struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.Run
	file string
}

// NewRunStorage creates a new RunStorage and loads runs from the file if it exists.
func NewRunStorage(filePath string) (*RunStorage, error) {
	repo := &RunStorage{
		runs: make(map[uuid.UUID]*domain.Run),
		file: filepath.Clean(filePath),
	}

	if err := repo.restoreRuns(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("run repository initialized", "file_path", repo.file, "runs_count", len(repo.runs))
	return repo, nil
}

func (r *RunStorage) restoreRuns() error {
	data, err := os.ReadFile(r.file)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("run file does not exist, starting with empty state", "file_path", r.file)
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("run file is empty")
		return nil
	}

	var runs []*domain.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, run := range runs {
		r.runs[run.ID] = run
	}

	slog.Info("runs loaded from file", "runs_count", len(runs), "file_path", r.file)
	return nil
}

// persistRuns must be called with mu held for writing.
func (r *RunStorage) persistRuns() error {
	runs := make([]*domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal runs: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("runs saved to file", "runs_count", len(runs), "file_path", r.file)
	return nil
}

// CreateRun adds a new run and persists it to the file.
func (r *RunStorage) CreateRun(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.ID] = cloneRun(run)
	if err := r.persistRuns(); err != nil {
		return fmt.Errorf("failed to save state after creating run: %w", err)
	}

	slog.Debug("run created and saved", "run_id", run.ID)
	return nil
}

// GetRun retrieves a copy of a run by ID.
func (r *RunStorage) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	run, exists := r.runs[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// UpdateRun updates an existing run and persists it to the file.
func (r *RunStorage) UpdateRun(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; !exists {
		return errpkg.ErrRunNotFound
	}
	run.UpdatedAt = time.Now()
	r.runs[run.ID] = cloneRun(run)
	if err := r.persistRuns(); err != nil {
		return fmt.Errorf("failed to save state after updating run: %w", err)
	}

	slog.Debug("run updated and saved", "run_id", run.ID, "status", run.Status)
	return nil
}

// GetRunsByStatus returns all runs with the specified status, oldest first.
func (r *RunStorage) GetRunsByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var filtered []*domain.Run
	for _, run := range r.runs {
		if run.Status == status {
			filtered = append(filtered, cloneRun(run))
		}
	}
	r.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })
	return filtered, nil
}

func cloneRun(run *domain.Run) *domain.Run {
	c := *run
	c.TaskIDs = append([]string(nil), run.TaskIDs...)
	c.Succeeded = append([]string(nil), run.Succeeded...)
	c.Failed = append([]domain.TaskFailure(nil), run.Failed...)
	return &c
}

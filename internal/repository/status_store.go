package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

// StatusStore maps task status keys to their last outcome. Every mutation rewrites
// the whole document through a temp file and rename while holding the lock,
// so the file on disk always matches memory after a mutation returns.
type StatusStore struct {
	mu      sync.Mutex
	file    string
	records map[string]domain.StatusRecord
	logger  *slog.Logger
}

// NewStatusStore loads file, starting empty when it does not exist.
func NewStatusStore(file string, logger *slog.Logger) (*StatusStore, error) {
	s := &StatusStore{
		file:    filepath.Clean(file),
		records: make(map[string]domain.StatusRecord),
		logger:  logger,
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the document on disk.
func (s *StatusStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = make(map[string]domain.StatusRecord)
			s.logger.Info("status file does not exist, starting with empty state", "file_path", s.file)
			return nil
		}
		return errpkg.NewFatal("load status", err)
	}

	stored := make(map[string]domain.StatusRecord)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &stored); err != nil {
			return errpkg.NewFatal("load status", fmt.Errorf("unmarshal %s: %w", s.file, err))
		}
	}

	// documents keyed by bare task ID are rekeyed by variable set
	records := make(map[string]domain.StatusRecord, len(stored))
	for id, rec := range stored {
		if rec.TaskID == "" {
			rec.TaskID = id
		}
		records[rec.Key()] = rec
	}

	s.records = records
	s.logger.Info("status loaded", "file_path", s.file, "records", len(records))
	return nil
}

// Get returns the record stored under key.
func (s *StatusStore) Get(key string) (domain.StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	return rec, ok
}

// Upsert writes rec. A completed record is never overwritten by a failed
// one; use Demote for that.
func (s *StatusStore) Upsert(rec domain.StatusRecord) error {
	if rec.TaskID == "" {
		return errpkg.NewFatal("upsert status", fmt.Errorf("record without task id"))
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	prev, existed := s.records[key]
	if existed && prev.Status == domain.TaskStatusCompleted && rec.Status == domain.TaskStatusFailed {
		return errpkg.NewFatal("upsert status", fmt.Errorf("%w: %s", errpkg.ErrStatusRegression, key))
	}

	s.records[key] = rec
	if err := s.persist(); err != nil {
		s.restore(key, prev, existed)
		return err
	}

	s.logger.Debug("status updated", "key", key, "status", rec.Status)
	return nil
}

// Demote marks a completed task failed after it no longer verifies.
func (s *StatusStore) Demote(key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", errpkg.ErrTaskNotFound, key)
	}

	rec := prev
	rec.Status = domain.TaskStatusFailed
	rec.Error = reason
	rec.Timestamp = time.Now()
	s.records[key] = rec
	if err := s.persist(); err != nil {
		s.records[key] = prev
		return err
	}

	s.logger.Info("status demoted", "key", key, "reason", reason)
	return nil
}

// GetFailed returns the embedded tasks of failed records ordered by task ID.
func (s *StatusStore) GetFailed() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []domain.Task
	for _, rec := range s.sorted() {
		if rec.Status == domain.TaskStatusFailed {
			tasks = append(tasks, rec.Task)
		}
	}
	return tasks
}

// Completed returns completed records ordered by task ID.
func (s *StatusStore) Completed() []domain.StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.StatusRecord
	for _, rec := range s.sorted() {
		if rec.Status == domain.TaskStatusCompleted {
			out = append(out, rec)
		}
	}
	return out
}

// Summary counts records by status.
func (s *StatusStore) Summary() domain.StatusSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := domain.StatusSummary{Records: s.sorted()}
	sum.Total = len(sum.Records)
	for _, rec := range sum.Records {
		switch rec.Status {
		case domain.TaskStatusCompleted:
			sum.Completed++
		case domain.TaskStatusFailed:
			sum.Failed++
		}
	}
	return sum
}

func (s *StatusStore) sorted() []domain.StatusRecord {
	out := make([]domain.StatusRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func (s *StatusStore) restore(key string, prev domain.StatusRecord, existed bool) {
	if existed {
		s.records[key] = prev
		return
	}
	delete(s.records, key)
}

// persist must be called with mu held.
func (s *StatusStore) persist() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return errpkg.NewFatal("persist status", fmt.Errorf("marshal: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return errpkg.NewFatal("persist status", err)
	}

	tempFile := s.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return errpkg.NewFatal("persist status", fmt.Errorf("write temporary file: %w", err))
	}
	if err := os.Rename(tempFile, s.file); err != nil {
		_ = os.Remove(tempFile)
		return errpkg.NewFatal("persist status", fmt.Errorf("rename temporary file: %w", err))
	}
	return nil
}

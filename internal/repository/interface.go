package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/veranemoloko/era5-downloader/internal/domain"
)

// StatusRepo is the durable task status document, keyed by Task.StatusKey.
type StatusRepo interface {
	Get(key string) (domain.StatusRecord, bool)
	Upsert(rec domain.StatusRecord) error
	GetFailed() []domain.Task
	Completed() []domain.StatusRecord
	Demote(key, reason string) error
	Summary() domain.StatusSummary
}

// RunRepo defines the interface for submitted run storage operations.
type RunRepo interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	GetRunsByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.Run, error)
}

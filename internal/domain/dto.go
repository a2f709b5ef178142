package domain

import (
	"time"

	"github.com/google/uuid"
)

// DownloadRequest describes a selection to retrieve: variables, a date range,
// an optional region and hours, and how to split and merge the result.
type DownloadRequest struct {
	Name       string    `json:"task_name,omitempty" yaml:"task_name" toml:"task_name"`
	Enabled    *bool     `json:"enabled,omitempty" yaml:"enabled" toml:"enabled"`
	Variables  []string  `json:"variables" yaml:"variables" toml:"variables" validate:"required,min=1,dive,required"`
	StartDate  string    `json:"start_date" yaml:"start_date" toml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string    `json:"end_date" yaml:"end_date" toml:"end_date" validate:"required,datetime=2006-01-02"`
	Area       []float64 `json:"area,omitempty" yaml:"area" toml:"area" validate:"omitempty,len=4,area"`
	Hours      []string  `json:"time_hours,omitempty" yaml:"time_hours" toml:"time_hours" validate:"omitempty,dive,len=5,datetime=15:04"`
	SplitBy    SplitMode `json:"split_by,omitempty" yaml:"split_by" toml:"split_by" validate:"omitempty,oneof=month year"`
	Merge      bool      `json:"merge_files,omitempty" yaml:"merge_files" toml:"merge_files"`
	MergedName string    `json:"final_output_name,omitempty" yaml:"final_output_name" toml:"final_output_name"`
}

// IsEnabled reports whether the request should run; absent means enabled.
func (r DownloadRequest) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// TaskFailure pairs a task with its failure cause.
type TaskFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// Run is one submitted DownloadRequest and its aggregated result.
type Run struct {
	ID         uuid.UUID       `json:"run_id"`
	Request    DownloadRequest `json:"request"`
	Status     RunStatus       `json:"status"`
	TaskIDs    []string        `json:"task_ids"`
	Succeeded  []string        `json:"succeeded,omitempty"`
	Failed     []TaskFailure   `json:"failed,omitempty"`
	MergedFile string          `json:"merged_file,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StatusSummary aggregates the status store for reporting.
type StatusSummary struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Records   []StatusRecord `json:"records"`
}

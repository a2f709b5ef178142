package domain

import "time"

// TaskStatus represents the persisted state of a Task.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// StatusRecord is the durable record of a task's last outcome. The originating
// Task is embedded so failed work can be replayed without re-planning.
type StatusRecord struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	OutputPath string     `json:"file,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Variables  []string   `json:"variables"`
	Task       Task       `json:"task"`
	Error      string     `json:"error,omitempty"`
	Trace      []string   `json:"traceback,omitempty"`
}

// Key returns the status store key of the record.
func (r StatusRecord) Key() string {
	if r.Task.ID != "" {
		return r.Task.StatusKey()
	}
	return r.TaskID
}

// RunStatus represents the state of a submitted download run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

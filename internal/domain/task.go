package domain

import (
	"fmt"
	"strings"
)

// SplitMode is the calendar unit used to partition a date range into tasks.
type SplitMode string

const (
	SplitMonth SplitMode = "month"
	SplitYear  SplitMode = "year"
)

// Region is a bounding box in degrees.
type Region struct {
	North float64 `json:"north"`
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
}

// Area returns the region in archive order [N, W, S, E].
func (r Region) Area() []float64 {
	return []float64{r.North, r.West, r.South, r.East}
}

// RegionFromArea builds a Region from an [N, W, S, E] slice.
func RegionFromArea(area []float64) (*Region, error) {
	if len(area) == 0 {
		return nil, nil
	}
	if len(area) != 4 {
		return nil, fmt.Errorf("area must have 4 values [N, W, S, E], got %d", len(area))
	}
	return &Region{North: area[0], West: area[1], South: area[2], East: area[3]}, nil
}

// Task is one indivisible unit of work: a disjoint time bucket for a fixed
// variable set and region. It is immutable once planned.
type Task struct {
	ID        string    `json:"task_id"`
	Split     SplitMode `json:"split_by"`
	Variables []string  `json:"variables"`
	Year      int       `json:"year"`
	Month     int       `json:"month,omitempty"`
	Months    []int     `json:"months,omitempty"`
	Days      []int     `json:"days"`
	Hours     []string  `json:"time_hours"`
	Region    *Region   `json:"area,omitempty"`
}

// MonthList returns the months the task covers.
func (t Task) MonthList() []int {
	if t.Month > 0 {
		return []int{t.Month}
	}
	return t.Months
}

// OutputName is the deterministic artifact name for the task.
func (t Task) OutputName() string {
	return fmt.Sprintf("ERA5_Land_%s_%s.nc", strings.Join(t.Variables, "_"), t.ID)
}

// StatusKey identifies the task in the status store. Tasks covering the same
// time bucket with different variable sets are recorded separately.
func (t Task) StatusKey() string {
	if len(t.Variables) == 0 {
		return t.ID
	}
	return t.ID + ":" + strings.Join(t.Variables, ",")
}

// DownloadOutcome is the result of one FetchWorker execution.
type DownloadOutcome struct {
	TaskID     string
	Success    bool
	Skipped    bool
	OutputPath string
	Err        error
}

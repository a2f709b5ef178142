// Package planner partitions a download request into independent,
// deterministically identified time-bucket tasks.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/validation"
)

const dateLayout = "2006-01-02"

// Input is a parsed, typed planning request.
type Input struct {
	Variables []string
	Start     time.Time
	End       time.Time
	Region    *domain.Region
	Hours     []string
	Split     domain.SplitMode
}

// DefaultHours returns all 24 hourly marks, 00:00 through 23:00.
func DefaultHours() []string {
	hours := make([]string, 24)
	for h := range hours {
		hours[h] = fmt.Sprintf("%02d:00", h)
	}
	return hours
}

// FromRequest validates req and converts it into an Input.
func FromRequest(req domain.DownloadRequest) (Input, error) {
	if err := validation.ValidateRequest(&req); err != nil {
		return Input{}, err
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return Input{}, invalid("parse start_date: %v", err)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return Input{}, invalid("parse end_date: %v", err)
	}

	region, err := domain.RegionFromArea(req.Area)
	if err != nil {
		return Input{}, invalid("%v", err)
	}

	return Input{
		Variables: req.Variables,
		Start:     start,
		End:       end,
		Region:    region,
		Hours:     req.Hours,
		Split:     req.SplitBy,
	}, nil
}

// PlanRequest is FromRequest followed by Plan.
func PlanRequest(req domain.DownloadRequest) ([]domain.Task, error) {
	in, err := FromRequest(req)
	if err != nil {
		return nil, err
	}
	return Plan(in)
}

// Plan returns one task per calendar month (or year) overlapping
// [in.Start, in.End], in chronological order. It has no side effects and
// returns identical task IDs for identical inputs. Malformed hours and
// out-of-range regions are rejected.
func Plan(in Input) ([]domain.Task, error) {
	if len(in.Variables) == 0 {
		return nil, invalid("variable list is empty")
	}
	if err := validation.ValidateHours(in.Hours); err != nil {
		return nil, err
	}
	if err := validation.ValidateRegion(in.Region); err != nil {
		return nil, err
	}
	start := truncateDay(in.Start)
	end := truncateDay(in.End)
	if start.After(end) {
		return nil, invalid("start date %s is after end date %s", start.Format(dateLayout), end.Format(dateLayout))
	}

	hours := in.Hours
	if len(hours) == 0 {
		hours = DefaultHours()
	}

	var region *domain.Region
	if in.Region != nil {
		r := *in.Region
		region = &r
	}

	base := domain.Task{
		Variables: append([]string(nil), in.Variables...),
		Hours:     append([]string(nil), hours...),
		Region:    region,
	}

	switch in.Split {
	case domain.SplitMonth, "":
		return planMonths(base, start, end), nil
	case domain.SplitYear:
		return planYears(base, start, end), nil
	default:
		return nil, invalid("unknown split mode %q", in.Split)
	}
}

func planMonths(base domain.Task, start, end time.Time) []domain.Task {
	var tasks []domain.Task

	for cur := start; !cur.After(end); cur = firstOfNextMonth(cur) {
		bucketEnd := firstOfNextMonth(cur).AddDate(0, 0, -1)
		if bucketEnd.After(end) {
			bucketEnd = end
		}

		task := cloneTask(base)
		task.ID = fmt.Sprintf("%04d%02d", cur.Year(), int(cur.Month()))
		task.Split = domain.SplitMonth
		task.Year = cur.Year()
		task.Month = int(cur.Month())
		task.Days = dayRange(cur.Day(), bucketEnd.Day())
		tasks = append(tasks, task)
	}

	return tasks
}

func planYears(base domain.Task, start, end time.Time) []domain.Task {
	var tasks []domain.Task

	for year := start.Year(); year <= end.Year(); year++ {
		yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		yearEnd := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		if start.After(yearStart) {
			yearStart = start
		}
		if end.Before(yearEnd) {
			yearEnd = end
		}

		var months []int
		for m := int(yearStart.Month()); m <= int(yearEnd.Month()); m++ {
			months = append(months, m)
		}

		seen := make(map[int]struct{}, 31)
		for d := yearStart; !d.After(yearEnd); d = d.AddDate(0, 0, 1) {
			seen[d.Day()] = struct{}{}
		}
		days := make([]int, 0, len(seen))
		for d := range seen {
			days = append(days, d)
		}
		sort.Ints(days)

		task := cloneTask(base)
		task.ID = fmt.Sprintf("%04d", year)
		task.Split = domain.SplitYear
		task.Year = year
		task.Months = months
		task.Days = days
		tasks = append(tasks, task)
	}

	return tasks
}

func cloneTask(t domain.Task) domain.Task {
	c := t
	c.Variables = append([]string(nil), t.Variables...)
	c.Hours = append([]string(nil), t.Hours...)
	if t.Region != nil {
		r := *t.Region
		c.Region = &r
	}
	return c
}

func dayRange(from, to int) []int {
	days := make([]int, 0, to-from+1)
	for d := from; d <= to; d++ {
		days = append(days, d)
	}
	return days
}

func firstOfNextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func invalid(format string, args ...any) error {
	return errpkg.NewFatal("plan", fmt.Errorf("%w: %s", errpkg.ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

// IsPlanningError reports whether err came from request validation.
func IsPlanningError(err error) bool {
	return errors.Is(err, errpkg.ErrInvalidRequest)
}

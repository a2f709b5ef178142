package verify

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/veranemoloko/era5-downloader/internal/dataset"
	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
	"github.com/veranemoloko/era5-downloader/internal/metrics"
)

const (
	spatialTolerance  = 0.5
	timestepTolerance = 0.1
)

// Report collects the outcome of every check on one file.
type Report struct {
	Path     string   `json:"path"`
	OK       bool     `json:"ok"`
	Missing  []string `json:"missing,omitempty"`
	Failures []string `json:"failures,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Verifier checks downloaded files for variable presence, non-emptiness,
// temporal and spatial plausibility.
type Verifier struct {
	opener     dataset.Opener
	mapping    VariableMap
	transcript *Transcript
	logger     *slog.Logger
}

func New(opener dataset.Opener, mapping VariableMap, transcript *Transcript, logger *slog.Logger) *Verifier {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	if transcript == nil {
		transcript = DiscardTranscript()
	}
	return &Verifier{
		opener:     opener,
		mapping:    mapping,
		transcript: transcript,
		logger:     logger,
	}
}

// Verify opens path and runs the checks. Temporal checks need task; spatial
// checks need task.Region. The returned error is a transient ErrVerification
// whenever the report is not OK.
func (v *Verifier) Verify(path string, variables []string, task *domain.Task) (Report, error) {
	report := Report{Path: path}
	log := v.transcript.With("file", filepath.Base(path))
	log.Info("verification started", "path", path)

	err := v.check(log, path, variables, task, &report)
	report.OK = err == nil && len(report.Failures) == 0

	if err != nil {
		report.fail("%v", err)
	}
	if report.OK {
		log.Info("verification passed", "warnings", len(report.Warnings))
		metrics.VerificationsTotal.WithLabelValues("passed").Inc()
		return report, nil
	}

	log.Error("verification failed", "failures", strings.Join(report.Failures, "; "))
	metrics.VerificationsTotal.WithLabelValues("failed").Inc()
	v.logger.Warn("verification failed", "path", path, "failures", report.Failures)
	return report, errpkg.NewTransient("verify",
		fmt.Errorf("%w: %s: %s", errpkg.ErrVerification, filepath.Base(path), strings.Join(report.Failures, "; ")))
}

func (v *Verifier) check(log *slog.Logger, path string, variables []string, task *domain.Task, report *Report) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	ds, err := v.opener.Open(path)
	if err != nil {
		return err
	}
	log.Info("file opened", "size_mb", fmt.Sprintf("%.2f", float64(info.Size())/(1<<20)), "variables", ds.DataVarNames())

	found := v.checkPresence(log, ds, variables, report)
	if len(report.Missing) > 0 {
		log.Info("variables in file", "variables", ds.DataVarNames())
		return nil
	}

	if !v.checkNonEmpty(log, found, report) {
		return nil
	}

	if task == nil {
		log.Info("temporal check skipped: no task")
	} else {
		v.checkTemporal(log, ds, task, report)
	}

	if task == nil || task.Region == nil {
		log.Info("spatial check skipped: no region")
	} else {
		v.checkSpatial(log, ds, *task.Region, report)
	}
	return nil
}

// checkPresence returns the resolved variables keyed by declared name.
func (v *Verifier) checkPresence(log *slog.Logger, ds *dataset.Dataset, variables []string, report *Report) map[string]*dataset.Variable {
	found := make(map[string]*dataset.Variable, len(variables))
	for _, declared := range variables {
		mapped := v.mapping.Resolve(declared)
		desc := fmt.Sprintf("%s (mapped to %s)", declared, mapped)

		dv, ok := ds.DataVar(mapped)
		if !ok {
			dv, ok = ds.DataVar(declared)
		}
		if !ok {
			report.Missing = append(report.Missing, desc)
			log.Error("variable missing", "variable", desc)
			continue
		}
		found[declared] = dv
		log.Info("variable present", "variable", desc)
	}
	if len(report.Missing) > 0 {
		report.fail("missing %d variable(s): %s", len(report.Missing), strings.Join(report.Missing, ", "))
	}
	return found
}

func (v *Verifier) checkNonEmpty(log *slog.Logger, found map[string]*dataset.Variable, report *Report) bool {
	ok := true
	for declared, dv := range found {
		if dv.Len() == 0 {
			report.fail("variable %s is empty", declared)
			log.Error("variable empty", "variable", declared)
			ok = false
			continue
		}
		log.Info("variable data",
			"variable", declared,
			"points", dv.Len(),
			"valid_percent", fmt.Sprintf("%.1f", dv.ValidFraction()*100))
	}
	return ok
}

func (v *Verifier) checkTemporal(log *slog.Logger, ds *dataset.Dataset, task *domain.Task, report *Report) {
	name, times, found, err := ds.TimeAxis()
	if !found {
		report.warn("no time axis")
		log.Warn("no time axis")
		return
	}
	if err != nil {
		report.warn("time axis unreadable: %v", err)
		log.Warn("time axis unreadable", "error", err)
		return
	}
	if len(times) == 0 {
		report.fail("time axis %s is empty", name)
		log.Error("time axis empty", "axis", name)
		return
	}

	first, last := times[0], times[len(times)-1]
	log.Info("time axis", "axis", name, "first", first, "last", last, "steps", len(times))

	if first.Year() != task.Year {
		report.fail("year mismatch: expected %d, got %d", task.Year, first.Year())
		log.Error("year mismatch", "expected", task.Year, "actual", first.Year())
		return
	}
	if task.Month > 0 && int(first.Month()) != task.Month {
		report.fail("month mismatch: expected %d, got %d", task.Month, int(first.Month()))
		log.Error("month mismatch", "expected", task.Month, "actual", int(first.Month()))
		return
	}
	log.Info("first timestamp matches task", "year", first.Year(), "month", int(first.Month()))

	if last.Year() != task.Year || (task.Month > 0 && int(last.Month()) != task.Month) {
		report.warn("last timestamp %s outside task %s", last.Format("2006-01-02 15:04"), task.ID)
		log.Warn("last timestamp outside task", "last", last, "task_id", task.ID)
	}

	expected := len(task.Hours) * len(task.Days)
	if expected == 0 {
		return
	}
	diff := math.Abs(float64(len(times) - expected))
	if diff > float64(expected)*timestepTolerance {
		report.warn("timestep count %d deviates from expected %d (%.1f%%)", len(times), expected, diff/float64(expected)*100)
		log.Warn("timestep deviation", "expected", expected, "actual", len(times))
		return
	}
	log.Info("timestep count plausible", "expected", expected, "actual", len(times))
}

func (v *Verifier) checkSpatial(log *slog.Logger, ds *dataset.Dataset, region domain.Region, report *Report) {
	lat, okLat := ds.Coord(dataset.LatitudeNames...)
	lon, okLon := ds.Coord(dataset.LongitudeNames...)
	if !okLat || !okLon {
		report.warn("no latitude/longitude axes")
		log.Warn("no spatial axes")
		return
	}

	check := func(axis string, got *dataset.Variable, a, b float64) {
		wantMin, wantMax := math.Min(a, b), math.Max(a, b)
		gotMin, gotMax := got.Min(), got.Max()
		diff := math.Max(math.Abs(gotMin-wantMin), math.Abs(gotMax-wantMax))
		if math.IsNaN(diff) || diff > spatialTolerance {
			report.warn("%s range %.2f..%.2f deviates from requested %.2f..%.2f", axis, gotMin, gotMax, wantMin, wantMax)
			log.Warn("spatial deviation", "axis", axis, "expected_min", wantMin, "expected_max", wantMax,
				"actual_min", gotMin, "actual_max", gotMax)
			return
		}
		log.Info("spatial range matches", "axis", axis, "deviation", fmt.Sprintf("%.2f", diff))
	}

	check("latitude", lat, region.North, region.South)
	check("longitude", lon, region.West, region.East)
	log.Info("grid", "points", fmt.Sprintf("%d x %d", lat.Len(), lon.Len()))
}

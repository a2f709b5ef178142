package verify

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/era5-downloader/internal/dataset"
	"github.com/veranemoloko/era5-downloader/internal/domain"
	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

type fakeOpener struct {
	ds  *dataset.Dataset
	err error
}

func (f fakeOpener) Open(string) (*dataset.Dataset, error) {
	return f.ds, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// grid builds a dataset with hourly steps starting at start over a 2x2 box.
func grid(t *testing.T, start time.Time, steps int, vars ...string) *dataset.Dataset {
	t.Helper()
	times := make([]time.Time, steps)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}
	units := "hours since 1900-01-01 00:00:00.0"
	offsets, err := dataset.EncodeTimes(times, units)
	require.NoError(t, err)

	ds := dataset.New()
	ds.Add(&dataset.Variable{Name: "valid_time", Dims: []string{"valid_time"}, Shape: []int{steps}, Values: offsets,
		Attrs: map[string]any{"units": units}})
	ds.Add(&dataset.Variable{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{2}, Values: []float64{60, 10}})
	ds.Add(&dataset.Variable{Name: "longitude", Dims: []string{"longitude"}, Shape: []int{2}, Values: []float64{70, 140}})
	for _, name := range vars {
		values := make([]float64, steps*4)
		values[0] = math.NaN()
		ds.Add(&dataset.Variable{Name: name, Dims: []string{"valid_time", "latitude", "longitude"},
			Shape: []int{steps, 2, 2}, Values: values})
	}
	return ds
}

func hours(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = time.Date(0, 1, 1, i, 0, 0, 0, time.UTC).Format("15:04")
	}
	return out
}

func days(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func januaryTask() *domain.Task {
	return &domain.Task{
		ID:        "201401",
		Split:     domain.SplitMonth,
		Variables: []string{"2m_temperature", "total_precipitation"},
		Year:      2014,
		Month:     1,
		Days:      days(31),
		Hours:     hours(24),
		Region:    &domain.Region{North: 60, West: 70, South: 10, East: 140},
	}
}

func newVerifier(t *testing.T, ds *dataset.Dataset, transcript io.Writer) (*Verifier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.nc")
	require.NoError(t, os.WriteFile(path, []byte("CDF"), 0o644))
	tr := DiscardTranscript()
	if transcript != nil {
		tr = NewTranscript(transcript)
	}
	return New(fakeOpener{ds: ds}, DefaultMapping(), tr, discardLogger()), path
}

func TestVerify_PassesCompleteFile(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24*31, "t2m", "tp")
	var buf bytes.Buffer
	v, path := newVerifier(t, ds, &buf)

	report, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.Warnings)
	assert.Contains(t, buf.String(), "verification passed")
	assert.Contains(t, buf.String(), "file=file.nc")
}

func TestVerify_MissingVariableReportsBothNames(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24, "tp")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, []string{"2m_temperature", "total_precipitation"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errpkg.ErrVerification)
	assert.Equal(t, errpkg.Transient, errpkg.KindOf(err))
	assert.False(t, report.OK)
	assert.Equal(t, []string{"2m_temperature (mapped to t2m)"}, report.Missing)
	assert.Contains(t, err.Error(), "2m_temperature (mapped to t2m)")
}

func TestVerify_DeclaredNameFallback(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24, "my_custom_var")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, []string{"my_custom_var"}, nil)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestVerify_CoordinateIsNotADataVariable(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, []string{"latitude"}, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"latitude (mapped to latitude)"}, report.Missing)
}

func TestVerify_EmptyVariableFails(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	ds.Add(&dataset.Variable{Name: "t2m", Dims: []string{"valid_time", "latitude", "longitude"}, Shape: []int{0, 2, 2}})
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, []string{"2m_temperature"}, nil)
	require.Error(t, err)
	assert.Contains(t, report.Failures, "variable 2m_temperature is empty")
}

func TestVerify_TimestepDeviationWithinToleranceIsAccepted(t *testing.T) {
	// 22 hours x 31 days on disk, 24 x 31 requested.
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 22*31, "t2m", "tp")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestVerify_TimestepDeviationBeyondToleranceWarns(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24*15, "t2m", "tp")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.NoError(t, err)
	assert.True(t, report.OK)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "timestep count 360 deviates from expected 744")
}

func TestVerify_YearMismatchFails(t *testing.T) {
	ds := grid(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), 24*31, "t2m", "tp")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.Error(t, err)
	assert.False(t, report.OK)
	assert.Contains(t, report.Failures, "year mismatch: expected 2014, got 2015")
}

func TestVerify_MonthMismatchFails(t *testing.T) {
	ds := grid(t, time.Date(2014, 2, 1, 0, 0, 0, 0, time.UTC), 24*28, "t2m", "tp")
	v, path := newVerifier(t, ds, nil)

	_, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "month mismatch")
}

func TestVerify_LastTimestampOutsideTaskWarns(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24*32, "t2m", "tp")
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, januaryTask().Variables, januaryTask())
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "last timestamp 2014-02-01 23:00 outside task 201401")
}

func TestVerify_SpatialDeviationWarns(t *testing.T) {
	ds := grid(t, time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC), 24*31, "t2m", "tp")
	task := januaryTask()
	task.Region = &domain.Region{North: 62, West: 70, South: 10, East: 140}
	v, path := newVerifier(t, ds, nil)

	report, err := v.Verify(path, task.Variables, task)
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "latitude range")
}

func TestVerify_OpenErrorFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.nc")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	v := New(fakeOpener{err: errors.New("not a netcdf file")}, nil, nil, discardLogger())

	report, err := v.Verify(path, []string{"2m_temperature"}, nil)
	require.Error(t, err)
	assert.False(t, report.OK)
	assert.Contains(t, err.Error(), "not a netcdf file")

	_, err = v.Verify(filepath.Join(t.TempDir(), "absent.nc"), []string{"2m_temperature"}, nil)
	assert.Error(t, err)
}

func TestVariableMap(t *testing.T) {
	m := NewVariableMap(map[string]string{"my_custom_temp": "t2m", "evaporation": "evap"})

	assert.Equal(t, "t2m", m.Resolve("my_custom_temp"))
	assert.Equal(t, "evap", m.Resolve("evaporation"))
	assert.Equal(t, "e", m.Resolve("total_evaporation"))
	assert.Equal(t, "unknown_var", m.Resolve("unknown_var"))
	assert.Equal(t, "e", DefaultMapping().Resolve("evaporation"))
}

func TestOpenTranscript_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "verification_log.txt")

	for i := 0; i < 2; i++ {
		tr, err := OpenTranscript(path)
		require.NoError(t, err)
		tr.Info("line", "n", i)
		require.NoError(t, tr.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "n=0")
	assert.Contains(t, string(data), "n=1")
}

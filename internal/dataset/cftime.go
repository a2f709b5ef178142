package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var refLayouts = []string{
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
}

// ParseTimeUnits parses a CF units string such as
// "hours since 1900-01-01 00:00:00.0" into a step and a UTC reference time.
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: missing \"since\"", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}

	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	for _, layout := range refLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: unparsable reference %q", units, ref)
}

// DecodeTimes converts CF offsets to timestamps. NaN offsets are rejected.
func DecodeTimes(values []float64, units string) ([]time.Time, error) {
	step, ref, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("missing time value at index %d", i)
		}
		out[i] = ref.Add(time.Duration(math.Round(v * float64(step))))
	}
	return out, nil
}

// EncodeTimes is the inverse of DecodeTimes.
func EncodeTimes(times []time.Time, units string) ([]float64, error) {
	step, ref, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = float64(t.Sub(ref)) / float64(step)
	}
	return out, nil
}

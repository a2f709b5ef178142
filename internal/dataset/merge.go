package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

var ErrNoTimeAxis = errors.New("dataset has no time axis")

// Merge concatenates datasets along their time axis and sorts the result by
// time. Variables without the time dimension are taken from the first
// dataset. Inputs are not modified.
func Merge(parts []*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to merge")
	}

	first := parts[0]
	timeName, _, found, err := first.TimeAxis()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoTimeAxis
	}
	units, _ := first.Coords[timeName].StringAttr("units")

	var times []time.Time
	for i, p := range parts {
		name, ts, found, err := p.TimeAxis()
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		if !found {
			return nil, fmt.Errorf("part %d: %w", i, ErrNoTimeAxis)
		}
		if name != timeName {
			return nil, fmt.Errorf("part %d: time axis %q, expected %q", i, name, timeName)
		}
		times = append(times, ts...)
	}

	order := make([]int, len(times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]].Before(times[order[b]]) })

	out := New()
	for k, a := range first.Attrs {
		out.Attrs[k] = a
	}

	for _, group := range []map[string]*Variable{first.Coords, first.Vars} {
		for name, v := range group {
			axis := v.Axis(timeName)
			if axis < 0 {
				out.Add(v.clone())
				continue
			}
			if name == timeName {
				continue
			}
			merged, err := concat(parts, name, axis)
			if err != nil {
				return nil, err
			}
			out.Add(permute(merged, axis, order))
		}
	}

	sorted := make([]time.Time, len(times))
	for i, j := range order {
		sorted[i] = times[j]
	}
	encoded, err := EncodeTimes(sorted, units)
	if err != nil {
		return nil, err
	}
	tv := first.Coords[timeName].clone()
	tv.Values = encoded
	tv.Shape = []int{len(encoded)}
	out.Add(tv)

	return out, nil
}

// concat joins variable name of every part along axis.
func concat(parts []*Dataset, name string, axis int) (*Variable, error) {
	var base *Variable
	var blocks [][]float64
	var inner []int
	total := 0

	for i, p := range parts {
		v, ok := p.Vars[name]
		if !ok {
			v, ok = p.Coords[name]
		}
		if !ok {
			return nil, fmt.Errorf("part %d: missing variable %s", i, name)
		}
		if base == nil {
			base = v
		} else if err := sameLayout(base, v, axis); err != nil {
			return nil, fmt.Errorf("part %d: variable %s: %w", i, name, err)
		}
		blocks = append(blocks, v.Values)
		inner = append(inner, v.Shape[axis])
		total += v.Shape[axis]
	}

	outer := product(base.Shape[:axis])
	rest := product(base.Shape[axis+1:])

	out := base.clone()
	out.Shape[axis] = total
	out.Values = make([]float64, 0, outer*total*rest)
	for o := 0; o < outer; o++ {
		for i, block := range blocks {
			n := inner[i] * rest
			out.Values = append(out.Values, block[o*n:(o+1)*n]...)
		}
	}
	return out, nil
}

func sameLayout(a, b *Variable, axis int) error {
	if len(a.Dims) != len(b.Dims) {
		return fmt.Errorf("dimensions %v and %v differ", a.Dims, b.Dims)
	}
	for i := range a.Dims {
		if a.Dims[i] != b.Dims[i] {
			return fmt.Errorf("dimensions %v and %v differ", a.Dims, b.Dims)
		}
		if i != axis && a.Shape[i] != b.Shape[i] {
			return fmt.Errorf("shapes %v and %v differ outside the time axis", a.Shape, b.Shape)
		}
	}
	return nil
}

// permute reorders v along axis so that new position i holds old order[i].
func permute(v *Variable, axis int, order []int) *Variable {
	outer := product(v.Shape[:axis])
	n := v.Shape[axis]
	rest := product(v.Shape[axis+1:])

	values := make([]float64, len(v.Values))
	for o := 0; o < outer; o++ {
		base := o * n * rest
		for i, j := range order {
			copy(values[base+i*rest:base+(i+1)*rest], v.Values[base+j*rest:base+(j+1)*rest])
		}
	}
	v.Values = values
	return v
}

// MergeFiles opens every path, merges them and writes the result to dst.
// The output is written beside dst and renamed into place, so a failure
// leaves neither a partial dst nor modified inputs.
func MergeFiles(opener Opener, writer Writer, paths []string, dst string) error {
	parts := make([]*Dataset, 0, len(paths))
	for _, p := range paths {
		ds, err := opener.Open(p)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		parts = append(parts, ds)
	}

	merged, err := Merge(parts)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	if err := writer.Write(tmp, merged); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("merge: write: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("merge: place: %w", err)
	}
	return nil
}

package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TimeAxisNames are the coordinate names recognised as the time axis, in
// lookup order.
var TimeAxisNames = []string{"time", "valid_time", "forecast_reference_time"}

var (
	LatitudeNames  = []string{"latitude", "lat"}
	LongitudeNames = []string{"longitude", "lon"}
)

// Variable is an n-dimensional numeric array stored row-major as float64.
// Missing values are NaN.
type Variable struct {
	Name   string
	Dims   []string
	Shape  []int
	Values []float64
	Attrs  map[string]any
}

// Len is the number of elements.
func (v *Variable) Len() int {
	return len(v.Values)
}

// ValidFraction is the share of elements that are not NaN.
func (v *Variable) ValidFraction() float64 {
	if len(v.Values) == 0 {
		return 0
	}
	valid := 0
	for _, x := range v.Values {
		if !math.IsNaN(x) {
			valid++
		}
	}
	return float64(valid) / float64(len(v.Values))
}

// Axis returns the index of dim in v.Dims, or -1.
func (v *Variable) Axis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// StringAttr returns a string attribute.
func (v *Variable) StringAttr(key string) (string, bool) {
	s, ok := v.Attrs[key].(string)
	return s, ok
}

// Min and Max ignore NaN. Both return NaN for an all-missing variable.
func (v *Variable) Min() float64 {
	m := math.NaN()
	for _, x := range v.Values {
		if !math.IsNaN(x) && (math.IsNaN(m) || x < m) {
			m = x
		}
	}
	return m
}

func (v *Variable) Max() float64 {
	m := math.NaN()
	for _, x := range v.Values {
		if !math.IsNaN(x) && (math.IsNaN(m) || x > m) {
			m = x
		}
	}
	return m
}

func (v *Variable) clone() *Variable {
	out := &Variable{
		Name:   v.Name,
		Dims:   append([]string(nil), v.Dims...),
		Shape:  append([]int(nil), v.Shape...),
		Values: append([]float64(nil), v.Values...),
		Attrs:  make(map[string]any, len(v.Attrs)),
	}
	for k, a := range v.Attrs {
		out.Attrs[k] = a
	}
	return out
}

// Dataset is an opened array file: coordinate variables (one dimension named
// after themselves) and data variables.
type Dataset struct {
	Coords map[string]*Variable
	Vars   map[string]*Variable
	Attrs  map[string]any
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{
		Coords: map[string]*Variable{},
		Vars:   map[string]*Variable{},
		Attrs:  map[string]any{},
	}
}

// Add places v among the coordinates or the data variables.
func (d *Dataset) Add(v *Variable) {
	if len(v.Dims) == 1 && v.Dims[0] == v.Name {
		d.Coords[v.Name] = v
		return
	}
	d.Vars[v.Name] = v
}

// DataVar looks up a data variable by name.
func (d *Dataset) DataVar(name string) (*Variable, bool) {
	v, ok := d.Vars[name]
	return v, ok
}

// Coord returns the first coordinate found among names.
func (d *Dataset) Coord(names ...string) (*Variable, bool) {
	for _, n := range names {
		if v, ok := d.Coords[n]; ok {
			return v, true
		}
	}
	return nil, false
}

// DataVarNames lists the data variables in lexical order.
func (d *Dataset) DataVarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TimeAxis finds the time coordinate and decodes it. found is false when the
// dataset has none of TimeAxisNames.
func (d *Dataset) TimeAxis() (name string, times []time.Time, found bool, err error) {
	v, ok := d.Coord(TimeAxisNames...)
	if !ok {
		return "", nil, false, nil
	}
	units, ok := v.StringAttr("units")
	if !ok {
		return v.Name, nil, true, fmt.Errorf("time axis %q has no units", v.Name)
	}
	times, err = DecodeTimes(v.Values, units)
	if err != nil {
		return v.Name, nil, true, fmt.Errorf("decode time axis %q: %w", v.Name, err)
	}
	return v.Name, times, true, nil
}

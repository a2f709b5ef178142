package dataset

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Opener reads an array file into memory.
type Opener interface {
	Open(path string) (*Dataset, error)
}

// Writer persists a dataset to path.
type Writer interface {
	Write(path string, ds *Dataset) error
}

var errNotNumeric = errors.New("not a numeric array")

// packing attributes are consumed when values are decoded
var packingAttrs = []string{"scale_factor", "add_offset", "_FillValue", "missing_value"}

// NetCDF reads classic and HDF5-based NetCDF files and writes classic ones.
type NetCDF struct{}

// Open reads every numeric variable of the root group. Packed values are
// unpacked and fill values become NaN. Non-numeric variables are skipped.
func (NetCDF) Open(path string) (*Dataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	ds := New()
	ds.Attrs = attrsToMap(nc.Attributes())

	for _, name := range nc.ListVariables() {
		av, err := nc.GetVariable(name)
		if err != nil {
			return nil, fmt.Errorf("read variable %s: %w", name, err)
		}

		raw, shape, err := flatten(av.Values)
		if errors.Is(err, errNotNumeric) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read variable %s: %w", name, err)
		}
		for len(shape) < len(av.Dimensions) {
			shape = append(shape, 0)
		}

		attrs := attrsToMap(av.Attributes)
		ds.Add(&Variable{
			Name:   name,
			Dims:   append([]string(nil), av.Dimensions...),
			Shape:  shape,
			Values: unpack(raw, attrs),
			Attrs:  attrs,
		})
	}

	return ds, nil
}

// Write stores ds as a classic NetCDF file with float64 variables. A failed
// write removes the partial file.
func (NetCDF) Write(path string, ds *Dataset) (err error) {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	for _, v := range ds.ordered() {
		values, err := unflatten(v.Values, v.Shape)
		if err != nil {
			cw.Close()
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		attrs, err := mapToAttrs(v.Attrs)
		if err != nil {
			cw.Close()
			return fmt.Errorf("variable %s attributes: %w", v.Name, err)
		}
		if err := cw.AddVar(v.Name, api.Variable{
			Values:     values,
			Dimensions: v.Dims,
			Attributes: attrs,
		}); err != nil {
			cw.Close()
			return fmt.Errorf("add variable %s: %w", v.Name, err)
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ordered lists coordinates first, each group in lexical order.
func (d *Dataset) ordered() []*Variable {
	out := make([]*Variable, 0, len(d.Coords)+len(d.Vars))
	for _, group := range []map[string]*Variable{d.Coords, d.Vars} {
		names := make([]string, 0, len(group))
		for n := range group {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, group[n])
		}
	}
	return out
}

func attrsToMap(am api.AttributeMap) map[string]any {
	out := map[string]any{}
	if am == nil {
		return out
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func mapToAttrs(m map[string]any) (api.AttributeMap, error) {
	keys := make([]string, 0, len(m))
	vals := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, float64, float32, int64, int32, int16, int8,
			[]float64, []float32, []int64, []int32, []int16:
			keys = append(keys, k)
			vals[k] = v
		}
	}
	sort.Strings(keys)
	return util.NewOrderedMap(keys, vals)
}

func unpack(raw []float64, attrs map[string]any) []float64 {
	var fills []float64
	for _, k := range []string{"_FillValue", "missing_value"} {
		if f, ok := attrFloat(attrs[k]); ok {
			fills = append(fills, f)
		}
	}
	scale, hasScale := attrFloat(attrs["scale_factor"])
	offset, hasOffset := attrFloat(attrs["add_offset"])

	out := make([]float64, len(raw))
	for i, x := range raw {
		if isFill(x, fills) {
			out[i] = math.NaN()
			continue
		}
		if hasScale {
			x *= scale
		}
		if hasOffset {
			x += offset
		}
		out[i] = x
	}

	for _, k := range packingAttrs {
		delete(attrs, k)
	}
	return out
}

func isFill(x float64, fills []float64) bool {
	for _, f := range fills {
		if x == f || (math.IsNaN(f) && math.IsNaN(x)) {
			return true
		}
	}
	return false
}

// attrFloat reads a numeric scalar or the first element of a numeric slice.
func attrFloat(a any) (float64, bool) {
	if a == nil {
		return 0, false
	}
	values, _, err := flatten(a)
	if err != nil || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// flatten walks nested numeric slices in row-major order.
func flatten(values any) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() {
		return nil, nil, errNotNumeric
	}

	var shape []int
	for t := rv; t.Kind() == reflect.Slice; t = t.Index(0) {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
	}

	out := make([]float64, 0, product(shape))
	if err := walk(rv, &out); err != nil {
		return nil, nil, err
	}
	if len(out) != product(shape) {
		return nil, nil, fmt.Errorf("ragged array: %d elements for shape %v", len(out), shape)
	}
	return out, shape, nil
}

func walk(rv reflect.Value, out *[]float64) error {
	switch rv.Kind() {
	case reflect.Interface:
		return walk(rv.Elem(), out)
	case reflect.Slice, reflect.Array:
		if rv.CanInterface() && appendLeaf(rv.Interface(), out) {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := walk(rv.Index(i), out); err != nil {
				return err
			}
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		*out = append(*out, rv.Float())
	default:
		return fmt.Errorf("%w: %s", errNotNumeric, rv.Kind())
	}
	return nil
}

// appendLeaf handles the innermost slice types without per-element reflection.
func appendLeaf(v any, out *[]float64) bool {
	switch s := v.(type) {
	case []float64:
		*out = append(*out, s...)
	case []float32:
		for _, x := range s {
			*out = append(*out, float64(x))
		}
	case []int16:
		for _, x := range s {
			*out = append(*out, float64(x))
		}
	case []int32:
		for _, x := range s {
			*out = append(*out, float64(x))
		}
	case []int64:
		for _, x := range s {
			*out = append(*out, float64(x))
		}
	default:
		return false
	}
	return true
}

// unflatten rebuilds nested []...[]float64 slices for shape. An empty shape
// yields a scalar.
func unflatten(values []float64, shape []int) (any, error) {
	if len(shape) == 0 {
		if len(values) != 1 {
			return nil, fmt.Errorf("scalar with %d values", len(values))
		}
		return values[0], nil
	}
	if product(shape) != len(values) {
		return nil, fmt.Errorf("shape %v does not hold %d values", shape, len(values))
	}

	typ := reflect.TypeOf(float64(0))
	for range shape {
		typ = reflect.SliceOf(typ)
	}
	return build(typ, values, shape).Interface(), nil
}

func build(typ reflect.Type, values []float64, shape []int) reflect.Value {
	if len(shape) == 1 {
		return reflect.ValueOf(append([]float64(nil), values...))
	}
	n := shape[0]
	out := reflect.MakeSlice(typ, n, n)
	if n == 0 {
		return out
	}
	stride := len(values) / n
	for i := 0; i < n; i++ {
		out.Index(i).Set(build(typ.Elem(), values[i*stride:(i+1)*stride], shape[1:]))
	}
	return out
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

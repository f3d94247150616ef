package samplerpb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Struct field names.
const (
	FieldPath       = "path"
	FieldResolution = "resolution"
	FieldValues     = "values"
	FieldPixels     = "pixels"
	FieldHash       = "hash"
	FieldShape      = "shape"
	FieldNNZ        = "nnz"
	FieldBase       = "base"
	FieldCSF        = "csf"
	FieldFlatten    = "flatten"
	FieldMap        = "map"
)

// Request names a tensor file and, for projections, a resolution.
type Request struct {
	Path       string
	Resolution int
}

// Struct encodes r. A zero resolution is omitted.
func (r Request) Struct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldPath: structpb.NewStringValue(r.Path),
	}
	if r.Resolution != 0 {
		fields[FieldResolution] = structpb.NewNumberValue(float64(r.Resolution))
	}
	return &structpb.Struct{Fields: fields}
}

// ParseRequest decodes a request Struct. Resolution is optional here; the
// handlers that need it validate it.
func ParseRequest(s *structpb.Struct) (Request, error) {
	var req Request
	if s == nil {
		return req, errors.ValidationError("empty request")
	}

	path, err := stringField(s, FieldPath)
	if err != nil {
		return req, err
	}
	req.Path = path

	if _, ok := s.GetFields()[FieldResolution]; ok {
		res, err := intField(s, FieldResolution)
		if err != nil {
			return req, err
		}
		req.Resolution = res
	}
	return req, nil
}

// FeaturesStruct wraps a feature vector as {"values": [...]}.
func FeaturesStruct(values []float32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldValues: FloatList(values),
	}}
}

// ParseFeatures reads {"values": [...]}.
func ParseFeatures(s *structpb.Struct) ([]float32, error) {
	return Floats(s.GetFields()[FieldValues])
}

// ImagesStruct wraps a projection buffer as {"resolution": r, "pixels": [...]}.
func ImagesStruct(resolution int, pixels []int32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldResolution: structpb.NewNumberValue(float64(resolution)),
		FieldPixels:     IntList(pixels),
	}}
}

// ParseImages reads {"resolution": r, "pixels": [...]} and checks the
// buffer holds three r x r images.
func ParseImages(s *structpb.Struct) (int, []int32, error) {
	res, err := intField(s, FieldResolution)
	if err != nil {
		return 0, nil, err
	}
	pix, err := Ints(s.GetFields()[FieldPixels])
	if err != nil {
		return 0, nil, err
	}
	if len(pix) != tensor.Order*res*res {
		return 0, nil, errors.ValidationError(
			fmt.Sprintf("got %d pixels, want %d at resolution %d", len(pix), tensor.Order*res*res, res))
	}
	return res, pix, nil
}

// ResultStruct encodes a full sampling result.
func ResultStruct(r *engine.Result) *structpb.Struct {
	shape := make([]*structpb.Value, tensor.Order)
	for m, d := range r.Shape {
		shape[m] = structpb.NewNumberValue(float64(d))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldPath:       structpb.NewStringValue(r.Path),
		FieldHash:       structpb.NewStringValue(r.Hash),
		FieldShape:      structpb.NewListValue(&structpb.ListValue{Values: shape}),
		FieldNNZ:        structpb.NewNumberValue(float64(r.NNZ)),
		FieldResolution: structpb.NewNumberValue(float64(r.Resolution)),
		FieldBase:       FloatList(r.Base),
		FieldCSF:        FloatList(r.CSF),
		FieldFlatten:    IntList(r.Flatten),
		FieldMap:        IntList(r.Map),
	}}
}

// ParseResult decodes a Struct written by ResultStruct.
func ParseResult(s *structpb.Struct) (*engine.Result, error) {
	r := &engine.Result{}
	var err error

	if r.Path, err = stringField(s, FieldPath); err != nil {
		return nil, err
	}
	if r.Hash, err = stringField(s, FieldHash); err != nil {
		return nil, err
	}

	dims, err := Ints(s.GetFields()[FieldShape])
	if err != nil {
		return nil, err
	}
	if len(dims) != tensor.Order {
		return nil, errors.ValidationError(fmt.Sprintf("shape has %d dimensions, want %d", len(dims), tensor.Order))
	}
	for m, d := range dims {
		r.Shape[m] = int(d)
	}

	if r.NNZ, err = intField(s, FieldNNZ); err != nil {
		return nil, err
	}
	if r.Resolution, err = intField(s, FieldResolution); err != nil {
		return nil, err
	}
	if r.Base, err = Floats(s.GetFields()[FieldBase]); err != nil {
		return nil, err
	}
	if r.CSF, err = Floats(s.GetFields()[FieldCSF]); err != nil {
		return nil, err
	}
	if r.Flatten, err = Ints(s.GetFields()[FieldFlatten]); err != nil {
		return nil, err
	}
	if r.Map, err = Ints(s.GetFields()[FieldMap]); err != nil {
		return nil, err
	}
	return r, nil
}

// FloatList encodes v as a list of numbers.
func FloatList(v []float32) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// IntList encodes v as a list of numbers. Every int32 is exact in a float64.
func IntList(v []int32) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// Floats decodes a list of numbers.
func Floats(v *structpb.Value) ([]float32, error) {
	list, err := numberList(v)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(list))
	for i, x := range list {
		out[i] = float32(x)
	}
	return out, nil
}

// Ints decodes a list of integral numbers in int32 range.
func Ints(v *structpb.Value) ([]int32, error) {
	list, err := numberList(v)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(list))
	for i, x := range list {
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return nil, errors.ValidationError(fmt.Sprintf("element %d is not an int32: %v", i, x))
		}
		out[i] = int32(x)
	}
	return out, nil
}

func numberList(v *structpb.Value) ([]float64, error) {
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, errors.ValidationError("expected a list of numbers")
	}
	vals := lv.ListValue.GetValues()
	out := make([]float64, len(vals))
	for i, x := range vals {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, errors.ValidationError(fmt.Sprintf("element %d is not a number", i))
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.GetFields()[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", errors.ValidationError(fmt.Sprintf("field %q must be a string", name))
	}
	return v.StringValue, nil
}

func intField(s *structpb.Struct, name string) (int, error) {
	v, ok := s.GetFields()[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.ValidationError(fmt.Sprintf("field %q must be a number", name))
	}
	x := v.NumberValue
	if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
		return 0, errors.ValidationError(fmt.Sprintf("field %q must be an integer, got %v", name, x))
	}
	return int(x), nil
}

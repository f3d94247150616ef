package samplerpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/tensor"
)

// wire pushes s through the protobuf binary encoding.
func wire(t *testing.T, s *structpb.Struct) *structpb.Struct {
	t.Helper()
	b, err := proto.Marshal(s)
	require.NoError(t, err)
	out := new(structpb.Struct)
	require.NoError(t, proto.Unmarshal(b, out))
	return out
}

func TestRequest(t *testing.T) {
	req, err := ParseRequest(wire(t, Request{Path: "a/b.tns", Resolution: 64}.Struct()))
	require.NoError(t, err)
	assert.Equal(t, Request{Path: "a/b.tns", Resolution: 64}, req)

	s := Request{Path: "x.tns"}.Struct()
	assert.NotContains(t, s.GetFields(), FieldResolution)
	req, err = ParseRequest(s)
	require.NoError(t, err)
	assert.Zero(t, req.Resolution)
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
	}{
		{"missing path", map[string]any{"resolution": 4}},
		{"numeric path", map[string]any{"path": 3}},
		{"string resolution", map[string]any{"path": "x", "resolution": "4"}},
		{"fractional resolution", map[string]any{"path": "x", "resolution": 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.in)
			require.NoError(t, err)
			_, err = ParseRequest(s)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}

	_, err := ParseRequest(nil)
	assert.True(t, errors.IsValidation(err))
}

func TestFeatures(t *testing.T) {
	in := []float32{0, 1.5, -3.25, 1e-7, 12345.678}
	got, err := ParseFeatures(wire(t, FeaturesStruct(in)))
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = ParseFeatures(&structpb.Struct{})
	assert.True(t, errors.IsValidation(err))
}

func TestImages(t *testing.T) {
	pix := make([]int32, 3*2*2)
	for i := range pix {
		pix[i] = int32(i * 1000)
	}

	res, got, err := ParseImages(wire(t, ImagesStruct(2, pix)))
	require.NoError(t, err)
	assert.Equal(t, 2, res)
	assert.Equal(t, pix, got)

	_, _, err = ParseImages(ImagesStruct(3, pix))
	assert.True(t, errors.IsValidation(err))
}

func TestInts_RejectsNonIntegers(t *testing.T) {
	v, err := structpb.NewList([]any{1, 2.5})
	require.NoError(t, err)
	_, err = Ints(structpb.NewListValue(v))
	assert.True(t, errors.IsValidation(err))

	v, err = structpb.NewList([]any{1, "x"})
	require.NoError(t, err)
	_, err = Ints(structpb.NewListValue(v))
	assert.True(t, errors.IsValidation(err))

	v, err = structpb.NewList([]any{float64(1 << 40)})
	require.NoError(t, err)
	_, err = Ints(structpb.NewListValue(v))
	assert.True(t, errors.IsValidation(err))
}

func TestResult(t *testing.T) {
	in := &engine.Result{
		Path:       "x.tns",
		Hash:       "abc123",
		Shape:      tensor.Shape{4, 5, 6},
		NNZ:        7,
		Resolution: 1,
		Base:       []float32{3, 4, 5, 6, 7},
		CSF:        []float32{1, 2},
		Flatten:    []int32{7, 7, 7},
		Map:        []int32{1, 1, 1},
	}

	got, err := ParseResult(wire(t, ResultStruct(in)))
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.Equal(t, in.Features(), got.Features())

	bad := ResultStruct(in)
	bad.Fields[FieldShape] = IntList([]int32{1, 2})
	_, err = ParseResult(bad)
	assert.True(t, errors.IsValidation(err))
}

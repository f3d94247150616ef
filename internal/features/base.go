package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/sptensor/tnsample/internal/tensor"
)

// BaseFeatures describes the shape and per-slice density of a tensor.
type BaseFeatures struct {
	Order          int                   `json:"order"`
	Shape          tensor.Shape          `json:"shape"`
	NNZ            int                   `json:"nnz"`
	Density        float64               `json:"density"`
	AvgSliceNNZ    [tensor.Order]float64 `json:"avg_slice_nnz"`
	MaxSliceNNZ    [tensor.Order]float64 `json:"max_slice_nnz"`
	StdSliceNNZ    [tensor.Order]float64 `json:"std_slice_nnz"`
	SliceOccupancy [tensor.Order]float64 `json:"slice_occupancy"`
	AspectRatio    float64               `json:"aspect_ratio"`
	Log10Volume    float64               `json:"log10_volume"`
}

// Vector returns the 20-value native layout:
//
//	0      order
//	1-3    dims
//	4      nnz
//	5      density
//	6-8    average nonzeros per mode-m slice
//	9-11   maximum nonzeros in a mode-m slice
//	12-14  population std. dev. of nonzeros per mode-m slice
//	15-17  fraction of nonempty mode-m slices
//	18     max(dim) / min(dim)
//	19     log10(volume)
func (b BaseFeatures) Vector() []float32 {
	v := make([]float64, 0, BaseLen)
	v = append(v, float64(b.Order))
	for _, d := range b.Shape {
		v = append(v, float64(d))
	}
	v = append(v, float64(b.NNZ), b.Density)
	v = append(v, b.AvgSliceNNZ[:]...)
	v = append(v, b.MaxSliceNNZ[:]...)
	v = append(v, b.StdSliceNNZ[:]...)
	v = append(v, b.SliceOccupancy[:]...)
	v = append(v, b.AspectRatio, b.Log10Volume)
	return toFloat32(v)
}

// Base computes the base feature group.
func Base(t *tensor.Sparse3D) (BaseFeatures, error) {
	if err := check(t); err != nil {
		return BaseFeatures{}, err
	}

	b := BaseFeatures{
		Order:   tensor.Order,
		Shape:   t.Shape,
		NNZ:     t.NNZ(),
		Density: t.Density(),
	}

	dims := make([]float64, tensor.Order)
	for m, d := range t.Shape {
		dims[m] = float64(d)
	}
	b.AspectRatio = floats.Max(dims) / floats.Min(dims)
	b.Log10Volume = math.Log10(t.Shape.Volume())

	if b.NNZ == 0 {
		return b, nil
	}

	idx := make([]int, len(t.Entries))
	for m := 0; m < tensor.Order; m++ {
		for i, e := range t.Entries {
			idx[i] = e.I[m]
		}
		slices.Sort(idx)

		counts := runLengths(idx)
		dim := float64(t.Shape[m])
		empty := dim - float64(len(counts))

		// Empty slices enter the moments as a single zero observation
		// weighted by how many there are.
		weights := make([]float64, len(counts)+1)
		for i := range counts {
			weights[i] = 1
		}
		weights[len(counts)] = empty
		_, std := popStd(append(counts, 0), weights)

		b.AvgSliceNNZ[m] = float64(b.NNZ) / dim
		b.MaxSliceNNZ[m] = floats.Max(counts)
		b.StdSliceNNZ[m] = std
		b.SliceOccupancy[m] = float64(len(counts)) / dim
	}

	return b, nil
}

// runLengths returns the length of each run of equal values in sorted.
func runLengths(sorted []int) []float64 {
	var out []float64
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		out = append(out, float64(j-i))
		i = j
	}
	return out
}

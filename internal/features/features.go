// Package features computes fixed-length structural descriptors of a sparse
// 3-D tensor.
//
// Two groups are produced. The base group (20 values) describes shape and
// per-slice density. The CSF group (22 values) describes the compressed
// sparse fiber tree rooted at each mode. Combine packs the consumed parts of
// both into the 37-value vector stored per tensor in a batch.
package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Vector lengths.
const (
	BaseLen    = 20
	CSFLen     = 22
	BaseOffset = 5
	CSFUsed    = 22
	Len        = CSFUsed + BaseLen - BaseOffset
)

// Combine returns csf[0:22] followed by base[5:20]. The order is fixed; stored
// batches depend on it.
func Combine(csf CSFFeatures, base BaseFeatures) [Len]float32 {
	return CombineVectors(csf.Vector(), base.Vector())
}

// CombineVectors is Combine over raw vectors. Short inputs leave trailing zeros.
func CombineVectors(csf, base []float32) [Len]float32 {
	var out [Len]float32
	copy(out[:CSFUsed], csf)
	if len(base) > BaseOffset {
		copy(out[CSFUsed:], base[BaseOffset:])
	}
	return out
}

// check rejects tensors that violate the loader's invariants.
func check(t *tensor.Sparse3D) error {
	if t == nil {
		return errors.ComputationError("nil tensor", nil)
	}
	if err := t.Shape.Validate(); err != nil {
		return errors.ComputationError("invalid shape", err)
	}
	for i, e := range t.Entries {
		if !t.InBounds(e) {
			return errors.ComputationError(
				fmt.Sprintf("entry %d at (%d, %d, %d) lies outside shape %v", i, e.I[0], e.I[1], e.I[2], t.Shape), nil)
		}
	}
	return nil
}

// popStd returns the weighted population standard deviation of x.
// Fewer than two observations have no spread.
func popStd(x, weights []float64) (mean, std float64) {
	total := float64(len(x))
	if weights != nil {
		total = 0
		for _, w := range weights {
			total += w
		}
	}
	if total == 0 {
		return 0, 0
	}
	if total < 2 {
		return stat.Mean(x, weights), 0
	}

	mean, variance := stat.PopMeanVariance(x, weights)
	if variance <= 0 || math.IsNaN(variance) {
		return mean, 0
	}
	return mean, math.Sqrt(variance)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

package features

import (
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/sptensor/tnsample/internal/tensor"
)

// csfPerRoot is the number of values emitted for each root mode.
const csfPerRoot = 7

// RootStats describes the CSF tree whose levels follow mode order
// (Root, Root+1, Root+2), all mod 3.
type RootStats struct {
	Root              int     `json:"root"`
	Slices            int     `json:"slices"`
	Fibers            int     `json:"fibers"`
	AvgFiberLen       float64 `json:"avg_fiber_len"`
	MaxFiberLen       float64 `json:"max_fiber_len"`
	StdFiberLen       float64 `json:"std_fiber_len"`
	AvgFibersPerSlice float64 `json:"avg_fibers_per_slice"`
	MaxFibersPerSlice float64 `json:"max_fibers_per_slice"`
}

// CSFFeatures holds one RootStats per mode plus the preferred root.
type CSFFeatures struct {
	Roots [tensor.Order]RootStats `json:"roots"`

	// BestRoot is the root mode with the fewest fibers, lowest mode on ties.
	BestRoot int `json:"best_root"`
}

// Vector returns the 22-value native layout: seven values per root mode
// (slices, fibers, avg/max/std fiber length, avg/max fibers per slice)
// followed by the best root.
func (c CSFFeatures) Vector() []float32 {
	v := make([]float64, 0, CSFLen)
	for _, r := range c.Roots {
		v = append(v,
			float64(r.Slices),
			float64(r.Fibers),
			r.AvgFiberLen,
			r.MaxFiberLen,
			r.StdFiberLen,
			r.AvgFibersPerSlice,
			r.MaxFibersPerSlice,
		)
	}
	v = append(v, float64(c.BestRoot))
	return toFloat32(v)
}

// CSF computes the compressed sparse fiber feature group.
func CSF(t *tensor.Sparse3D) (CSFFeatures, error) {
	if err := check(t); err != nil {
		return CSFFeatures{}, err
	}

	var c CSFFeatures
	for r := 0; r < tensor.Order; r++ {
		c.Roots[r] = rootStats(t, r)
	}
	if t.NNZ() == 0 {
		return c, nil
	}

	for r := 1; r < tensor.Order; r++ {
		if c.Roots[r].Fibers < c.Roots[c.BestRoot].Fibers {
			c.BestRoot = r
		}
	}
	return c, nil
}

func rootStats(t *tensor.Sparse3D, root int) RootStats {
	s := RootStats{Root: root}
	if t.NNZ() == 0 {
		return s
	}

	// check bounds every dimension by tensor.MaxDim, so coordinates fit in
	// 32 bits and (root, mid) packs into one sortable key.
	mid := (root + 1) % tensor.Order
	keys := make([]uint64, len(t.Entries))
	for i, e := range t.Entries {
		keys[i] = uint64(e.I[root])<<32 | uint64(e.I[mid])
	}
	slices.Sort(keys)

	var fiberLens, fibersPerSlice []float64
	for i := 0; i < len(keys); {
		j := i + 1
		for j < len(keys) && keys[j] == keys[i] {
			j++
		}
		if i == 0 || keys[i]>>32 != keys[i-1]>>32 {
			fibersPerSlice = append(fibersPerSlice, 0)
		}
		fibersPerSlice[len(fibersPerSlice)-1]++
		fiberLens = append(fiberLens, float64(j-i))
		i = j
	}

	s.Slices = len(fibersPerSlice)
	s.Fibers = len(fiberLens)
	s.AvgFiberLen, s.StdFiberLen = popStd(fiberLens, nil)
	s.MaxFiberLen = floats.Max(fiberLens)
	s.AvgFibersPerSlice = float64(s.Fibers) / float64(s.Slices)
	s.MaxFibersPerSlice = floats.Max(fibersPerSlice)
	return s
}

// Package raster projects a sparse 3-D tensor onto fixed-resolution 2-D
// images, one per mode.
//
// The mode-m image is indexed by the two remaining modes in ascending order:
// mode 0 by (1, 2), mode 1 by (0, 2) and mode 2 by (0, 1). Each index is
// rescaled into [0, resolution) with bin = min(idx*res/dim, res-1).
package raster

import (
	"fmt"
	"math"
	"slices"

	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Policy selects one of the two projection families.
type Policy int

const (
	// Flatten produces an occupancy or intensity map.
	Flatten Policy = iota
	// Map produces a structural mask.
	Map
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case Flatten:
		return "flatten"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Aggregation decides how the entries landing in one bin become a pixel.
type Aggregation int

const (
	// AggCount counts the entries in the bin.
	AggCount Aggregation = iota
	// AggSum sums the absolute entry values, rounded half away from zero.
	AggSum
	// AggPresence is 1 when any entry lands in the bin.
	AggPresence
	// AggMaxFiber is the largest number of entries sharing one exact
	// (row, col) coordinate pair in the bin, i.e. the longest mode-m fiber.
	AggMaxFiber
)

var aggNames = map[Aggregation]string{
	AggCount:    "count",
	AggSum:      "sum",
	AggPresence: "presence",
	AggMaxFiber: "max-fiber",
}

// String implements fmt.Stringer.
func (a Aggregation) String() string {
	if s, ok := aggNames[a]; ok {
		return s
	}
	return fmt.Sprintf("aggregation(%d)", int(a))
}

// ParseAggregation parses count, sum, presence or max-fiber.
func ParseAggregation(s string) (Aggregation, error) {
	for a, name := range aggNames {
		if name == s {
			return a, nil
		}
	}
	return AggCount, errors.ValidationError(
		fmt.Sprintf("unknown aggregation: %s (must be count, sum, presence or max-fiber)", s))
}

// Options selects the aggregation used by each policy.
type Options struct {
	FlattenAgg Aggregation
	MapAgg     Aggregation
}

// DefaultOptions counts entries for Flatten and marks presence for Map.
func DefaultOptions() Options {
	return Options{
		FlattenAgg: AggCount,
		MapAgg:     AggPresence,
	}
}

// For returns the aggregation configured for policy.
func (o Options) For(p Policy) Aggregation {
	if p == Map {
		return o.MapAgg
	}
	return o.FlattenAgg
}

// String renders the options for use in cache keys.
func (o Options) String() string {
	return "flatten=" + o.FlattenAgg.String() + ",map=" + o.MapAgg.String()
}

// Image is a row-major resolution x resolution grid.
type Image struct {
	Resolution int
	Pix        []int32
}

func newImage(res int) Image {
	return Image{Resolution: res, Pix: make([]int32, res*res)}
}

// At returns the pixel at (row, col).
func (im Image) At(row, col int) int32 {
	return im.Pix[row*im.Resolution+col]
}

// Axes returns the (row, col) modes of the mode-m image.
func Axes(m int) (row, col int) {
	switch m {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// Project rasterizes t into one image per mode using the aggregation opts
// assigns to policy.
func Project(t *tensor.Sparse3D, resolution int, policy Policy, opts Options) ([tensor.Order]Image, error) {
	var images [tensor.Order]Image

	if resolution <= 0 {
		return images, errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", resolution))
	}
	if t == nil {
		return images, errors.ComputationError("nil tensor", nil)
	}
	agg := opts.For(policy)
	if _, ok := aggNames[agg]; !ok {
		return images, errors.ValidationError(fmt.Sprintf("unknown aggregation for %s: %d", policy, int(agg)))
	}

	for m := 0; m < tensor.Order; m++ {
		im, err := project(t, resolution, m, agg)
		if err != nil {
			return images, err
		}
		images[m] = im
	}
	return images, nil
}

func project(t *tensor.Sparse3D, res, m int, agg Aggregation) (Image, error) {
	im := newImage(res)
	ra, ca := Axes(m)
	rdim, cdim := t.Shape[ra], t.Shape[ca]
	if rdim <= 0 || cdim <= 0 || len(t.Entries) == 0 {
		return im, nil
	}

	if rdim > tensor.MaxDim || cdim > tensor.MaxDim {
		return im, errors.ComputationError(
			fmt.Sprintf("shape %v exceeds the largest dimension %d", t.Shape, tensor.MaxDim), nil)
	}

	for i, e := range t.Entries {
		if e.I[ra] < 0 || e.I[ra] >= rdim || e.I[ca] < 0 || e.I[ca] >= cdim {
			return im, errors.ComputationError(
				fmt.Sprintf("entry %d at (%d, %d, %d) lies outside shape %v", i, e.I[0], e.I[1], e.I[2], t.Shape), nil)
		}
	}

	switch agg {
	case AggCount, AggPresence:
		counts := make([]int64, res*res)
		for _, e := range t.Entries {
			counts[bin(e.I[ra], rdim, res)*res+bin(e.I[ca], cdim, res)]++
		}
		for p, n := range counts {
			if agg == AggPresence && n > 0 {
				n = 1
			}
			im.Pix[p] = saturate(n)
		}

	case AggSum:
		sums := make([]float64, res*res)
		for _, e := range t.Entries {
			sums[bin(e.I[ra], rdim, res)*res+bin(e.I[ca], cdim, res)] += math.Abs(e.Value)
		}
		for p, s := range sums {
			im.Pix[p] = saturateFloat(math.Round(s))
		}

	case AggMaxFiber:
		// Dimensions are at most tensor.MaxDim, so each exact pair packs into one key.
		keys := make([]uint64, len(t.Entries))
		for i, e := range t.Entries {
			keys[i] = uint64(e.I[ra])<<32 | uint64(e.I[ca])
		}
		slices.Sort(keys)
		for i := 0; i < len(keys); {
			j := i + 1
			for j < len(keys) && keys[j] == keys[i] {
				j++
			}
			row, col := int(keys[i]>>32), int(keys[i]&math.MaxUint32)
			p := bin(row, rdim, res)*res + bin(col, cdim, res)
			if n := saturate(int64(j - i)); n > im.Pix[p] {
				im.Pix[p] = n
			}
			i = j
		}
	}

	return im, nil
}

// bin maps idx in [0, dim) to [0, res). The product is formed in int64.
func bin(idx, dim, res int) int {
	b := int64(idx) * int64(res) / int64(dim)
	if b > int64(res-1) {
		b = int64(res - 1)
	}
	return int(b)
}

func saturate(n int64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

func saturateFloat(f float64) int32 {
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	if f <= 0 || math.IsNaN(f) {
		return 0
	}
	return int32(f)
}

// Flat concatenates the images in [mode][row][col] order.
func Flat(images [tensor.Order]Image) []int32 {
	n := 0
	for _, im := range images {
		n += len(im.Pix)
	}
	out := make([]int32, 0, n)
	for _, im := range images {
		out = append(out, im.Pix...)
	}
	return out
}

// Unflat splits a [mode][row][col] buffer back into images.
func Unflat(pix []int32, resolution int) ([tensor.Order]Image, error) {
	var images [tensor.Order]Image
	size := resolution * resolution
	if resolution <= 0 || len(pix) != tensor.Order*size {
		return images, errors.ValidationError(
			fmt.Sprintf("buffer of %d pixels does not hold %d images at resolution %d", len(pix), tensor.Order, resolution))
	}
	for m := range images {
		images[m] = Image{Resolution: resolution, Pix: pix[m*size : (m+1)*size : (m+1)*size]}
	}
	return images, nil
}

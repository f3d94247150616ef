package sample

import (
	"fmt"
	"time"

	"github.com/sptensor/tnsample/internal/features"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/raster"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Batch is the stacked output of a run. Row i comes from list line
// Indices[i]; Indices is strictly ascending.
type Batch struct {
	RunID      string
	Resolution int
	Indices    []int
	Paths      []string
	Hashes     []string
	Shapes     []tensor.Shape
	NNZ        []int
	Features   [][features.Len]float32

	// Flatten and Map hold Len()*3*Resolution*Resolution pixels in
	// [row][mode][y][x] order.
	Flatten []int32
	Map     []int32

	Failures []Failure
	Total    int
	Duration time.Duration
}

// Failure records a tensor dropped from the batch.
type Failure struct {
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.Indices)
}

// ImageSize returns the pixels per row and policy.
func (b *Batch) ImageSize() int {
	return tensor.Order * b.Resolution * b.Resolution
}

// Images returns the three images of one row for the given policy.
func (b *Batch) Images(row int, policy raster.Policy) ([tensor.Order]raster.Image, error) {
	if row < 0 || row >= b.Len() {
		return [tensor.Order]raster.Image{}, errors.ValidationError(
			fmt.Sprintf("row %d out of range [0, %d)", row, b.Len()))
	}
	pix := b.Flatten
	if policy == raster.Map {
		pix = b.Map
	}
	n := b.ImageSize()
	return raster.Unflat(pix[row*n:(row+1)*n], b.Resolution)
}

// Package tensor holds the in-memory sparse 3-D tensor and its text format.
//
// A tensor file is a header line "dim0 dim1 dim2 [nnz]" followed by one
// "i0 i1 i2 value" line per nonzero. Lines starting with '#' or '%' and blank
// lines are ignored. Indices are 1-based by default (FROSTT .tns convention).
//
// Only nonzeros are stored: explicit zero values, and repeated coordinates
// whose values sum to zero, are dropped once the tensor is built.
package tensor

import (
	"fmt"
	"math"
	"slices"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// Order is the number of modes of every tensor handled here.
const Order = 3

// MaxDim is the largest dimension accepted. Every 0-based coordinate then
// fits in 32 bits, which the feature and raster code rely on when packing a
// coordinate pair into one sort key.
const MaxDim = math.MaxInt32 + 1

// Shape is (dim0, dim1, dim2).
type Shape [Order]int

// Volume returns dim0*dim1*dim2 as a float64, which cannot overflow for any
// realistic shape.
func (s Shape) Volume() float64 {
	return float64(s[0]) * float64(s[1]) * float64(s[2])
}

// Validate checks that every dimension is in [1, MaxDim].
func (s Shape) Validate() error {
	for m, d := range s {
		if d <= 0 || d > MaxDim {
			return fmt.Errorf("invalid dimension for mode %d: %d (must be in [1, %d])", m, d, MaxDim)
		}
	}
	return nil
}

// Entry is one nonzero with 0-based coordinates.
type Entry struct {
	I     [Order]int
	Value float64
}

// Sparse3D is a sparse 3-D tensor in coordinate form. It is read-only once
// constructed by Load, Parse or New; every coordinate lies inside Shape and no
// coordinate appears twice.
type Sparse3D struct {
	Shape   Shape
	Entries []Entry
}

// NNZ returns the number of stored nonzeros.
func (t *Sparse3D) NNZ() int {
	return len(t.Entries)
}

// Density returns nnz / (dim0*dim1*dim2), or 0 for an empty tensor.
func (t *Sparse3D) Density() float64 {
	if len(t.Entries) == 0 {
		return 0
	}
	vol := t.Shape.Volume()
	if vol == 0 {
		return 0
	}
	return float64(len(t.Entries)) / vol
}

// InBounds reports whether every coordinate of e lies inside the shape.
func (t *Sparse3D) InBounds(e Entry) bool {
	for m := 0; m < Order; m++ {
		if e.I[m] < 0 || e.I[m] >= t.Shape[m] {
			return false
		}
	}
	return true
}

// DuplicatePolicy decides what happens when a coordinate appears twice.
type DuplicatePolicy int

const (
	// DuplicatesSum adds the values of repeated coordinates into the first
	// occurrence. A sum of exactly zero removes the entry.
	DuplicatesSum DuplicatePolicy = iota
	// DuplicatesReject treats a repeated coordinate as a format error.
	DuplicatesReject
)

// String implements fmt.Stringer.
func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicatesReject:
		return "reject"
	default:
		return "sum"
	}
}

// ParseDuplicatePolicy parses "sum" or "reject".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "sum", "":
		return DuplicatesSum, nil
	case "reject":
		return DuplicatesReject, nil
	default:
		return DuplicatesSum, errors.ValidationError(fmt.Sprintf("unknown duplicate policy: %s (must be sum or reject)", s))
	}
}

// LoadOptions controls parsing and construction.
type LoadOptions struct {
	// IndexBase is the smallest legal index in the file, 1 or 0.
	IndexBase int

	// Duplicates decides how repeated coordinates are handled.
	Duplicates DuplicatePolicy
}

// DefaultLoadOptions returns FROSTT-compatible options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		IndexBase:  1,
		Duplicates: DuplicatesSum,
	}
}

// Validate checks the options.
func (o LoadOptions) Validate() error {
	if o.IndexBase != 0 && o.IndexBase != 1 {
		return errors.ValidationError(fmt.Sprintf("index base must be 0 or 1, got %d", o.IndexBase))
	}
	return nil
}

// New builds a tensor from 0-based entries with the same checks the parser applies.
// The entries slice is copied.
func New(shape Shape, entries []Entry, opts LoadOptions) (*Sparse3D, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.FormatError("", 0, err.Error())
	}

	b := newBuilder(shape, opts.Duplicates, len(entries))
	for i, e := range entries {
		if err := b.add(e); err != nil {
			return nil, errors.FormatError("", 0, fmt.Sprintf("entry %d: %s", i, err))
		}
	}
	return b.build(), nil
}

// builder accumulates validated entries and merges duplicates.
type builder struct {
	t      *Sparse3D
	policy DuplicatePolicy
	seen   map[[Order]int]int
}

func newBuilder(shape Shape, policy DuplicatePolicy, capacity int) *builder {
	return &builder{
		t:      &Sparse3D{Shape: shape, Entries: make([]Entry, 0, capacity)},
		policy: policy,
		seen:   make(map[[Order]int]int, capacity),
	}
}

func (b *builder) add(e Entry) error {
	if !b.t.InBounds(e) {
		return fmt.Errorf("coordinate (%d, %d, %d) out of bounds for shape (%d, %d, %d)",
			e.I[0], e.I[1], e.I[2], b.t.Shape[0], b.t.Shape[1], b.t.Shape[2])
	}

	if pos, dup := b.seen[e.I]; dup {
		if b.policy == DuplicatesReject {
			return fmt.Errorf("duplicate coordinate (%d, %d, %d)", e.I[0], e.I[1], e.I[2])
		}
		b.t.Entries[pos].Value += e.Value
		return nil
	}

	b.seen[e.I] = len(b.t.Entries)
	b.t.Entries = append(b.t.Entries, e)
	return nil
}

// build drops zero-valued entries, keeping the order of the rest.
func (b *builder) build() *Sparse3D {
	b.t.Entries = slices.DeleteFunc(b.t.Entries, func(e Entry) bool { return e.Value == 0 })
	return b.t
}

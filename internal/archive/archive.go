// Package archive packages a batch into a numpy .npz file.
//
// Arrays:
//
//	map_imgs      int64   (batch, 3, res, res)
//	flatten_imgs  int64   (batch, 3, res, res)
//	features      float32 (batch, 37)
//	indices       int64   (batch)  list line of each row
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocnn/gonpy"

	"github.com/sptensor/tnsample/internal/features"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/sample"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Array names inside the archive.
const (
	KeyMap      = "map_imgs"
	KeyFlatten  = "flatten_imgs"
	KeyFeatures = "features"
	KeyIndices  = "indices"
)

// Archive is the decoded content of an npz file.
type Archive struct {
	Resolution int
	Indices    []int
	Features   [][features.Len]float32
	Flatten    []int32
	Map        []int32
}

// Len returns the number of rows.
func (a *Archive) Len() int {
	return len(a.Indices)
}

// WriteNPZ writes b to path. The file is written next to path and renamed
// into place, so a failed write never leaves a truncated archive.
func WriteNPZ(path string, b *sample.Batch) error {
	tensors, err := encode(b)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.IOError(path, err)
		}
	}

	tmp := path + ".tmp.npz"
	if err := gonpy.WriteNPZ(tmp, tensors); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.CodeIO, fmt.Sprintf("writing %s", path), err).WithDetail("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.IOError(path, err)
	}
	return nil
}

func encode(b *sample.Batch) (map[string]*gonpy.Tensor, error) {
	if b == nil {
		return nil, errors.ValidationError("nil batch")
	}
	if b.Resolution <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", b.Resolution))
	}

	n, res := b.Len(), b.Resolution
	size := n * tensor.Order * res * res
	if len(b.Flatten) != size || len(b.Map) != size || len(b.Features) != n {
		return nil, errors.ValidationError(fmt.Sprintf(
			"inconsistent batch: %d rows, %d flatten pixels, %d map pixels, %d feature rows (want %d pixels)",
			n, len(b.Flatten), len(b.Map), len(b.Features), size))
	}

	feats := make([]float32, 0, n*features.Len)
	for _, row := range b.Features {
		feats = append(feats, row[:]...)
	}
	indices := make([]int64, n)
	for i, idx := range b.Indices {
		indices[i] = int64(idx)
	}

	return map[string]*gonpy.Tensor{
		KeyMap: {
			Data:   widen(b.Map),
			Shape:  gonpy.Shape{n, tensor.Order, res, res},
			DType:  gonpy.DTypeI64,
			Device: "cpu",
		},
		KeyFlatten: {
			Data:   widen(b.Flatten),
			Shape:  gonpy.Shape{n, tensor.Order, res, res},
			DType:  gonpy.DTypeI64,
			Device: "cpu",
		},
		KeyFeatures: {
			Data:   feats,
			Shape:  gonpy.Shape{n, features.Len},
			DType:  gonpy.DTypeF32,
			Device: "cpu",
		},
		KeyIndices: {
			Data:   indices,
			Shape:  gonpy.Shape{n},
			DType:  gonpy.DTypeI64,
			Device: "cpu",
		},
	}, nil
}

func widen(pix []int32) []int64 {
	out := make([]int64, len(pix))
	for i, v := range pix {
		out[i] = int64(v)
	}
	return out
}

// ReadNPZ reads an archive written by WriteNPZ.
func ReadNPZ(path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("archive " + path).WithDetail("path", path)
		}
		return nil, errors.IOError(path, err)
	}

	npz, err := gonpy.NewNpzTensors(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeFormat, fmt.Sprintf("reading %s", path), err).WithDetail("path", path)
	}
	present := make(map[string]bool)
	for _, name := range npz.Names() {
		present[name] = true
	}
	keys := []string{KeyMap, KeyFlatten, KeyFeatures, KeyIndices}
	for _, key := range keys {
		if !present[key] {
			return nil, errors.FormatError(path, 0, fmt.Sprintf("archive has no %s array", key))
		}
	}

	arrays, err := gonpy.ReadNPZByName(path, keys)
	if err != nil {
		return nil, errors.Wrap(errors.CodeFormat, fmt.Sprintf("reading %s", path), err).WithDetail("path", path)
	}
	byName := make(map[string]*gonpy.Tensor, len(keys))
	for i, key := range keys {
		byName[key] = arrays[i]
	}
	return decode(path, byName)
}

func decode(path string, byName map[string]*gonpy.Tensor) (*Archive, error) {
	indices, err := ints(byName[KeyIndices])
	if err != nil {
		return nil, errors.FormatError(path, 0, fmt.Sprintf("%s: %v", KeyIndices, err))
	}
	n := len(indices)

	imgShape := dims(byName[KeyFlatten].Shape)
	res := 0
	if len(imgShape) == 4 {
		res = imgShape[2]
	}
	if len(imgShape) != 4 || imgShape[0] != n || imgShape[1] != tensor.Order || imgShape[3] != res {
		return nil, errors.FormatError(path, 0, fmt.Sprintf("%s has shape %v", KeyFlatten, imgShape))
	}

	a := &Archive{Resolution: res, Indices: make([]int, n)}
	for i, v := range indices {
		a.Indices[i] = int(v)
	}

	if a.Flatten, err = pixels(byName[KeyFlatten]); err != nil {
		return nil, errors.FormatError(path, 0, fmt.Sprintf("%s: %v", KeyFlatten, err))
	}
	if a.Map, err = pixels(byName[KeyMap]); err != nil {
		return nil, errors.FormatError(path, 0, fmt.Sprintf("%s: %v", KeyMap, err))
	}
	if len(a.Map) != len(a.Flatten) {
		return nil, errors.FormatError(path, 0, "image arrays differ in size")
	}

	feats, ok := byName[KeyFeatures].Data.([]float32)
	if !ok || len(feats) != n*features.Len {
		return nil, errors.FormatError(path, 0, fmt.Sprintf("%s must be %d float32 values", KeyFeatures, n*features.Len))
	}
	a.Features = make([][features.Len]float32, n)
	for i := range a.Features {
		copy(a.Features[i][:], feats[i*features.Len:])
	}

	return a, nil
}

func dims(shape gonpy.Shape) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}

func ints(t *gonpy.Tensor) ([]int64, error) {
	switch d := t.Data.(type) {
	case []int64:
		return d, nil
	case []int32:
		out := make([]int64, len(d))
		for i, v := range d {
			out[i] = int64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported element type %T", t.Data)
}

func pixels(t *gonpy.Tensor) ([]int32, error) {
	switch d := t.Data.(type) {
	case []int32:
		return d, nil
	case []int64:
		out := make([]int32, len(d))
		for i, v := range d {
			out[i] = int32(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported element type %T", t.Data)
}

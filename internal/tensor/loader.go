package tensor

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// ctxCheckInterval is how many lines are parsed between context checks.
const ctxCheckInterval = 4096

// maxLineSize bounds a single line of a tensor file.
const maxLineSize = 1 << 20

// Load reads a tensor file from disk.
func Load(path string, opts LoadOptions) (*Sparse3D, error) {
	return LoadContext(context.Background(), path, opts)
}

// LoadContext reads a tensor file from disk, giving up when ctx is done.
// Open and read failures are IO errors; malformed content is a format error.
func LoadContext(ctx context.Context, path string, opts LoadOptions) (*Sparse3D, error) {
	t, _, err := LoadContextHash(ctx, path, opts)
	return t, err
}

// LoadContextHash is LoadContext that also returns the hex SHA-256 of the
// bytes it read. The file is read once, so the hash always describes the
// content the tensor was parsed from.
func LoadContextHash(ctx context.Context, path string, opts LoadOptions) (*Sparse3D, string, error) {
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.IOError(path, err)
	}
	defer f.Close()

	h := sha256.New()
	r := io.TeeReader(f, h)
	t, err := parse(ctx, r, path, opts)
	if err != nil {
		return nil, "", err
	}
	// Drain so the hash always covers the whole file.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, "", errors.IOError(path, err)
	}
	return t, hex.EncodeToString(h.Sum(nil)), nil
}

// Parse reads a tensor in text form from r.
func Parse(r io.Reader, opts LoadOptions) (*Sparse3D, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return parse(context.Background(), r, "", opts)
}

func parse(ctx context.Context, r io.Reader, path string, opts LoadOptions) (*Sparse3D, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		b        *builder
		declared = -1
		records  int
		lineNo   int
	)

	for scanner.Scan() {
		lineNo++
		if lineNo%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		fields, ok := recordFields(scanner.Text())
		if !ok {
			continue
		}

		if b == nil {
			shape, nnz, err := parseHeader(fields)
			if err != nil {
				return nil, errors.FormatError(path, lineNo, err.Error())
			}
			declared = nnz
			capacity := 0
			if nnz > 0 {
				capacity = nnz
			}
			b = newBuilder(shape, opts.Duplicates, capacity)
			continue
		}

		e, err := parseEntry(fields, opts.IndexBase)
		if err != nil {
			return nil, errors.FormatError(path, lineNo, err.Error())
		}
		if err := b.add(e); err != nil {
			return nil, errors.FormatError(path, lineNo, err.Error())
		}
		records++
	}

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, errors.FormatError(path, lineNo+1, "line too long")
		}
		return nil, errors.IOError(path, err)
	}

	if b == nil {
		return nil, errors.FormatError(path, 0, "missing dimension header")
	}
	if declared >= 0 && declared != records {
		return nil, errors.FormatError(path, 0,
			fmt.Sprintf("header declares %d nonzeros, found %d", declared, records))
	}

	return b.build(), nil
}

// recordFields splits a line into fields, reporting false for comments and blanks.
func recordFields(line string) ([]string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '%' {
		return nil, false
	}
	return strings.Fields(trimmed), true
}

// parseHeader parses "dim0 dim1 dim2 [nnz]". nnz is -1 when absent.
func parseHeader(fields []string) (Shape, int, error) {
	var shape Shape
	if len(fields) != Order && len(fields) != Order+1 {
		return shape, -1, fmt.Errorf("header must have %d or %d fields, got %d", Order, Order+1, len(fields))
	}

	for m := 0; m < Order; m++ {
		d, err := strconv.Atoi(fields[m])
		if err != nil {
			return shape, -1, fmt.Errorf("dimension %d is not an integer: %q", m, fields[m])
		}
		if d <= 0 {
			return shape, -1, fmt.Errorf("dimension %d must be positive, got %d", m, d)
		}
		shape[m] = d
	}
	if err := shape.Validate(); err != nil {
		return shape, -1, err
	}

	nnz := -1
	if len(fields) == Order+1 {
		n, err := strconv.Atoi(fields[Order])
		if err != nil || n < 0 {
			return shape, -1, fmt.Errorf("nonzero count is not a non-negative integer: %q", fields[Order])
		}
		nnz = n
	}

	return shape, nnz, nil
}

// parseEntry parses "i0 i1 i2 value" and rebases the indices to 0.
func parseEntry(fields []string, base int) (Entry, error) {
	var e Entry
	if len(fields) != Order+1 {
		return e, fmt.Errorf("entry must have %d fields, got %d", Order+1, len(fields))
	}

	for m := 0; m < Order; m++ {
		idx, err := strconv.ParseInt(fields[m], 10, 64)
		if err != nil {
			return e, fmt.Errorf("index %d is not an integer: %q", m, fields[m])
		}
		if idx < int64(base) || idx-int64(base) > math.MaxInt32 {
			return e, fmt.Errorf("index %d out of range: %d", m, idx)
		}
		e.I[m] = int(idx - int64(base))
	}

	v, err := strconv.ParseFloat(fields[Order], 64)
	if err != nil {
		return e, fmt.Errorf("value is not a number: %q", fields[Order])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return e, fmt.Errorf("value must be finite, got %s", fields[Order])
	}
	e.Value = v

	return e, nil
}

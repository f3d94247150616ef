package tensor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/hash"
)

func TestLoad_SmallFile(t *testing.T) {
	tns, err := Load(filepath.Join("testdata", "small.tns"), DefaultLoadOptions())
	require.NoError(t, err)

	assert.Equal(t, Shape{4, 3, 2}, tns.Shape)
	assert.Equal(t, 5, tns.NNZ())
	assert.Equal(t, Entry{I: [3]int{0, 0, 0}, Value: 1}, tns.Entries[0])
	assert.Equal(t, Entry{I: [3]int{3, 2, 1}, Value: 7}, tns.Entries[4])
	assert.InDelta(t, 5.0/24.0, tns.Density(), 1e-12)
}

func TestParse_ZeroBased(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.IndexBase = 0

	tns, err := Parse(strings.NewReader("2 2 2\n0 0 0 1.0\n1 1 1 2\n"), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, tns.NNZ())
	assert.Equal(t, [3]int{1, 1, 1}, tns.Entries[1].I)
}

func TestParse_CommentsAndBlankLines(t *testing.T) {
	src := "% matrix-market style comment\n\n# another\n2 2 2\n\n1 1 1 4\n  # indented comment\n2 2 2 5\n"

	tns, err := Parse(strings.NewReader(src), DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, tns.NNZ())
}

func TestParse_FormatErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty input", ""},
		{"only comments", "# nothing\n"},
		{"header too short", "2 2\n"},
		{"header too long", "2 2 2 1 9\n"},
		{"non-integer dimension", "2 x 2\n"},
		{"zero dimension", "2 0 2\n"},
		{"negative dimension", "2 -1 2\n"},
		{"bad nnz", "2 2 2 -4\n"},
		{"entry with three fields", "2 2 2\n1 1 1\n"},
		{"entry with five fields", "2 2 2\n1 1 1 1 1\n"},
		{"non-integer index", "2 2 2\n1 a 1 1\n"},
		{"non-numeric value", "2 2 2\n1 1 1 abc\n"},
		{"infinite value", "2 2 2\n1 1 1 Inf\n"},
		{"index below base", "2 2 2\n0 1 1 1\n"},
		{"index above dimension", "2 2 2\n1 3 1 1\n"},
		{"nnz mismatch", "2 2 2 3\n1 1 1 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src), DefaultLoadOptions())
			require.Error(t, err)
			assert.True(t, errors.IsFormat(err), "want FORMAT_ERROR, got %v", err)
		})
	}
}

func TestParse_ErrorCarriesLine(t *testing.T) {
	_, err := Parse(strings.NewReader("# c\n2 2 2\n1 1 1 1\n1 1 9 1\n"), DefaultLoadOptions())
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "4", appErr.Details["line"])
}

func TestParse_Duplicates(t *testing.T) {
	src := "2 2 2\n1 1 1 1.5\n2 2 2 1\n1 1 1 2\n"

	t.Run("sum", func(t *testing.T) {
		tns, err := Parse(strings.NewReader(src), DefaultLoadOptions())
		require.NoError(t, err)
		require.Equal(t, 2, tns.NNZ())
		assert.Equal(t, 3.5, tns.Entries[0].Value)
		assert.Equal(t, [3]int{1, 1, 1}, tns.Entries[1].I)
	})

	t.Run("reject", func(t *testing.T) {
		opts := DefaultLoadOptions()
		opts.Duplicates = DuplicatesReject
		_, err := Parse(strings.NewReader(src), opts)
		require.Error(t, err)
		assert.True(t, errors.IsFormat(err))
	})

	t.Run("declared nnz counts raw lines", func(t *testing.T) {
		_, err := Parse(strings.NewReader("2 2 2 3\n1 1 1 1.5\n2 2 2 1\n1 1 1 2\n"), DefaultLoadOptions())
		require.NoError(t, err)
	})
}

func TestParse_ZeroValuesAreDropped(t *testing.T) {
	t.Run("cancelling duplicates", func(t *testing.T) {
		tns, err := Parse(strings.NewReader("2 2 2\n1 1 1 1.5\n2 2 2 4\n1 1 1 -1.5\n"), DefaultLoadOptions())
		require.NoError(t, err)
		assert.Equal(t, []Entry{{I: [3]int{1, 1, 1}, Value: 4}}, tns.Entries)
	})

	t.Run("explicit zero", func(t *testing.T) {
		tns, err := Parse(strings.NewReader("2 2 2 2\n1 1 1 0\n2 1 1 -0.0\n"), DefaultLoadOptions())
		require.NoError(t, err)
		assert.Equal(t, 0, tns.NNZ())
		assert.Equal(t, 0.0, tns.Density())
	})

	t.Run("zero sum later refilled", func(t *testing.T) {
		tns, err := New(Shape{1, 1, 1}, []Entry{
			{I: [3]int{0, 0, 0}, Value: 1},
			{I: [3]int{0, 0, 0}, Value: -1},
			{I: [3]int{0, 0, 0}, Value: 2},
		}, DefaultLoadOptions())
		require.NoError(t, err)
		assert.Equal(t, []Entry{{I: [3]int{0, 0, 0}, Value: 2}}, tns.Entries)
	})
}

func TestShape_WideDimensions(t *testing.T) {
	// A second coordinate at 2^32 would alias the first in a packed
	// (row, col) key, merging distinct fibers.
	_, err := New(Shape{2, 1 << 33, 1}, []Entry{
		{I: [3]int{0, 1 << 32, 0}, Value: 1},
		{I: [3]int{1, 0, 0}, Value: 1},
	}, DefaultLoadOptions())
	require.Error(t, err)
	assert.True(t, errors.IsFormat(err))

	_, err = Parse(strings.NewReader("2 4294967296 1\n1 1 1 1\n"), DefaultLoadOptions())
	require.Error(t, err)
	assert.True(t, errors.IsFormat(err))

	tns, err := New(Shape{1, MaxDim, 1}, []Entry{{I: [3]int{0, MaxDim - 1, 0}, Value: 1}}, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, tns.NNZ())

	assert.Error(t, Shape{1, MaxDim + 1, 1}.Validate())
}

func TestParse_EmptyTensor(t *testing.T) {
	tns, err := Parse(strings.NewReader("5 6 7 0\n"), DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, tns.NNZ())
	assert.Equal(t, 0.0, tns.Density())
}

func TestLoadContextHash(t *testing.T) {
	body := "2 2 2\n1 1 1 3\n# trailing comment\n\n"
	path := filepath.Join(t.TempDir(), "t.tns")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	tns, sum, err := LoadContextHash(context.Background(), path, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, tns.NNZ())
	assert.Equal(t, hash.SHA256([]byte(body)), sum)

	_, _, err = LoadContextHash(context.Background(), filepath.Join(t.TempDir(), "nope.tns"), DefaultLoadOptions())
	assert.Equal(t, errors.CodeIO, errors.Code(err))
}

func TestLoad_MissingFileIsIOError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.tns"), DefaultLoadOptions())
	require.Error(t, err)
	assert.Equal(t, errors.CodeIO, errors.Code(err))
}

func TestLoad_InvalidOptions(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.IndexBase = 2
	_, err := Load(filepath.Join("testdata", "small.tns"), opts)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestLoadContext_Cancelled(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("10 10 10\n")
	for i := 0; i < ctxCheckInterval*2; i++ {
		sb.WriteString("1 1 1 1\n")
	}
	path := filepath.Join(t.TempDir(), "big.tns")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadContext(ctx, path, DefaultLoadOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	tns, err := New(Shape{2, 2, 2}, []Entry{{I: [3]int{0, 0, 0}, Value: 1}}, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, tns.NNZ())

	_, err = New(Shape{2, 2, 0}, nil, DefaultLoadOptions())
	assert.True(t, errors.IsFormat(err))

	_, err = New(Shape{2, 2, 2}, []Entry{{I: [3]int{0, 2, 0}, Value: 1}}, DefaultLoadOptions())
	assert.True(t, errors.IsFormat(err))
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, DuplicatesReject, p)
	assert.Equal(t, "reject", p.String())

	p, err = ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DuplicatesSum, p)

	_, err = ParseDuplicatePolicy("max")
	assert.True(t, errors.IsValidation(err))
}

func TestWrite_RoundTrip(t *testing.T) {
	for _, base := range []int{0, 1} {
		orig, err := Load(filepath.Join("testdata", "small.tns"), DefaultLoadOptions())
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, orig, base))

		opts := DefaultLoadOptions()
		opts.IndexBase = base
		back, err := Parse(&buf, opts)
		require.NoError(t, err)

		assert.Equal(t, orig.Shape, back.Shape)
		assert.Equal(t, sortedEntries(orig), sortedEntries(back))
	}
}

func TestSave_RoundTripExactValues(t *testing.T) {
	orig, err := New(Shape{3, 3, 3}, []Entry{
		{I: [3]int{0, 1, 2}, Value: 0.1},
		{I: [3]int{2, 2, 2}, Value: 1.0 / 3.0},
		{I: [3]int{1, 0, 0}, Value: -1e-300},
	}, DefaultLoadOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.tns")
	require.NoError(t, Save(path, orig, 1))

	back, err := Load(path, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, sortedEntries(orig), sortedEntries(back))
}

func sortedEntries(t *Sparse3D) []Entry {
	out := append([]Entry(nil), t.Entries...)
	sort.Slice(out, func(a, b int) bool {
		for m := 0; m < Order; m++ {
			if out[a].I[m] != out[b].I[m] {
				return out[a].I[m] < out[b].I[m]
			}
		}
		return false
	})
	return out
}

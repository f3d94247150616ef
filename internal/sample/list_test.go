package sample

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensors.list")
	content := "nell-2 data/nell-2.tns\n\n   \ndata/plain.tns\n\tlabel  x  /abs/path.tns  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	paths, err := ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"data/nell-2.tns", "data/plain.tns", "/abs/path.tns"}, paths)
}

func TestReadList_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.list")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0644))

	paths, err := ReadList(path)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestReadList_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.list")

	_, err := ReadList(path)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "missing.list")
}

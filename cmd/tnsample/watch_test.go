package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sptensor/tnsample/internal/archive"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/sample"
	"github.com/sptensor/tnsample/internal/watch"
)

func TestArchiveName(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "batch-20260304T050607-0123abcd.npz", archiveName(at, "0123abcd-4567-89ef"))
	assert.Equal(t, "batch-20260304T050607-ab.npz", archiveName(at, "ab"))
}

func TestArchiveHandler(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	dir, _ := workspace(t)
	outDir := filepath.Join(dir, "archives")

	driver := sample.NewDriver(engine.New(engine.DefaultConfig(), nil, nil), sample.DefaultOptions(), nil)
	batch, err := driver.Run(context.Background(), sample.Request{
		Paths:      []string{filepath.Join(dir, "a.tns"), filepath.Join(dir, "missing.tns")},
		Resolution: 4,
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())

	state := &watch.WatcherState{PID: os.Getpid(), Path: dir, Resolution: 4, OutDir: outDir}
	handle := archiveHandler(outDir, state, logger.Discard())
	require.NoError(t, handle(context.Background(), batch))

	assert.Equal(t, 1, state.TensorCount)
	assert.Equal(t, 1, state.Batches)
	require.NotEmpty(t, state.LastArchive)

	a, err := archive.ReadNPZ(state.LastArchive)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 4, a.Resolution)

	saved, err := watch.LoadState(state.PID)
	require.NoError(t, err)
	assert.Equal(t, state.LastArchive, saved.LastArchive)

	// An all-failed batch writes no archive but still counts.
	empty := &sample.Batch{Resolution: 4, Failures: []sample.Failure{{Path: "x.tns", Code: "IO_ERROR"}}}
	require.NoError(t, handle(context.Background(), empty))
	assert.Equal(t, 2, state.Batches)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWatch_Status(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	code, stdout, _ := runCLI(t, "watch", "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "No watchers running")

	require.NoError(t, watch.SaveState(&watch.WatcherState{PID: os.Getpid(), Path: "/data/in", Resolution: 16}))

	code, stdout, _ = runCLI(t, "watch", "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "/data/in")
	assert.Contains(t, stdout, "res=16")

	code, stdout, _ = runCLI(t, "watch", "status", "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"resolution": 16`)
}

func TestWatch_StopErrors(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	code, _, stderr := runCLI(t, "watch", "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "VALIDATION_ERROR")

	code, _, stderr = runCLI(t, "watch", "stop", "abc")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid pid")

	code, _, stderr = runCLI(t, "watch", "stop", "999999")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NOT_FOUND")

	code, stdout, _ := runCLI(t, "watch", "stop", "--all")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Stopped 0 watcher(s)")
}

func TestWatch_BadArgs(t *testing.T) {
	code, _, stderr := runCLI(t, "watch", t.TempDir(), "0", t.TempDir())
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "resolution")

	code, _, stderr = runCLI(t, "watch", filepath.Join(t.TempDir(), "missing"), "4", t.TempDir())
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NOT_FOUND")
}

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sptensor/tnsample/internal/bus"
)

func writeEventLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := bus.NewEventLogger(path, true)
	require.NoError(t, err)
	require.NoError(t, l.Log(bus.TopicTensorCompleted, bus.NewEvent(bus.TopicTensorCompleted, "test", "r", nil)))
	require.NoError(t, l.Log(bus.TopicTensorFailed, bus.NewEvent(bus.TopicTensorFailed, "test", "r", nil)))
	require.NoError(t, l.Close())
	return path
}

func TestReplay(t *testing.T) {
	path := writeEventLog(t)

	code, stdout, stderr := runCLI(t, "replay", path, "--bus", "memory")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "replayed 2 events")

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	code, stdout, stderr = runCLI(t, "replay", path, "--since", future)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "replayed 0 events")

	// Replaying does not append to the log it reads.
	events, err := bus.ReadEventLog(path, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReplay_Errors(t *testing.T) {
	code, _, stderr := runCLI(t, "replay", filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "NOT_FOUND")

	path := writeEventLog(t)
	code, _, stderr = runCLI(t, "replay", path, "--since", "yesterday")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "VALIDATION_ERROR")

	code, _, stderr = runCLI(t, "replay", path, "--bus", "carrier-pigeon")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "VALIDATION_ERROR")
}

package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// WatcherState describes a running watcher. It is rewritten after every
// batch so `tnsample watch status` can report progress.
type WatcherState struct {
	PID         int       `json:"pid"`
	Path        string    `json:"path"`
	Resolution  int       `json:"resolution"`
	OutDir      string    `json:"out_dir"`
	StartedAt   time.Time `json:"started_at"`
	TensorCount int       `json:"tensor_count"`
	Batches     int       `json:"batches"`
	LastArchive string    `json:"last_archive,omitempty"`
	LastSync    time.Time `json:"last_sync"`
}

// StateDir returns the directory for watcher state files.
func StateDir() string {
	// XDG_STATE_HOME or ~/.local/state
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "tnsample", "watchers")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "tnsample", "watchers")
}

// StatePath returns the state file of the watcher with the given pid.
func StatePath(pid int) string {
	return filepath.Join(StateDir(), fmt.Sprintf("%d.json", pid))
}

// SaveState writes state to disk.
func SaveState(state *WatcherState) error {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(errors.CodeIO, "cannot create state directory", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(StatePath(state.PID), data, 0644); err != nil {
		return errors.Wrap(errors.CodeIO, "cannot write watcher state", err)
	}
	return nil
}

// LoadState reads the state of the watcher with the given pid.
func LoadState(pid int) (*WatcherState, error) {
	data, err := os.ReadFile(StatePath(pid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(fmt.Sprintf("watcher %d", pid))
		}
		return nil, errors.Wrap(errors.CodeIO, "cannot read watcher state", err)
	}

	var state WatcherState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(errors.CodeFormat, "corrupt watcher state", err)
	}

	return &state, nil
}

// ListStates returns the states of all live watchers ordered by pid.
// State files left behind by dead processes are removed.
func ListStates() ([]*WatcherState, error) {
	dir := StateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var states []*WatcherState
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		var state WatcherState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}

		if !isProcessRunning(state.PID) {
			os.Remove(filepath.Join(dir, entry.Name()))
			continue
		}

		states = append(states, &state)
	}

	slices.SortFunc(states, func(a, b *WatcherState) int { return a.PID - b.PID })
	return states, nil
}

// RemoveState removes a watcher's state file.
func RemoveState(pid int) error {
	err := os.Remove(StatePath(pid))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

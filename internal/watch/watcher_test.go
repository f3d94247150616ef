package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/sample"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []sample.Request
}

func (f *fakeRunner) Run(_ context.Context, req sample.Request) (*sample.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	b := &sample.Batch{Resolution: req.Resolution, Total: len(req.Paths)}
	for i, p := range req.Paths {
		b.Indices = append(b.Indices, i)
		b.Paths = append(b.Paths, p)
	}
	return b, nil
}

func (f *fakeRunner) requests() []sample.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sample.Request(nil), f.reqs...)
}

func (f *fakeRunner) seen() []string {
	var out []string
	for _, r := range f.requests() {
		out = append(out, r.Paths...)
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func startWatcher(t *testing.T, cfg Config, runner Runner, handle BatchHandler) *Watcher {
	t.Helper()
	w, err := NewWatcher(cfg, runner, handle, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	t.Cleanup(func() {
		w.Stop()
		cancel()
		<-done
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not become ready")
	}
	return w
}

func TestNewWatcher_Validation(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWatcher(Config{Path: dir}, &fakeRunner{}, nil, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = NewWatcher(Config{Path: filepath.Join(dir, "missing"), Resolution: 4}, &fakeRunner{}, nil, nil)
	assert.True(t, errors.IsNotFound(err))

	writeFile(t, filepath.Join(dir, "file.tns"), "1 1 1 1\n")
	_, err = NewWatcher(Config{Path: filepath.Join(dir, "file.tns"), Resolution: 4}, &fakeRunner{}, nil, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestWatcher_InitialSync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.tns"), "1 1 1 1\n")
	writeFile(t, filepath.Join(dir, "sub", "a.tns"), "1 1 1 1\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello\n")
	writeFile(t, filepath.Join(dir, "partial.tns.tmp"), "1 1\n")

	runner := &fakeRunner{}
	w := startWatcher(t, Config{Path: dir, Resolution: 8, InitialSync: true}, runner, nil)

	reqs := runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 8, reqs[0].Resolution)
	assert.Equal(t, []string{
		filepath.Join(w.Root(), "b.tns"),
		filepath.Join(w.Root(), "sub", "a.tns"),
	}, reqs[0].Paths)

	tensors, batches, last := w.Stats()
	assert.Equal(t, 2, tensors)
	assert.Equal(t, 1, batches)
	assert.False(t, last.IsZero())
}

func TestWatcher_SamplesNewFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}

	var mu sync.Mutex
	var handled []*sample.Batch
	handle := func(_ context.Context, b *sample.Batch) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, b)
		return nil
	}

	w := startWatcher(t, Config{Path: dir, Resolution: 4, BatchDelay: 50 * time.Millisecond}, runner, handle)

	writeFile(t, filepath.Join(w.Root(), "x.tns"), "1 1 1 1\n")
	writeFile(t, filepath.Join(w.Root(), "ignored.txt"), "nope\n")
	writeFile(t, filepath.Join(w.Root(), "y.tns.part"), "1 1\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) > 0
	}, 5*time.Second, 20*time.Millisecond)

	// Create and write events may land in separate batches.
	for _, p := range runner.seen() {
		assert.Equal(t, filepath.Join(w.Root(), "x.tns"), p)
	}
}

func TestWatcher_PicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	w := startWatcher(t, Config{Path: dir, Resolution: 4, BatchDelay: 50 * time.Millisecond}, runner, nil)

	nested := filepath.Join(w.Root(), "incoming")
	require.NoError(t, os.Mkdir(nested, 0755))
	// Give the watcher a moment to add the directory before writing into it.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(nested, "z.tns"), "1 1 1 1\n")

	require.Eventually(t, func() bool {
		for _, p := range runner.seen() {
			if p == filepath.Join(nested, "z.tns") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_DropsDeletedFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	w, err := NewWatcher(Config{Path: dir, Resolution: 4, BatchDelay: time.Hour}, runner, nil, nil)
	require.NoError(t, err)

	kept := filepath.Join(w.Root(), "kept.tns")
	gone := filepath.Join(w.Root(), "gone.tns")
	writeFile(t, kept, "1 1 1 1\n")

	ctx := context.Background()
	w.enqueue(ctx, gone)
	w.enqueue(ctx, kept)
	w.stopTimer()
	w.processBatch(ctx)

	assert.Equal(t, []string{kept}, runner.seen())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(Config{Path: t.TempDir(), Resolution: 2}, &fakeRunner{}, nil, nil)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
	assert.NoError(t, w.Start(context.Background()))
}

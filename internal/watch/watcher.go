// Package watch samples tensor files as they appear or change under a
// directory tree. Events are debounced into batches so a file being copied
// in is sampled once, after the writes settle.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/sample"
)

// Runner samples one batch of files. *sample.Driver implements it.
type Runner interface {
	Run(ctx context.Context, req sample.Request) (*sample.Batch, error)
}

// BatchHandler receives every batch the watcher samples.
type BatchHandler func(ctx context.Context, b *sample.Batch) error

// Config holds the watcher configuration.
type Config struct {
	// Path is the directory tree to watch.
	Path string

	// Resolution is passed to every batch.
	Resolution int

	// Extensions selects tensor files by suffix. Default: .tns
	Extensions []string

	// BatchDelay is the quiet period before pending files are sampled.
	// Default: 500ms
	BatchDelay time.Duration

	// InitialSync samples every existing tensor before watching.
	InitialSync bool
}

// Watcher turns file events under a directory into sampling batches.
type Watcher struct {
	root   string
	cfg    Config
	runner Runner
	handle BatchHandler
	ignore *IgnoreFilter
	log    *logger.Logger

	// Batch processing
	pendingMu  sync.Mutex
	pending    map[string]struct{}
	batchTimer *time.Timer
	runMu      sync.Mutex

	// Stats
	statsMu     sync.Mutex
	tensorCount int
	batches     int
	lastSync    time.Time

	// Lifecycle
	ready    chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher. handle may be nil.
func NewWatcher(cfg Config, runner Runner, handle BatchHandler, log *logger.Logger) (*Watcher, error) {
	if cfg.Resolution <= 0 {
		return nil, errors.ValidationError("watch resolution must be positive")
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 500 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".tns"}
	}
	if log == nil {
		log = logger.Discard()
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(absPath); err != nil || !fi.IsDir() {
		return nil, errors.NotFoundError("watch directory " + cfg.Path)
	}

	ignore, err := NewIgnoreFilter(absPath)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    absPath,
		cfg:     cfg,
		runner:  runner,
		handle:  handle,
		ignore:  ignore,
		log:     &logger.Logger{Logger: log.With("component", "watcher")},
		pending: make(map[string]struct{}),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Ready is closed once the watcher is receiving events.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start watches until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info("Starting watcher", "path", w.root, "resolution", w.cfg.Resolution)

	// Create fsnotify watcher before the initial sync so files written
	// during it are not missed.
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	// Add directories recursively
	err = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("Error walking path", "path", path, "error", err)
			return filepath.SkipDir
		}
		if d.IsDir() {
			if path != w.root && w.ignore.ShouldIgnore(path) {
				return filepath.SkipDir
			}
			return fsWatcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if w.cfg.InitialSync {
		if err := w.initialSync(ctx); err != nil {
			return err
		}
	}

	w.log.Info("Watching for changes", "path", w.root)
	close(w.ready)

	defer w.stopTimer()

	// Event loop
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event, fsWatcher)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, fsWatcher *fsnotify.Watcher) {
	path := event.Name

	if w.ignore.ShouldIgnore(path) {
		return
	}

	// New directories are watched too, and any tensors already in them
	// are picked up.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := fsWatcher.Add(path); err != nil {
				w.log.Warn("Failed to watch directory", "path", path, "error", err)
			}
			for _, f := range w.scan(path) {
				w.enqueue(ctx, f)
			}
			return
		}
	}

	if !w.isTensor(path) {
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		w.enqueue(ctx, path)
	}
}

// enqueue adds path to the pending set and restarts the quiet period.
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = struct{}{}

	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.batchTimer = time.AfterFunc(w.cfg.BatchDelay, func() { w.processBatch(ctx) })
}

func (w *Watcher) stopTimer() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
}

func (w *Watcher) processBatch(ctx context.Context) {
	w.pendingMu.Lock()
	files := make([]string, 0, len(w.pending))
	for path := range w.pending {
		// Files removed during the quiet period are dropped.
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			files = append(files, path)
		}
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	if len(files) == 0 || ctx.Err() != nil {
		return
	}
	slices.Sort(files)

	w.log.Info("Processing batch", "count", len(files))
	w.run(ctx, files)
}

// run samples files as one batch. Batches never overlap.
func (w *Watcher) run(ctx context.Context, files []string) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	batch, err := w.runner.Run(ctx, sample.Request{Paths: files, Resolution: w.cfg.Resolution})
	if err != nil {
		w.log.Error("Failed to sample batch", "error", err, "count", len(files))
		return
	}

	w.statsMu.Lock()
	w.tensorCount += batch.Len()
	w.batches++
	w.lastSync = time.Now()
	w.statsMu.Unlock()

	if w.handle != nil {
		if err := w.handle(ctx, batch); err != nil {
			w.log.Error("Batch handler failed", "error", err)
			return
		}
	}
	w.log.Info("Batch sync complete", "sampled", batch.Len(), "failed", len(batch.Failures))
}

func (w *Watcher) initialSync(ctx context.Context) error {
	w.log.Info("Performing initial sync...")

	files := w.scan(w.root)
	if len(files) > 0 {
		w.run(ctx, files)
	}

	w.log.Info("Initial sync finished", "tensors", len(files))
	return ctx.Err()
}

// scan lists the tensor files under dir in lexical order.
func (w *Watcher) scan(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if w.ignore.ShouldIgnore(path) {
			if d.IsDir() && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && w.isTensor(path) {
			files = append(files, path)
		}
		return nil
	})
	return files
}

func (w *Watcher) isTensor(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(w.cfg.Extensions, ext)
}

// Stop ends Start. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Stats returns the number of tensors and batches sampled and the time of
// the last batch.
func (w *Watcher) Stats() (tensors, batches int, lastSync time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.tensorCount, w.batches, w.lastSync
}

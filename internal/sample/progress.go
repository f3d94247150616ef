package sample

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sptensor/tnsample/internal/pkg/logger"
)

// Progress is a snapshot of a running batch.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Failed  int     `json:"failed"`
	Percent float64 `json:"percent"`
	Path    string  `json:"path,omitempty"`
}

// ProgressCallback is called after every finished tensor.
type ProgressCallback func(Progress)

// progressTracker counts finished tensors, logging at most once per interval
// plus once at completion.
type progressTracker struct {
	mu       sync.Mutex
	total    int
	done     int
	failed   int
	limiter  *rate.Limiter
	log      *logger.Logger
	callback ProgressCallback
}

func newProgressTracker(total int, interval time.Duration, log *logger.Logger, cb ProgressCallback) *progressTracker {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &progressTracker{
		total:    total,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log,
		callback: cb,
	}
}

func (t *progressTracker) step(path string, failed bool) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done++
	if failed {
		t.failed++
	}

	p := Progress{Current: t.done, Total: t.total, Failed: t.failed, Path: path}
	if t.total > 0 {
		p.Percent = float64(t.done) / float64(t.total) * 100
	}

	if t.done == t.total || t.limiter.Allow() {
		t.log.Info("Sampling progress",
			"current", p.Current,
			"total", p.Total,
			"failed", p.Failed,
			"percent", int(p.Percent),
		)
	}
	if t.callback != nil {
		t.callback(p)
	}
	return p
}

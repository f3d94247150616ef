// Package sample runs the per-tensor sampler over a list of tensor files
// and stacks the results into a batch.
package sample

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sptensor/tnsample/internal/bus"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/engine"
	"github.com/sptensor/tnsample/internal/metrics"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/qdrant"
)

// OnError decides what a failing tensor does to the run.
type OnError string

const (
	// OnErrorSkip drops the failing tensor and keeps going.
	OnErrorSkip OnError = "skip"
	// OnErrorAbort cancels the run on the first failure.
	OnErrorAbort OnError = "abort"
)

// ParseOnError parses skip or abort.
func ParseOnError(s string) (OnError, error) {
	switch OnError(s) {
	case OnErrorSkip, OnErrorAbort:
		return OnError(s), nil
	}
	return OnErrorSkip, errors.ValidationError(fmt.Sprintf("invalid on_error: %s (must be skip or abort)", s))
}

// Options configure a driver.
type Options struct {
	Workers int
	// Timeout bounds each tensor; 0 disables it.
	Timeout time.Duration
	OnError OnError
	// ProgressInterval throttles progress logging; 0 logs every tensor.
	ProgressInterval time.Duration
}

// DefaultOptions returns one worker per CPU, no timeout and skip-on-error.
func DefaultOptions() Options {
	return Options{
		Workers:          runtime.NumCPU(),
		OnError:          OnErrorSkip,
		ProgressInterval: 2 * time.Second,
	}
}

// OptionsFromConfig converts the sample configuration section.
func OptionsFromConfig(s config.SampleConfig) (Options, error) {
	onErr, err := ParseOnError(s.OnError)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Workers = s.Workers
	opts.Timeout = s.Timeout
	opts.OnError = onErr
	return opts, nil
}

// FeatureSink receives the feature vectors of a finished batch.
type FeatureSink interface {
	UpsertFeatures(ctx context.Context, points []qdrant.FeaturePoint) error
}

// Request describes one run. Paths is used when ListPath is empty.
type Request struct {
	ListPath   string
	Paths      []string
	Resolution int
}

// Driver runs batches.
type Driver struct {
	sampler  engine.Sampler
	opts     Options
	log      *logger.Logger
	bus      bus.Bus
	metrics  *metrics.Metrics
	sink     FeatureSink
	progress ProgressCallback
}

// NewDriver creates a driver around sampler.
func NewDriver(sampler engine.Sampler, opts Options, log *logger.Logger) *Driver {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.OnError == "" {
		opts.OnError = OnErrorSkip
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Driver{sampler: sampler, opts: opts, log: log}
}

// SetBus sets the bus progress events are published on.
func (d *Driver) SetBus(b bus.Bus) { d.bus = b }

// SetMetrics sets the metrics recorder.
func (d *Driver) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// SetFeatureSink sets where feature vectors are exported after a run.
func (d *Driver) SetFeatureSink(s FeatureSink) { d.sink = s }

// SetProgressCallback sets a callback invoked after every tensor.
func (d *Driver) SetProgressCallback(cb ProgressCallback) { d.progress = cb }

// Run samples every tensor of the request. Under OnErrorSkip failing tensors
// are reported in Batch.Failures and left out; under OnErrorAbort the first
// failure is returned.
func (d *Driver) Run(ctx context.Context, req Request) (*Batch, error) {
	if req.Resolution <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", req.Resolution))
	}

	paths := req.Paths
	if req.ListPath != "" {
		var err error
		if paths, err = ReadList(req.ListPath); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	runID := uuid.NewString()
	ctx = logger.NewContext(ctx, runID)
	log := d.log.WithContext(ctx)

	log.Info("Starting batch",
		"tensors", len(paths),
		"resolution", req.Resolution,
		"workers", d.opts.Workers,
		"on_error", string(d.opts.OnError),
	)
	d.publish(ctx, bus.TopicBatchStarted, runID, bus.BatchStarted{
		ListPath:   req.ListPath,
		Total:      len(paths),
		Resolution: req.Resolution,
		Workers:    d.opts.Workers,
	})

	// Each worker writes only its own slot.
	results := make([]*engine.Result, len(paths))
	failures := make([]*Failure, len(paths))
	tracker := newProgressTracker(len(paths), d.opts.ProgressInterval, log, d.progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			res, err := d.sampleOne(gctx, runID, i, path, req.Resolution)
			if err != nil {
				// Cancellation of the run is not a tensor failure.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f := newFailure(i, path, err)
				failures[i] = f
				d.reportFailure(ctx, runID, f, log)
				tracker.step(path, true)
				if d.opts.OnError == OnErrorAbort {
					return fmt.Errorf("tensor %d (%s): %w", i, path, err)
				}
				return nil
			}

			results[i] = res
			tracker.step(path, false)
			return nil
		})
	}
	runErr := g.Wait()

	batch := assemble(runID, req.Resolution, results, failures)
	batch.Total = len(paths)
	batch.Duration = time.Since(start)

	d.publish(ctx, bus.TopicBatchCompleted, runID, bus.BatchCompleted{
		Total:      len(paths),
		Succeeded:  batch.Len(),
		Failed:     len(batch.Failures),
		Aborted:    runErr != nil,
		DurationMs: batch.Duration.Milliseconds(),
	})
	if d.metrics != nil {
		d.metrics.RecordBatch(batch.Len(), batch.Duration)
	}

	if runErr != nil {
		log.Error("Batch aborted", "error", runErr, "succeeded", batch.Len())
		return nil, runErr
	}

	log.Info("Batch complete",
		"succeeded", batch.Len(),
		"failed", len(batch.Failures),
		"duration", batch.Duration.Round(time.Millisecond),
	)

	if d.sink != nil && batch.Len() > 0 {
		if err := d.sink.UpsertFeatures(ctx, featurePoints(batch)); err != nil {
			log.Warn("Failed to export feature vectors", "error", err)
		}
	}

	return batch, nil
}

func (d *Driver) sampleOne(ctx context.Context, runID string, index int, path string, resolution int) (*engine.Result, error) {
	tctx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := d.sampler.Sample(tctx, path, resolution)
	if err != nil {
		if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.CodeTimeout,
				fmt.Sprintf("sampling %s exceeded %s", path, d.opts.Timeout), err)
		}
		return nil, err
	}
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.RecordSample(res.NNZ, elapsed)
	}
	d.publish(ctx, bus.TopicTensorCompleted, runID, bus.TensorCompleted{
		Index:      index,
		Path:       path,
		Hash:       res.Hash,
		Shape:      res.Shape,
		NNZ:        res.NNZ,
		DurationMs: elapsed.Milliseconds(),
	})
	return res, nil
}

func (d *Driver) reportFailure(ctx context.Context, runID string, f *Failure, log *logger.Logger) {
	log.WithTensor(f.Path).Warn("Tensor failed", "index", f.Index, "code", f.Code, "error", f.Message)
	if d.metrics != nil {
		d.metrics.RecordFailure(f.Code)
	}
	d.publish(ctx, bus.TopicTensorFailed, runID, bus.TensorFailed{
		Index:   f.Index,
		Path:    f.Path,
		Code:    f.Code,
		Message: f.Message,
	})
}

// publish is best effort; a bus failure never fails the run.
func (d *Driver) publish(ctx context.Context, topic, runID string, payload any) {
	if d.bus == nil {
		return
	}
	event := bus.NewEvent(topic, "sample", runID, payload)
	if err := d.bus.Publish(ctx, topic, event); err != nil {
		d.log.Debug("Failed to publish event", "topic", topic, "error", err)
	}
}

func newFailure(index int, path string, err error) *Failure {
	code := errors.Code(err)
	if code == "" {
		code = errors.CodeInternal
	}
	return &Failure{Index: index, Path: path, Code: code, Message: err.Error(), Err: err}
}

// assemble stacks the surviving results in list order.
func assemble(runID string, resolution int, results []*engine.Result, failures []*Failure) *Batch {
	b := &Batch{RunID: runID, Resolution: resolution}
	size := b.ImageSize()

	n := 0
	for _, r := range results {
		if r != nil {
			n++
		}
	}
	b.Flatten = make([]int32, 0, n*size)
	b.Map = make([]int32, 0, n*size)

	for i, r := range results {
		if f := failures[i]; f != nil {
			b.Failures = append(b.Failures, *f)
		}
		if r == nil {
			continue
		}
		b.Indices = append(b.Indices, i)
		b.Paths = append(b.Paths, r.Path)
		b.Hashes = append(b.Hashes, r.Hash)
		b.Shapes = append(b.Shapes, r.Shape)
		b.NNZ = append(b.NNZ, r.NNZ)
		b.Features = append(b.Features, r.Features())
		b.Flatten = append(b.Flatten, r.Flatten...)
		b.Map = append(b.Map, r.Map...)
	}
	return b
}

func featurePoints(b *Batch) []qdrant.FeaturePoint {
	now := time.Now()
	points := make([]qdrant.FeaturePoint, 0, b.Len())
	for row := range b.Indices {
		points = append(points, qdrant.FeaturePoint{
			Hash:   b.Hashes[row],
			Vector: b.Features[row][:],
			Payload: qdrant.FeaturePayload{
				Path:       b.Paths[row],
				ListIndex:  b.Indices[row],
				Shape:      b.Shapes[row],
				NNZ:        b.NNZ[row],
				Resolution: b.Resolution,
				RunID:      b.RunID,
				SampledAt:  now,
			},
		})
	}
	return points
}

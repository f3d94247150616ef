// Package engine exposes the four per-tensor sampling calls behind one
// interface: base features, CSF features and the two projection families.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sptensor/tnsample/internal/cache"
	"github.com/sptensor/tnsample/internal/config"
	"github.com/sptensor/tnsample/internal/features"
	"github.com/sptensor/tnsample/internal/pkg/errors"
	"github.com/sptensor/tnsample/internal/pkg/hash"
	"github.com/sptensor/tnsample/internal/pkg/logger"
	"github.com/sptensor/tnsample/internal/raster"
	"github.com/sptensor/tnsample/internal/tensor"
)

// Sampler computes features and projections for tensor files.
type Sampler interface {
	// GetBaseFeatures returns the 20-value base vector.
	GetBaseFeatures(ctx context.Context, path string) ([]float32, error)

	// GetCsfFeatures returns the 22-value CSF vector.
	GetCsfFeatures(ctx context.Context, path string) ([]float32, error)

	// GetFlattenInput returns 3*resolution*resolution pixels in [mode][row][col] order.
	GetFlattenInput(ctx context.Context, path string, resolution int) ([]int32, error)

	// GetMapInput is GetFlattenInput with the Map policy.
	GetMapInput(ctx context.Context, path string, resolution int) ([]int32, error)

	// Sample computes all four outputs from a single load.
	Sample(ctx context.Context, path string, resolution int) (*Result, error)
}

// Result is everything computed for one tensor.
type Result struct {
	Path       string       `json:"path"`
	Hash       string       `json:"hash"`
	Shape      tensor.Shape `json:"shape"`
	NNZ        int          `json:"nnz"`
	Resolution int          `json:"resolution"`
	Base       []float32    `json:"base"`
	CSF        []float32    `json:"csf"`
	Flatten    []int32      `json:"flatten"`
	Map        []int32      `json:"map"`
}

// Features returns the 37-value vector stored per tensor in a batch.
func (r *Result) Features() [features.Len]float32 {
	return features.CombineVectors(r.CSF, r.Base)
}

// Config holds the options that change computed output.
type Config struct {
	Load   tensor.LoadOptions
	Raster raster.Options
}

// DefaultConfig returns FROSTT loading with count/presence projections.
func DefaultConfig() Config {
	return Config{
		Load:   tensor.DefaultLoadOptions(),
		Raster: raster.DefaultOptions(),
	}
}

// ConfigFromSample converts the sample configuration section.
func ConfigFromSample(s config.SampleConfig) (Config, error) {
	dup, err := tensor.ParseDuplicatePolicy(s.Duplicates)
	if err != nil {
		return Config{}, err
	}
	flat, err := raster.ParseAggregation(s.FlattenAgg)
	if err != nil {
		return Config{}, err
	}
	mp, err := raster.ParseAggregation(s.MapAgg)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Load:   tensor.LoadOptions{IndexBase: s.IndexBase, Duplicates: dup},
		Raster: raster.Options{FlattenAgg: flat, MapAgg: mp},
	}
	if err := cfg.Load.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// variant identifies the options in cache keys.
func (c Config) variant() string {
	return fmt.Sprintf("base=%d,dup=%s,%s", c.Load.IndexBase, c.Load.Duplicates, c.Raster)
}

// Engine implements Sampler in process.
type Engine struct {
	cfg   Config
	cache cache.Cache
	log   *logger.Logger
}

// New creates an engine. c may be nil to disable result caching.
func New(cfg Config, c cache.Cache, log *logger.Logger) *Engine {
	if c == nil {
		c = cache.None{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{cfg: cfg, cache: c, log: log}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Load reads a tensor with the engine's load options.
func (e *Engine) Load(ctx context.Context, path string) (*tensor.Sparse3D, error) {
	return tensor.LoadContext(ctx, path, e.cfg.Load)
}

// LoadHash is Load that also returns the SHA-256 of the parsed bytes.
func (e *Engine) LoadHash(ctx context.Context, path string) (*tensor.Sparse3D, string, error) {
	return tensor.LoadContextHash(ctx, path, e.cfg.Load)
}

// GetBaseFeatures implements Sampler.
func (e *Engine) GetBaseFeatures(ctx context.Context, path string) ([]float32, error) {
	t, err := e.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	b, err := features.Base(t)
	if err != nil {
		return nil, err
	}
	return b.Vector(), nil
}

// GetCsfFeatures implements Sampler.
func (e *Engine) GetCsfFeatures(ctx context.Context, path string) ([]float32, error) {
	t, err := e.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	c, err := features.CSF(t)
	if err != nil {
		return nil, err
	}
	return c.Vector(), nil
}

// GetFlattenInput implements Sampler.
func (e *Engine) GetFlattenInput(ctx context.Context, path string, resolution int) ([]int32, error) {
	return e.projectFile(ctx, path, resolution, raster.Flatten)
}

// GetMapInput implements Sampler.
func (e *Engine) GetMapInput(ctx context.Context, path string, resolution int) ([]int32, error) {
	return e.projectFile(ctx, path, resolution, raster.Map)
}

func (e *Engine) projectFile(ctx context.Context, path string, resolution int, policy raster.Policy) ([]int32, error) {
	if resolution <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", resolution))
	}
	t, err := e.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	images, err := raster.Project(t, resolution, policy, e.cfg.Raster)
	if err != nil {
		return nil, err
	}
	return raster.Flat(images), nil
}

// Sample implements Sampler. With a cache configured, results are keyed by
// file content, resolution and options; a cached result is returned without
// loading the tensor.
func (e *Engine) Sample(ctx context.Context, path string, resolution int) (*Result, error) {
	if resolution <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", resolution))
	}

	sum, err := hash.FileSHA256(path)
	if err != nil {
		return nil, errors.IOError(path, err)
	}
	key := hash.ResultKey(sum, resolution, e.cfg.variant())
	log := e.log.WithTensor(path)

	if res, ok := e.cached(ctx, key, log); ok {
		res.Path = path
		return res, nil
	}

	t, parsed, err := e.LoadHash(ctx, path)
	if err != nil {
		return nil, err
	}
	if parsed != sum {
		// Rewritten since the lookup; key on what was actually parsed.
		log.Debug("Tensor changed during sampling", "lookup_hash", sum, "parsed_hash", parsed)
		key = hash.ResultKey(parsed, resolution, e.cfg.variant())
	}

	res, err := e.SampleTensor(ctx, t, resolution)
	if err != nil {
		return nil, err
	}
	res.Path = path
	res.Hash = parsed

	if data, err := json.Marshal(res); err != nil {
		log.Warn("Failed to encode result for cache", "error", err)
	} else if err := e.cache.Set(ctx, key, data); err != nil {
		log.Warn("Failed to cache result", "error", err)
	}

	return res, nil
}

func (e *Engine) cached(ctx context.Context, key string, log *logger.Logger) (*Result, bool) {
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Warn("Cache lookup failed, recomputing", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		log.Warn("Discarding undecodable cached result", "error", err)
		return nil, false
	}
	log.Debug("Result cache hit", "key", key)
	return &res, true
}

// SampleTensor computes all four outputs for an already loaded tensor.
func (e *Engine) SampleTensor(ctx context.Context, t *tensor.Sparse3D, resolution int) (*Result, error) {
	b, err := features.Base(t)
	if err != nil {
		return nil, err
	}
	c, err := features.CSF(t)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flat, err := raster.Project(t, resolution, raster.Flatten, e.cfg.Raster)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mp, err := raster.Project(t, resolution, raster.Map, e.cfg.Raster)
	if err != nil {
		return nil, err
	}

	return &Result{
		Shape:      t.Shape,
		NNZ:        t.NNZ(),
		Resolution: resolution,
		Base:       b.Vector(),
		CSF:        c.Vector(),
		Flatten:    raster.Flat(flat),
		Map:        raster.Flat(mp),
	}, nil
}

var _ Sampler = (*Engine)(nil)

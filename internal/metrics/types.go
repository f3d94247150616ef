// Package metrics provides Prometheus-compatible run metrics for the sampler.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultLatencyBuckets are upper bounds in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Counter represents a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  atomic.Int64
}

// NewCounter creates a new counter.
func NewCounter(name, help string, labels map[string]string) *Counter {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Counter{name: name, help: help, labels: labels}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds delta to the counter. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return
	}
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Reset resets the counter to 0.
func (c *Counter) Reset() { c.value.Store(0) }

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Help returns the metric help text.
func (c *Counter) Help() string { return c.help }

// Labels returns the metric labels.
func (c *Counter) Labels() map[string]string { return c.labels }

// Gauge represents a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	bits   atomic.Uint64
}

// NewGauge creates a new gauge.
func NewGauge(name, help string, labels map[string]string) *Gauge {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Gauge{name: name, help: help, labels: labels}
}

// Set sets the gauge.
func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }

// Add adds delta to the gauge.
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// Help returns the metric help text.
func (g *Gauge) Help() string { return g.help }

// Labels returns the metric labels.
func (g *Gauge) Labels() map[string]string { return g.labels }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64

	mu     sync.Mutex
	counts []int64 // cumulative, last slot is +Inf
	sum    float64
	count  int64
}

// NewHistogram creates a new histogram with the given bucket upper bounds.
func NewHistogram(name, help string, buckets []float64, labels map[string]string) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultLatencyBuckets
	}
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: b,
		counts:  make([]int64, len(b)+1),
	}
}

// Observe adds a single observation.
func (h *Histogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.buckets, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Mean returns the mean observation, or 0 with no observations.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Buckets returns the bucket bounds and their cumulative counts. The final
// count is the +Inf bucket.
func (h *Histogram) Buckets() ([]float64, []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buckets, append([]int64(nil), h.counts...)
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Help returns the metric help text.
func (h *Histogram) Help() string { return h.help }

// Labels returns the metric labels.
func (h *Histogram) Labels() map[string]string { return h.labels }

// vec keys child metrics by their label values.
type vec[T any] struct {
	name       string
	help       string
	labelNames []string
	newChild   func(labels map[string]string) T

	mu       sync.RWMutex
	children map[string]T
}

func (v *vec[T]) with(values ...string) T {
	if len(values) != len(v.labelNames) {
		panic(fmt.Sprintf("%s: expected %d label values, got %d", v.name, len(v.labelNames), len(values)))
	}
	labels := make(map[string]string, len(values))
	for i, n := range v.labelNames {
		labels[n] = values[i]
	}
	key := labelsToKey(labels)

	v.mu.RLock()
	child, ok := v.children[key]
	v.mu.RUnlock()
	if ok {
		return child
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if child, ok := v.children[key]; ok {
		return child
	}
	child = v.newChild(labels)
	v.children[key] = child
	return child
}

// all returns the children sorted by label key for stable output.
func (v *vec[T]) all() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.children))
	for k := range v.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, v.children[k])
	}
	return out
}

// CounterVec is a set of counters sharing a name, split by labels.
type CounterVec struct{ vec[*Counter] }

// NewCounterVec creates a new counter vector.
func NewCounterVec(name, help string, labelNames []string) *CounterVec {
	cv := &CounterVec{}
	cv.vec = vec[*Counter]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Counter),
		newChild:   func(l map[string]string) *Counter { return NewCounter(name, help, l) },
	}
	return cv
}

// WithLabels returns the counter for the given label values.
func (cv *CounterVec) WithLabels(values ...string) *Counter { return cv.with(values...) }

// GetAll returns all counters in the vector.
func (cv *CounterVec) GetAll() []*Counter { return cv.all() }

// Total sums every counter in the vector.
func (cv *CounterVec) Total() int64 {
	var n int64
	for _, c := range cv.all() {
		n += c.Value()
	}
	return n
}

// GaugeVec is a set of gauges sharing a name, split by labels.
type GaugeVec struct{ vec[*Gauge] }

// NewGaugeVec creates a new gauge vector.
func NewGaugeVec(name, help string, labelNames []string) *GaugeVec {
	gv := &GaugeVec{}
	gv.vec = vec[*Gauge]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Gauge),
		newChild:   func(l map[string]string) *Gauge { return NewGauge(name, help, l) },
	}
	return gv
}

// WithLabels returns the gauge for the given label values.
func (gv *GaugeVec) WithLabels(values ...string) *Gauge { return gv.with(values...) }

// GetAll returns all gauges in the vector.
func (gv *GaugeVec) GetAll() []*Gauge { return gv.all() }

// HistogramVec is a set of histograms sharing a name and buckets, split by labels.
type HistogramVec struct{ vec[*Histogram] }

// NewHistogramVec creates a new histogram vector.
func NewHistogramVec(name, help string, labelNames []string, buckets []float64) *HistogramVec {
	hv := &HistogramVec{}
	hv.vec = vec[*Histogram]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		children:   make(map[string]*Histogram),
		newChild:   func(l map[string]string) *Histogram { return NewHistogram(name, help, buckets, l) },
	}
	return hv
}

// WithLabels returns the histogram for the given label values.
func (hv *HistogramVec) WithLabels(values ...string) *Histogram { return hv.with(values...) }

// GetAll returns all histograms in the vector.
func (hv *HistogramVec) GetAll() []*Histogram { return hv.all() }

// labelsToKey builds a stable key from sorted labels.
func labelsToKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

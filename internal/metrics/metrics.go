package metrics

import (
	"time"
)

// Metrics holds every metric recorded during a sampling run or by the
// sampler service.
type Metrics struct {
	// Sampling
	TensorsSampled *Counter
	TensorsFailed  *CounterVec
	SampleLatency  *Histogram
	NonzerosRead   *Counter
	BatchTensors   *Gauge
	BatchDuration  *Gauge

	// Result cache
	CacheHits   *CounterVec
	CacheMisses *CounterVec
	CacheSize   *GaugeVec

	// Event bus
	BusPublished *CounterVec
	BusErrors    *CounterVec
	BusLatency   *HistogramVec

	// gRPC service
	GRPCRequests *CounterVec
	GRPCLatency  *HistogramVec

	startTime time.Time
}

// New creates a new metrics instance.
func New() *Metrics {
	return &Metrics{
		TensorsSampled: NewCounter("tns_tensors_sampled_total", "Tensors sampled successfully", nil),
		TensorsFailed:  NewCounterVec("tns_tensors_failed_total", "Tensors that failed to sample",
			[]string{"code"}),
		SampleLatency: NewHistogram("tns_sample_duration_ms", "Per-tensor sampling latency in milliseconds",
			DefaultLatencyBuckets, nil),
		NonzerosRead:  NewCounter("tns_nonzeros_read_total", "Nonzeros across sampled tensors", nil),
		BatchTensors:  NewGauge("tns_batch_tensors", "Rows in the last written batch", nil),
		BatchDuration: NewGauge("tns_batch_duration_seconds", "Wall time of the last batch", nil),

		CacheHits:   NewCounterVec("tns_cache_hits_total", "Result cache hits", []string{"cache"}),
		CacheMisses: NewCounterVec("tns_cache_misses_total", "Result cache misses", []string{"cache"}),
		CacheSize:   NewGaugeVec("tns_cache_size", "Entries held by the result cache", []string{"cache"}),

		BusPublished: NewCounterVec("tns_bus_events_published_total", "Events published on the bus",
			[]string{"topic"}),
		BusErrors:  NewCounterVec("tns_bus_errors_total", "Bus publish errors", []string{"topic"}),
		BusLatency: NewHistogramVec("tns_bus_publish_duration_ms", "Bus publish latency in milliseconds",
			[]string{"topic"}, []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500}),

		GRPCRequests: NewCounterVec("tns_grpc_requests_total", "gRPC requests handled",
			[]string{"method", "code"}),
		GRPCLatency: NewHistogramVec("tns_grpc_request_duration_ms", "gRPC request latency in milliseconds",
			[]string{"method"}, DefaultLatencyBuckets),

		startTime: time.Now(),
	}
}

// RecordSample records one successfully sampled tensor.
func (m *Metrics) RecordSample(nnz int, d time.Duration) {
	m.TensorsSampled.Inc()
	m.NonzerosRead.Add(int64(nnz))
	m.SampleLatency.Observe(ms(d))
}

// RecordFailure records a tensor dropped with the given error code.
func (m *Metrics) RecordFailure(code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	m.TensorsFailed.WithLabels(code).Inc()
}

// RecordBatch records the size and wall time of a finished batch.
func (m *Metrics) RecordBatch(rows int, d time.Duration) {
	m.BatchTensors.Set(float64(rows))
	m.BatchDuration.Set(d.Seconds())
}

// RecordCacheHit implements cache.Metrics.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabels(cacheType).Inc()
}

// RecordCacheMiss implements cache.Metrics.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabels(cacheType).Inc()
}

// UpdateCacheSize implements cache.Metrics.
func (m *Metrics) UpdateCacheSize(cacheType string, size int) {
	m.CacheSize.WithLabels(cacheType).Set(float64(size))
}

// RecordBusPublish implements bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusPublished.WithLabels(topic).Inc()
	m.BusLatency.WithLabels(topic).Observe(ms(latency))
	if err != nil {
		m.BusErrors.WithLabels(topic).Inc()
	}
}

// RecordGRPCRequest records one handled RPC.
func (m *Metrics) RecordGRPCRequest(method, code string, d time.Duration) {
	m.GRPCRequests.WithLabels(method, code).Inc()
	m.GRPCLatency.WithLabels(method).Observe(ms(d))
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Summary is a point-in-time digest of a run.
type Summary struct {
	Sampled      int64   `json:"sampled"`
	Failed       int64   `json:"failed"`
	Nonzeros     int64   `json:"nonzeros"`
	MeanSampleMs float64 `json:"mean_sample_ms"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	UptimeSec    float64 `json:"uptime_seconds"`
}

// Summary returns the current run digest.
func (m *Metrics) Summary() Summary {
	return Summary{
		Sampled:      m.TensorsSampled.Value(),
		Failed:       m.TensorsFailed.Total(),
		Nonzeros:     m.NonzerosRead.Value(),
		MeanSampleMs: m.SampleLatency.Mean(),
		CacheHits:    m.CacheHits.Total(),
		CacheMisses:  m.CacheMisses.Total(),
		UptimeSec:    m.Uptime().Seconds(),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

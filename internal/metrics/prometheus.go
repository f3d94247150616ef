package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// PrometheusFormat renders all metrics in the Prometheus text exposition format.
func (m *Metrics) PrometheusFormat() string {
	var sb strings.Builder

	writeCounter(&sb, m.TensorsSampled)
	writeCounterVec(&sb, m.TensorsFailed)
	writeHistogram(&sb, m.SampleLatency, true)
	writeCounter(&sb, m.NonzerosRead)
	writeGauge(&sb, m.BatchTensors)
	writeGauge(&sb, m.BatchDuration)

	writeCounterVec(&sb, m.CacheHits)
	writeCounterVec(&sb, m.CacheMisses)
	writeGaugeVec(&sb, m.CacheSize)

	writeCounterVec(&sb, m.BusPublished)
	writeCounterVec(&sb, m.BusErrors)
	writeHistogramVec(&sb, m.BusLatency)

	writeCounterVec(&sb, m.GRPCRequests)
	writeHistogramVec(&sb, m.GRPCLatency)

	return sb.String()
}

// WriteTo implements io.WriterTo.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, m.PrometheusFormat())
	return int64(n), err
}

// WriteFile writes the exposition text to path, replacing it atomically.
func (m *Metrics) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating metrics directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(m.PrometheusFormat()), 0644); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

func writeHeader(sb *strings.Builder, name, help, typ string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func writeCounter(sb *strings.Builder, c *Counter) {
	writeHeader(sb, c.Name(), c.Help(), "counter")
	writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
}

func writeGauge(sb *strings.Builder, g *Gauge) {
	writeHeader(sb, g.Name(), g.Help(), "gauge")
	writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
}

// writeHistogram writes the buckets, sum and count of h. header is false
// when h is one member of a vector whose header was already written.
func writeHistogram(sb *strings.Builder, h *Histogram, header bool) {
	if header {
		writeHeader(sb, h.Name(), h.Help(), "histogram")
	}

	bounds, counts := h.Buckets()
	for i, le := range bounds {
		writeSample(sb, h.Name()+"_bucket", withLabel(h.Labels(), "le", formatFloat(le)),
			strconv.FormatInt(counts[i], 10))
	}
	writeSample(sb, h.Name()+"_bucket", withLabel(h.Labels(), "le", "+Inf"),
		strconv.FormatInt(counts[len(counts)-1], 10))
	writeSample(sb, h.Name()+"_sum", h.Labels(), formatFloat(h.Sum()))
	writeSample(sb, h.Name()+"_count", h.Labels(), strconv.FormatInt(h.Count(), 10))
}

func writeCounterVec(sb *strings.Builder, cv *CounterVec) {
	counters := cv.GetAll()
	if len(counters) == 0 {
		return
	}
	writeHeader(sb, cv.name, cv.help, "counter")
	for _, c := range counters {
		writeSample(sb, c.Name(), c.Labels(), strconv.FormatInt(c.Value(), 10))
	}
}

func writeGaugeVec(sb *strings.Builder, gv *GaugeVec) {
	gauges := gv.GetAll()
	if len(gauges) == 0 {
		return
	}
	writeHeader(sb, gv.name, gv.help, "gauge")
	for _, g := range gauges {
		writeSample(sb, g.Name(), g.Labels(), formatFloat(g.Value()))
	}
}

func writeHistogramVec(sb *strings.Builder, hv *HistogramVec) {
	hists := hv.GetAll()
	if len(hists) == 0 {
		return
	}
	writeHeader(sb, hv.name, hv.help, "histogram")
	for _, h := range hists {
		writeHistogram(sb, h, false)
	}
}

func writeSample(sb *strings.Builder, name string, labels map[string]string, value string) {
	sb.WriteString(name)
	writeLabels(sb, labels)
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// writeLabels writes labels in Prometheus format {key="value",key2="value2"}.
func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
		sb.WriteString("=\"")
		sb.WriteString(escapeString(labels[k]))
		sb.WriteString("\"")
	}
	sb.WriteString("}")
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// escapeString escapes special characters in label values.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// maxTimerSamples bounds the window used for percentiles.
const maxTimerSamples = 1000

// Metric is a counter or gauge value with its metadata.
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric summarizes recorded durations in milliseconds.
type TimerMetric struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Count       int64             `json:"count"`
	Sum         float64           `json:"sum_ms"`
	Min         float64           `json:"min_ms"`
	Max         float64           `json:"max_ms"`
	Average     float64           `json:"avg_ms"`
	P95         float64           `json:"p95_ms,omitempty"`
	P99         float64           `json:"p99_ms,omitempty"`
	samples     []float64
}

// Snapshot is a point-in-time copy of a registry, safe to encode while the
// registry keeps changing.
type Snapshot struct {
	Counters  map[string]Metric      `json:"counters"`
	Timers    map[string]TimerMetric `json:"timers"`
	Gauges    map[string]Metric      `json:"gauges"`
	UptimeMs  int64                  `json:"uptime_ms"`
	Timestamp int64                  `json:"timestamp"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

// AddToCounter adds value to a counter. Negative values are allowed so the
// same metric can track an in-flight count.
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Metric{
		Name:        name,
		Type:        Counter,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// RecordTimer records a timing measurement
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	durationMs := float64(duration.Nanoseconds()) / 1e6

	timer, exists := r.timers[key]
	if !exists {
		r.timers[key] = &TimerMetric{
			Name:        name,
			Labels:      copyLabels(labels),
			Description: description,
			Count:       1,
			Sum:         durationMs,
			Min:         durationMs,
			Max:         durationMs,
			Average:     durationMs,
			samples:     []float64{durationMs},
		}
		return
	}

	timer.Count++
	timer.Sum += durationMs
	timer.samples = append(timer.samples, durationMs)
	if durationMs < timer.Min {
		timer.Min = durationMs
	}
	if durationMs > timer.Max {
		timer.Max = durationMs
	}
	timer.Average = timer.Sum / float64(timer.Count)

	if len(timer.samples) > maxTimerSamples {
		timer.samples = timer.samples[len(timer.samples)-maxTimerSamples:]
	}
	if len(timer.samples) >= 10 {
		timer.P95 = percentile(timer.samples, 0.95)
		timer.P99 = percentile(timer.samples, 0.99)
	}
}

// SetGauge sets a gauge metric value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[metricKey(name, labels)] = &Metric{
		Name:        name,
		Type:        Gauge,
		Value:       value,
		Labels:      copyLabels(labels),
		Description: description,
		LastUpdate:  time.Now(),
	}
}

// Snapshot copies every metric.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:  make(map[string]Metric, len(r.counters)),
		Timers:    make(map[string]TimerMetric, len(r.timers)),
		Gauges:    make(map[string]Metric, len(r.gauges)),
		UptimeMs:  time.Since(r.startTime).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}
	for key, m := range r.counters {
		snap.Counters[key] = *m
	}
	for key, t := range r.timers {
		c := *t
		c.samples = nil
		snap.Timers[key] = c
	}
	for key, m := range r.gauges {
		snap.Gauges[key] = *m
	}
	return snap
}

// Reset drops all metrics. Uptime keeps counting from the original start.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]*Metric)
	r.timers = make(map[string]*TimerMetric)
	r.gauges = make(map[string]*Metric)
}

// WriteText writes the snapshot in the Prometheus text exposition format.
// Timers are exposed as <name>_ms summaries.
func (s Snapshot) WriteText(w io.Writer) error {
	var b strings.Builder

	writeMetrics := func(metrics map[string]Metric, kind string) {
		for _, group := range groupByName(metrics) {
			first := group[0]
			if first.Description != "" {
				fmt.Fprintf(&b, "# HELP %s %s\n", first.Name, first.Description)
			}
			fmt.Fprintf(&b, "# TYPE %s %s\n", first.Name, kind)
			for _, m := range group {
				fmt.Fprintf(&b, "%s%s %g\n", m.Name, formatLabels(m.Labels, "", ""), m.Value)
			}
		}
	}
	writeMetrics(s.Counters, "counter")
	writeMetrics(s.Gauges, "gauge")

	timerKeys := make([]string, 0, len(s.Timers))
	for k := range s.Timers {
		timerKeys = append(timerKeys, k)
	}
	sort.Strings(timerKeys)
	typed := make(map[string]bool)
	for _, k := range timerKeys {
		t := s.Timers[k]
		name := t.Name + "_ms"
		if !typed[name] {
			fmt.Fprintf(&b, "# TYPE %s summary\n", name)
			typed[name] = true
		}
		if t.Count >= 10 {
			fmt.Fprintf(&b, "%s%s %g\n", name, formatLabels(t.Labels, "quantile", "0.95"), t.P95)
			fmt.Fprintf(&b, "%s%s %g\n", name, formatLabels(t.Labels, "quantile", "0.99"), t.P99)
		}
		fmt.Fprintf(&b, "%s_sum%s %g\n", name, formatLabels(t.Labels, "", ""), t.Sum)
		fmt.Fprintf(&b, "%s_count%s %d\n", name, formatLabels(t.Labels, "", ""), t.Count)
	}

	fmt.Fprintf(&b, "# TYPE process_uptime_ms gauge\nprocess_uptime_ms %d\n", s.UptimeMs)

	_, err := io.WriteString(w, b.String())
	return err
}

func groupByName(metrics map[string]Metric) [][]Metric {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var groups [][]Metric
	index := make(map[string]int)
	for _, k := range keys {
		m := metrics[k]
		i, ok := index[m.Name]
		if !ok {
			i = len(groups)
			index[m.Name] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func formatLabels(labels map[string]string, extraKey, extraValue string) string {
	if len(labels) == 0 && extraKey == "" {
		return ""
	}
	pairs := make([]string, 0, len(labels)+1)
	for _, k := range sortedKeys(labels) {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	if extraKey != "" {
		pairs = append(pairs, fmt.Sprintf("%s=%q", extraKey, extraValue))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// metricKey builds a stable key: labels are sorted so the same label set
// always lands on the same series.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, k := range sortedKeys(labels) {
		fmt.Fprintf(&b, "_%s:%s", k, labels[k])
	}
	return b.String()
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrementCounter increments a counter in the global registry
func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

// AddToCounter adds to a counter in the global registry
func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

// RecordTimer records timing in the global registry
func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

// SetGauge sets a gauge in the global registry
func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

// GetAllMetrics returns a snapshot of the global registry.
func GetAllMetrics() Snapshot {
	return globalRegistry.Snapshot()
}

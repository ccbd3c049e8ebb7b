// Package profiler collects per-operation timings and application metrics for the scan
// pipeline and reports them periodically through slog.
package profiler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultReportInterval is how often a report is logged when none is configured.
	DefaultReportInterval = 10 * time.Second
	// DefaultMaxSamples bounds the rolling window kept per operation and metric.
	DefaultMaxSamples = 240
)

// MetricsCollector is polled once per report for point-in-time metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Options configures a Profiler.
type Options struct {
	// ReportInterval specifies how often to log a report (default: 10s).
	ReportInterval time.Duration
	// MaxSamples specifies how many samples are kept per series (default: 240).
	MaxSamples int
	// Logger receives the reports (default: slog.Default()).
	Logger *slog.Logger
}

// OperationStats summarizes the rolling window of one timed operation.
type OperationStats struct {
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats summarizes the rolling window of one metric.
type MetricStats struct {
	Samples int
	Avg     float64
	Min     float64
	Max     float64
	Last    float64
}

// Report is a snapshot of everything the profiler knows.
type Report struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	NumGC      uint32
	Operations map[string]OperationStats
	Metrics    map[string]MetricStats
}

type timeSeries struct {
	durations []time.Duration
	total     time.Duration
	min       time.Duration
	max       time.Duration
	count     int64
}

type metricSeries struct {
	values []float64
	sum    float64
	min    float64
	max    float64
}

// Profiler tracks operation timings and metrics. A nil *Profiler is valid and records
// nothing, so components can take one optionally.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int
	logger         *slog.Logger

	mu         sync.RWMutex
	startTime  time.Time
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	collectors []MetricsCollector
	operations map[string]*timeSeries
	metrics    map[string]*metricSeries
}

// New creates a profiler with the given options.
//
// Arguments:
// - opts: Configuration options for the profiler.
//
// Returns:
// - A configured Profiler, not yet reporting.
func New(opts Options) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger.With("component", "profiler"),
		startTime:      time.Now(),
		operations:     make(map[string]*timeSeries),
		metrics:        make(map[string]*metricSeries),
	}
}

// Start begins logging a report every report interval until ctx is done or Stop is
// called. Calling Start on a running profiler does nothing.
func (p *Profiler) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.startTime = time.Now()

	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Emit()
			}
		}
	}()
}

// Stop halts reporting and waits for the report goroutine to exit.
func (p *Profiler) Stop() {
	if p == nil {
		return
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// AddMetricsCollector registers a collector polled on every report.
func (p *Profiler) AddMetricsCollector(collector MetricsCollector) {
	if p == nil || collector == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, collector)
}

// RecordMetric records one value of a named metric.
func (p *Profiler) RecordMetric(name string, value float64) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordMetric(name, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track.
//
// Returns:
// - A function to call when the operation completes.
//
// @example
//
//	done := p.StartOperation("decode")
//	detections, err := reg.Decode(ctx, frame)
//	done()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records one completed run of an operation.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.operations[name]
	if !ok {
		s = &timeSeries{
			durations: make([]time.Duration, 0, p.maxSamples),
			min:       d,
			max:       d,
		}
		p.operations[name] = s
	}

	s.durations = append(s.durations, d)
	s.total += d
	if len(s.durations) > p.maxSamples {
		s.total -= s.durations[0]
		s.durations = s.durations[1:]
	}
	s.count++

	if d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
}

// Collect polls every registered collector and records what they return.
func (p *Profiler) Collect() {
	if p == nil {
		return
	}

	p.mu.RLock()
	collectors := append([]MetricsCollector(nil), p.collectors...)
	p.mu.RUnlock()

	// Collectors may take their own locks; call them without holding ours.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, metrics := range collected {
		for name, value := range metrics {
			p.recordMetric(name, value)
		}
	}
}

// Snapshot returns the current statistics without logging them.
func (p *Profiler) Snapshot() Report {
	if p == nil {
		return Report{}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.RLock()
	defer p.mu.RUnlock()

	r := Report{
		Uptime:     time.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		Operations: make(map[string]OperationStats, len(p.operations)),
		Metrics:    make(map[string]MetricStats, len(p.metrics)),
	}

	for name, s := range p.operations {
		if len(s.durations) == 0 {
			continue
		}
		r.Operations[name] = OperationStats{
			Count: s.count,
			Avg:   s.total / time.Duration(len(s.durations)),
			Min:   s.min,
			Max:   s.max,
		}
	}

	for name, s := range p.metrics {
		if len(s.values) == 0 {
			continue
		}
		r.Metrics[name] = MetricStats{
			Samples: len(s.values),
			Avg:     s.sum / float64(len(s.values)),
			Min:     s.min,
			Max:     s.max,
			Last:    s.values[len(s.values)-1],
		}
	}

	return r
}

// Emit collects metrics and logs one report.
func (p *Profiler) Emit() {
	if p == nil {
		return
	}

	p.Collect()
	r := p.Snapshot()

	p.logger.Info("runtime report",
		"uptime", r.Uptime.Truncate(time.Millisecond),
		"goroutines", r.Goroutines,
		"heap", formatBytes(r.HeapAlloc),
		"gc_cycles", r.NumGC,
	)

	for _, name := range sortedKeys(r.Operations) {
		s := r.Operations[name]
		p.logger.Info("operation timing",
			"operation", name,
			"avg", s.Avg.Truncate(time.Microsecond),
			"min", s.Min.Truncate(time.Microsecond),
			"max", s.Max.Truncate(time.Microsecond),
			"count", s.Count,
		)
	}

	for _, name := range sortedKeys(r.Metrics) {
		s := r.Metrics[name]
		p.logger.Info("metric",
			"metric", name,
			"last", s.Last,
			"avg", fmt.Sprintf("%.2f", s.Avg),
			"min", s.Min,
			"max", s.Max,
			"samples", s.Samples,
		)
	}
}

// recordMetric appends to a metric series. Callers hold p.mu.
func (p *Profiler) recordMetric(name string, value float64) {
	s, ok := p.metrics[name]
	if !ok {
		s = &metricSeries{
			values: make([]float64, 0, p.maxSamples),
			min:    value,
			max:    value,
		}
		p.metrics[name] = s
	}

	s.values = append(s.values, value)
	s.sum += value
	if len(s.values) > p.maxSamples {
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}

	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package logx

import (
	"fmt"
	"sync"
	"time"
)

// PerformanceLogger tracks timing of repeated operations such as store scans
type PerformanceLogger struct {
	logger        *Logger
	slowThreshold time.Duration
	metrics       map[string]*PerformanceMetric
	mu            sync.Mutex
}

// PerformanceMetric aggregates timings for one named operation
type PerformanceMetric struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	ErrorCount    int64         `json:"error_count"`
	Items         int64         `json:"items"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
}

// AvgDuration returns the mean duration, or zero before the first run
func (m PerformanceMetric) AvgDuration() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Count)
}

// SuccessRate returns the percentage of runs without error
func (m PerformanceMetric) SuccessRate() float64 {
	if m.Count == 0 {
		return 100
	}
	return float64(m.Count-m.ErrorCount) / float64(m.Count) * 100
}

// Operation is a single timed run, finished with Complete
type Operation struct {
	name   string
	start  time.Time
	items  int64
	parent *PerformanceLogger
}

// NewPerformanceLogger creates a performance logger; runs slower than slowThreshold are logged at info.
func NewPerformanceLogger(logger *Logger, slowThreshold time.Duration) *PerformanceLogger {
	if slowThreshold <= 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &PerformanceLogger{
		logger:        logger,
		slowThreshold: slowThreshold,
		metrics:       make(map[string]*PerformanceMetric),
	}
}

// StartOperation starts timing a named operation
func (pl *PerformanceLogger) StartOperation(name string) *Operation {
	return &Operation{name: name, start: time.Now(), parent: pl}
}

// AddItems counts processed items (points, waypoints) for the run
func (op *Operation) AddItems(n int) {
	op.items += int64(n)
}

// Complete records the run
func (op *Operation) Complete(err error) {
	duration := time.Since(op.start)
	pl := op.parent

	pl.mu.Lock()
	metric, ok := pl.metrics[op.name]
	if !ok {
		metric = &PerformanceMetric{Name: op.name}
		pl.metrics[op.name] = metric
	}
	metric.Count++
	metric.Items += op.items
	metric.TotalDuration += duration
	metric.LastExecuted = time.Now()
	if duration > metric.MaxDuration {
		metric.MaxDuration = duration
	}
	if err != nil {
		metric.ErrorCount++
	}
	snapshot := *metric
	pl.mu.Unlock()

	if err != nil {
		pl.logger.Warn("operation failed",
			"operation", op.name,
			"duration", duration.String(),
			"items", op.items,
			"error", err,
			"success_rate", fmt.Sprintf("%.2f%%", snapshot.SuccessRate()),
		)
		return
	}
	if duration > pl.slowThreshold {
		pl.logger.Info("slow operation",
			"operation", op.name,
			"duration", duration.String(),
			"items", op.items,
			"avg_duration", snapshot.AvgDuration().String(),
		)
	}
}

// GetMetric returns a copy of a metric, or nil if the operation never ran
func (pl *PerformanceLogger) GetMetric(name string) *PerformanceMetric {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if metric, ok := pl.metrics[name]; ok {
		m := *metric
		return &m
	}
	return nil
}

// LogMetrics logs a summary line per operation
func (pl *PerformanceLogger) LogMetrics() {
	pl.mu.Lock()
	snapshot := make([]PerformanceMetric, 0, len(pl.metrics))
	for _, m := range pl.metrics {
		snapshot = append(snapshot, *m)
	}
	pl.mu.Unlock()

	for _, m := range snapshot {
		pl.logger.Info("operation summary",
			"operation", m.Name,
			"count", m.Count,
			"items", m.Items,
			"avg_duration", m.AvgDuration().String(),
			"max_duration", m.MaxDuration.String(),
			"success_rate", fmt.Sprintf("%.2f%%", m.SuccessRate()),
		)
	}
}

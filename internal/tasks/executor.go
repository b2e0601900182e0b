package tasks

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/stone-age-io/telemetry-agent/internal/utils"
	"go.uber.org/zap"
)

// Executor performs service/task verification and tracks agent self statistics
type Executor struct {
	logger        *zap.Logger
	stats         *ExecutorStats
	listProcesses func(ctx context.Context) ([]string, error)
}

// ExecutorStats tracks loop and verification statistics for self-monitoring
type ExecutorStats struct {
	mu                sync.RWMutex
	startTime         time.Time
	iterations        int64
	iterationFailures int64
	deliveries        int64
	deliveryFailures  int64
	verifications     int64
	lastIteration     time.Time
	lastDelivery      time.Time
	lastVerification  time.Time
	lastError         string
	lastErrorTime     time.Time
}

// AgentMetrics represents agent self-monitoring metrics
type AgentMetrics struct {
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
	Goroutines        int     `json:"goroutines"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	Iterations        int64   `json:"iterations"`
	IterationFailures int64   `json:"iteration_failures"`
	Deliveries        int64   `json:"deliveries"`
	DeliveryFailures  int64   `json:"delivery_failures"`
	Verifications     int64   `json:"verifications"`
	LastIteration     string  `json:"last_iteration,omitempty"`
	LastDelivery      string  `json:"last_delivery,omitempty"`
	LastVerification  string  `json:"last_verification,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorTime     string  `json:"last_error_time,omitempty"`
}

// NewExecutor creates a new executor
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:        logger,
		stats:         &ExecutorStats{startTime: time.Now()},
		listProcesses: processNames,
	}
}

// GetAgentMetrics returns current agent performance metrics
func (e *Executor) GetAgentMetrics() *AgentMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	metrics := &AgentMetrics{
		// mem.Sys is the full process footprint
		MemoryUsageMB:     utils.Round(float64(mem.Sys) / 1024 / 1024),
		Goroutines:        runtime.NumGoroutine(),
		UptimeSeconds:     int64(time.Since(e.stats.startTime).Seconds()),
		Iterations:        e.stats.iterations,
		IterationFailures: e.stats.iterationFailures,
		Deliveries:        e.stats.deliveries,
		DeliveryFailures:  e.stats.deliveryFailures,
		Verifications:     e.stats.verifications,
	}

	if !e.stats.lastIteration.IsZero() {
		metrics.LastIteration = e.stats.lastIteration.UTC().Format(time.RFC3339)
	}
	if !e.stats.lastDelivery.IsZero() {
		metrics.LastDelivery = e.stats.lastDelivery.UTC().Format(time.RFC3339)
	}
	if !e.stats.lastVerification.IsZero() {
		metrics.LastVerification = e.stats.lastVerification.UTC().Format(time.RFC3339)
	}
	if !e.stats.lastErrorTime.IsZero() {
		metrics.LastError = e.stats.lastError
		metrics.LastErrorTime = e.stats.lastErrorTime.UTC().Format(time.RFC3339)
	}

	return metrics
}

// RecordIteration records a completed loop iteration.
// A nil err means the iteration reached the delivery step.
func (e *Executor) RecordIteration(err error) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	e.stats.iterations++
	e.stats.lastIteration = time.Now()
	if err != nil {
		e.stats.iterationFailures++
		e.stats.lastError = err.Error()
		e.stats.lastErrorTime = time.Now()
	}
}

// RecordDelivery records the outcome of a delivery attempt
func (e *Executor) RecordDelivery(err error) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	e.stats.deliveries++
	e.stats.lastDelivery = time.Now()
	if err != nil {
		e.stats.deliveryFailures++
		e.stats.lastError = err.Error()
		e.stats.lastErrorTime = time.Now()
	}
}

// RecordVerification records a verification run
func (e *Executor) RecordVerification() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.verifications++
	e.stats.lastVerification = time.Now()
}

// Package scheduler drives the collect-build-deliver loop and the auxiliary
// ledger jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/telemetry-agent/internal/delivery"
	"github.com/stone-age-io/telemetry-agent/internal/payload"
	"github.com/stone-age-io/telemetry-agent/internal/tasks"
	"go.uber.org/zap"
)

// Deliverer posts one payload and classifies the outcome
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, p *payload.Payload) *delivery.Result
}

// Iteration describes one pass of the loop
type Iteration struct {
	Payload *payload.Payload // nil when collection failed
	Result  *delivery.Result // nil when nothing was delivered
	Err     error            // collection error or delivery error
}

// LoopConfig holds the loop collaborators. Executor, Capturer, Logger and
// Clock are optional.
type LoopConfig struct {
	Collector tasks.MetricsCollector
	Capturer  tasks.DisplayCapturer
	Builder   *payload.Builder
	Client    Deliverer
	Executor  *tasks.Executor
	Settings  payload.Settings
	Endpoint  string
	Interval  time.Duration
	Logger    *zap.Logger
	Clock     clockwork.Clock
}

// Loop runs strictly sequential iterations separated by a fixed interval
type Loop struct {
	collector tasks.MetricsCollector
	capturer  tasks.DisplayCapturer
	builder   *payload.Builder
	client    Deliverer
	executor  *tasks.Executor
	settings  payload.Settings
	endpoint  string
	interval  time.Duration
	logger    *zap.Logger
	clock     clockwork.Clock
}

// NewLoop validates cfg and creates a loop
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Collector == nil {
		return nil, fmt.Errorf("metrics collector is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("delivery client is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Capturer == nil {
		cfg.Capturer = tasks.DisabledCapturer{}
	}
	if cfg.Builder == nil {
		cfg.Builder = payload.NewBuilder(cfg.Logger)
	}
	if cfg.Executor == nil {
		cfg.Executor = tasks.NewExecutor(cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Loop{
		collector: cfg.Collector,
		capturer:  cfg.Capturer,
		builder:   cfg.Builder,
		client:    cfg.Client,
		executor:  cfg.Executor,
		settings:  cfg.Settings,
		endpoint:  cfg.Endpoint,
		interval:  cfg.Interval,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}, nil
}

// Run repeats RunOnce, waiting exactly one interval after each iteration,
// until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Agent loop started",
		zap.Duration("interval", l.interval),
		zap.String("endpoint", l.endpoint),
		zap.String("source", l.collector.Name()))

	for {
		l.runSafely(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("Agent loop stopped")
			return ctx.Err()
		case <-l.clock.After(l.interval):
		}
	}
}

// runSafely keeps a panicking iteration from ending the loop
func (l *Loop) runSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in agent loop",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			l.executor.RecordIteration(fmt.Errorf("iteration panicked: %v", r))
		}
	}()

	l.RunOnce(ctx)
}

// RunOnce performs collect, capture, build and deliver once.
// Every outcome is logged; errors are returned in the Iteration, never raised.
func (l *Loop) RunOnce(ctx context.Context) *Iteration {
	it := &Iteration{}

	snapshot, err := l.collector.Collect(ctx)
	if err == nil {
		err = tasks.ValidateSnapshot(snapshot)
	}
	if err != nil {
		it.Err = fmt.Errorf("collect metrics: %w", err)
		l.logger.Error("Failed to collect metrics, skipping iteration",
			zap.String("source", l.collector.Name()),
			zap.Error(err))
		l.executor.RecordIteration(it.Err)
		return it
	}

	for _, detail := range tasks.ClampSnapshot(snapshot) {
		l.logger.Warn("Adjusted inconsistent reading", zap.String("detail", detail))
	}

	img, err := l.capturer.CapturePrimary(ctx)
	switch {
	case err == nil:
		snapshot.Display = img
	case errors.Is(err, tasks.ErrCaptureDisabled):
	default:
		l.logger.Warn("Display capture failed, sending empty image", zap.Error(err))
	}

	it.Payload = l.builder.Build(snapshot, l.settings)
	it.Result = l.client.Deliver(ctx, l.endpoint, it.Payload)
	it.Err = it.Result.Err

	l.logResult(it.Result)
	l.executor.RecordDelivery(it.Result.Err)
	l.executor.RecordIteration(nil)

	return it
}

func (l *Loop) logResult(r *delivery.Result) {
	switch r.Outcome {
	case delivery.OutcomeSuccess:
		l.logger.Info("Payload delivered",
			zap.Int("status", r.StatusCode),
			zap.String("body", r.Body),
			zap.Duration("duration", r.Duration))
	case delivery.OutcomeApplicationFailure:
		l.logger.Error("Endpoint rejected payload",
			zap.Int("status", r.StatusCode),
			zap.String("body", r.Body),
			zap.Duration("duration", r.Duration))
	case delivery.OutcomeEncodingFailure:
		l.logger.Error("Payload could not be encoded, sample dropped",
			zap.Error(r.Err))
	default:
		l.logger.Error("Payload delivery failed",
			zap.Error(r.Err),
			zap.Duration("duration", r.Duration))
	}
}

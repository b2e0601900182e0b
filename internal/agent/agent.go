package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/stone-age-io/telemetry-agent/internal/config"
	"github.com/stone-age-io/telemetry-agent/internal/delivery"
	"github.com/stone-age-io/telemetry-agent/internal/ledger"
	natsclient "github.com/stone-age-io/telemetry-agent/internal/nats"
	"github.com/stone-age-io/telemetry-agent/internal/payload"
	"github.com/stone-age-io/telemetry-agent/internal/scheduler"
	"github.com/stone-age-io/telemetry-agent/internal/tasks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Agent wires configuration, ledger, loop, scheduler and control plane
type Agent struct {
	config    *config.Config
	logger    *zap.Logger
	store     *ledger.Store
	loop      *scheduler.Loop
	scheduler *scheduler.Scheduler
	nats      *natsclient.Client
	agentID   string
	version   string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates a new agent instance
func New(configPath string, version string) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return NewWithConfig(cfg, logger, version)
}

// NewWithConfig creates an agent from an already loaded configuration
func NewWithConfig(cfg *config.Config, logger *zap.Logger, version string) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store, err := ledger.Open(cfg.Ledger.Backend, cfg.Ledger.Path, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	id, err := store.EnsureCreated(ctx)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("failed to initialize ledger %s: %w", cfg.Ledger.Path, err)
	}
	agentID := id.String()

	logger.Info("Starting telemetry-agent",
		zap.String("version", version),
		zap.String("agent_id", agentID),
		zap.String("ledger", cfg.Ledger.Path))

	executor := tasks.NewExecutor(logger)

	collector, err := tasks.NewMetricsCollector(
		cfg.Metrics.Source,
		cfg.Metrics.ExporterURL,
		cfg.IntervalDuration(),
		logger,
		tasks.NewHTTPClient(cfg.Metrics.Timeout),
	)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	client := delivery.NewClient(delivery.Options{
		Timeout:   cfg.Delivery.Timeout,
		Encoding:  payload.Encoding(cfg.Delivery.Encoding),
		UserAgent: "telemetry-agent/" + version,
	}, logger)

	loop, err := scheduler.NewLoop(scheduler.LoopConfig{
		Collector: collector,
		Capturer:  tasks.NewDisplayCapturer(cfg.Metrics.CaptureDisplay, logger),
		Builder:   payload.NewBuilder(logger),
		Client:    client,
		Executor:  executor,
		Settings: payload.Settings{
			Credential:      cfg.Credential,
			IntervalSeconds: cfg.Interval,
			AgentID:         agentID,
		},
		Endpoint: cfg.Endpoint,
		Interval: cfg.IntervalDuration(),
		Logger:   logger,
	})
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("failed to create agent loop: %w", err)
	}

	schedOpts := scheduler.Options{CompactInterval: cfg.Ledger.CompactInterval}
	if cfg.Verification.Enabled {
		schedOpts.VerifyInterval = cfg.Verification.Interval
	}
	sched, err := scheduler.New(ctx, logger, store, executor, schedOpts)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	a := &Agent{
		config:    cfg,
		logger:    logger,
		store:     store,
		loop:      loop,
		scheduler: sched,
		agentID:   agentID,
		version:   version,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Control.Enabled {
		a.startControlPlane(store, sched, executor)
	}

	return a, nil
}

// startControlPlane connects to NATS and subscribes to commands.
// Failures are logged: the telemetry loop runs without a control plane.
func (a *Agent) startControlPlane(store *ledger.Store, sched *scheduler.Scheduler, executor *tasks.Executor) {
	natsClient, err := natsclient.NewClient(&a.config.Control, a.logger)
	if err != nil {
		a.logger.Error("Control plane unavailable, continuing without it", zap.Error(err))
		return
	}

	handlers := natsclient.NewCommandHandlers(
		a.logger,
		a.agentID,
		a.config.Control.SubjectPrefix,
		store,
		sched,
		executor,
		natsClient,
		a.version,
	)

	if err := handlers.SubscribeAll(natsClient); err != nil {
		a.logger.Error("Failed to subscribe to commands, continuing without control plane", zap.Error(err))
		natsClient.Close()
		return
	}

	sched.SetPublisher(handlers)
	a.nats = natsClient
}

// AgentID returns the persisted agent identity
func (a *Agent) AgentID() string {
	return a.agentID
}

// Start launches the scheduler and the agent loop without blocking
func (a *Agent) Start() {
	a.scheduler.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.loop.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Agent loop exited", zap.Error(err))
		}
	}()

	a.logger.Info("Agent running",
		zap.String("agent_id", a.agentID),
		zap.String("version", a.version))
}

// Run starts the agent and blocks until a shutdown signal
func (a *Agent) Run() error {
	a.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled")
	}

	return a.Shutdown()
}

// Shutdown stops the loop and scheduler, drains NATS and closes the ledger.
// Safe to call more than once.
func (a *Agent) Shutdown() error {
	var errs []error

	a.stopOnce.Do(func() {
		a.logger.Info("Shutting down agent gracefully")

		a.cancel()
		a.wg.Wait()

		if err := a.scheduler.Shutdown(); err != nil {
			a.logger.Error("Error shutting down scheduler", zap.Error(err))
			errs = append(errs, err)
		}

		if a.nats != nil {
			if err := a.nats.Drain(a.config.Control.DrainTimeout); err != nil {
				a.logger.Error("Error draining NATS", zap.Error(err))
			}
		}

		if err := a.store.Close(); err != nil {
			a.logger.Error("Error closing ledger", zap.Error(err))
			errs = append(errs, err)
		}

		a.logger.Info("Agent shutdown complete")
		_ = a.logger.Sync()
	})

	return errors.Join(errs...)
}

// initLogger creates the logger: JSON to a rotated file plus console output
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	}

	if cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

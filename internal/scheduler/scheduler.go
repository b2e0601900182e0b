package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/telemetry-agent/internal/ledger"
	"github.com/stone-age-io/telemetry-agent/internal/tasks"
	"go.uber.org/zap"
)

// Ledger is the part of the ledger store the background jobs need
type Ledger interface {
	Load(ctx context.Context) (*ledger.Record, error)
	Compact(ctx context.Context) error
}

// Verifier checks services and tasks
type Verifier interface {
	Verify(ctx context.Context, agentID string, services, tasks []string) (*tasks.VerificationReport, error)
}

// ReportPublisher forwards verification reports, e.g. to NATS
type ReportPublisher interface {
	PublishReport(report *tasks.VerificationReport) error
}

// Options configures the background jobs. A zero interval disables the job.
type Options struct {
	VerifyInterval  time.Duration
	CompactInterval time.Duration
	Clock           clockwork.Clock
}

// Scheduler runs ledger verification and compaction on gocron
type Scheduler struct {
	scheduler gocron.Scheduler
	ledger    Ledger
	verifier  Verifier
	publisher ReportPublisher
	logger    *zap.Logger
	ctx       context.Context
}

// New creates the scheduler and registers its jobs. ctx bounds every job run.
func New(ctx context.Context, logger *zap.Logger, store Ledger, verifier Verifier, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	schedOpts := []gocron.SchedulerOption{}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, gocron.WithClock(opts.Clock))
	}

	s, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	sched := &Scheduler{
		scheduler: s,
		ledger:    store,
		verifier:  verifier,
		logger:    logger,
		ctx:       ctx,
	}

	if opts.VerifyInterval > 0 && verifier != nil {
		if _, err := s.NewJob(
			gocron.DurationJob(opts.VerifyInterval),
			gocron.NewTask(sched.verifyJob),
			gocron.WithName("verify"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		); err != nil {
			return nil, fmt.Errorf("failed to schedule verify job: %w", err)
		}
		logger.Info("Scheduled verification", zap.Duration("interval", opts.VerifyInterval))
	}

	if opts.CompactInterval > 0 {
		if _, err := s.NewJob(
			gocron.DurationJob(opts.CompactInterval),
			gocron.NewTask(sched.compactJob),
			gocron.WithName("compact"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("failed to schedule compact job: %w", err)
		}
		logger.Info("Scheduled ledger compaction", zap.Duration("interval", opts.CompactInterval))
	}

	return sched, nil
}

// SetPublisher attaches a report publisher. Reports are only logged without one.
func (s *Scheduler) SetPublisher(p ReportPublisher) {
	s.publisher = p
}

// JobNames lists the registered jobs
func (s *Scheduler) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running the scheduled jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// RunVerification reads the ledger lists and checks every entry
func (s *Scheduler) RunVerification(ctx context.Context) (*tasks.VerificationReport, error) {
	if s.verifier == nil {
		return nil, fmt.Errorf("verification is not configured")
	}

	rec, err := s.ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	report, err := s.verifier.Verify(ctx, rec.AgentID.String(), rec.Services, rec.Tasks)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	return report, nil
}

func (s *Scheduler) verifyJob() {
	report, err := s.RunVerification(s.ctx)
	if err != nil {
		s.logger.Error("Scheduled verification failed", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Int("services", len(report.Services)),
		zap.Int("tasks", len(report.Tasks)),
	}
	if report.Healthy() {
		s.logger.Info("Verification passed", fields...)
	} else {
		s.logger.Warn("Verification found stopped entries",
			append(fields,
				zap.Any("service_statuses", report.Services),
				zap.Any("task_statuses", report.Tasks))...)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishReport(report); err != nil {
			s.logger.Warn("Failed to publish verification report", zap.Error(err))
		}
	}
}

func (s *Scheduler) compactJob() {
	if err := s.ledger.Compact(s.ctx); err != nil {
		s.logger.Error("Ledger compaction failed", zap.Error(err))
	}
}

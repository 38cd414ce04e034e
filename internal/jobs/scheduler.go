package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultLeaseTTL = 5 * time.Minute

// Leaser hands out named, expiring leases so only one replica runs a job.
type Leaser interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name string) error
}

// Schedule maps job names to cron expressions. Empty expressions are
// skipped.
type Schedule map[string]string

// Scheduler drives a Runner from cron expressions.
type Scheduler struct {
	runner   *Runner
	leases   Leaser
	cron     *cron.Cron
	leaseTTL time.Duration
	logger   *zap.SugaredLogger
}

func NewScheduler(runner *Runner, leases Leaser, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		leases:   leases,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		leaseTTL: defaultLeaseTTL,
		logger:   logger,
	}
}

// Start registers the schedule and starts the cron loop. Jobs run with ctx
// and stop being scheduled once Stop is called.
func (s *Scheduler) Start(ctx context.Context, schedule Schedule) error {
	for job, spec := range schedule {
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx, job) }); err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", job, err)
		}
		s.logger.Infow("Job scheduled", "job", job, "cron", spec)
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(ctx context.Context, job string) {
	if ctx.Err() != nil {
		return
	}

	if s.leases != nil {
		ok, err := s.leases.AcquireLease(ctx, job, s.leaseTTL)
		if err != nil {
			s.logger.Warnw("Job lease unavailable, skipping run", "job", job, "error", err)
			return
		}
		if !ok {
			s.logger.Debugw("Job already running elsewhere", "job", job)
			return
		}
		defer func() {
			if err := s.leases.ReleaseLease(context.WithoutCancel(ctx), job); err != nil {
				s.logger.Warnw("Failed to release job lease", "job", job, "error", err)
			}
		}()
	}

	start := time.Now()
	if err := s.runner.Run(ctx, job); err != nil {
		s.logger.Errorw("Scheduled job failed", "job", job, "error", err)
		return
	}
	s.logger.Infow("Scheduled job finished", "job", job, "duration", time.Since(start))
}

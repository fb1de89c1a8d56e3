package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/cache"
	"github.com/smallbiznis/billingschedule/internal/clock"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingschedule/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	InvoiceSvc    invoicedomain.Service
	CollectionSvc collectiondomain.Service
	Locks         *cache.JobLocks `optional:"true"`
	Config        Config          `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	invoiceSvc    invoicedomain.Service
	collectionSvc collectiondomain.Service
	locks         *cache.JobLocks

	mu             sync.Mutex
	lastMetricsRun time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil || p.CollectionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		invoiceSvc:    p.InvoiceSvc,
		collectionSvc: p.CollectionSvc,
		locks:         p.Locks,
	}, nil
}

// runJob runs fn under a deadline. Hitting the deadline is not an error: the
// next tick resumes from whatever the database already holds.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, r, owner := s.beginRun(ctx, name, batchSize)
	err := fn(ctx)
	obsmetrics.Jobs().ObserveRun(name, time.Since(r.started), err)
	if owner {
		if err != nil && r.failed == 0 {
			r.failed++
		}
		r.finish()
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		r.log.Warn("scheduler.job.timeout", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("%s: %w", name, err)
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobMaterializeDue, s.isJobEnabled(JobMaterializeDue), func(ctx context.Context) error {
			return s.runJob(ctx, JobMaterializeDue, s.cfg.BatchSize, s.cfg.MaterializeTimeout, s.MaterializeDueJob)
		}},
		{JobRecalculateMetrics, s.isJobEnabled(JobRecalculateMetrics) && s.metricsDue(), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecalculateMetrics, 0, s.cfg.MetricsTimeout, s.RecalculateMetricsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	due := time.Now()
	for {
		obsmetrics.Jobs().ObserveLoopLag(time.Since(due))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler.run.failed", zap.Error(err))
		}
		due = due.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) metricsDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastMetricsRun.IsZero() {
		return true
	}
	return !s.clock.Now().Before(s.lastMetricsRun.Add(s.cfg.MetricsInterval))
}

func (s *Scheduler) markMetricsRun(at time.Time) {
	s.mu.Lock()
	s.lastMetricsRun = at
	s.mu.Unlock()
}

// MaterializeDueJob turns every auto-generated entry due today or earlier into an invoice.
func (s *Scheduler) MaterializeDueJob(ctx context.Context) error {
	ctx, r, owner := s.beginRun(ctx, JobMaterializeDue, s.cfg.BatchSize)
	if owner {
		defer r.finish()
	}

	return s.withLock(ctx, r, func(ctx context.Context) error {
		report, err := s.invoiceSvc.RunDueBatch(ctx, clock.Today(s.clock))
		if report != nil {
			r.recordReport("scheduled_invoice", len(report.Succeeded), report.Skipped)
		}
		r.fail("scheduler.batch.failed", JobMaterializeDue, err)
		return err
	})
}

// RecalculateMetricsJob refreshes every collection snapshot. The interval
// clock only advances on success, so a failed run is retried next tick.
func (s *Scheduler) RecalculateMetricsJob(ctx context.Context) error {
	ctx, r, owner := s.beginRun(ctx, JobRecalculateMetrics, 0)
	if owner {
		defer r.finish()
	}

	return s.withLock(ctx, r, func(ctx context.Context) error {
		report, err := s.collectionSvc.RecalculateAll(ctx)
		if report != nil {
			r.recordReport("collection_snapshot", len(report.Succeeded), report.Skipped)
		}
		if err != nil {
			r.fail("scheduler.batch.failed", JobRecalculateMetrics, err)
			return err
		}
		s.markMetricsRun(s.clock.Now())
		return nil
	})
}

// withLock serializes a job across replicas when redis is configured. A held
// lease means another replica is running the job, so this tick does nothing.
// The lease is kept alive while fn runs; losing it is logged, and fn carries on
// since materialization stays exactly-once without it.
func (s *Scheduler) withLock(ctx context.Context, r *run, fn func(context.Context) error) error {
	if s.locks == nil {
		return fn(ctx)
	}
	lease, ok, err := s.locks.Acquire(ctx, r.job, s.cfg.LockTTL)
	if err != nil {
		r.log.Warn("scheduler.lock.unavailable", zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		r.log.Info("scheduler.lock.held", zap.String("lock_key", cache.JobLockKey(r.job)))
		return nil
	}
	lease.KeepAlive(ctx, func(err error) {
		r.log.Warn("scheduler.lock.lost", zap.String("lock_key", lease.Key), zap.Error(err))
	})
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("scheduler.lock.release_failed", zap.Error(err))
		}
	}()
	return fn(ctx)
}

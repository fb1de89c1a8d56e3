package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/billingschedule/internal/batch"
	obscontext "github.com/smallbiznis/billingschedule/internal/observability/context"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingschedule/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// run is one execution of a job. It travels in the context so that runJob and
// the job body it wraps share a single run id and one set of counters.
type run struct {
	job       string
	id        string
	batchSize int
	started   time.Time
	log       *zap.Logger

	processed int
	skipped   int
	failed    int
}

type runKey struct{}

// beginRun starts a run unless ctx already carries one. owner reports whether
// the caller started it and so must call finish.
func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (_ context.Context, r *run, owner bool) {
	if existing, ok := ctx.Value(runKey{}).(*run); ok {
		return ctx, existing, false
	}

	id := s.genID.Generate().String()
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx = obscontext.WithRun(ctx, job, id)
	r = &run{
		job:       job,
		id:        id,
		batchSize: batchSize,
		started:   time.Now(),
		log:       obslogger.WithContext(ctx, s.log),
	}
	r.log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))
	return context.WithValue(ctx, runKey{}, r), r, true
}

func (r *run) finish() {
	level := zapcore.InfoLevel
	if r.failed > 0 {
		level = zapcore.WarnLevel
	}
	if ce := r.log.Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(
			zap.Int64("duration_ms", time.Since(r.started).Milliseconds()),
			zap.Int("processed_count", r.processed),
			zap.Int("skipped_count", r.skipped),
			zap.Int("error_count", r.failed),
		)
	}
}

// fail logs err against ref and counts it toward the run's error_count.
func (r *run) fail(msg, ref string, err error) {
	if err == nil {
		return
	}
	r.failed++
	class := obsmetrics.ClassifyJobError(err)
	r.log.Error(msg,
		zap.String("ref", ref),
		zap.String("error_type", class.Type),
		zap.Bool("retryable", class.Retryable),
		zap.Error(err),
	)
}

// recordReport folds a batch report into the run and the job metrics. Item
// failures are logged one by one; other skip reasons are only counted.
func (r *run) recordReport(resource string, succeeded int, skipped []batch.Skip) {
	jobs := obsmetrics.Jobs()
	r.processed += succeeded
	r.skipped += len(skipped)
	jobs.AddProcessed(r.job, resource, succeeded)

	byReason := make(map[batch.SkipReason]int, len(skipped))
	for _, skip := range skipped {
		byReason[skip.Reason]++
		if skip.Reason == batch.SkipItemFailure {
			r.fail("scheduler.item.failed", skip.Ref, skip.Err)
		}
	}
	for reason, n := range byReason {
		jobs.AddSkipped(r.job, string(reason), n)
	}
}

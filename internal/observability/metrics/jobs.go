package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"gorm.io/gorm"
)

// Error types, used as a log field.
const (
	ErrorTypeTimeout      = "timeout"
	ErrorTypeDB           = "db"
	ErrorTypeBusinessRule = "business_rule"
)

// Error reasons, used as the reason label of billingschedule_job_errors_total.
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

// Row-lock resources timed by ObserveLockWait.
const (
	LockScheduledInvoice = "scheduled_invoice"
	LockInvoiceSequence  = "invoice_sequence"
	LockSnapshot         = "collection_snapshot"
)

// JobMetrics are the prometheus series for materialization and metrics runs.
type JobMetrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	timeouts  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	processed *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	loopLag   prometheus.Histogram
	lockWait  *prometheus.HistogramVec
}

var (
	jobsOnce sync.Once
	jobs     *JobMetrics
)

// Jobs returns the process-wide job metrics, registering them on first use.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig is Jobs with service/env const labels taken from cfg. Only
// the first call's cfg is used.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobsOnce.Do(func() {
		jobs = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobs
}

// ResetJobsForTest forgets the registered singleton.
func ResetJobsForTest() {
	jobsOnce = sync.Once{}
	jobs = nil
}

var (
	durationBuckets = []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600, 1800}
	lagBuckets      = []float64{0.1, 1, 5, 30, 60, 300, 900}
	lockBuckets     = []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30}
)

func newJobMetrics(reg prometheus.Registerer, cfg Config) *JobMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{
		"service": orDefault(cfg.ServiceName, "billingschedule"),
		"env":     orDefault(cfg.Environment, "unknown"),
	}
	counter := func(name, help string, vars ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billingschedule_" + name, Help: help, ConstLabels: labels,
		}, vars)
	}
	histogram := func(name, help string, buckets []float64, vars ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "billingschedule_" + name, Help: help, Buckets: buckets, ConstLabels: labels,
		}, vars)
	}

	m := &JobMetrics{
		runs:      counter("job_runs_total", "Scheduler job runs.", "job"),
		duration:  histogram("job_duration_seconds", "Scheduler job wall time.", durationBuckets, "job"),
		timeouts:  counter("job_timeouts_total", "Scheduler jobs stopped by their deadline.", "job"),
		errors:    counter("job_errors_total", "Scheduler job failures by reason.", "job", "reason"),
		processed: counter("batch_processed_total", "Batch items completed.", "job", "resource"),
		skipped:   counter("batch_skipped_total", "Batch items skipped by skip reason.", "job", "reason"),
		loopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "billingschedule_runloop_lag_seconds",
			Help:        "Delay between a scheduled tick and the run starting.",
			Buckets:     lagBuckets,
			ConstLabels: labels,
		}),
		lockWait: histogram("db_lock_wait_seconds", "Time spent waiting on SELECT ... FOR UPDATE.", lockBuckets, "resource"),
	}
	reg.MustRegister(m.runs, m.duration, m.timeouts, m.errors, m.processed, m.skipped, m.loopLag, m.lockWait)
	return m
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value == "" {
		return def
	}
	return value
}

// ObserveRun records one finished job run. A nil err only counts the run.
func (m *JobMetrics) ObserveRun(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	class := ClassifyJobError(err)
	if class.Type == ErrorTypeTimeout {
		m.timeouts.WithLabelValues(job).Inc()
	}
	m.errors.WithLabelValues(job, class.Reason).Inc()
}

func (m *JobMetrics) AddProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.processed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *JobMetrics) AddSkipped(job, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.skipped.WithLabelValues(job, reason).Add(float64(count))
}

func (m *JobMetrics) ObserveLoopLag(lag time.Duration) {
	if m == nil || lag <= 0 {
		return
	}
	m.loopLag.Observe(lag.Seconds())
}

func (m *JobMetrics) ObserveLockWait(resource string, wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(wait.Seconds())
}

// JobErrorClass is the low-cardinality view of a job error.
type JobErrorClass struct {
	Type      string
	Reason    string
	Retryable bool
}

// ClassifyJobError sorts a job error into timeout, database or business-rule
// failures. Timeouts and database errors clear up on a later tick; business
// rule errors do not.
func ClassifyJobError(err error) JobErrorClass {
	switch {
	case err == nil:
		return JobErrorClass{Type: ErrorTypeBusinessRule, Reason: ReasonUnknown}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobErrorClass{Type: ErrorTypeTimeout, Reason: ReasonDeadlineExceeded, Retryable: true}
	}

	class := JobErrorClass{Type: ErrorTypeBusinessRule, Reason: ReasonUnknown}
	if isDBError(err) {
		class.Type = ErrorTypeDB
		class.Retryable = true
	}
	switch {
	case db.IsLockTimeoutErr(err):
		class.Reason = ReasonDBLockTimeout
	case db.IsSerializationErr(err):
		class.Reason = ReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		class.Reason = ReasonUniqueViolation
	}
	return class
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	for _, target := range []error{
		gorm.ErrInvalidDB, gorm.ErrInvalidTransaction, gorm.ErrInvalidField,
		gorm.ErrInvalidData, gorm.ErrMissingWhereClause, gorm.ErrInvalidValue,
		gorm.ErrDuplicatedKey,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

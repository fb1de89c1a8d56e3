package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/billingschedule/internal/batch"
	"github.com/smallbiznis/billingschedule/internal/clock"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingschedule/internal/observability/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvoiceSvc struct {
	invoicedomain.Service

	calls  int
	asOf   []time.Time
	report func() *batch.Report[invoicedomain.Invoice]
}

func (f *fakeInvoiceSvc) RunDueBatch(_ context.Context, today time.Time) (*batch.Report[invoicedomain.Invoice], error) {
	f.calls++
	f.asOf = append(f.asOf, today)
	if f.report == nil {
		return batch.NewReport[invoicedomain.Invoice](today), nil
	}
	return f.report(), nil
}

type fakeCollectionSvc struct {
	collectiondomain.Service

	calls int
	err   error
}

func (f *fakeCollectionSvc) RecalculateAll(context.Context) (*batch.Report[collectiondomain.Snapshot], error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	report := batch.NewReport[collectiondomain.Snapshot](time.Now())
	report.Succeed(collectiondomain.Snapshot{})
	return report, nil
}

func newTestScheduler(t *testing.T, clk clock.Clock, inv invoicedomain.Service, col collectiondomain.Service, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := New(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clk,
		InvoiceSvc:    inv,
		CollectionSvc: col,
		Config:        cfg,
	})
	require.NoError(t, err)
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetJobsForTest()
	obsmetrics.JobsWithConfig(obsmetrics.Config{
		ServiceName: "billingschedule",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "billingschedule",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "billingschedule_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "billingschedule",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.ReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "billingschedule_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsNonTimeoutErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	s := newTestScheduler(t, clock.NewFakeClock(time.Now()), &fakeInvoiceSvc{}, &fakeCollectionSvc{}, Config{})
	boom := errors.New("boom")
	err := s.runJob(context.Background(), "failing_job", 0, time.Second, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "failing_job")
}

func TestRunOnceMaterializesDueEntriesAndRecordsSkips(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.JobsWithConfig(obsmetrics.Config{ServiceName: "billingschedule", Environment: "test"})

	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	inv := &fakeInvoiceSvc{
		report: func() *batch.Report[invoicedomain.Invoice] {
			report := batch.NewReport[invoicedomain.Invoice](now)
			report.Succeed(invoicedomain.Invoice{Number: "PF-202403-0001"})
			report.Succeed(invoicedomain.Invoice{Number: "PF-202403-0002"})
			report.Skip("42", batch.SkipItemFailure, errors.New("contract vanished"))
			return report
		},
	}
	col := &fakeCollectionSvc{}
	s := newTestScheduler(t, clk, inv, col, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 1, inv.calls)
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), inv.asOf[0])
	require.Equal(t, 1, col.calls)

	require.Equal(t, float64(2), getCounterValue(t, registry, "billingschedule_batch_processed_total", map[string]string{
		"service": "billingschedule", "env": "test", "job": JobMaterializeDue, "resource": "scheduled_invoice",
	}))
	require.Equal(t, float64(1), getCounterValue(t, registry, "billingschedule_batch_skipped_total", map[string]string{
		"service": "billingschedule", "env": "test", "job": JobMaterializeDue, "reason": string(batch.SkipItemFailure),
	}))
}

func TestRunOnceRecalculatesMetricsOncePerInterval(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	clk := clock.NewFakeClock(time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC))
	inv := &fakeInvoiceSvc{}
	col := &fakeCollectionSvc{}
	s := newTestScheduler(t, clk, inv, col, Config{MetricsInterval: 24 * time.Hour})

	require.NoError(t, s.RunOnce(context.Background()))
	clk.Advance(time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 2, inv.calls)
	require.Equal(t, 1, col.calls)

	clk.Advance(23 * time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 2, col.calls)
}

func TestRunOnceRetriesMetricsAfterFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	clk := clock.NewFakeClock(time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC))
	col := &fakeCollectionSvc{err: errors.New("db down")}
	s := newTestScheduler(t, clk, &fakeInvoiceSvc{}, col, Config{})

	require.Error(t, s.RunOnce(context.Background()))
	col.err = nil
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 2, col.calls)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	inv := &fakeInvoiceSvc{}
	col := &fakeCollectionSvc{}
	s := newTestScheduler(t, clock.NewFakeClock(time.Now()), inv, col, Config{EnabledJobs: []string{" RECALCULATE_METRICS "}})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 0, inv.calls)
	require.Equal(t, 1, col.calls)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetJobsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetJobsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

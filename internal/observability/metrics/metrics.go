package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ExportInterval   time.Duration
	ServiceName      string
	Environment      string
}

// Metrics counts billing events over OTLP. A nil *Metrics records nothing.
type Metrics struct {
	planned      metric.Int64Counter
	materialized metric.Int64Counter
	converted    metric.Int64Counter
	snapshots    metric.Int64Counter
	collection   metric.Float64Histogram
}

// NewProvider installs the global meter provider. Disabled export installs a
// no-op provider so instruments stay valid.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	ctx := context.Background()
	switch cfg.ExporterProtocol {
	case "http", "http/protobuf":
		exporter, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.ExporterEndpoint), otlpmetrichttp.WithInsecure())
	case "grpc", "":
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint), otlpmetricgrpc.WithInsecure())
	default:
		err = fmt.Errorf("unsupported OTLP protocol %q", cfg.ExporterProtocol)
	}
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
	log.Info("metrics export enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
		zap.Duration("interval", interval),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(orDefault(cfg.ServiceName, "billingschedule"))
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.planned, "billingschedule.scheduled_invoices.planned", "Scheduled invoice entries written by a plan."},
		{&m.materialized, "billingschedule.invoices.materialized", "Invoices created from scheduled entries."},
		{&m.converted, "billingschedule.invoices.converted", "Pro forma invoices converted to tax invoices."},
		{&m.snapshots, "billingschedule.collection.snapshots", "Collection snapshots replaced."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		*c.dst = counter
	}

	collection, err := meter.Float64Histogram("billingschedule.collection.rate",
		metric.WithDescription("Collection rate of each replaced snapshot."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(50, 60, 80, 90, 95, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("billingschedule.collection.rate: %w", err)
	}
	m.collection = collection
	return m, nil
}

func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordScheduledPlanned(ctx context.Context, scheduleType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.planned.Add(ctx, int64(count), withAttrs(attribute.String("schedule_type", scheduleType)))
}

func (m *Metrics) RecordInvoiceMaterialized(ctx context.Context, invoiceClass string) {
	if m == nil {
		return
	}
	m.materialized.Add(ctx, 1, withAttrs(attribute.String("invoice_class", invoiceClass)))
}

func (m *Metrics) RecordInvoiceConverted(ctx context.Context) {
	if m == nil {
		return
	}
	m.converted.Add(ctx, 1)
}

// RecordSnapshotReplaced counts the snapshot and, when rate is non-negative,
// records its collection rate.
func (m *Metrics) RecordSnapshotReplaced(ctx context.Context, entityType, periodType string, rate float64) {
	if m == nil {
		return
	}
	opt := withAttrs(
		attribute.String("entity_type", entityType),
		attribute.String("period_type", periodType),
	)
	m.snapshots.Add(ctx, 1, opt)
	if rate >= 0 {
		m.collection.Record(ctx, rate, opt)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"invoice_class": {},
	"schedule_type": {},
	"entity_type":   {},
	"period_type":   {},
}

// FilterAttributes keeps only the low-cardinality labels above. Entity ids
// never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := attrs[:0:0]
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

func withAttrs(attrs ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

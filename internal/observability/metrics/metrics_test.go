package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsEntityIDs(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("entity_type", "PROJECT"),
		attribute.String("contract_id", "456"),
		attribute.String("period_type", "QUARTERLY"),
	)

	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("contract_id"), attr.Key)
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	ctx := context.Background()
	m := NewNoop()
	m.RecordInvoiceMaterialized(ctx, "PROFORMA")
	m.RecordScheduledPlanned(ctx, "MONTHLY", 12)
	m.RecordSnapshotReplaced(ctx, "PROJECT", "LIFETIME", 87.5)

	var nilMetrics *Metrics
	nilMetrics.RecordInvoiceConverted(ctx)
	nilMetrics.RecordSnapshotReplaced(ctx, "PROJECT", "LIFETIME", -1)
}

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/config"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBucketFor(t *testing.T) {
	cases := map[int]Bucket{
		-5: BucketCurrent,
		0:  BucketCurrent,
		1:  Bucket30,
		30: Bucket30,
		31: Bucket60,
		60: Bucket60,
		61: Bucket90,
		90: Bucket90,
		91: BucketOver90,
	}
	for days, want := range cases {
		assert.Equal(t, want, BucketFor(days), "days=%d", days)
	}
}

func TestAggregate(t *testing.T) {
	paidOnTime := day(time.January, 20)
	paidLate := day(time.February, 10)
	facts := []InvoiceFact{
		{InvoiceDate: day(time.January, 1), DueDate: day(time.January, 31), Total: dec("1000"), AmountPaid: dec("1000"), Status: invoicedomain.InvoiceStatusPaid, FirstPaymentDate: &paidOnTime},
		{InvoiceDate: day(time.January, 1), DueDate: day(time.January, 31), Total: dec("500"), AmountPaid: dec("500"), Status: invoicedomain.InvoiceStatusPaid, FirstPaymentDate: &paidLate},
		{InvoiceDate: day(time.January, 2), DueDate: day(time.February, 1), Total: dec("2000"), AmountPaid: decimal.Zero, Status: invoicedomain.InvoiceStatusSent},
		{InvoiceDate: day(time.April, 1), DueDate: day(time.April, 30), Total: dec("1000"), AmountPaid: dec("400"), Status: invoicedomain.InvoiceStatusPartial},
		{InvoiceDate: day(time.March, 1), DueDate: day(time.March, 31), Total: dec("300"), AmountPaid: decimal.Zero, Status: invoicedomain.InvoiceStatusCancelled},
	}

	totals := Aggregate(facts, day(time.April, 15))

	assert.Equal(t, 5, totals.Issued)
	assert.True(t, totals.Invoiced.Equal(dec("4800")))
	assert.True(t, totals.Collected.Equal(dec("1900")))
	assert.True(t, totals.Outstanding.Equal(dec("2900")))
	assert.Equal(t, 1, totals.OnTime)
	assert.Equal(t, 1, totals.Late)
	assert.Equal(t, 2, totals.Unsettled)

	assert.True(t, totals.Aging[BucketCurrent].Equal(dec("600")))
	assert.True(t, totals.Aging[Bucket90].Equal(dec("2000")))
	assert.Equal(t, 1, totals.AgingCounts[Bucket90])
	unsettled := decimal.Zero
	for _, amount := range totals.Aging {
		unsettled = unsettled.Add(amount)
	}
	assert.True(t, unsettled.Equal(dec("2600")))

	assert.True(t, totals.CollectionRate().Equal(dec("39.58")), totals.CollectionRate().String())
	assert.True(t, totals.PersistencyRate().Equal(dec("50")))
	avg := totals.AverageDaysToPayment()
	require.True(t, avg.Valid)
	assert.True(t, avg.Decimal.Equal(dec("29.5")))
}

func TestAggregateEmpty(t *testing.T) {
	totals := Aggregate(nil, day(time.April, 15))
	assert.True(t, totals.CollectionRate().IsZero())
	assert.True(t, totals.PersistencyRate().IsZero())
	assert.False(t, totals.AverageDaysToPayment().Valid)
}

func TestAggregatePaidWithoutPaymentRecord(t *testing.T) {
	facts := []InvoiceFact{
		{InvoiceDate: day(time.January, 1), DueDate: day(time.January, 31), Total: dec("100"), AmountPaid: dec("100"), Status: invoicedomain.InvoiceStatusPaid},
	}
	totals := Aggregate(facts, day(time.April, 15))
	assert.Zero(t, totals.OnTime+totals.Late)
	assert.False(t, totals.AverageDaysToPayment().Valid)
	assert.True(t, totals.CollectionRate().Equal(dec("100")))
}

func TestRiskFlag(t *testing.T) {
	levels := config.DefaultBillingConfig().RiskLevels
	avg := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

	assert.Equal(t, "LOW", RiskFlag(levels, dec("96"), avg("20")))
	assert.Equal(t, "MEDIUM", RiskFlag(levels, dec("96"), avg("45")))
	assert.Equal(t, "MEDIUM", RiskFlag(levels, dec("96"), decimal.NullDecimal{}))
	assert.Equal(t, "MEDIUM", RiskFlag(levels, dec("80"), avg("10")))
	assert.Equal(t, "HIGH", RiskFlag(levels, dec("65"), avg("10")))
	assert.Equal(t, "CRITICAL", RiskFlag(levels, dec("0"), decimal.NullDecimal{}))
	assert.Empty(t, RiskFlag(nil, dec("100"), avg("1")))
}

func TestWindow(t *testing.T) {
	today := time.Date(2024, 4, 15, 13, 0, 0, 0, time.UTC)

	start, end := Window(PeriodQuarterly, today, nil)
	assert.Equal(t, day(time.January, 15), start)
	assert.Equal(t, day(time.April, 15), end)

	start, _ = Window(PeriodAnnual, today, nil)
	assert.Equal(t, time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC), start)

	lifetime := day(time.February, 3)
	start, _ = Window(PeriodLifetime, today, &lifetime)
	assert.Equal(t, lifetime, start)

	start, end = Window(PeriodLifetime, today, nil)
	assert.Equal(t, end, start)

	future := day(time.June, 1)
	start, _ = Window(PeriodLifetime, today, &future)
	assert.Equal(t, day(time.April, 15), start)
}

func TestNewSnapshot(t *testing.T) {
	key := Key{EntityType: EntityProject, PeriodType: PeriodQuarterly, EntityRef: "42"}
	totals := Aggregate([]InvoiceFact{
		{InvoiceDate: day(time.January, 1), DueDate: day(time.January, 1), Total: dec("100"), AmountPaid: decimal.Zero, Status: invoicedomain.InvoiceStatusOverdue},
	}, day(time.April, 15))

	snapshot, err := NewSnapshot(key, day(time.January, 15), day(time.April, 15), totals, config.DefaultBillingConfig().RiskLevels, day(time.April, 15))
	require.NoError(t, err)
	assert.Equal(t, key, snapshot.Key())
	assert.True(t, snapshot.AgingOver90.Equal(dec("100")))
	assert.True(t, snapshot.AgingTotal().Equal(dec("100")))
	assert.Equal(t, "CRITICAL", snapshot.RiskFlag)
	assert.JSONEq(t, `{"current":0,"30":0,"60":0,"90":0,"over90":1}`, string(snapshot.AgingCounts))
}

func TestParsePeriodType(t *testing.T) {
	pt, err := ParsePeriodType(" quarterly ")
	require.NoError(t, err)
	assert.Equal(t, PeriodQuarterly, pt)

	_, err = ParsePeriodType("MONTHLY")
	require.ErrorIs(t, err, ErrInvalidPeriodType)
}

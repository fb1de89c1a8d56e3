package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func schedule(t ScheduleType, value string, start time.Time, end *time.Time) Configuration {
	return Configuration{
		ID:                 1,
		ContractID:         10,
		ScheduleType:       t,
		InvoiceClass:       InvoiceClassProforma,
		TotalContractValue: decimal.RequireFromString(value),
		BillingStartDate:   &start,
		BillingEndDate:     end,
		BillingDayOfMonth:  1,
		PaymentTermsDays:   30,
		AutoGenerate:       true,
	}
}

func sum(entries []ScheduledInvoice) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

func TestBuildPlanUpfront(t *testing.T) {
	s := schedule(ScheduleUpfront, "100000", day(2025, 1, 1), nil)
	s.DeriveAmountPerPeriod(0)

	entries := BuildPlan(PlanInput{Schedule: s})
	require.Len(t, entries, 1)
	assert.Equal(t, day(2025, 1, 1), entries[0].ScheduledDate)
	assert.Equal(t, day(2025, 1, 31), entries[0].DueDate)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, EntryScheduled, entries[0].Status)
}

func TestBuildPlanMonthly(t *testing.T) {
	s := schedule(ScheduleMonthly, "120000", day(2025, 1, 1), ptr(day(2025, 12, 31)))
	s.DeriveAmountPerPeriod(0)
	require.True(t, s.AmountPerPeriod.Valid)
	assert.True(t, s.AmountPerPeriod.Decimal.Equal(decimal.NewFromInt(10000)))

	entries := BuildPlan(PlanInput{Schedule: s})
	require.Len(t, entries, 12)
	for i, e := range entries {
		assert.Equal(t, i+1, e.PeriodNumber)
		assert.Equal(t, day(2025, time.Month(i+1), 1), e.ScheduledDate)
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(10000)), "period %d amount %s", i+1, e.Amount)
	}
}

func TestBuildPlanRoundingSumsToContractValue(t *testing.T) {
	cases := []struct {
		name  string
		typ   ScheduleType
		value string
		end   time.Time
		count int
	}{
		{"monthly thirds", ScheduleMonthly, "100000", day(2025, 3, 31), 3},
		{"monthly sevenths", ScheduleMonthly, "1000.00", day(2025, 7, 15), 7},
		{"quarterly", ScheduleQuarterly, "99999.99", day(2025, 12, 31), 4},
		{"annual", ScheduleAnnually, "50000", day(2027, 6, 30), 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := schedule(tc.typ, tc.value, day(2025, 1, 1), ptr(tc.end))
			s.DeriveAmountPerPeriod(0)

			entries := BuildPlan(PlanInput{Schedule: s})
			require.Len(t, entries, tc.count)
			assert.True(t, sum(entries).Equal(s.TotalContractValue), "sum %s", sum(entries))
		})
	}
}

func TestBuildPlanBillingDayDiffersFromStartDay(t *testing.T) {
	cases := []struct {
		name      string
		start     time.Time
		end       time.Time
		day       int
		count     int
		first     time.Time
		last      time.Time
		perPeriod string
	}{
		{"billing day after start day", day(2025, 1, 1), day(2025, 12, 15), 28, 11, day(2025, 1, 28), day(2025, 11, 28), "10909.09"},
		{"billing day before start day", day(2025, 1, 20), day(2026, 1, 10), 1, 13, day(2025, 1, 1), day(2026, 1, 1), "9230.77"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := schedule(ScheduleMonthly, "120000", tc.start, ptr(tc.end))
			s.BillingDayOfMonth = tc.day
			s.DeriveAmountPerPeriod(0)
			require.True(t, s.AmountPerPeriod.Valid)
			assert.Equal(t, tc.perPeriod, s.AmountPerPeriod.Decimal.StringFixed(2))
			assert.Equal(t, tc.count, s.PeriodCount(0))

			entries := BuildPlan(PlanInput{Schedule: s})
			require.Len(t, entries, tc.count)
			assert.Equal(t, tc.first, entries[0].ScheduledDate)
			assert.Equal(t, tc.last, entries[len(entries)-1].ScheduledDate)
			cent := decimal.RequireFromString("0.01")
			for _, e := range entries {
				assert.True(t, e.Amount.Sub(s.AmountPerPeriod.Decimal).Abs().LessThanOrEqual(cent),
					"period %d amount %s", e.PeriodNumber, e.Amount)
			}
			assert.True(t, sum(entries).Equal(decimal.NewFromInt(120000)), "sum %s", sum(entries))
		})
	}
}

func TestBuildPlanLeavesNonRoundingDifference(t *testing.T) {
	s := schedule(ScheduleMonthly, "120000", day(2025, 1, 1), ptr(day(2025, 12, 31)))
	s.AmountPerPeriod = decimal.NewNullDecimal(decimal.NewFromInt(5000))

	entries := BuildPlan(PlanInput{Schedule: s})
	require.Len(t, entries, 12)
	for _, e := range entries {
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(5000)), "period %d amount %s", e.PeriodNumber, e.Amount)
	}
}

func TestBuildPlanDefaultsEndToOneYear(t *testing.T) {
	s := schedule(ScheduleQuarterly, "40000", day(2025, 1, 1), nil)
	s.DeriveAmountPerPeriod(0)

	entries := BuildPlan(PlanInput{Schedule: s})
	require.Len(t, entries, 5)
	assert.Equal(t, day(2026, 1, 1), entries[4].ScheduledDate)
	assert.True(t, sum(entries).Equal(decimal.NewFromInt(40000)))
}

func TestBuildPlanDeliverables(t *testing.T) {
	s := schedule(ScheduleDeliverable, "80000", day(2025, 1, 1), ptr(day(2025, 12, 31)))
	deliverables := []contractdomain.Deliverable{
		{ID: 1, Title: "Induction", DueDate: day(2025, 2, 10)},
		{ID: 2, Title: "Module 1", DueDate: day(2025, 4, 10)},
		{ID: 3, Title: "Module 2", DueDate: day(2025, 7, 10)},
		{ID: 4, Title: "Close-out", DueDate: day(2025, 11, 10)},
	}

	entries := BuildPlan(PlanInput{Schedule: s, Deliverables: deliverables})
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(20000)))
		assert.Equal(t, deliverables[i].DueDate, e.ScheduledDate)
		assert.Equal(t, deliverables[i].DueDate.AddDate(0, 0, 30), e.DueDate)
		require.NotNil(t, e.DeliverableID)
		assert.Equal(t, deliverables[i].ID, *e.DeliverableID)
		assert.Equal(t, deliverables[i].Title, e.DeliverableTitle)
	}
}

func TestBuildPlanWeightedDeliverables(t *testing.T) {
	s := schedule(ScheduleDeliverable, "1000", day(2025, 1, 1), nil)
	deliverables := []contractdomain.Deliverable{
		{ID: 1, Title: "A", DueDate: day(2025, 2, 1), Weight: decimal.NewFromInt(1)},
		{ID: 2, Title: "B", DueDate: day(2025, 3, 1), Weight: decimal.NewFromInt(1)},
		{ID: 3, Title: "C", DueDate: day(2025, 4, 1), Weight: decimal.NewFromInt(1)},
		{ID: 4, Title: "D", DueDate: day(2025, 5, 1), Weight: decimal.NewFromInt(2)},
	}

	entries := BuildPlan(PlanInput{Schedule: s, Deliverables: deliverables, Split: SplitWeighted})
	require.Len(t, entries, 4)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(200)))
	assert.True(t, entries[3].Amount.Equal(decimal.NewFromInt(400)))
	assert.True(t, sum(entries).Equal(decimal.NewFromInt(1000)))

	s.DeriveAmountPerPeriod(len(deliverables))
	require.True(t, s.AmountPerPeriod.Valid)
	weighted := BuildPlan(PlanInput{Schedule: s, Deliverables: deliverables, Split: SplitWeighted})
	require.Len(t, weighted, 4)
	assert.True(t, weighted[0].Amount.Equal(decimal.NewFromInt(200)), "weighted split ignores amountPerPeriod")
	assert.True(t, weighted[3].Amount.Equal(decimal.NewFromInt(400)))
}

func TestBuildPlanKeepsRetainedHistory(t *testing.T) {
	s := schedule(ScheduleMonthly, "120000", day(2025, 1, 1), ptr(day(2025, 12, 31)))
	s.DeriveAmountPerPeriod(0)
	invoiceID := snowflake.ID(99)
	retained := []ScheduledInvoice{
		{PeriodNumber: 1, ScheduledDate: day(2025, 1, 1), Amount: decimal.NewFromInt(10000), Status: EntryPaid, InvoiceID: &invoiceID},
		{PeriodNumber: 2, ScheduledDate: day(2025, 2, 1), Amount: decimal.NewFromInt(10000), Status: EntryGenerated, InvoiceID: &invoiceID},
	}

	entries := BuildPlan(PlanInput{Schedule: s, Retained: retained})
	require.Len(t, entries, 10)
	assert.Equal(t, 3, entries[0].PeriodNumber)
	assert.Equal(t, day(2025, 3, 1), entries[0].ScheduledDate)
	assert.True(t, sum(entries).Add(decimal.NewFromInt(20000)).Equal(s.TotalContractValue))
}

func TestBuildPlanNoOps(t *testing.T) {
	t.Run("missing start date", func(t *testing.T) {
		s := schedule(ScheduleMonthly, "1000", day(2025, 1, 1), nil)
		s.BillingStartDate = nil
		assert.Nil(t, BuildPlan(PlanInput{Schedule: s}))
	})
	t.Run("manual", func(t *testing.T) {
		s := schedule(ScheduleManual, "1000", day(2025, 1, 1), nil)
		s.DeriveAmountPerPeriod(0)
		assert.False(t, s.AmountPerPeriod.Valid)
		assert.Nil(t, BuildPlan(PlanInput{Schedule: s}))
	})
	t.Run("upfront already issued", func(t *testing.T) {
		s := schedule(ScheduleUpfront, "1000", day(2025, 1, 1), nil)
		retained := []ScheduledInvoice{{PeriodNumber: 1, ScheduledDate: day(2025, 1, 1), Amount: decimal.NewFromInt(1000), Status: EntryGenerated}}
		assert.Nil(t, BuildPlan(PlanInput{Schedule: s, Retained: retained}))
	})
	t.Run("deliverable without deliverables", func(t *testing.T) {
		s := schedule(ScheduleDeliverable, "1000", day(2025, 1, 1), nil)
		s.DeriveAmountPerPeriod(0)
		assert.False(t, s.AmountPerPeriod.Valid)
		assert.Nil(t, BuildPlan(PlanInput{Schedule: s}))
	})
}

func TestEarliestScheduled(t *testing.T) {
	entries := []ScheduledInvoice{
		{ScheduledDate: day(2025, 1, 1), Status: EntryGenerated},
		{ScheduledDate: day(2025, 3, 1), Status: EntryScheduled},
		{ScheduledDate: day(2025, 2, 1), Status: EntryScheduled},
	}
	assert.Equal(t, day(2025, 2, 1), *EarliestScheduled(entries, nil))
	assert.Equal(t, day(2025, 3, 1), *EarliestScheduled(entries, ptr(day(2025, 2, 1))))
	assert.Nil(t, EarliestScheduled(entries, ptr(day(2025, 3, 1))))
}

func TestPeriodCountByType(t *testing.T) {
	s := schedule(ScheduleMonthly, "1", day(2025, 1, 1), ptr(day(2025, 12, 31)))
	assert.Equal(t, 12, s.PeriodCount(0))
	s.ScheduleType = ScheduleUpfront
	assert.Equal(t, 1, s.PeriodCount(0))
	s.ScheduleType = ScheduleDeliverable
	assert.Equal(t, 5, s.PeriodCount(5))
	s.ScheduleType = ScheduleManual
	assert.Equal(t, 0, s.PeriodCount(0))
	s.ScheduleType = ScheduleMonthly
	s.BillingEndDate = ptr(day(2024, 12, 31))
	assert.Equal(t, 0, s.PeriodCount(0))
}

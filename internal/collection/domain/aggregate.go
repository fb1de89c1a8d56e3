package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/config"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/period"
	"gorm.io/datatypes"
)

var hundred = decimal.NewFromInt(100)

// Bucket is an aging bucket keyed by days past the due date.
type Bucket string

const (
	BucketCurrent Bucket = "current"
	Bucket30      Bucket = "30"
	Bucket60      Bucket = "60"
	Bucket90      Bucket = "90"
	BucketOver90  Bucket = "over90"
)

// BucketFor maps days overdue onto its aging bucket.
func BucketFor(daysOverdue int) Bucket {
	switch {
	case daysOverdue <= 0:
		return BucketCurrent
	case daysOverdue <= 30:
		return Bucket30
	case daysOverdue <= 60:
		return Bucket60
	case daysOverdue <= 90:
		return Bucket90
	default:
		return BucketOver90
	}
}

// Totals are the counters accumulated over an invoice set.
type Totals struct {
	Invoiced    decimal.Decimal
	Collected   decimal.Decimal
	Outstanding decimal.Decimal

	Issued      int
	OnTime      int
	Late        int
	Unsettled   int
	paidDaysSum int
	paidCount   int

	Aging       map[Bucket]decimal.Decimal
	AgingCounts map[Bucket]int
}

// Aggregate folds invoices into Totals as of today.
func Aggregate(facts []InvoiceFact, today time.Time) Totals {
	t := Totals{
		Invoiced:    decimal.Zero,
		Collected:   decimal.Zero,
		Aging:       make(map[Bucket]decimal.Decimal, 5),
		AgingCounts: make(map[Bucket]int, 5),
	}
	for _, b := range []Bucket{BucketCurrent, Bucket30, Bucket60, Bucket90, BucketOver90} {
		t.Aging[b] = decimal.Zero
		t.AgingCounts[b] = 0
	}
	today = period.Date(today)

	for _, f := range facts {
		t.Issued++
		t.Invoiced = t.Invoiced.Add(f.Total)
		t.Collected = t.Collected.Add(f.AmountPaid)

		if f.Status == invoicedomain.InvoiceStatusPaid && f.FirstPaymentDate != nil {
			paidOn := period.Date(*f.FirstPaymentDate)
			if !paidOn.After(period.Date(f.DueDate)) {
				t.OnTime++
			} else {
				t.Late++
			}
			t.paidDaysSum += period.DaysBetween(f.InvoiceDate, paidOn)
			t.paidCount++
		}

		if !f.Status.IsSettled() {
			t.Unsettled++
			bucket := BucketFor(period.DaysBetween(f.DueDate, today))
			t.Aging[bucket] = t.Aging[bucket].Add(f.Total.Sub(f.AmountPaid))
			t.AgingCounts[bucket]++
		}
	}
	t.Outstanding = t.Invoiced.Sub(t.Collected)
	return t
}

// CollectionRate is collected over invoiced as a percentage, 0 when nothing was invoiced.
func (t Totals) CollectionRate() decimal.Decimal {
	if t.Invoiced.IsZero() {
		return decimal.Zero
	}
	return t.Collected.Div(t.Invoiced).Mul(hundred).Round(2)
}

// PersistencyRate is on-time over all paid-with-payment invoices as a percentage.
func (t Totals) PersistencyRate() decimal.Decimal {
	paid := t.OnTime + t.Late
	if paid == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(t.OnTime)).Div(decimal.NewFromInt(int64(paid))).Mul(hundred).Round(2)
}

// AverageDaysToPayment is unset when no paid invoice has a completed payment.
func (t Totals) AverageDaysToPayment() decimal.NullDecimal {
	if t.paidCount == 0 {
		return decimal.NullDecimal{}
	}
	avg := decimal.NewFromInt(int64(t.paidDaysSum)).Div(decimal.NewFromInt(int64(t.paidCount))).Round(2)
	return decimal.NewNullDecimal(avg)
}

// RiskFlag returns the first level whose thresholds the rates meet. The last
// level is the fallback.
func RiskFlag(levels []config.RiskLevel, collectionRate decimal.Decimal, avgDays decimal.NullDecimal) string {
	if len(levels) == 0 {
		return ""
	}
	for _, level := range levels {
		if collectionRate.LessThan(decimal.NewFromFloat(level.MinCollectionRate)) {
			continue
		}
		if level.MaxAverageDays != nil {
			if !avgDays.Valid || avgDays.Decimal.GreaterThan(decimal.NewFromInt(int64(*level.MaxAverageDays))) {
				continue
			}
		}
		return level.Level
	}
	return levels[len(levels)-1].Level
}

// Window returns the [start, end] date range for a period type. lifetimeStart
// is only used for LIFETIME and defaults to today when unknown.
func Window(periodType PeriodType, today time.Time, lifetimeStart *time.Time) (time.Time, time.Time) {
	today = period.Date(today)
	switch periodType {
	case PeriodQuarterly:
		return today.AddDate(0, -3, 0), today
	case PeriodAnnual:
		return today.AddDate(-1, 0, 0), today
	default:
		if lifetimeStart == nil || lifetimeStart.IsZero() {
			return today, today
		}
		start := period.Date(*lifetimeStart)
		if start.After(today) {
			return today, today
		}
		return start, today
	}
}

// NewSnapshot assembles a snapshot from aggregated totals.
func NewSnapshot(key Key, start, end time.Time, totals Totals, levels []config.RiskLevel, at time.Time) (Snapshot, error) {
	counts, err := json.Marshal(totals.AgingCounts)
	if err != nil {
		return Snapshot{}, err
	}
	collection := totals.CollectionRate()
	avg := totals.AverageDaysToPayment()
	return Snapshot{
		EntityType:           key.EntityType,
		PeriodType:           key.PeriodType,
		EntityRef:            key.EntityRef,
		PeriodStart:          start,
		PeriodEnd:            end,
		TotalInvoiced:        totals.Invoiced,
		TotalCollected:       totals.Collected,
		TotalOutstanding:     totals.Outstanding,
		InvoicesIssued:       totals.Issued,
		InvoicesPaidOnTime:   totals.OnTime,
		InvoicesPaidLate:     totals.Late,
		InvoicesOutstanding:  totals.Unsettled,
		AverageDaysToPayment: avg,
		AgingCurrent:         totals.Aging[BucketCurrent],
		Aging30:              totals.Aging[Bucket30],
		Aging60:              totals.Aging[Bucket60],
		Aging90:              totals.Aging[Bucket90],
		AgingOver90:          totals.Aging[BucketOver90],
		AgingCounts:          datatypes.JSON(counts),
		CollectionRate:       collection,
		PersistencyRate:      totals.PersistencyRate(),
		RiskFlag:             RiskFlag(levels, collection, avg),
		CalculatedAt:         at,
	}, nil
}

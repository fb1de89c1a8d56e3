package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	"github.com/smallbiznis/billingschedule/internal/period"
)

// SplitMode selects how a deliverable schedule divides the contract value.
type SplitMode string

const (
	SplitEqual    SplitMode = "EQUAL"
	SplitWeighted SplitMode = "WEIGHTED"
)

// PlanInput is everything BuildPlan needs to expand a schedule.
type PlanInput struct {
	Schedule Configuration
	// Deliverables are the qualifying deliverables ordered by due date.
	Deliverables []contractdomain.Deliverable
	// Retained are entries that already left SCHEDULED and must not be replaced.
	Retained []ScheduledInvoice
	Split    SplitMode
}

// BuildPlan expands a schedule into the SCHEDULED entries that should exist
// alongside its retained history. It returns nil when the schedule cannot be
// billed yet or is MANUAL. Returned entries have no ID or timestamps.
//
// Amounts are rounded to cents and the last new entry absorbs the rounding
// remainder so retained plus planned amounts add up to the contract value.
func BuildPlan(in PlanInput) []ScheduledInvoice {
	s := in.Schedule
	if s.BillingStartDate == nil {
		return nil
	}

	retainedDates := make(map[time.Time]struct{}, len(in.Retained))
	retainedDeliverables := make(map[snowflake.ID]struct{}, len(in.Retained))
	retainedSum := decimal.Zero
	lastPeriod := 0
	for _, r := range in.Retained {
		retainedDates[period.Date(r.ScheduledDate)] = struct{}{}
		if r.DeliverableID != nil {
			retainedDeliverables[*r.DeliverableID] = struct{}{}
		}
		retainedSum = retainedSum.Add(r.Amount)
		if r.PeriodNumber > lastPeriod {
			lastPeriod = r.PeriodNumber
		}
	}

	var out []ScheduledInvoice
	switch s.ScheduleType {
	case ScheduleManual:
		return nil
	case ScheduleUpfront:
		if len(in.Retained) > 0 {
			return nil
		}
		date := s.FirstBillingDate()
		out = append(out, newEntry(s, 1, date, s.TotalContractValue, "Upfront"))
		return out
	case ScheduleDeliverable:
		return planDeliverables(in, retainedDeliverables, retainedSum, lastPeriod)
	}

	dates := s.BillingDates()
	if len(dates) == 0 {
		return nil
	}
	perPeriod := s.TotalContractValue.Div(decimal.NewFromInt(int64(len(dates)))).Round(2)
	if s.AmountPerPeriod.Valid {
		perPeriod = s.AmountPerPeriod.Decimal
	}

	next := lastPeriod
	for _, date := range dates {
		if _, taken := retainedDates[date]; taken {
			continue
		}
		next++
		out = append(out, newEntry(s, next, date, perPeriod, fmt.Sprintf("Period %d", next)))
	}
	absorbRemainder(out, s.TotalContractValue.Sub(retainedSum))
	return out
}

func planDeliverables(in PlanInput, retained map[snowflake.ID]struct{}, retainedSum decimal.Decimal, lastPeriod int) []ScheduledInvoice {
	s := in.Schedule
	count := len(in.Deliverables)
	if count == 0 {
		return nil
	}

	amounts := make([]decimal.Decimal, count)
	switch {
	case in.Split == SplitWeighted:
		weights := make([]decimal.Decimal, count)
		total := decimal.Zero
		for i, d := range in.Deliverables {
			w := d.Weight
			if !w.IsPositive() {
				w = decimal.NewFromInt(1)
			}
			weights[i] = w
			total = total.Add(w)
		}
		for i, w := range weights {
			amounts[i] = s.TotalContractValue.Mul(w).Div(total).Round(2)
		}
	default:
		per := s.TotalContractValue.Div(decimal.NewFromInt(int64(count))).Round(2)
		if s.AmountPerPeriod.Valid {
			per = s.AmountPerPeriod.Decimal
		}
		for i := range amounts {
			amounts[i] = per
		}
	}

	var out []ScheduledInvoice
	next := lastPeriod
	for i, d := range in.Deliverables {
		if _, taken := retained[d.ID]; taken {
			continue
		}
		next++
		entry := newEntry(s, next, d.DueDate, amounts[i], d.Title)
		id := d.ID
		entry.DeliverableID = &id
		entry.DeliverableTitle = d.Title
		out = append(out, entry)
	}
	absorbRemainder(out, s.TotalContractValue.Sub(retainedSum))
	return out
}

func newEntry(s Configuration, number int, date time.Time, amount decimal.Decimal, notes string) ScheduledInvoice {
	date = period.Date(date)
	return ScheduledInvoice{
		ScheduleID:    s.ID,
		PeriodNumber:  number,
		ScheduledDate: date,
		DueDate:       period.AddDays(date, s.PaymentTermsDays),
		Amount:        amount,
		Status:        EntryScheduled,
		Notes:         notes,
	}
}

// absorbRemainder moves the rounding difference between remaining and the sum
// of entries onto the last entry. A difference larger than one cent per entry
// is not rounding (the schedule changed under retained history, or the
// per-period amount was set by hand), so amounts are left as planned. The
// last entry is never made non-positive.
func absorbRemainder(entries []ScheduledInvoice, remaining decimal.Decimal) {
	if len(entries) == 0 {
		return
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	diff := remaining.Sub(sum)
	if diff.IsZero() || diff.Abs().GreaterThan(decimal.New(int64(len(entries)), -2)) {
		return
	}
	last := entries[len(entries)-1].Amount.Add(diff)
	if last.IsPositive() {
		entries[len(entries)-1].Amount = last
	}
}

// EarliestScheduled returns the first SCHEDULED date strictly after `after`,
// or the first overall when after is nil.
func EarliestScheduled(entries []ScheduledInvoice, after *time.Time) *time.Time {
	var best *time.Time
	for i := range entries {
		e := entries[i]
		if e.Status != EntryScheduled {
			continue
		}
		if after != nil && !e.ScheduledDate.After(*after) {
			continue
		}
		if best == nil || e.ScheduledDate.Before(*best) {
			d := e.ScheduledDate
			best = &d
		}
	}
	return best
}

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/period"
)

// ScheduleType describes how a contract's value is split into invoices over time.
type ScheduleType string

const (
	ScheduleMonthly     ScheduleType = "MONTHLY"
	ScheduleQuarterly   ScheduleType = "QUARTERLY"
	ScheduleAnnually    ScheduleType = "ANNUALLY"
	ScheduleUpfront     ScheduleType = "UPFRONT"
	ScheduleDeliverable ScheduleType = "DELIVERABLE"
	ScheduleManual      ScheduleType = "MANUAL"
)

func ParseScheduleType(raw string) (ScheduleType, error) {
	t := ScheduleType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case ScheduleMonthly, ScheduleQuarterly, ScheduleAnnually, ScheduleUpfront, ScheduleDeliverable, ScheduleManual:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScheduleType, raw)
	}
}

// Unit returns the calendar step of time-based schedule types.
func (t ScheduleType) Unit() (period.Unit, bool) {
	switch t {
	case ScheduleMonthly:
		return period.Month, true
	case ScheduleQuarterly:
		return period.Quarter, true
	case ScheduleAnnually:
		return period.Year, true
	default:
		return 0, false
	}
}

// InvoiceClass is the numbering class an invoice is issued under.
type InvoiceClass string

const (
	InvoiceClassProforma InvoiceClass = "PROFORMA"
	InvoiceClassTax      InvoiceClass = "TAX"
)

func ParseInvoiceClass(raw string) (InvoiceClass, error) {
	c := InvoiceClass(strings.ToUpper(strings.TrimSpace(raw)))
	switch c {
	case InvoiceClassProforma, InvoiceClassTax:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInvoiceClass, raw)
	}
}

// EntryStatus moves SCHEDULED -> GENERATED -> PAID and never backwards.
type EntryStatus string

const (
	EntryScheduled EntryStatus = "SCHEDULED"
	EntryGenerated EntryStatus = "GENERATED"
	EntryPaid      EntryStatus = "PAID"
)

// Configuration describes how one contract is billed.
type Configuration struct {
	ID                       snowflake.ID        `json:"id" gorm:"primaryKey"`
	ContractID               snowflake.ID        `json:"contract_id" gorm:"not null;uniqueIndex:ux_billing_schedules_contract"`
	ScheduleType             ScheduleType        `json:"schedule_type" gorm:"type:text;not null"`
	InvoiceClass             InvoiceClass        `json:"invoice_class" gorm:"type:text;not null"`
	TotalContractValue       decimal.Decimal     `json:"total_contract_value" gorm:"type:numeric(18,2);not null"`
	AmountPerPeriod          decimal.NullDecimal `json:"amount_per_period" gorm:"type:numeric(18,2)"`
	BillingStartDate         *time.Time          `json:"billing_start_date" gorm:"type:date"`
	BillingEndDate           *time.Time          `json:"billing_end_date" gorm:"type:date"`
	BillingDayOfMonth        int                 `json:"billing_day_of_month" gorm:"not null;default:1"`
	PaymentTermsDays         int                 `json:"payment_terms_days" gorm:"not null;default:30"`
	AutoGenerate             bool                `json:"auto_generate" gorm:"not null;default:true"`
	AutoConvertOnPayment     bool                `json:"auto_convert_on_payment" gorm:"not null;default:true"`
	NextInvoiceDate          *time.Time          `json:"next_invoice_date" gorm:"type:date"`
	LastInvoiceGeneratedDate *time.Time          `json:"last_invoice_generated_date" gorm:"type:date"`
	CreatedAt                time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt                time.Time           `json:"updated_at" gorm:"not null"`
}

func (Configuration) TableName() string { return "billing_schedules" }

// EffectiveEndDate is the configured end date, or one year after the start.
func (c Configuration) EffectiveEndDate() (time.Time, bool) {
	if c.BillingStartDate == nil {
		return time.Time{}, false
	}
	if c.BillingEndDate != nil {
		return period.Date(*c.BillingEndDate), true
	}
	return period.Date(*c.BillingStartDate).AddDate(1, 0, 0), true
}

// PeriodCount returns how many invoices the schedule splits its value into.
// deliverableCount is only consulted for DELIVERABLE schedules.
func (c Configuration) PeriodCount(deliverableCount int) int {
	switch c.ScheduleType {
	case ScheduleUpfront:
		return 1
	case ScheduleDeliverable:
		if deliverableCount < 0 {
			return 0
		}
		return deliverableCount
	case ScheduleManual:
		return 0
	}
	unit, ok := c.ScheduleType.Unit()
	if !ok || c.BillingStartDate == nil {
		return 0
	}
	end, _ := c.EffectiveEndDate()
	return period.Count(unit, c.FirstBillingDate(), end)
}

// FirstBillingDate is the start date moved onto the billing day. Time-based
// periods are counted and stepped from here, so the count always matches the
// dates BillingDates produces.
func (c Configuration) FirstBillingDate() time.Time {
	if c.BillingStartDate == nil {
		return time.Time{}
	}
	return period.AdjustToDay(*c.BillingStartDate, c.BillingDayOfMonth)
}

// BillingDates lists every time-based billing date on or before the
// effective end date.
func (c Configuration) BillingDates() []time.Time {
	unit, ok := c.ScheduleType.Unit()
	if !ok || c.BillingStartDate == nil {
		return nil
	}
	end, _ := c.EffectiveEndDate()
	return period.Sequence(c.FirstBillingDate(), end, unit, c.BillingDayOfMonth)
}

// DeriveAmountPerPeriod recomputes AmountPerPeriod from the contract value.
// MANUAL schedules and schedules without periods carry no per-period amount.
func (c *Configuration) DeriveAmountPerPeriod(deliverableCount int) {
	c.AmountPerPeriod = decimal.NullDecimal{}
	if c.ScheduleType == ScheduleManual {
		return
	}
	n := c.PeriodCount(deliverableCount)
	if n <= 0 {
		return
	}
	c.AmountPerPeriod = decimal.NewNullDecimal(c.TotalContractValue.Div(decimal.NewFromInt(int64(n))).Round(2))
}

// ScheduledInvoice is a planned invoice placeholder. InvoiceID is set exactly
// when Status is GENERATED or PAID and never changes afterwards.
type ScheduledInvoice struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	ScheduleID       snowflake.ID    `json:"schedule_id" gorm:"not null;index:ix_scheduled_invoices_schedule"`
	PeriodNumber     int             `json:"period_number" gorm:"not null"`
	ScheduledDate    time.Time       `json:"scheduled_date" gorm:"type:date;not null;index:ix_scheduled_invoices_due,priority:2"`
	DueDate          time.Time       `json:"due_date" gorm:"type:date;not null"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Status           EntryStatus     `json:"status" gorm:"type:text;not null;index:ix_scheduled_invoices_due,priority:1"`
	DeliverableID    *snowflake.ID   `json:"deliverable_id"`
	DeliverableTitle string          `json:"deliverable_title" gorm:"type:text"`
	InvoiceID        *snowflake.ID   `json:"invoice_id" gorm:"uniqueIndex:ux_scheduled_invoices_invoice"`
	GeneratedAt      *time.Time      `json:"generated_at"`
	Notes            string          `json:"notes" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (ScheduledInvoice) TableName() string { return "scheduled_invoices" }

func (s ScheduledInvoice) IsMaterialized() bool {
	return s.InvoiceID != nil
}

// Template carries the funder-level defaults a schedule is created from.
type Template struct {
	ScheduleType         ScheduleType
	InvoiceClass         InvoiceClass
	PaymentTermsDays     int
	BillingDayOfMonth    int
	AutoGenerate         bool
	AutoConvertOnPayment bool
}

// Package domain holds collection-metrics snapshots and the aggregation that
// produces them from invoice and payment history.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/batch"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EntityType string

const (
	EntityProject    EntityType = "PROJECT"
	EntityFunderType EntityType = "FUNDER_TYPE"
	EntityCorporate  EntityType = "CORPORATE"
)

type PeriodType string

const (
	PeriodQuarterly PeriodType = "QUARTERLY"
	PeriodAnnual    PeriodType = "ANNUAL"
	PeriodLifetime  PeriodType = "LIFETIME"
)

func ParsePeriodType(raw string) (PeriodType, error) {
	p := PeriodType(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case PeriodQuarterly, PeriodAnnual, PeriodLifetime:
		return p, nil
	default:
		return "", ErrInvalidPeriodType
	}
}

var (
	ErrInvalidPeriodType = errors.New("invalid_period_type")
	ErrInvalidScope      = errors.New("invalid_metrics_scope")
	ErrSnapshotNotFound  = errors.New("collection_snapshot_not_found")
)

// Key identifies a snapshot. A recomputation for the same key replaces the
// previous snapshot.
type Key struct {
	EntityType EntityType
	PeriodType PeriodType
	EntityRef  string
}

func (k Key) String() string {
	return string(k.EntityType) + ":" + string(k.PeriodType) + ":" + k.EntityRef
}

// Snapshot is the stored result of one metrics computation. Rates are
// percentages rounded to two decimals.
type Snapshot struct {
	ID                   snowflake.ID        `json:"id" gorm:"primaryKey"`
	EntityType           EntityType          `json:"entity_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_collection_metrics_key,priority:1"`
	PeriodType           PeriodType          `json:"period_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_collection_metrics_key,priority:2"`
	EntityRef            string              `json:"entity_ref" gorm:"type:varchar(64);not null;uniqueIndex:ux_collection_metrics_key,priority:3"`
	PeriodStart          time.Time           `json:"period_start" gorm:"type:date;not null"`
	PeriodEnd            time.Time           `json:"period_end" gorm:"type:date;not null"`
	TotalInvoiced        decimal.Decimal     `json:"total_invoiced" gorm:"type:numeric(18,2);not null"`
	TotalCollected       decimal.Decimal     `json:"total_collected" gorm:"type:numeric(18,2);not null"`
	TotalOutstanding     decimal.Decimal     `json:"total_outstanding" gorm:"type:numeric(18,2);not null"`
	InvoicesIssued       int                 `json:"invoices_issued" gorm:"not null"`
	InvoicesPaidOnTime   int                 `json:"invoices_paid_on_time" gorm:"not null"`
	InvoicesPaidLate     int                 `json:"invoices_paid_late" gorm:"not null"`
	InvoicesOutstanding  int                 `json:"invoices_outstanding" gorm:"not null"`
	AverageDaysToPayment decimal.NullDecimal `json:"average_days_to_payment" gorm:"type:numeric(10,2)"`
	AgingCurrent         decimal.Decimal     `json:"aging_current" gorm:"type:numeric(18,2);not null"`
	Aging30              decimal.Decimal     `json:"aging_30" gorm:"column:aging_30;type:numeric(18,2);not null"`
	Aging60              decimal.Decimal     `json:"aging_60" gorm:"column:aging_60;type:numeric(18,2);not null"`
	Aging90              decimal.Decimal     `json:"aging_90" gorm:"column:aging_90;type:numeric(18,2);not null"`
	AgingOver90          decimal.Decimal     `json:"aging_over_90" gorm:"column:aging_over_90;type:numeric(18,2);not null"`
	AgingCounts          datatypes.JSON      `json:"aging_counts"`
	CollectionRate       decimal.Decimal     `json:"collection_rate" gorm:"type:numeric(7,2);not null"`
	PersistencyRate      decimal.Decimal     `json:"persistency_rate" gorm:"type:numeric(7,2);not null"`
	RiskFlag             string              `json:"risk_flag" gorm:"type:varchar(16);not null"`
	CalculatedAt         time.Time           `json:"calculated_at" gorm:"not null"`
}

func (Snapshot) TableName() string { return "collection_metrics" }

func (s Snapshot) Key() Key {
	return Key{EntityType: s.EntityType, PeriodType: s.PeriodType, EntityRef: s.EntityRef}
}

// AgingTotal sums the five aging buckets.
func (s Snapshot) AgingTotal() decimal.Decimal {
	return s.AgingCurrent.Add(s.Aging30).Add(s.Aging60).Add(s.Aging90).Add(s.AgingOver90)
}

// Scope selects the invoices one snapshot is computed over.
type Scope struct {
	EntityType EntityType
	EntityRef  string
}

// Filter is the invoice predicate for a scope.
type Filter struct {
	ContractID        *snowflake.ID
	FunderType        string
	CorporateClientID *snowflake.ID
}

// InvoiceFact is the slice of an invoice the aggregation needs.
type InvoiceFact struct {
	InvoiceID        snowflake.ID
	InvoiceDate      time.Time
	DueDate          time.Time
	Total            decimal.Decimal
	AmountPaid       decimal.Decimal
	Status           invoicedomain.InvoiceStatus
	FirstPaymentDate *time.Time
}

type Repository interface {
	ListInvoiceFacts(ctx context.Context, db *gorm.DB, filter Filter, start, end time.Time) ([]InvoiceFact, error)
	EarliestInvoiceDate(ctx context.Context, db *gorm.DB, filter Filter) (*time.Time, error)
	// Replace swaps the stored snapshot for the snapshot's key in one transaction.
	Replace(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
	FindByKey(ctx context.Context, db *gorm.DB, key Key) (*Snapshot, error)
}

// SnapshotCache keeps the latest snapshot per key close to readers.
type SnapshotCache interface {
	Get(ctx context.Context, key Key) (*Snapshot, bool, error)
	Set(ctx context.Context, snapshot Snapshot) error
}

type Service interface {
	ProjectMetrics(ctx context.Context, contractID snowflake.ID, periodType PeriodType) (*Snapshot, error)
	FunderTypeMetrics(ctx context.Context, funderType string, periodType PeriodType) (*Snapshot, error)
	CorporateMetrics(ctx context.Context, corporateClientID snowflake.ID, periodType PeriodType) (*Snapshot, error)
	// ComputeMetrics dispatches on the scope's entity type.
	ComputeMetrics(ctx context.Context, scope Scope, periodType PeriodType) (*Snapshot, error)
	// RecalculateAll refreshes every active contract, funder type and corporate
	// client. Entity failures are reported, not returned.
	RecalculateAll(ctx context.Context) (*batch.Report[Snapshot], error)
	Latest(ctx context.Context, key Key) (*Snapshot, error)
}

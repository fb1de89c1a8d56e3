package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *Configuration) error
	Update(ctx context.Context, db *gorm.DB, schedule *Configuration) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Configuration, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Configuration, error)
	FindByContractID(ctx context.Context, db *gorm.DB, contractID snowflake.ID) (*Configuration, error)
	FindByContractIDForUpdate(ctx context.Context, db *gorm.DB, contractID snowflake.ID) (*Configuration, error)
	UpdatePlanState(ctx context.Context, db *gorm.DB, id snowflake.ID, amountPerPeriod decimal.NullDecimal, nextInvoiceDate *time.Time, now time.Time) error
	UpdateGenerationState(ctx context.Context, db *gorm.DB, id snowflake.ID, generatedOn time.Time, nextInvoiceDate *time.Time, now time.Time) error

	InsertEntries(ctx context.Context, db *gorm.DB, entries []ScheduledInvoice) error
	DeleteScheduledEntries(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID) (int64, error)
	ListEntries(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID) ([]ScheduledInvoice, error)
	CountEntries(ctx context.Context, db *gorm.DB, scheduleID snowflake.ID) (int64, error)
	// ListDueEntries pages through SCHEDULED entries dated on or before asOf whose
	// schedule auto-generates, in id order after afterID.
	ListDueEntries(ctx context.Context, db *gorm.DB, asOf time.Time, afterID snowflake.ID, limit int) ([]ScheduledInvoice, error)
	FindEntryByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ScheduledInvoice, error)
	FindEntryForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ScheduledInvoice, error)
	FindEntryByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*ScheduledInvoice, error)
	// MarkEntryGenerated links an invoice to a SCHEDULED entry that has none yet.
	// It reports false when another writer linked the entry first.
	MarkEntryGenerated(ctx context.Context, db *gorm.DB, id, invoiceID snowflake.ID, at time.Time) (bool, error)
	// MarkEntryPaid moves a GENERATED entry to PAID. It reports false when the
	// entry was not GENERATED.
	MarkEntryPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

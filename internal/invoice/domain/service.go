package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/batch"
	"gorm.io/gorm"
)

type Service interface {
	// Materialize issues the invoice for a scheduled entry. Calling it again for
	// the same entry returns the invoice issued the first time.
	Materialize(ctx context.Context, scheduledInvoiceID snowflake.ID) (*Invoice, error)
	// RunDueBatch materializes every auto-generated entry due on or before today.
	// Item failures are reported, not returned.
	RunDueBatch(ctx context.Context, today time.Time) (*batch.Report[Invoice], error)
	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ListLineItems(ctx context.Context, invoiceID snowflake.ID) ([]LineItem, error)
}

// Sequencer issues invoice numbers inside the caller's transaction.
type Sequencer interface {
	Next(ctx context.Context, tx *gorm.DB, prefix string, at time.Time) (string, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByScheduledInvoiceID(ctx context.Context, db *gorm.DB, scheduledInvoiceID snowflake.ID) (*Invoice, error)
	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	// Renumber changes only the number and notes of an invoice whose number is
	// still oldNumber. It reports false when the number already changed.
	Renumber(ctx context.Context, db *gorm.DB, id snowflake.ID, oldNumber, newNumber string, class string, notes string, now time.Time) (bool, error)
	ListNumbersLike(ctx context.Context, db *gorm.DB, pattern string) ([]string, error)
}

var (
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrEntryNotSchedulable = errors.New("scheduled_invoice_not_schedulable")
	ErrInvalidPrefix       = errors.New("invalid_invoice_prefix")
)

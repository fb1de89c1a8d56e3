package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusReversed  PaymentStatus = "REVERSED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is recorded by the payment-processing system against an invoice.
// This module only reads payments and reacts to completed ones.
type Payment struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	PaymentDate time.Time       `json:"payment_date" gorm:"type:date;not null"`
	Status      PaymentStatus   `json:"status" gorm:"type:text;not null"`
	Reference   string          `json:"reference" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	// FirstCompletedDates maps each invoice with a completed payment to the
	// date of its earliest one.
	FirstCompletedDates(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID]time.Time, error)
}

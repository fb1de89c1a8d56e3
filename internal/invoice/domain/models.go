// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
	InvoiceStatusRefunded  InvoiceStatus = "REFUNDED"
)

// SettledStatuses carry no outstanding balance for collection purposes.
var SettledStatuses = []InvoiceStatus{
	InvoiceStatusPaid,
	InvoiceStatusCancelled,
	InvoiceStatusRefunded,
}

func (s InvoiceStatus) IsSettled() bool {
	for _, settled := range SettledStatuses {
		if s == settled {
			return true
		}
	}
	return false
}

// Invoice represents an issued invoice. ContractID, FunderType and
// CorporateClientID are copied from the contract at issue time so collection
// metrics can filter without reaching into contract records.
type Invoice struct {
	ID                 snowflake.ID                `json:"id" gorm:"primaryKey"`
	Number             string                      `json:"number" gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	InvoiceClass       scheduledomain.InvoiceClass `json:"invoice_class" gorm:"type:text;not null"`
	ScheduledInvoiceID *snowflake.ID               `json:"scheduled_invoice_id" gorm:"uniqueIndex:ux_invoices_scheduled_invoice"`
	ContractID         *snowflake.ID               `json:"contract_id" gorm:"index"`
	FunderType         string                      `json:"funder_type" gorm:"type:text;index"`
	CorporateClientID  *snowflake.ID               `json:"corporate_client_id" gorm:"index"`
	PartyKind          PartyKind                   `json:"party_kind" gorm:"type:text;not null"`
	PartyName          string                      `json:"party_name" gorm:"type:text;not null"`
	PartyEmail         string                      `json:"party_email" gorm:"type:text"`
	PartyRef           *snowflake.ID               `json:"party_ref"`
	PartyDetails       datatypes.JSON              `json:"party_details"`
	InvoiceDate        time.Time                   `json:"invoice_date" gorm:"type:date;not null;index"`
	DueDate            time.Time                   `json:"due_date" gorm:"type:date;not null"`
	Subtotal           decimal.Decimal             `json:"subtotal" gorm:"type:numeric(18,2);not null"`
	VATRate            decimal.Decimal             `json:"vat_rate" gorm:"type:numeric(6,4);not null"`
	VATAmount          decimal.Decimal             `json:"vat_amount" gorm:"type:numeric(18,2);not null"`
	Total              decimal.Decimal             `json:"total" gorm:"type:numeric(18,2);not null"`
	AmountPaid         decimal.Decimal             `json:"amount_paid" gorm:"type:numeric(18,2);not null;default:0"`
	Status             InvoiceStatus               `json:"status" gorm:"type:text;not null;default:'DRAFT'"`
	Notes              string                      `json:"notes" gorm:"type:text"`
	CreatedAt          time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time                   `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

func (i Invoice) BalanceDue() decimal.Decimal {
	return i.Total.Sub(i.AmountPaid)
}

// IsFullyPaid reports whether payments cover the invoice total.
func (i Invoice) IsFullyPaid() bool {
	return i.AmountPaid.GreaterThanOrEqual(i.Total)
}

// LineItem represents a line on an invoice.
type LineItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:numeric(10,2);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,2);not null"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

// InvoiceSequence is the last number issued per prefix and year-month.
type InvoiceSequence struct {
	Prefix    string    `gorm:"type:varchar(16);primaryKey"`
	YearMonth string    `gorm:"type:char(6);primaryKey"`
	LastValue int       `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
)

type Service interface {
	// ConvertToTax renumbers a pro forma invoice under the tax prefix. Invoices
	// already outside the pro forma prefix are returned unchanged.
	ConvertToTax(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error)
	// OnPayment reacts to a recorded payment. It never fails: problems are
	// logged and the payment stands.
	OnPayment(ctx context.Context, payment paymentdomain.Payment)
}

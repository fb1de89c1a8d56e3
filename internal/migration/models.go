package migration

import (
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
)

// Models lists every table in dependency order. Dialects without a SQL
// migration set are created from these definitions.
func Models() []any {
	return []any{
		&contractdomain.CorporateClient{},
		&contractdomain.Contract{},
		&contractdomain.CohortLearner{},
		&contractdomain.Deliverable{},
		&scheduledomain.Configuration{},
		&invoicedomain.Invoice{},
		&scheduledomain.ScheduledInvoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.InvoiceSequence{},
		&paymentdomain.Payment{},
		&collectiondomain.Snapshot{},
	}
}

package domain

import "errors"

var (
	ErrInvalidScheduleType      = errors.New("invalid_schedule_type")
	ErrInvalidInvoiceClass      = errors.New("invalid_invoice_class")
	ErrInvalidBillingDay        = errors.New("invalid_billing_day_of_month")
	ErrInvalidPaymentTerms      = errors.New("invalid_payment_terms")
	ErrScheduleNotFound         = errors.New("schedule_not_found")
	ErrScheduledInvoiceNotFound = errors.New("scheduled_invoice_not_found")
	// ErrMissingStartDate marks a schedule that is not ready to bill.
	ErrMissingStartDate = errors.New("schedule_missing_start_date")
)

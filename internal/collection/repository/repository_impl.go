package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const snapshotColumns = `id, entity_type, period_type, entity_ref, period_start, period_end, total_invoiced,
	 total_collected, total_outstanding, invoices_issued, invoices_paid_on_time, invoices_paid_late,
	 invoices_outstanding, average_days_to_payment, aging_current, aging_30, aging_60, aging_90,
	 aging_over_90, aging_counts, collection_rate, persistency_rate, risk_flag, calculated_at`

type Params struct {
	fx.In

	Payments paymentdomain.Repository
}

type repo struct {
	payments paymentdomain.Repository
}

func Provide(p Params) collectiondomain.Repository {
	return &repo{payments: p.Payments}
}

func (r *repo) ListInvoiceFacts(ctx context.Context, tx *gorm.DB, filter collectiondomain.Filter, start, end time.Time) ([]collectiondomain.InvoiceFact, error) {
	query := tx.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Select("id, invoice_date, due_date, total, amount_paid, status").
		Where("invoice_date >= ? AND invoice_date <= ?", start, end)
	query = applyFilter(query, filter)

	var invoices []invoicedomain.Invoice
	if err := query.Order("id ASC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status == invoicedomain.InvoiceStatusPaid {
			ids = append(ids, inv.ID)
		}
	}
	firstPaid, err := r.payments.FirstCompletedDates(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	facts := make([]collectiondomain.InvoiceFact, 0, len(invoices))
	for _, inv := range invoices {
		fact := collectiondomain.InvoiceFact{
			InvoiceID:   inv.ID,
			InvoiceDate: inv.InvoiceDate,
			DueDate:     inv.DueDate,
			Total:       inv.Total,
			AmountPaid:  inv.AmountPaid,
			Status:      inv.Status,
		}
		if paidOn, ok := firstPaid[inv.ID]; ok {
			fact.FirstPaymentDate = &paidOn
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

func (r *repo) EarliestInvoiceDate(ctx context.Context, tx *gorm.DB, filter collectiondomain.Filter) (*time.Time, error) {
	query := applyFilter(tx.WithContext(ctx).Model(&invoicedomain.Invoice{}), filter)

	var first invoicedomain.Invoice
	err := query.Select("invoice_date").Order("invoice_date ASC").Limit(1).Find(&first).Error
	if err != nil {
		return nil, err
	}
	if first.InvoiceDate.IsZero() {
		return nil, nil
	}
	return &first.InvoiceDate, nil
}

func applyFilter(query *gorm.DB, filter collectiondomain.Filter) *gorm.DB {
	if filter.ContractID != nil {
		query = query.Where("contract_id = ?", *filter.ContractID)
	}
	if filter.FunderType != "" {
		query = query.Where("funder_type = ?", filter.FunderType)
	}
	if filter.CorporateClientID != nil {
		query = query.Where("corporate_client_id = ?", *filter.CorporateClientID)
	}
	return query
}

func (r *repo) Replace(ctx context.Context, tx *gorm.DB, snapshot *collectiondomain.Snapshot) error {
	replace := func() error {
		return tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			start := time.Now()
			if err := tx.Exec(
				`DELETE FROM collection_metrics WHERE entity_type = ? AND period_type = ? AND entity_ref = ?`,
				snapshot.EntityType,
				snapshot.PeriodType,
				snapshot.EntityRef,
			).Error; err != nil {
				return err
			}
			metrics.Jobs().ObserveLockWait(metrics.LockSnapshot, time.Since(start))
			return tx.Create(snapshot).Error
		})
	}

	err := replace()
	if db.IsDuplicateKeyErr(err) {
		// A concurrent replace for the same key committed between our delete and insert.
		err = replace()
	}
	return err
}

func (r *repo) FindByKey(ctx context.Context, tx *gorm.DB, key collectiondomain.Key) (*collectiondomain.Snapshot, error) {
	var snapshot collectiondomain.Snapshot
	err := tx.WithContext(ctx).Raw(
		`SELECT `+snapshotColumns+` FROM collection_metrics
		 WHERE entity_type = ? AND period_type = ? AND entity_ref = ?`,
		key.EntityType,
		key.PeriodType,
		key.EntityRef,
	).Scan(&snapshot).Error
	if err != nil {
		return nil, err
	}
	if snapshot.ID == 0 {
		return nil, nil
	}
	return &snapshot, nil
}

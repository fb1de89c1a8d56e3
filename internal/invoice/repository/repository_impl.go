package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"gorm.io/gorm"
)

const invoiceColumns = `id, number, invoice_class, scheduled_invoice_id, contract_id, funder_type, corporate_client_id,
	 party_kind, party_name, party_email, party_ref, party_details, invoice_date, due_date, subtotal, vat_rate,
	 vat_amount, total, amount_paid, status, notes, created_at, updated_at`

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *repo) InsertLineItems(ctx context.Context, tx *gorm.DB, items []invoicedomain.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.find(ctx, tx, `id = ?`, "", id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.find(ctx, tx, `id = ?`, db.ForUpdate(tx), id)
}

func (r *repo) FindByScheduledInvoiceID(ctx context.Context, tx *gorm.DB, scheduledInvoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.find(ctx, tx, `scheduled_invoice_id = ?`, "", scheduledInvoiceID)
}

func (r *repo) find(ctx context.Context, tx *gorm.DB, where, lock string, arg any) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE `+where+lock,
		arg,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) ListLineItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.LineItem, error) {
	var items []invoicedomain.LineItem
	err := tx.WithContext(ctx).Raw(
		`SELECT id, invoice_id, description, quantity, unit_price, amount, created_at
		 FROM invoice_line_items WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Renumber(ctx context.Context, tx *gorm.DB, id snowflake.ID, oldNumber, newNumber string, class string, notes string, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET number = ?, invoice_class = ?, notes = ?, updated_at = ?
		 WHERE id = ? AND number = ?`,
		newNumber,
		class,
		notes,
		now,
		id,
		oldNumber,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListNumbersLike(ctx context.Context, tx *gorm.DB, pattern string) ([]string, error) {
	var numbers []string
	err := tx.WithContext(ctx).Raw(
		`SELECT number FROM invoices WHERE number LIKE ?`,
		pattern,
	).Scan(&numbers).Error
	if err != nil {
		return nil, err
	}
	return numbers, nil
}

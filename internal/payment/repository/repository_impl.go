package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/payment/domain"
	"gorm.io/gorm"
)

// invoiceChunk bounds the IN list of a single query.
const invoiceChunk = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, amount, payment_date, status, reference, created_at
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FirstCompletedDates(ctx context.Context, db *gorm.DB, invoiceIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	out := make(map[snowflake.ID]time.Time, len(invoiceIDs))
	for start := 0; start < len(invoiceIDs); start += invoiceChunk {
		end := min(start+invoiceChunk, len(invoiceIDs))

		var rows []domain.Payment
		err := db.WithContext(ctx).Raw(
			`SELECT invoice_id, payment_date
			 FROM payments
			 WHERE status = ? AND invoice_id IN ?`,
			domain.PaymentStatusCompleted,
			invoiceIDs[start:end],
		).Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if first, ok := out[row.InvoiceID]; !ok || row.PaymentDate.Before(first) {
				out[row.InvoiceID] = row.PaymentDate
			}
		}
	}
	return out, nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"gorm.io/gorm"
)

const scheduleColumns = `id, contract_id, schedule_type, invoice_class, total_contract_value, amount_per_period,
	 billing_start_date, billing_end_date, billing_day_of_month, payment_terms_days, auto_generate,
	 auto_convert_on_payment, next_invoice_date, last_invoice_generated_date, created_at, updated_at`

const entryColumns = `id, schedule_id, period_number, scheduled_date, due_date, amount, status, deliverable_id,
	 deliverable_title, invoice_id, generated_at, notes, created_at, updated_at`

type repo struct{}

func Provide() scheduledomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, schedule *scheduledomain.Configuration) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO billing_schedules (`+scheduleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		schedule.ContractID,
		schedule.ScheduleType,
		schedule.InvoiceClass,
		schedule.TotalContractValue,
		schedule.AmountPerPeriod,
		schedule.BillingStartDate,
		schedule.BillingEndDate,
		schedule.BillingDayOfMonth,
		schedule.PaymentTermsDays,
		schedule.AutoGenerate,
		schedule.AutoConvertOnPayment,
		schedule.NextInvoiceDate,
		schedule.LastInvoiceGeneratedDate,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, schedule *scheduledomain.Configuration) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET schedule_type = ?, invoice_class = ?, total_contract_value = ?, amount_per_period = ?,
		     billing_start_date = ?, billing_end_date = ?, billing_day_of_month = ?, payment_terms_days = ?,
		     auto_generate = ?, auto_convert_on_payment = ?, updated_at = ?
		 WHERE id = ?`,
		schedule.ScheduleType,
		schedule.InvoiceClass,
		schedule.TotalContractValue,
		schedule.AmountPerPeriod,
		schedule.BillingStartDate,
		schedule.BillingEndDate,
		schedule.BillingDayOfMonth,
		schedule.PaymentTermsDays,
		schedule.AutoGenerate,
		schedule.AutoConvertOnPayment,
		schedule.UpdatedAt,
		schedule.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*scheduledomain.Configuration, error) {
	return r.findSchedule(ctx, tx, `id = ?`, "", id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*scheduledomain.Configuration, error) {
	return r.findSchedule(ctx, tx, `id = ?`, db.ForUpdate(tx), id)
}

func (r *repo) FindByContractID(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) (*scheduledomain.Configuration, error) {
	return r.findSchedule(ctx, tx, `contract_id = ?`, "", contractID)
}

func (r *repo) FindByContractIDForUpdate(ctx context.Context, tx *gorm.DB, contractID snowflake.ID) (*scheduledomain.Configuration, error) {
	return r.findSchedule(ctx, tx, `contract_id = ?`, db.ForUpdate(tx), contractID)
}

func (r *repo) findSchedule(ctx context.Context, tx *gorm.DB, where, lock string, arg any) (*scheduledomain.Configuration, error) {
	var schedule scheduledomain.Configuration
	err := tx.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+` FROM billing_schedules WHERE `+where+lock,
		arg,
	).Scan(&schedule).Error
	if err != nil {
		return nil, err
	}
	if schedule.ID == 0 {
		return nil, nil
	}
	return &schedule, nil
}

func (r *repo) UpdatePlanState(ctx context.Context, tx *gorm.DB, id snowflake.ID, amountPerPeriod decimal.NullDecimal, nextInvoiceDate *time.Time, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_schedules SET amount_per_period = ?, next_invoice_date = ?, updated_at = ? WHERE id = ?`,
		amountPerPeriod,
		nextInvoiceDate,
		now,
		id,
	).Error
}

func (r *repo) UpdateGenerationState(ctx context.Context, tx *gorm.DB, id snowflake.ID, generatedOn time.Time, nextInvoiceDate *time.Time, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_schedules SET last_invoice_generated_date = ?, next_invoice_date = ?, updated_at = ? WHERE id = ?`,
		generatedOn,
		nextInvoiceDate,
		now,
		id,
	).Error
}

func (r *repo) InsertEntries(ctx context.Context, tx *gorm.DB, entries []scheduledomain.ScheduledInvoice) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&entries).Error
}

func (r *repo) DeleteScheduledEntries(ctx context.Context, tx *gorm.DB, scheduleID snowflake.ID) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`DELETE FROM scheduled_invoices WHERE schedule_id = ? AND status = ? AND invoice_id IS NULL`,
		scheduleID,
		scheduledomain.EntryScheduled,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListEntries(ctx context.Context, tx *gorm.DB, scheduleID snowflake.ID) ([]scheduledomain.ScheduledInvoice, error) {
	var entries []scheduledomain.ScheduledInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM scheduled_invoices
		 WHERE schedule_id = ?
		 ORDER BY scheduled_date ASC, period_number ASC`,
		scheduleID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) CountEntries(ctx context.Context, tx *gorm.DB, scheduleID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM scheduled_invoices WHERE schedule_id = ?`,
		scheduleID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListDueEntries(ctx context.Context, tx *gorm.DB, asOf time.Time, afterID snowflake.ID, limit int) ([]scheduledomain.ScheduledInvoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []scheduledomain.ScheduledInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT si.id, si.schedule_id, si.period_number, si.scheduled_date, si.due_date, si.amount, si.status,
		        si.deliverable_id, si.deliverable_title, si.invoice_id, si.generated_at, si.notes,
		        si.created_at, si.updated_at
		 FROM scheduled_invoices si
		 JOIN billing_schedules bs ON bs.id = si.schedule_id
		 WHERE si.status = ? AND si.invoice_id IS NULL AND si.scheduled_date <= ? AND bs.auto_generate = ?
		   AND si.id > ?
		 ORDER BY si.id ASC
		 LIMIT ?`,
		scheduledomain.EntryScheduled,
		asOf,
		true,
		afterID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindEntryByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*scheduledomain.ScheduledInvoice, error) {
	return r.findEntry(ctx, tx, `id = ?`, "", id)
}

func (r *repo) FindEntryForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*scheduledomain.ScheduledInvoice, error) {
	return r.findEntry(ctx, tx, `id = ?`, db.ForUpdate(tx), id)
}

func (r *repo) FindEntryByInvoiceID(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (*scheduledomain.ScheduledInvoice, error) {
	return r.findEntry(ctx, tx, `invoice_id = ?`, "", invoiceID)
}

func (r *repo) findEntry(ctx context.Context, tx *gorm.DB, where, lock string, arg any) (*scheduledomain.ScheduledInvoice, error) {
	var entry scheduledomain.ScheduledInvoice
	err := tx.WithContext(ctx).Raw(
		`SELECT `+entryColumns+` FROM scheduled_invoices WHERE `+where+lock,
		arg,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) MarkEntryGenerated(ctx context.Context, tx *gorm.DB, id, invoiceID snowflake.ID, at time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE scheduled_invoices
		 SET status = ?, invoice_id = ?, generated_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND invoice_id IS NULL`,
		scheduledomain.EntryGenerated,
		invoiceID,
		at,
		at,
		id,
		scheduledomain.EntryScheduled,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkEntryPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE scheduled_invoices SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		scheduledomain.EntryPaid,
		now,
		id,
		scheduledomain.EntryGenerated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

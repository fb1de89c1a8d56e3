package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/clock"
	"github.com/smallbiznis/billingschedule/internal/config"
	conversiondomain "github.com/smallbiznis/billingschedule/internal/conversion/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	InvoiceRepo  invoicedomain.Repository
	ScheduleRepo scheduledomain.Repository
	Sequencer    invoicedomain.Sequencer
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	invoiceRepo  invoicedomain.Repository
	scheduleRepo scheduledomain.Repository
	sequencer    invoicedomain.Sequencer
	metrics      *metrics.Metrics
}

func NewService(p ServiceParam) conversiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("conversion.service"),
		clock:        p.Clock,
		billing:      p.Billing,
		invoiceRepo:  p.InvoiceRepo,
		scheduleRepo: p.ScheduleRepo,
		sequencer:    p.Sequencer,
		metrics:      p.Metrics,
	}
}

func (s *Service) ConvertToTax(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	billing := s.billing.Get()
	now := s.clock.Now()

	var (
		oldNumber string
		converted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if !invoicedomain.HasPrefix(invoice.Number, billing.ProformaPrefix) {
			return nil
		}

		number, err := s.sequencer.Next(ctx, tx, billing.TaxPrefix, now)
		if err != nil {
			return err
		}
		class, _ := invoicedomain.ClassForNumber(number, billing.ProformaPrefix, billing.TaxPrefix)
		notes := conversionNote(invoice.Number, invoice.Notes)
		ok, err := s.invoiceRepo.Renumber(ctx, tx, invoice.ID, invoice.Number, number, string(class), notes, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("invoice %s renumbered concurrently", invoice.ID)
		}
		oldNumber, converted = invoice.Number, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if converted {
		s.metrics.RecordInvoiceConverted(ctx)
		obslogger.WithContext(ctx, s.log).Info("invoice.converted",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("from", oldNumber),
			zap.String("to", invoice.Number),
		)
	}
	return invoice, nil
}

func conversionNote(oldNumber, notes string) string {
	note := "Converted from pro forma " + oldNumber
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return note + "\n" + notes
}

func (s *Service) OnPayment(ctx context.Context, payment paymentdomain.Payment) {
	log := s.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", payment.InvoiceID.String()),
	)
	if !payment.IsCompleted() {
		return
	}

	entry, err := s.scheduleRepo.FindEntryByInvoiceID(ctx, s.db, payment.InvoiceID)
	if err != nil {
		log.Warn("conversion.lookup_failed", zap.Error(err))
		return
	}
	if entry == nil {
		log.Debug("conversion.unscheduled_invoice")
		return
	}
	schedule, err := s.scheduleRepo.FindByID(ctx, s.db, entry.ScheduleID)
	if err != nil || schedule == nil {
		log.Warn("conversion.schedule_missing", zap.String("schedule_id", entry.ScheduleID.String()), zap.Error(err))
		return
	}
	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, payment.InvoiceID)
	if err != nil || invoice == nil {
		log.Warn("conversion.invoice_missing", zap.Error(err))
		return
	}

	if schedule.AutoConvertOnPayment && invoicedomain.HasPrefix(invoice.Number, s.billing.Get().ProformaPrefix) {
		if converted, err := s.ConvertToTax(ctx, invoice.ID); err != nil {
			log.Error("conversion.failed", zap.Error(err))
		} else {
			invoice = converted
		}
	}

	if !invoice.IsFullyPaid() {
		return
	}
	paid, err := s.scheduleRepo.MarkEntryPaid(ctx, s.db, entry.ID, s.clock.Now())
	if err != nil {
		log.Error("conversion.mark_paid_failed", zap.String("scheduled_invoice_id", entry.ID.String()), zap.Error(err))
		return
	}
	if paid {
		log.Info("scheduled_invoice.paid", zap.String("scheduled_invoice_id", entry.ID.String()))
	}
}

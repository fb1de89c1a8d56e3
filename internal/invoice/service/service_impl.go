package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingschedule/internal/batch"
	"github.com/smallbiznis/billingschedule/internal/clock"
	"github.com/smallbiznis/billingschedule/internal/config"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"github.com/smallbiznis/billingschedule/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       config.Config
	Billing      *config.BillingConfigHolder
	Repo         invoicedomain.Repository
	ScheduleRepo scheduledomain.Repository
	Directory    contractdomain.Directory
	Sequencer    invoicedomain.Sequencer
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	billing     *config.BillingConfigHolder
	batchSize   int
	concurrency int

	repo         invoicedomain.Repository
	scheduleRepo scheduledomain.Repository
	dir          contractdomain.Directory
	sequencer    invoicedomain.Sequencer
	metrics      *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	batchSize := p.Config.Scheduler.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := p.Config.Scheduler.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		billing:     p.Billing,
		batchSize:   batchSize,
		concurrency: concurrency,

		repo:         p.Repo,
		scheduleRepo: p.ScheduleRepo,
		dir:          p.Directory,
		sequencer:    p.Sequencer,
		metrics:      p.Metrics,
	}
}

var errLostRace = errors.New("scheduled_invoice_materialized_concurrently")

// issueInput is everything read outside the transaction that shapes the invoice.
type issueInput struct {
	entry    scheduledomain.ScheduledInvoice
	schedule scheduledomain.Configuration
	contract contractdomain.Contract
	party    invoicedomain.BillingParty
	billing  config.BillingConfig
}

func (s *Service) Materialize(ctx context.Context, scheduledInvoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	entry, err := s.scheduleRepo.FindEntryByID(ctx, s.db, scheduledInvoiceID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, scheduledomain.ErrScheduledInvoiceNotFound
	}
	if entry.InvoiceID != nil {
		return s.GetByID(ctx, *entry.InvoiceID)
	}

	in, err := s.prepare(ctx, *entry)
	if err != nil {
		return nil, err
	}

	invoice, err := s.issue(ctx, in)
	if errors.Is(err, errLostRace) || db.IsDuplicateKeyErr(err) {
		existing, findErr := s.repo.FindByScheduledInvoiceID(ctx, s.db, scheduledInvoiceID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvoiceMaterialized(ctx, string(invoice.InvoiceClass))
	obslogger.WithContext(ctx, s.log).Info("invoice.materialized",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.String("scheduled_invoice_id", scheduledInvoiceID.String()),
		zap.String("party_kind", string(invoice.PartyKind)),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

func (s *Service) prepare(ctx context.Context, entry scheduledomain.ScheduledInvoice) (issueInput, error) {
	schedule, err := s.scheduleRepo.FindByID(ctx, s.db, entry.ScheduleID)
	if err != nil {
		return issueInput{}, err
	}
	if schedule == nil {
		return issueInput{}, scheduledomain.ErrScheduleNotFound
	}
	contract, err := s.dir.GetContract(ctx, schedule.ContractID)
	if err != nil {
		return issueInput{}, err
	}
	party, err := s.resolveParty(ctx, *contract)
	if err != nil {
		return issueInput{}, err
	}
	return issueInput{
		entry:    entry,
		schedule: *schedule,
		contract: *contract,
		party:    party,
		billing:  s.billing.Get(),
	}, nil
}

func (s *Service) resolveParty(ctx context.Context, contract contractdomain.Contract) (invoicedomain.BillingParty, error) {
	var lookup invoicedomain.PartyLookup
	if contract.FunderType == contractdomain.FunderPrivate && contract.CohortID != nil {
		learner, err := s.dir.FirstCohortLearner(ctx, *contract.CohortID)
		if err != nil {
			return nil, err
		}
		lookup.Learner = learner
	}
	if contract.CorporateClientID != nil {
		corporate, err := s.dir.GetCorporateClient(ctx, *contract.CorporateClientID)
		if err != nil && !errors.Is(err, contractdomain.ErrCorporateClientNotFound) {
			return nil, err
		}
		lookup.Corporate = corporate
	}
	return invoicedomain.ResolveBillingParty(contract, lookup), nil
}

// issue creates the invoice and links it to the entry in one transaction. The
// entry row lock, the invoice_id IS NULL guard and the unique index on
// invoices.scheduled_invoice_id each prevent a second invoice for the entry.
func (s *Service) issue(ctx context.Context, in issueInput) (*invoicedomain.Invoice, error) {
	now := s.clock.Now()
	today := clock.Date(now)

	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		start := time.Now()
		locked, err := s.scheduleRepo.FindEntryForUpdate(ctx, tx, in.entry.ID)
		if err != nil {
			return err
		}
		metrics.Jobs().ObserveLockWait(metrics.LockScheduledInvoice, time.Since(start))
		if locked == nil {
			return scheduledomain.ErrScheduledInvoiceNotFound
		}
		if locked.InvoiceID != nil {
			return errLostRace
		}
		if locked.Status != scheduledomain.EntryScheduled {
			return fmt.Errorf("%w: %s", invoicedomain.ErrEntryNotSchedulable, locked.Status)
		}

		prefix := in.billing.ProformaPrefix
		if in.schedule.InvoiceClass == scheduledomain.InvoiceClassTax {
			prefix = in.billing.TaxPrefix
		}
		number, err := s.sequencer.Next(ctx, tx, prefix, now)
		if err != nil {
			return err
		}

		invoice, err = buildInvoice(s.genID.Generate(), number, in, now)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			return err
		}
		if err := s.repo.InsertLineItems(ctx, tx, []invoicedomain.LineItem{
			buildLineItem(s.genID.Generate(), invoice, in),
		}); err != nil {
			return err
		}

		linked, err := s.scheduleRepo.MarkEntryGenerated(ctx, tx, locked.ID, invoice.ID, now)
		if err != nil {
			return err
		}
		if !linked {
			return errLostRace
		}

		entries, err := s.scheduleRepo.ListEntries(ctx, tx, in.schedule.ID)
		if err != nil {
			return err
		}
		scheduled := locked.ScheduledDate
		next := scheduledomain.EarliestScheduled(entries, &scheduled)
		return s.scheduleRepo.UpdateGenerationState(ctx, tx, in.schedule.ID, today, next, now)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func buildInvoice(id snowflake.ID, number string, in issueInput, now time.Time) (*invoicedomain.Invoice, error) {
	subtotal := in.entry.Amount
	rate := in.billing.VAT()
	vat := subtotal.Mul(rate).Round(2)
	entryID := in.entry.ID
	contractID := in.contract.ID

	invoice := &invoicedomain.Invoice{
		ID:                 id,
		Number:             number,
		InvoiceClass:       in.schedule.InvoiceClass,
		ScheduledInvoiceID: &entryID,
		ContractID:         &contractID,
		FunderType:         string(in.contract.FunderType),
		CorporateClientID:  in.contract.CorporateClientID,
		InvoiceDate:        clock.Date(in.entry.ScheduledDate),
		DueDate:            clock.Date(in.entry.DueDate),
		Subtotal:           subtotal,
		VATRate:            rate,
		VATAmount:          vat,
		Total:              subtotal.Add(vat),
		AmountPaid:         decimal.Zero,
		Status:             invoicedomain.InvoiceStatusDraft,
		Notes:              fmt.Sprintf("Auto-generated for %s - Period %d", in.contract.Reference, in.entry.PeriodNumber),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := invoice.ApplyParty(in.party); err != nil {
		return nil, err
	}
	return invoice, nil
}

func buildLineItem(id snowflake.ID, invoice *invoicedomain.Invoice, in issueInput) invoicedomain.LineItem {
	description := fmt.Sprintf("%s - Period %d", in.contract.Title, in.entry.PeriodNumber)
	if in.entry.DeliverableTitle != "" {
		description = fmt.Sprintf("%s - %s", in.contract.Title, in.entry.DeliverableTitle)
	}
	return invoicedomain.LineItem{
		ID:          id,
		InvoiceID:   invoice.ID,
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   invoice.Subtotal,
		Amount:      invoice.Subtotal,
		CreatedAt:   invoice.CreatedAt,
	}
}

func (s *Service) RunDueBatch(ctx context.Context, today time.Time) (*batch.Report[invoicedomain.Invoice], error) {
	today = clock.Date(today)
	report := batch.NewReport[invoicedomain.Invoice](s.clock.Now())
	log := obslogger.WithContext(ctx, s.log).With(zap.String("batch_id", report.RunID), zap.Time("as_of", today))

	var (
		mu     sync.Mutex
		cursor snowflake.ID
	)
	for {
		entries, err := s.scheduleRepo.ListDueEntries(ctx, s.db, today, cursor, s.batchSize)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		cursor = entries[len(entries)-1].ID

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.concurrency)
		for _, entry := range entries {
			group.Go(func() error {
				invoice, err := s.Materialize(groupCtx, entry.ID)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					reason := classifyItemError(err)
					report.Skip(entry.ID.String(), reason, err)
					log.Warn("batch.item.skipped",
						zap.String("scheduled_invoice_id", entry.ID.String()),
						zap.String("reason", string(reason)),
						zap.Error(err),
					)
					return nil
				}
				report.Succeed(*invoice)
				return nil
			})
		}
		_ = group.Wait()

		if err := ctx.Err(); err != nil {
			report.Finish(s.clock.Now())
			return report, err
		}
		if len(entries) < s.batchSize {
			break
		}
	}

	report.Finish(s.clock.Now())
	log.Info("invoice.batch.finished",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func classifyItemError(err error) batch.SkipReason {
	if errors.Is(err, errLostRace) {
		return batch.SkipAlreadyProcessed
	}
	return batch.Classify(err,
		[]error{scheduledomain.ErrMissingStartDate},
		[]error{
			scheduledomain.ErrScheduleNotFound,
			scheduledomain.ErrScheduledInvoiceNotFound,
			contractdomain.ErrContractNotFound,
		},
	)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ListLineItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.LineItem, error) {
	return s.repo.ListLineItems(ctx, s.db, invoiceID)
}

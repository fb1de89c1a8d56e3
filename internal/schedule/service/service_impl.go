package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/clock"
	"github.com/smallbiznis/billingschedule/internal/config"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      scheduledomain.Repository
	Directory contractdomain.Directory
	Billing   *config.BillingConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    scheduledomain.Repository
	dir     contractdomain.Directory
	billing *config.BillingConfigHolder
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) scheduledomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("schedule.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		dir:     p.Directory,
		billing: p.Billing,
		metrics: p.Metrics,
	}
}

// TemplateFromConfig validates a configured funder template.
func TemplateFromConfig(tpl config.ScheduleTemplate) (scheduledomain.Template, error) {
	scheduleType, err := scheduledomain.ParseScheduleType(tpl.ScheduleType)
	if err != nil {
		return scheduledomain.Template{}, err
	}
	invoiceClass, err := scheduledomain.ParseInvoiceClass(tpl.InvoiceClass)
	if err != nil {
		return scheduledomain.Template{}, err
	}
	out := scheduledomain.Template{
		ScheduleType:         scheduleType,
		InvoiceClass:         invoiceClass,
		PaymentTermsDays:     tpl.PaymentTermsDays,
		BillingDayOfMonth:    tpl.BillingDayOfMonth,
		AutoGenerate:         true,
		AutoConvertOnPayment: true,
	}
	if tpl.AutoGenerate != nil {
		out.AutoGenerate = *tpl.AutoGenerate
	}
	if tpl.AutoConvertOnPayment != nil {
		out.AutoConvertOnPayment = *tpl.AutoConvertOnPayment
	}
	return out, nil
}

func validateTemplate(tpl scheduledomain.Template) error {
	if _, err := scheduledomain.ParseScheduleType(string(tpl.ScheduleType)); err != nil {
		return err
	}
	if _, err := scheduledomain.ParseInvoiceClass(string(tpl.InvoiceClass)); err != nil {
		return err
	}
	if tpl.BillingDayOfMonth < 1 || tpl.BillingDayOfMonth > 28 {
		return fmt.Errorf("%w: %d", scheduledomain.ErrInvalidBillingDay, tpl.BillingDayOfMonth)
	}
	if tpl.PaymentTermsDays < 0 {
		return fmt.Errorf("%w: %d", scheduledomain.ErrInvalidPaymentTerms, tpl.PaymentTermsDays)
	}
	return nil
}

func (s *Service) CreateScheduleForContract(ctx context.Context, contractID snowflake.ID) (*scheduledomain.Configuration, error) {
	contract, err := s.dir.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	tpl, err := TemplateFromConfig(s.billing.Get().TemplateFor(string(contract.FunderType)))
	if err != nil {
		return nil, err
	}
	if preferred := strings.TrimSpace(contract.PreferredSchedule); preferred != "" {
		scheduleType, err := scheduledomain.ParseScheduleType(preferred)
		if err != nil {
			return nil, err
		}
		if scheduleType != scheduledomain.ScheduleMonthly {
			tpl.ScheduleType = scheduleType
		}
	}
	if contract.AutoGenerateInvoices != nil {
		tpl.AutoGenerate = *contract.AutoGenerateInvoices
	}

	return s.CreateSchedule(ctx, *contract, tpl)
}

func (s *Service) CreateSchedule(ctx context.Context, contract contractdomain.Contract, tpl scheduledomain.Template) (*scheduledomain.Configuration, error) {
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	deliverableCount := 0
	if tpl.ScheduleType == scheduledomain.ScheduleDeliverable {
		deliverables, err := s.dir.ListDeliverables(ctx, contract.ID, s.billing.Get().ActiveDeliverableStatuses)
		if err != nil {
			return nil, err
		}
		deliverableCount = len(deliverables)
	}

	now := s.clock.Now()
	var (
		scheduleID snowflake.ID
		needsPlan  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByContractIDForUpdate(ctx, tx, contract.ID)
		if err != nil {
			return err
		}

		schedule := existing
		if schedule == nil {
			schedule = &scheduledomain.Configuration{
				ID:         s.genID.Generate(),
				ContractID: contract.ID,
				CreatedAt:  now,
			}
		}
		applyTemplate(schedule, contract, tpl)
		schedule.DeriveAmountPerPeriod(deliverableCount)
		schedule.UpdatedAt = now
		scheduleID = schedule.ID

		if existing == nil {
			needsPlan = true
			return s.repo.Insert(ctx, tx, schedule)
		}
		if err := s.repo.Update(ctx, tx, schedule); err != nil {
			return err
		}
		count, err := s.repo.CountEntries(ctx, tx, schedule.ID)
		if err != nil {
			return err
		}
		needsPlan = count == 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("schedule.upserted",
		zap.String("contract_id", contract.ID.String()),
		zap.String("schedule_id", scheduleID.String()),
		zap.String("schedule_type", string(tpl.ScheduleType)),
		zap.Bool("plan", needsPlan),
	)

	if needsPlan {
		if _, err := s.Plan(ctx, scheduleID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, scheduleID)
}

func applyTemplate(schedule *scheduledomain.Configuration, contract contractdomain.Contract, tpl scheduledomain.Template) {
	schedule.ScheduleType = tpl.ScheduleType
	schedule.InvoiceClass = tpl.InvoiceClass
	schedule.TotalContractValue = contract.ContractValue
	schedule.BillingStartDate = dateOrNil(contract.PlannedStartDate)
	schedule.BillingEndDate = dateOrNil(contract.PlannedEndDate)
	schedule.BillingDayOfMonth = tpl.BillingDayOfMonth
	schedule.PaymentTermsDays = tpl.PaymentTermsDays
	schedule.AutoGenerate = tpl.AutoGenerate
	schedule.AutoConvertOnPayment = tpl.AutoConvertOnPayment
}

func (s *Service) Plan(ctx context.Context, scheduleID snowflake.ID) ([]scheduledomain.ScheduledInvoice, error) {
	current, err := s.repo.FindByID(ctx, s.db, scheduleID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, scheduledomain.ErrScheduleNotFound
	}
	if current.BillingStartDate == nil {
		obslogger.WithContext(ctx, s.log).Info("schedule.plan.skipped",
			zap.String("schedule_id", scheduleID.String()),
			zap.Error(scheduledomain.ErrMissingStartDate),
		)
		return nil, nil
	}

	billing := s.billing.Get()
	var deliverables []contractdomain.Deliverable
	if current.ScheduleType == scheduledomain.ScheduleDeliverable {
		deliverables, err = s.dir.ListDeliverables(ctx, current.ContractID, billing.ActiveDeliverableStatuses)
		if err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	var planned []scheduledomain.ScheduledInvoice
	var removed int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		schedule, err := s.repo.FindByIDForUpdate(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		if schedule == nil {
			return scheduledomain.ErrScheduleNotFound
		}

		entries, err := s.repo.ListEntries(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		retained := make([]scheduledomain.ScheduledInvoice, 0, len(entries))
		for _, e := range entries {
			if e.Status != scheduledomain.EntryScheduled || e.IsMaterialized() {
				retained = append(retained, e)
			}
		}

		removed, err = s.repo.DeleteScheduledEntries(ctx, tx, scheduleID)
		if err != nil {
			return err
		}

		schedule.DeriveAmountPerPeriod(len(deliverables))
		planned = scheduledomain.BuildPlan(scheduledomain.PlanInput{
			Schedule:     *schedule,
			Deliverables: deliverables,
			Retained:     retained,
			Split:        scheduledomain.SplitMode(billing.DeliverableSplit),
		})
		for i := range planned {
			planned[i].ID = s.genID.Generate()
			planned[i].CreatedAt = now
			planned[i].UpdatedAt = now
		}
		if err := s.repo.InsertEntries(ctx, tx, planned); err != nil {
			return err
		}

		next := scheduledomain.EarliestScheduled(planned, nil)
		return s.repo.UpdatePlanState(ctx, tx, scheduleID, schedule.AmountPerPeriod, next, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordScheduledPlanned(ctx, string(current.ScheduleType), len(planned))
	obslogger.WithContext(ctx, s.log).Info("schedule.planned",
		zap.String("schedule_id", scheduleID.String()),
		zap.String("schedule_type", string(current.ScheduleType)),
		zap.Int64("replaced", removed),
		zap.Int("planned", len(planned)),
	)
	return planned, nil
}

func (s *Service) Get(ctx context.Context, scheduleID snowflake.ID) (*scheduledomain.Configuration, error) {
	schedule, err := s.repo.FindByID(ctx, s.db, scheduleID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, scheduledomain.ErrScheduleNotFound
	}
	return schedule, nil
}

func (s *Service) GetByContract(ctx context.Context, contractID snowflake.ID) (*scheduledomain.Configuration, error) {
	schedule, err := s.repo.FindByContractID(ctx, s.db, contractID)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, scheduledomain.ErrScheduleNotFound
	}
	return schedule, nil
}

func (s *Service) ListEntries(ctx context.Context, scheduleID snowflake.ID) ([]scheduledomain.ScheduledInvoice, error) {
	return s.repo.ListEntries(ctx, s.db, scheduleID)
}

func dateOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := clock.Date(*t)
	return &d
}

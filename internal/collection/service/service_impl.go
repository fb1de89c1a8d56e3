package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/batch"
	"github.com/smallbiznis/billingschedule/internal/clock"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	"github.com/smallbiznis/billingschedule/internal/config"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
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
	Billing   *config.BillingConfigHolder
	Repo      collectiondomain.Repository
	Directory contractdomain.Directory
	Cache     collectiondomain.SnapshotCache `optional:"true"`
	Metrics   *metrics.Metrics               `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder
	repo    collectiondomain.Repository
	dir     contractdomain.Directory
	cache   collectiondomain.SnapshotCache
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) collectiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("collection.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		repo:    p.Repo,
		dir:     p.Directory,
		cache:   p.Cache,
		metrics: p.Metrics,
	}
}

func (s *Service) ProjectMetrics(ctx context.Context, contractID snowflake.ID, periodType collectiondomain.PeriodType) (*collectiondomain.Snapshot, error) {
	contract, err := s.dir.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	lifetimeStart := contract.PlannedStartDate
	if lifetimeStart == nil {
		created := contract.CreatedAt
		lifetimeStart = &created
	}
	id := contract.ID
	key := collectiondomain.Key{
		EntityType: collectiondomain.EntityProject,
		PeriodType: periodType,
		EntityRef:  contract.ID.String(),
	}
	return s.compute(ctx, key, collectiondomain.Filter{ContractID: &id}, lifetimeStart)
}

func (s *Service) FunderTypeMetrics(ctx context.Context, funderType string, periodType collectiondomain.PeriodType) (*collectiondomain.Snapshot, error) {
	funderType = strings.ToUpper(strings.TrimSpace(funderType))
	if funderType == "" {
		return nil, collectiondomain.ErrInvalidScope
	}
	filter := collectiondomain.Filter{FunderType: funderType}
	lifetimeStart, err := s.lifetimeStart(ctx, periodType, filter)
	if err != nil {
		return nil, err
	}
	key := collectiondomain.Key{
		EntityType: collectiondomain.EntityFunderType,
		PeriodType: periodType,
		EntityRef:  funderType,
	}
	return s.compute(ctx, key, filter, lifetimeStart)
}

func (s *Service) CorporateMetrics(ctx context.Context, corporateClientID snowflake.ID, periodType collectiondomain.PeriodType) (*collectiondomain.Snapshot, error) {
	corporate, err := s.dir.GetCorporateClient(ctx, corporateClientID)
	if err != nil {
		return nil, err
	}
	id := corporate.ID
	filter := collectiondomain.Filter{CorporateClientID: &id}
	lifetimeStart, err := s.lifetimeStart(ctx, periodType, filter)
	if err != nil {
		return nil, err
	}
	key := collectiondomain.Key{
		EntityType: collectiondomain.EntityCorporate,
		PeriodType: periodType,
		EntityRef:  corporate.ID.String(),
	}
	return s.compute(ctx, key, filter, lifetimeStart)
}

func (s *Service) ComputeMetrics(ctx context.Context, scope collectiondomain.Scope, periodType collectiondomain.PeriodType) (*collectiondomain.Snapshot, error) {
	switch scope.EntityType {
	case collectiondomain.EntityProject:
		id, err := parseEntityID(scope.EntityRef)
		if err != nil {
			return nil, err
		}
		return s.ProjectMetrics(ctx, id, periodType)
	case collectiondomain.EntityFunderType:
		return s.FunderTypeMetrics(ctx, scope.EntityRef, periodType)
	case collectiondomain.EntityCorporate:
		id, err := parseEntityID(scope.EntityRef)
		if err != nil {
			return nil, err
		}
		return s.CorporateMetrics(ctx, id, periodType)
	default:
		return nil, collectiondomain.ErrInvalidScope
	}
}

func parseEntityID(ref string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(ref))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", collectiondomain.ErrInvalidScope, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: entity id must be positive", collectiondomain.ErrInvalidScope)
	}
	return id, nil
}

// lifetimeStart finds where a LIFETIME window begins for scopes without a
// contract start date: the earliest invoice in scope.
func (s *Service) lifetimeStart(ctx context.Context, periodType collectiondomain.PeriodType, filter collectiondomain.Filter) (*time.Time, error) {
	if periodType != collectiondomain.PeriodLifetime {
		return nil, nil
	}
	return s.repo.EarliestInvoiceDate(ctx, s.db, filter)
}

func (s *Service) compute(ctx context.Context, key collectiondomain.Key, filter collectiondomain.Filter, lifetimeStart *time.Time) (*collectiondomain.Snapshot, error) {
	if _, err := collectiondomain.ParsePeriodType(string(key.PeriodType)); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	today := clock.Date(now)
	start, end := collectiondomain.Window(key.PeriodType, today, lifetimeStart)

	facts, err := s.repo.ListInvoiceFacts(ctx, s.db, filter, start, end)
	if err != nil {
		return nil, err
	}
	totals := collectiondomain.Aggregate(facts, today)
	snapshot, err := collectiondomain.NewSnapshot(key, start, end, totals, s.billing.Get().RiskLevels, now)
	if err != nil {
		return nil, err
	}
	snapshot.ID = s.genID.Generate()

	if err := s.repo.Replace(ctx, s.db, &snapshot); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, snapshot); err != nil {
			obslogger.WithContext(ctx, s.log).Warn("collection.cache.set_failed", zap.String("key", key.String()), zap.Error(err))
		}
	}

	rate := -1.0
	if snapshot.InvoicesIssued > 0 {
		rate = snapshot.CollectionRate.InexactFloat64()
	}
	s.metrics.RecordSnapshotReplaced(ctx, string(key.EntityType), string(key.PeriodType), rate)
	obslogger.WithContext(ctx, s.log).Debug("collection.snapshot.replaced",
		zap.String("key", key.String()),
		zap.Int("invoices", snapshot.InvoicesIssued),
		zap.String("collection_rate", snapshot.CollectionRate.StringFixed(2)),
		zap.String("risk_flag", snapshot.RiskFlag),
	)
	return &snapshot, nil
}

func (s *Service) RecalculateAll(ctx context.Context) (*batch.Report[collectiondomain.Snapshot], error) {
	report := batch.NewReport[collectiondomain.Snapshot](s.clock.Now())
	log := obslogger.WithContext(ctx, s.log).With(zap.String("batch_id", report.RunID))

	record := func(ref string, snapshot *collectiondomain.Snapshot, err error) {
		if err != nil {
			reason := batch.Classify(err, nil, []error{
				contractdomain.ErrContractNotFound,
				contractdomain.ErrCorporateClientNotFound,
			})
			report.Skip(ref, reason, err)
			log.Warn("batch.item.skipped", zap.String("ref", ref), zap.String("reason", string(reason)), zap.Error(err))
			return
		}
		report.Succeed(*snapshot)
	}

	contracts, err := s.dir.ListActiveContracts(ctx)
	if err != nil {
		record("contracts", nil, err)
	}
	for _, contract := range contracts {
		if err := ctx.Err(); err != nil {
			return finish(report, s.clock.Now()), err
		}
		for _, pt := range []collectiondomain.PeriodType{collectiondomain.PeriodQuarterly, collectiondomain.PeriodLifetime} {
			snapshot, err := s.ProjectMetrics(ctx, contract.ID, pt)
			record(refFor(collectiondomain.EntityProject, pt, contract.ID.String()), snapshot, err)
		}
	}

	for _, funderType := range contractdomain.FunderTypes {
		if err := ctx.Err(); err != nil {
			return finish(report, s.clock.Now()), err
		}
		snapshot, err := s.FunderTypeMetrics(ctx, string(funderType), collectiondomain.PeriodQuarterly)
		record(refFor(collectiondomain.EntityFunderType, collectiondomain.PeriodQuarterly, string(funderType)), snapshot, err)
	}

	corporates, err := s.dir.ListActiveCorporateClients(ctx)
	if err != nil {
		record("corporate_clients", nil, err)
	}
	for _, corporate := range corporates {
		if err := ctx.Err(); err != nil {
			return finish(report, s.clock.Now()), err
		}
		snapshot, err := s.CorporateMetrics(ctx, corporate.ID, collectiondomain.PeriodQuarterly)
		record(refFor(collectiondomain.EntityCorporate, collectiondomain.PeriodQuarterly, corporate.ID.String()), snapshot, err)
	}

	finish(report, s.clock.Now())
	log.Info("collection.recalculated",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func refFor(entity collectiondomain.EntityType, pt collectiondomain.PeriodType, ref string) string {
	return collectiondomain.Key{EntityType: entity, PeriodType: pt, EntityRef: ref}.String()
}

func finish[T any](report *batch.Report[T], at time.Time) *batch.Report[T] {
	report.Finish(at)
	return report
}

func (s *Service) Latest(ctx context.Context, key collectiondomain.Key) (*collectiondomain.Snapshot, error) {
	if s.cache != nil {
		snapshot, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			obslogger.WithContext(ctx, s.log).Warn("collection.cache.get_failed", zap.String("key", key.String()), zap.Error(err))
		} else if ok {
			return snapshot, nil
		}
	}

	snapshot, err := s.repo.FindByKey(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, collectiondomain.ErrSnapshotNotFound
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, *snapshot); err != nil {
			obslogger.WithContext(ctx, s.log).Warn("collection.cache.set_failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	return snapshot, nil
}

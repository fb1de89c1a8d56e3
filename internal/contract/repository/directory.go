package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingschedule/internal/contract/domain"
	"github.com/smallbiznis/billingschedule/pkg/db/option"
	"github.com/smallbiznis/billingschedule/pkg/repository"
	"gorm.io/gorm"
)

type directory struct {
	contracts    repository.Reader[domain.Contract]
	corporates   repository.Reader[domain.CorporateClient]
	learners     repository.Reader[domain.CohortLearner]
	deliverables repository.Reader[domain.Deliverable]
}

func NewDirectory(db *gorm.DB) domain.Directory {
	return &directory{
		contracts:    repository.NewReader[domain.Contract](db),
		corporates:   repository.NewReader[domain.CorporateClient](db),
		learners:     repository.NewReader[domain.CohortLearner](db),
		deliverables: repository.NewReader[domain.Deliverable](db),
	}
}

func (d *directory) GetContract(ctx context.Context, id snowflake.ID) (*domain.Contract, error) {
	c, err := d.contracts.FindOne(ctx, nil, idEquals("id", id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrContractNotFound
	}
	return c, nil
}

func (d *directory) ListActiveContracts(ctx context.Context) ([]domain.Contract, error) {
	items, err := d.contracts.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "is_deleted", Operator: option.EQ, Value: false}),
		option.WithOrder("id", false),
	)
	if err != nil {
		return nil, err
	}
	return deref(items), nil
}

func (d *directory) GetCorporateClient(ctx context.Context, id snowflake.ID) (*domain.CorporateClient, error) {
	c, err := d.corporates.FindOne(ctx, nil, idEquals("id", id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.ErrCorporateClientNotFound
	}
	return c, nil
}

func (d *directory) ListActiveCorporateClients(ctx context.Context) ([]domain.CorporateClient, error) {
	items, err := d.corporates.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "is_active", Operator: option.EQ, Value: true}),
		option.WithOrder("id", false),
	)
	if err != nil {
		return nil, err
	}
	return deref(items), nil
}

func (d *directory) FirstCohortLearner(ctx context.Context, cohortID snowflake.ID) (*domain.CohortLearner, error) {
	return d.learners.FindOne(ctx, nil, idEquals("cohort_id", cohortID),
		option.WithOrder("enrolled_at", false),
		option.WithOrder("id", false),
	)
}

func (d *directory) ListDeliverables(ctx context.Context, contractID snowflake.ID, statuses []string) ([]domain.Deliverable, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	items, err := d.deliverables.Find(ctx, nil, idEquals("contract_id", contractID),
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.IN, Value: statuses}),
		option.WithOrder("due_date", false),
		option.WithOrder("id", false),
	)
	if err != nil {
		return nil, err
	}
	return deref(items), nil
}

// idEquals filters on an id column explicitly. A struct query would drop a
// zero id and match every row.
func idEquals(field string, id snowflake.ID) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: field, Operator: option.EQ, Value: id})
}

func deref[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}

package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/billingschedule/pkg/db/option"
	"gorm.io/gorm"
)

type reader[T any] struct {
	db *gorm.DB
}

func NewReader[T any](db *gorm.DB) Reader[T] {
	return reader[T]{db: db}
}

func (r reader[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := r.scope(ctx, query, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r reader[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var row T
	err := r.scope(ctx, query, opts).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

func (r reader[T]) scope(ctx context.Context, query *T, opts []option.QueryOption) *gorm.DB {
	stmt := r.db.WithContext(ctx).Model(new(T))
	if query != nil {
		stmt = stmt.Where(query)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

package repository

import (
	"context"

	"github.com/smallbiznis/billingschedule/pkg/db/option"
)

// Reader queries one table of an externally owned record type. The billing
// engine never writes those tables, so there is no write side.
type Reader[T any] interface {
	// Find returns every row matching the non-zero fields of query.
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns the first match, or nil when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}

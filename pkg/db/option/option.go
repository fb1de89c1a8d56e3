package option

import (
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	GTE Operator = ">="
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ApplyOperator adds a WHERE condition. Field names are restricted to snake_case
// identifiers since they are interpolated into SQL.
func ApplyOperator(cond Condition) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if !fieldPattern.MatchString(cond.Field) {
			_ = db.AddError(fmt.Errorf("invalid field %q", cond.Field))
			return db
		}
		switch cond.Operator {
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", cond.Field), cond.Value)
		case EQ, GTE, LTE:
			return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
		default:
			_ = db.AddError(fmt.Errorf("unsupported operator %q", cond.Operator))
			return db
		}
	})
}

// WithOrder orders by a single column, ascending unless desc is set.
func WithOrder(field string, desc bool) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if !fieldPattern.MatchString(field) {
			_ = db.AddError(fmt.Errorf("invalid order field %q", field))
			return db
		}
		if desc {
			return db.Order(field + " DESC")
		}
		return db.Order(field + " ASC")
	})
}

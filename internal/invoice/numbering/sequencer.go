// Package numbering issues gap-tolerant, strictly increasing invoice numbers
// per prefix and calendar month from the invoice_sequences counter table.
package numbering

import (
	"context"
	"strings"
	"time"

	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	Log  *zap.Logger
	Repo invoicedomain.Repository
}

type Sequencer struct {
	log  *zap.Logger
	repo invoicedomain.Repository
}

func NewSequencer(p Params) invoicedomain.Sequencer {
	return &Sequencer{
		log:  p.Log.Named("invoice.numbering"),
		repo: p.Repo,
	}
}

// Next increments the counter for (prefix, month of at) and returns the
// formatted number. The counter row stays locked until tx ends, so concurrent
// callers in the same bucket are serialized.
func (s *Sequencer) Next(ctx context.Context, tx *gorm.DB, prefix string, at time.Time) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", invoicedomain.ErrInvalidPrefix
	}
	yearMonth := invoicedomain.YearMonth(at)

	exists, err := s.counterExists(ctx, tx, prefix, yearMonth)
	if err != nil {
		return "", err
	}
	if !exists {
		seed, err := s.seed(ctx, tx, prefix, yearMonth)
		if err != nil {
			return "", err
		}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&invoicedomain.InvoiceSequence{
			Prefix:    prefix,
			YearMonth: yearMonth,
			LastValue: seed,
			UpdatedAt: at,
		}).Error; err != nil {
			return "", err
		}
	}

	start := time.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoice_sequences SET last_value = last_value + 1, updated_at = ?
		 WHERE prefix = ? AND year_month = ?`,
		at,
		prefix,
		yearMonth,
	).Error; err != nil {
		return "", err
	}
	metrics.Jobs().ObserveLockWait(metrics.LockInvoiceSequence, time.Since(start))

	var value int
	if err := tx.WithContext(ctx).Raw(
		`SELECT last_value FROM invoice_sequences WHERE prefix = ? AND year_month = ?`,
		prefix,
		yearMonth,
	).Scan(&value).Error; err != nil {
		return "", err
	}
	return invoicedomain.FormatNumber(prefix, yearMonth, value), nil
}

func (s *Sequencer) counterExists(ctx context.Context, tx *gorm.DB, prefix, yearMonth string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoice_sequences WHERE prefix = ? AND year_month = ?`,
		prefix,
		yearMonth,
	).Scan(&count).Error
	return count > 0, err
}

// seed returns the highest sequence already used in the bucket. Numbers that
// do not parse are ignored, so a corrupt history starts the bucket at 0001.
func (s *Sequencer) seed(ctx context.Context, tx *gorm.DB, prefix, yearMonth string) (int, error) {
	numbers, err := s.repo.ListNumbersLike(ctx, tx, invoicedomain.BucketPattern(prefix, yearMonth))
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, number := range numbers {
		seq, ok := invoicedomain.ParseSequence(number, prefix, yearMonth)
		if !ok {
			s.log.Warn("invoice.numbering.unparsable",
				zap.String("number", number),
				zap.String("prefix", prefix),
				zap.String("year_month", yearMonth),
			)
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

package batch

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// SkipReason explains why a batch item produced no result.
type SkipReason string

const (
	// SkipConfigurationIncomplete marks items whose owning configuration cannot be billed yet.
	SkipConfigurationIncomplete SkipReason = "configuration_incomplete"
	// SkipLookupMiss marks items whose referenced records no longer exist.
	SkipLookupMiss SkipReason = "lookup_miss"
	// SkipAlreadyProcessed marks items another worker completed first.
	SkipAlreadyProcessed SkipReason = "already_processed"
	// SkipItemFailure marks items that failed with an unexpected error.
	SkipItemFailure SkipReason = "item_failure"
)

// Skip records a batch item that did not succeed.
type Skip struct {
	Ref    string
	Reason SkipReason
	Err    error
}

// Report collects per-item outcomes of one batch run. Items are independent:
// a skip never undoes an earlier success.
type Report[T any] struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  []T
	Skipped    []Skip
}

func NewReport[T any](startedAt time.Time) *Report[T] {
	return &Report[T]{
		RunID:     ulid.Make().String(),
		StartedAt: startedAt,
	}
}

func (r *Report[T]) Succeed(item T) {
	r.Succeeded = append(r.Succeeded, item)
}

func (r *Report[T]) Skip(ref string, reason SkipReason, err error) {
	r.Skipped = append(r.Skipped, Skip{Ref: ref, Reason: reason, Err: err})
}

// Merge appends another report's outcomes into r.
func (r *Report[T]) Merge(other *Report[T]) {
	if other == nil {
		return
	}
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Skipped = append(r.Skipped, other.Skipped...)
}

func (r *Report[T]) Finish(at time.Time) {
	r.FinishedAt = at
}

// SkipCounts groups skipped items by reason.
func (r *Report[T]) SkipCounts() map[SkipReason]int {
	counts := make(map[SkipReason]int, len(r.Skipped))
	for _, s := range r.Skipped {
		counts[s.Reason]++
	}
	return counts
}

// Err joins the errors of skipped items, or returns nil when none carried one.
func (r *Report[T]) Err() error {
	var err error
	for _, s := range r.Skipped {
		if s.Err != nil {
			err = errors.Join(err, s.Err)
		}
	}
	return err
}

// Classify maps an item error onto a skip reason. Sentinel errors that a caller
// considers "nothing happened for this item" should be listed in lookupMiss or
// incomplete.
func Classify(err error, incomplete, lookupMiss []error) SkipReason {
	for _, target := range incomplete {
		if errors.Is(err, target) {
			return SkipConfigurationIncomplete
		}
	}
	for _, target := range lookupMiss {
		if errors.Is(err, target) {
			return SkipLookupMiss
		}
	}
	return SkipItemFailure
}

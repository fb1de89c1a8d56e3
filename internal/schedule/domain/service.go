package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
)

type Service interface {
	// CreateSchedule upserts the contract's schedule from a template and plans it
	// when it is new or has no entries yet.
	CreateSchedule(ctx context.Context, contract contractdomain.Contract, tpl Template) (*Configuration, error)
	// CreateScheduleForContract resolves the contract and its funder template first.
	CreateScheduleForContract(ctx context.Context, contractID snowflake.ID) (*Configuration, error)
	// Plan replaces the schedule's SCHEDULED entries and returns the new ones.
	Plan(ctx context.Context, scheduleID snowflake.ID) ([]ScheduledInvoice, error)
	Get(ctx context.Context, scheduleID snowflake.ID) (*Configuration, error)
	GetByContract(ctx context.Context, contractID snowflake.ID) (*Configuration, error)
	ListEntries(ctx context.Context, scheduleID snowflake.ID) ([]ScheduledInvoice, error)
}

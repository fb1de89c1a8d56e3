package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// FunderType classifies who pays for a training contract.
type FunderType string

const (
	FunderPrivate      FunderType = "PRIVATE"
	FunderSETA         FunderType = "SETA"
	FunderCorporate    FunderType = "CORPORATE"
	FunderCorporateDG  FunderType = "CORPORATE_DG"
	FunderMunicipality FunderType = "MUNICIPALITY"
	FunderGovernment   FunderType = "GOVERNMENT"
)

// FunderTypes lists every funder category metrics are computed for.
var FunderTypes = []FunderType{
	FunderPrivate,
	FunderSETA,
	FunderCorporate,
	FunderCorporateDG,
	FunderMunicipality,
	FunderGovernment,
}

// IsPublic reports whether the funder is a public body billed under its own name.
func (f FunderType) IsPublic() bool {
	switch f {
	case FunderSETA, FunderMunicipality, FunderGovernment:
		return true
	default:
		return false
	}
}

type DeliverableStatus string

const (
	DeliverablePending    DeliverableStatus = "PENDING"
	DeliverableInProgress DeliverableStatus = "IN_PROGRESS"
	DeliverableCompleted  DeliverableStatus = "COMPLETED"
	DeliverableCancelled  DeliverableStatus = "CANCELLED"
)

// Contract is the read-only view of a training contract.
type Contract struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	Reference         string          `gorm:"type:text;not null"`
	Title             string          `gorm:"type:text;not null"`
	FunderType        FunderType      `gorm:"type:text;not null"`
	ClientName        string          `gorm:"type:text"`
	CohortID          *snowflake.ID   `gorm:"index"`
	CorporateClientID *snowflake.ID   `gorm:"index"`
	PlannedStartDate  *time.Time      `gorm:"type:date"`
	PlannedEndDate    *time.Time      `gorm:"type:date"`
	ContractValue     decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	IsDeleted         bool            `gorm:"not null;default:false"`
	CreatedAt         time.Time       `gorm:"not null"`

	// PreferredSchedule is the schedule type requested on the contract; empty or
	// MONTHLY defers to the funder template.
	PreferredSchedule    string `gorm:"type:text"`
	AutoGenerateInvoices *bool
}

func (Contract) TableName() string { return "contracts" }

type CorporateClient struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Name         string       `gorm:"type:text;not null"`
	BillingEmail string       `gorm:"type:text"`
	IsActive     bool         `gorm:"not null;default:true"`
}

func (CorporateClient) TableName() string { return "corporate_clients" }

// CohortLearner is an enrolment of a learner in a cohort.
type CohortLearner struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CohortID   snowflake.ID `gorm:"not null;index"`
	LearnerID  snowflake.ID `gorm:"not null"`
	Name       string       `gorm:"type:text;not null"`
	Email      string       `gorm:"type:text"`
	EnrolledAt time.Time    `gorm:"not null"`
}

func (CohortLearner) TableName() string { return "cohort_learners" }

// Deliverable is a contract milestone that can drive deliverable-linked billing.
type Deliverable struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ContractID snowflake.ID      `gorm:"not null;index"`
	Title      string            `gorm:"type:text;not null"`
	Status     DeliverableStatus `gorm:"type:text;not null"`
	DueDate    time.Time         `gorm:"type:date;not null"`
	Weight     decimal.Decimal   `gorm:"type:numeric(10,4);not null;default:1"`
}

func (Deliverable) TableName() string { return "deliverables" }

var (
	ErrContractNotFound        = errors.New("contract_not_found")
	ErrCorporateClientNotFound = errors.New("corporate_client_not_found")
)

// Directory reads contract-side records owned by the surrounding system.
type Directory interface {
	GetContract(ctx context.Context, id snowflake.ID) (*Contract, error)
	ListActiveContracts(ctx context.Context) ([]Contract, error)
	GetCorporateClient(ctx context.Context, id snowflake.ID) (*CorporateClient, error)
	ListActiveCorporateClients(ctx context.Context) ([]CorporateClient, error)
	// FirstCohortLearner returns the earliest enrolled learner, or nil when the cohort is empty.
	FirstCohortLearner(ctx context.Context, cohortID snowflake.ID) (*CohortLearner, error)
	// ListDeliverables returns the contract's deliverables in the given statuses ordered by due date.
	ListDeliverables(ctx context.Context, contractID snowflake.ID, statuses []string) ([]Deliverable, error)
}

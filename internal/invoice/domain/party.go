package domain

import (
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	"gorm.io/datatypes"
)

type PartyKind string

const (
	PartyLearner   PartyKind = "LEARNER"
	PartyCorporate PartyKind = "CORPORATE"
	PartyFunder    PartyKind = "FUNDER"
)

const unknownPartyName = "Unknown"

// BillingParty is who an invoice is addressed to. The set of implementations
// is closed: LearnerParty, CorporateParty and FunderParty.
type BillingParty interface {
	Kind() PartyKind
	DisplayName() string
	isBillingParty()
}

type LearnerParty struct {
	LearnerID *snowflake.ID `json:"learner_id,omitempty"`
	Name      string        `json:"name"`
	Email     string        `json:"email,omitempty"`
}

type CorporateParty struct {
	CorporateClientID *snowflake.ID `json:"corporate_client_id,omitempty"`
	Name              string        `json:"name"`
	Email             string        `json:"email,omitempty"`
}

type FunderParty struct {
	FunderType contractdomain.FunderType `json:"funder_type"`
	Name       string                    `json:"name"`
}

func (LearnerParty) Kind() PartyKind   { return PartyLearner }
func (CorporateParty) Kind() PartyKind { return PartyCorporate }
func (FunderParty) Kind() PartyKind    { return PartyFunder }

func (p LearnerParty) DisplayName() string   { return p.Name }
func (p CorporateParty) DisplayName() string { return p.Name }
func (p FunderParty) DisplayName() string    { return p.Name }

func (LearnerParty) isBillingParty()   {}
func (CorporateParty) isBillingParty() {}
func (FunderParty) isBillingParty()    {}

// PartyLookup holds the records ResolveBillingParty may consult. Either may be
// nil when the contract does not link one or the record is gone.
type PartyLookup struct {
	Learner   *contractdomain.CohortLearner
	Corporate *contractdomain.CorporateClient
}

// ResolveBillingParty picks exactly one party for a contract:
// a privately funded cohort bills its first learner, a linked corporate client
// bills the corporate, a public funder bills under the contract's client name,
// and anything else bills a corporate party under the best available name.
func ResolveBillingParty(contract contractdomain.Contract, lookup PartyLookup) BillingParty {
	if contract.FunderType == contractdomain.FunderPrivate && contract.CohortID != nil {
		if l := lookup.Learner; l != nil {
			id := l.LearnerID
			return LearnerParty{LearnerID: &id, Name: l.Name, Email: l.Email}
		}
		return LearnerParty{Name: bestName(contract.ClientName)}
	}

	if contract.CorporateClientID != nil {
		id := *contract.CorporateClientID
		if c := lookup.Corporate; c != nil {
			return CorporateParty{CorporateClientID: &id, Name: bestName(c.Name, contract.ClientName), Email: c.BillingEmail}
		}
		return CorporateParty{CorporateClientID: &id, Name: bestName(contract.ClientName)}
	}

	if contract.FunderType.IsPublic() {
		return FunderParty{FunderType: contract.FunderType, Name: bestName(contract.ClientName)}
	}

	return CorporateParty{Name: bestName(contract.ClientName)}
}

func bestName(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return unknownPartyName
}

// ApplyParty copies the party onto the invoice's party columns.
func (i *Invoice) ApplyParty(p BillingParty) error {
	i.PartyKind = p.Kind()
	i.PartyName = p.DisplayName()
	i.PartyEmail = ""
	i.PartyRef = nil
	switch v := p.(type) {
	case LearnerParty:
		i.PartyEmail = v.Email
		i.PartyRef = v.LearnerID
	case CorporateParty:
		i.PartyEmail = v.Email
		i.PartyRef = v.CorporateClientID
	case FunderParty:
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	i.PartyDetails = datatypes.JSON(raw)
	return nil
}

// Party decodes the party stored on the invoice.
func (i Invoice) Party() (BillingParty, error) {
	switch i.PartyKind {
	case PartyLearner:
		p := LearnerParty{Name: i.PartyName}
		if err := decodeParty(i.PartyDetails, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartyFunder:
		p := FunderParty{Name: i.PartyName}
		if err := decodeParty(i.PartyDetails, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		p := CorporateParty{Name: i.PartyName}
		if err := decodeParty(i.PartyDetails, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func decodeParty(raw datatypes.JSON, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

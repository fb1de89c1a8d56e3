package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBillingParty(t *testing.T) {
	cohort := snowflake.ID(10)
	corporateID := snowflake.ID(20)
	learner := &contractdomain.CohortLearner{LearnerID: 30, Name: "Sipho Dlamini", Email: "sipho@example.com"}
	corporate := &contractdomain.CorporateClient{ID: corporateID, Name: "Acme Mining", BillingEmail: "ap@acme.example"}

	cases := []struct {
		name     string
		contract contractdomain.Contract
		lookup   PartyLookup
		kind     PartyKind
		party    string
	}{
		{
			name:     "private cohort bills first learner",
			contract: contractdomain.Contract{FunderType: contractdomain.FunderPrivate, CohortID: &cohort, ClientName: "Client"},
			lookup:   PartyLookup{Learner: learner},
			kind:     PartyLearner,
			party:    "Sipho Dlamini",
		},
		{
			name:     "private cohort without learners falls back to client name",
			contract: contractdomain.Contract{FunderType: contractdomain.FunderPrivate, CohortID: &cohort, ClientName: "Client"},
			kind:     PartyLearner,
			party:    "Client",
		},
		{
			name:     "linked corporate client",
			contract: contractdomain.Contract{FunderType: contractdomain.FunderCorporate, CorporateClientID: &corporateID},
			lookup:   PartyLookup{Corporate: corporate},
			kind:     PartyCorporate,
			party:    "Acme Mining",
		},
		{
			name:     "public funder",
			contract: contractdomain.Contract{FunderType: contractdomain.FunderSETA, ClientName: "MERSETA"},
			kind:     PartyFunder,
			party:    "MERSETA",
		},
		{
			name:     "nothing known",
			contract: contractdomain.Contract{FunderType: contractdomain.FunderCorporate, ClientName: "  "},
			kind:     PartyCorporate,
			party:    "Unknown",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ResolveBillingParty(tc.contract, tc.lookup)
			assert.Equal(t, tc.kind, p.Kind())
			assert.Equal(t, tc.party, p.DisplayName())
		})
	}
}

func TestApplyPartyRoundTrip(t *testing.T) {
	id := snowflake.ID(20)
	var inv Invoice
	require.NoError(t, inv.ApplyParty(CorporateParty{CorporateClientID: &id, Name: "Acme Mining", Email: "ap@acme.example"}))
	assert.Equal(t, PartyCorporate, inv.PartyKind)
	assert.Equal(t, "ap@acme.example", inv.PartyEmail)
	require.NotNil(t, inv.PartyRef)

	p, err := inv.Party()
	require.NoError(t, err)
	corporate, ok := p.(CorporateParty)
	require.True(t, ok)
	assert.Equal(t, "Acme Mining", corporate.Name)
	assert.Equal(t, id, *corporate.CorporateClientID)

	require.NoError(t, inv.ApplyParty(FunderParty{FunderType: contractdomain.FunderSETA, Name: "MERSETA"}))
	assert.Empty(t, inv.PartyEmail)
	assert.Nil(t, inv.PartyRef)
}

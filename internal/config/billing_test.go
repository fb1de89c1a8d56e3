package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBillingConfigIsValid(t *testing.T) {
	cfg := DefaultBillingConfig()
	require.NoError(t, validateBillingConfig(cfg))
	assert.Equal(t, "0.15", cfg.VAT().String())
}

func TestTemplateForMergesFunderOverrides(t *testing.T) {
	cfg := DefaultBillingConfig()
	off := false
	cfg.Templates = map[string]ScheduleTemplate{
		"seta": {ScheduleType: "DELIVERABLE", PaymentTermsDays: 60, AutoConvertOnPayment: &off},
	}

	tpl := cfg.TemplateFor("SETA")
	assert.Equal(t, "DELIVERABLE", tpl.ScheduleType)
	assert.Equal(t, "PROFORMA", tpl.InvoiceClass)
	assert.Equal(t, 60, tpl.PaymentTermsDays)
	assert.Equal(t, 1, tpl.BillingDayOfMonth)
	assert.False(t, *tpl.AutoConvertOnPayment)

	fallback := cfg.TemplateFor("GOVERNMENT")
	assert.Equal(t, cfg.DefaultTemplate, fallback)
}

func TestValidateBillingConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BillingConfig)
	}{
		{"vat out of range", func(c *BillingConfig) { c.VATRate = 1.5 }},
		{"same prefixes", func(c *BillingConfig) { c.TaxPrefix = "pf" }},
		{"empty risk levels", func(c *BillingConfig) { c.RiskLevels = nil }},
		{"unknown split", func(c *BillingConfig) { c.DeliverableSplit = "RANDOM" }},
		{"billing day", func(c *BillingConfig) { c.DefaultTemplate.BillingDayOfMonth = 31 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultBillingConfig()
			tc.mutate(&cfg)
			assert.Error(t, validateBillingConfig(cfg))
		})
	}
}

func TestIsActiveDeliverableStatus(t *testing.T) {
	cfg := DefaultBillingConfig()
	assert.True(t, cfg.IsActiveDeliverableStatus("in_progress"))
	assert.False(t, cfg.IsActiveDeliverableStatus("CANCELLED"))
}

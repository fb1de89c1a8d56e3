package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DeliverableSplitEqual    = "EQUAL"
	DeliverableSplitWeighted = "WEIGHTED"
)

type BillingConfig struct {
	VATRate                   float64                     `mapstructure:"vatRate"`
	ProformaPrefix            string                      `mapstructure:"proformaPrefix"`
	TaxPrefix                 string                      `mapstructure:"taxPrefix"`
	ActiveDeliverableStatuses []string                    `mapstructure:"activeDeliverableStatuses"`
	DeliverableSplit          string                      `mapstructure:"deliverableSplit"`
	RiskLevels                []RiskLevel                 `mapstructure:"riskLevels"`
	DefaultTemplate           ScheduleTemplate            `mapstructure:"defaultTemplate"`
	Templates                 map[string]ScheduleTemplate `mapstructure:"templates"`
}

// RiskLevel matches when the collection rate (percent) reaches MinCollectionRate
// and, if MaxAverageDays is set, the average days to payment is known and within it.
// Levels are evaluated in order; the last level is the fallback.
type RiskLevel struct {
	Level             string  `mapstructure:"level"`
	MinCollectionRate float64 `mapstructure:"minCollectionRate"`
	MaxAverageDays    *int    `mapstructure:"maxAverageDays"`
}

// ScheduleTemplate carries the per-funder billing defaults applied when a schedule is created.
type ScheduleTemplate struct {
	ScheduleType         string `mapstructure:"scheduleType"`
	InvoiceClass         string `mapstructure:"invoiceClass"`
	PaymentTermsDays     int    `mapstructure:"paymentTermsDays"`
	BillingDayOfMonth    int    `mapstructure:"billingDayOfMonth"`
	AutoGenerate         *bool  `mapstructure:"autoGenerate"`
	AutoConvertOnPayment *bool  `mapstructure:"autoConvertOnPayment"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		VATRate:                   0.15,
		ProformaPrefix:            "PF",
		TaxPrefix:                 "INV",
		ActiveDeliverableStatuses: []string{"PENDING", "IN_PROGRESS", "COMPLETED"},
		DeliverableSplit:          DeliverableSplitEqual,
		RiskLevels: []RiskLevel{
			{Level: "LOW", MinCollectionRate: 95, MaxAverageDays: intPtr(30)},
			{Level: "MEDIUM", MinCollectionRate: 80},
			{Level: "HIGH", MinCollectionRate: 60},
			{Level: "CRITICAL", MinCollectionRate: 0},
		},
		DefaultTemplate: ScheduleTemplate{
			ScheduleType:         "MONTHLY",
			InvoiceClass:         "PROFORMA",
			PaymentTermsDays:     30,
			BillingDayOfMonth:    1,
			AutoGenerate:         boolPtr(true),
			AutoConvertOnPayment: boolPtr(true),
		},
	}
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// VAT returns the configured VAT rate as a fraction.
func (c BillingConfig) VAT() decimal.Decimal {
	return decimal.NewFromFloat(c.VATRate)
}

// TemplateFor resolves the template for a funder type, falling back to the default
// template for unknown types and for fields left unset.
func (c BillingConfig) TemplateFor(funderType string) ScheduleTemplate {
	out := c.DefaultTemplate
	for key, tpl := range c.Templates {
		if !strings.EqualFold(key, funderType) {
			continue
		}
		if tpl.ScheduleType != "" {
			out.ScheduleType = tpl.ScheduleType
		}
		if tpl.InvoiceClass != "" {
			out.InvoiceClass = tpl.InvoiceClass
		}
		if tpl.PaymentTermsDays > 0 {
			out.PaymentTermsDays = tpl.PaymentTermsDays
		}
		if tpl.BillingDayOfMonth > 0 {
			out.BillingDayOfMonth = tpl.BillingDayOfMonth
		}
		if tpl.AutoGenerate != nil {
			out.AutoGenerate = tpl.AutoGenerate
		}
		if tpl.AutoConvertOnPayment != nil {
			out.AutoConvertOnPayment = tpl.AutoConvertOnPayment
		}
		break
	}
	return out
}

// IsActiveDeliverableStatus reports whether deliverables in status count towards billing.
func (c BillingConfig) IsActiveDeliverableStatus(status string) bool {
	for _, s := range c.ActiveDeliverableStatuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing-config")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingschedule")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.vatRate", defaults.VATRate)
	v.SetDefault("billing.proformaPrefix", defaults.ProformaPrefix)
	v.SetDefault("billing.taxPrefix", defaults.TaxPrefix)
	v.SetDefault("billing.activeDeliverableStatuses", defaults.ActiveDeliverableStatuses)
	v.SetDefault("billing.deliverableSplit", defaults.DeliverableSplit)
	v.SetDefault("billing.riskLevels", defaults.RiskLevels)
	v.SetDefault("billing.defaultTemplate.scheduleType", defaults.DefaultTemplate.ScheduleType)
	v.SetDefault("billing.defaultTemplate.invoiceClass", defaults.DefaultTemplate.InvoiceClass)
	v.SetDefault("billing.defaultTemplate.paymentTermsDays", defaults.DefaultTemplate.PaymentTermsDays)
	v.SetDefault("billing.defaultTemplate.billingDayOfMonth", defaults.DefaultTemplate.BillingDayOfMonth)
	v.SetDefault("billing.defaultTemplate.autoGenerate", true)
	v.SetDefault("billing.defaultTemplate.autoConvertOnPayment", true)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		log.Info("billing config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("billing config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	return h.current.Load().(BillingConfig)
}

func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	cfg.DeliverableSplit = strings.ToUpper(strings.TrimSpace(cfg.DeliverableSplit))
	if err := validateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.VATRate < 0 || cfg.VATRate >= 1 {
		return fmt.Errorf("billing.vatRate must be within [0, 1), got %v", cfg.VATRate)
	}
	if strings.TrimSpace(cfg.ProformaPrefix) == "" || strings.TrimSpace(cfg.TaxPrefix) == "" {
		return errors.New("billing.proformaPrefix and billing.taxPrefix are required")
	}
	if strings.EqualFold(cfg.ProformaPrefix, cfg.TaxPrefix) {
		return errors.New("billing.proformaPrefix must differ from billing.taxPrefix")
	}
	if len(cfg.RiskLevels) == 0 {
		return errors.New("billing.riskLevels cannot be empty")
	}
	switch cfg.DeliverableSplit {
	case DeliverableSplitEqual, DeliverableSplitWeighted:
	default:
		return fmt.Errorf("billing.deliverableSplit %q is not supported", cfg.DeliverableSplit)
	}
	if err := validateTemplate("billing.defaultTemplate", cfg.DefaultTemplate); err != nil {
		return err
	}
	if cfg.DefaultTemplate.ScheduleType == "" || cfg.DefaultTemplate.InvoiceClass == "" {
		return errors.New("billing.defaultTemplate requires scheduleType and invoiceClass")
	}
	for key, tpl := range cfg.Templates {
		if err := validateTemplate("billing.templates."+key, tpl); err != nil {
			return err
		}
	}
	return nil
}

func validateTemplate(path string, tpl ScheduleTemplate) error {
	if tpl.BillingDayOfMonth < 0 || tpl.BillingDayOfMonth > 28 {
		return fmt.Errorf("%s.billingDayOfMonth must be within 1..28", path)
	}
	if tpl.PaymentTermsDays < 0 {
		return fmt.Errorf("%s.paymentTermsDays cannot be negative", path)
	}
	return nil
}

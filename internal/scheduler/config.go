package scheduler

import (
	"time"

	"github.com/smallbiznis/billingschedule/internal/cache"
	"github.com/smallbiznis/billingschedule/internal/config"
)

const (
	JobMaterializeDue     = "materialize_due"
	JobRecalculateMetrics = "recalculate_metrics"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval     time.Duration
	MetricsInterval time.Duration
	BatchSize       int
	EnabledJobs     []string

	MaterializeTimeout time.Duration
	MetricsTimeout     time.Duration
	LockTTL            time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Hour,
		MetricsInterval:    24 * time.Hour,
		BatchSize:          100,
		MaterializeTimeout: 5 * time.Minute,
		MetricsTimeout:     30 * time.Minute,
		LockTTL:            cache.DefaultJobLockTTL,
	}
}

// ProvideConfig derives the scheduler settings from the application config.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:     cfg.Scheduler.RunInterval,
		MetricsInterval: cfg.Scheduler.MetricsInterval,
		BatchSize:       cfg.Scheduler.BatchSize,
		EnabledJobs:     cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = defaults.MetricsInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaterializeTimeout <= 0 {
		c.MaterializeTimeout = defaults.MaterializeTimeout
	}
	if c.MetricsTimeout <= 0 {
		c.MetricsTimeout = defaults.MetricsTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

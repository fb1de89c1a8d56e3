package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/billingschedule/internal/config"
	"github.com/smallbiznis/billingschedule/internal/observability/logger"
	gormlogger "gorm.io/gorm/logger"
)

// Config is the slice of application config the logger, tracer and meter need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	DBLogLevel  string
	DBSlowQuery time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "billingschedule"
	}
	ratio := cfg.OtelSamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}
	protocol := cfg.OTLPProtocol
	if protocol != "http" && protocol != "http/protobuf" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.LogLevel,
		LogFormat:            cfg.LogFormat,
		DBLogLevel:           cfg.DBLogLevel,
		DBSlowQuery:          cfg.DBSlowQuery,
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: cfg.OTLPEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether verbose request logging and stack traces are on.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// QueryLoggerConfig maps DATABASE_LOG_LEVEL onto gorm's levels.
func (c Config) QueryLoggerConfig() logger.QueryLoggerConfig {
	out := logger.DefaultQueryLoggerConfig()
	switch strings.ToLower(strings.TrimSpace(c.DBLogLevel)) {
	case "silent", "off":
		out.Level = gormlogger.Silent
	case "error":
		out.Level = gormlogger.Error
	case "info", "debug":
		out.Level = gormlogger.Info
	}
	if c.DBSlowQuery > 0 {
		out.SlowThreshold = c.DBSlowQuery
	}
	return out
}

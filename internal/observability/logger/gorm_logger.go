package logger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

type QueryLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
}

func DefaultQueryLoggerConfig() QueryLoggerConfig {
	return QueryLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// QueryLogger routes gorm output through the context logger so statements
// issued inside a scheduler run or an API request carry its run_id or
// request_id. Record-not-found is never logged: lookups return nil on a miss.
type QueryLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewQueryLogger(cfg QueryLoggerConfig) *QueryLogger {
	return &QueryLogger{level: cfg.Level, slowThreshold: cfg.SlowThreshold}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < min {
		return
	}
	if len(data) > 0 {
		msg = fmt.Sprintf(msg, data...)
	}
	if ce := FromContext(ctx).Check(level, "db.message"); ce != nil {
		ce.Write(zap.String("component", "gorm"), zap.String("detail", msg))
	}
}

func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	var level zapcore.Level
	switch {
	case err != nil && l.level >= gormlogger.Error:
		level = zapcore.ErrorLevel
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case l.level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	ce := FromContext(ctx).Check(level, "db.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	stmt := describeStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Bool("row_lock", stmt.rowLock),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if level == zapcore.WarnLevel {
		fields = append(fields, zap.Duration("slow_threshold", l.slowThreshold))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values; contract and learner data stays out of logs.
func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

type statement struct {
	operation string
	table     string
	rowLock   bool
}

var tablePattern = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+["` + "`" + `]?([a-z_][a-z0-9_]*)`)

func describeStatement(sql string) statement {
	normalized := strings.ToUpper(strings.TrimSpace(sql))
	out := statement{operation: "UNKNOWN", table: "unknown"}
	tokens := strings.Fields(normalized)
	cte := len(tokens) > 0 && tokens[0] == "WITH"
	for i, token := range tokens {
		token = strings.Trim(token, "();")
		if token == "SELECT" || token == "INSERT" || token == "UPDATE" || token == "DELETE" {
			out.operation = token
			break
		}
		if !cte && i == 0 {
			break
		}
	}
	if m := tablePattern.FindStringSubmatch(sql); len(m) == 2 {
		out.table = strings.ToLower(m[1])
	}
	out.rowLock = strings.Contains(normalized, "FOR UPDATE")
	return out
}

var _ gormlogger.Interface = (*QueryLogger)(nil)

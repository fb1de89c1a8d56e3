package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/billingschedule/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const RequestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to an (error_type, error_code) pair.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags the request context with the operator, a request id and
// the targeted resource, then logs one http_request line when the handler
// returns. Probe and scrape routes log at debug.
func GinMiddleware(base *zap.Logger, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		route := c.FullPath()
		ctx := obscontext.WithActor(c.Request.Context(), "operator", c.ClientIP())
		ctx = obscontext.WithRequestID(ctx, requestID)
		ctx = obscontext.WithResource(ctx, ResourceKind(route), c.Param("id"))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			errType, errCode := cfg.ErrorClassifier(last.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Error(last.Err))
			}
		}

		level := zapcore.InfoLevel
		switch {
		case route == "/metrics" || route == "/healthz" || route == "/readyz":
			level = zapcore.DebugLevel
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}
		if ce := WithContext(c.Request.Context(), base).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// ResourceKind names the entity behind an /api route: "/api/invoices/:id/pdf"
// is "invoice", "/api/scheduled-invoices/:id/materialize" is
// "scheduled_invoice". Routes outside /api, or without an :id, have none.
func ResourceKind(route string) string {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[2] != ":id" {
		return ""
	}
	kind := strings.ReplaceAll(parts[1], "-", "_")
	return strings.TrimSuffix(kind, "s")
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	contractdomain "github.com/smallbiznis/billingschedule/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors is returned by request parsing. Domain validation
// sentinels are converted to the same shape by mapError.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	return "validation error"
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type errorClass struct {
	status  int
	typ     string
	message string
	targets []error
}

// errorClasses is checked in order. Anything unmatched is a 500.
var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{ErrUnauthorized}},
	{http.StatusConflict, "conflict", "scheduled invoice is not pending", []error{invoicedomain.ErrEntryNotSchedulable}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		contractdomain.ErrContractNotFound,
		contractdomain.ErrCorporateClientNotFound,
		scheduledomain.ErrScheduleNotFound,
		scheduledomain.ErrScheduledInvoiceNotFound,
		invoicedomain.ErrInvoiceNotFound,
		collectiondomain.ErrSnapshotNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{ErrServiceUnavailable}},
}

// domainValidation lists sentinels reported as 400s. The sentinel text is
// the error code; the field is the code minus its "invalid_" prefix.
var domainValidation = []error{
	ErrInvalidRequest,
	scheduledomain.ErrInvalidScheduleType,
	scheduledomain.ErrInvalidInvoiceClass,
	scheduledomain.ErrInvalidBillingDay,
	scheduledomain.ErrInvalidPaymentTerms,
	scheduledomain.ErrMissingStartDate,
	invoicedomain.ErrInvalidPrefix,
	collectiondomain.ErrInvalidPeriodType,
	collectiondomain.ErrInvalidScope,
}

// ErrorHandlingMiddleware renders the last handler error when the handler
// has not written a response itself.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	for _, target := range domainValidation {
		if errors.Is(err, target) {
			code := target.Error()
			field := strings.TrimPrefix(code, "invalid_")
			if target == ErrInvalidRequest {
				field = "request"
			}
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors:  []ValidationError{{Field: field, Code: code, Message: "invalid value"}},
			}
		}
	}
	for _, class := range errorClasses {
		for _, target := range class.targets {
			if errors.Is(err, target) {
				return class.status, errorPayload{Type: class.typ, Message: class.message}
			}
		}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// classifyErrorForLog feeds the request logger's error_type and error_code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

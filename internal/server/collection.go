package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
)

type collectionMetricsRequest struct {
	EntityType string `json:"entity_type" form:"entity_type"`
	PeriodType string `json:"period_type" form:"period_type"`
	EntityRef  string `json:"entity_ref" form:"entity_ref"`
}

func (r collectionMetricsRequest) parse() (collectiondomain.Scope, collectiondomain.PeriodType, error) {
	periodType, err := collectiondomain.ParsePeriodType(r.PeriodType)
	if err != nil {
		return collectiondomain.Scope{}, "", err
	}
	scope := collectiondomain.Scope{
		EntityType: collectiondomain.EntityType(strings.ToUpper(strings.TrimSpace(r.EntityType))),
		EntityRef:  strings.TrimSpace(r.EntityRef),
	}
	if scope.EntityRef == "" {
		return collectiondomain.Scope{}, "", newValidationError("entity_ref", "required", "entity_ref is required")
	}
	return scope, periodType, nil
}

// LatestCollectionMetrics returns the stored snapshot without recomputing it.
func (s *Server) LatestCollectionMetrics(c *gin.Context) {
	var req collectionMetricsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	scope, periodType, err := req.parse()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if scope.EntityType == collectiondomain.EntityFunderType {
		scope.EntityRef = strings.ToUpper(scope.EntityRef)
	}

	snapshot, err := s.collectionSvc.Latest(c.Request.Context(), collectiondomain.Key{
		EntityType: scope.EntityType,
		PeriodType: periodType,
		EntityRef:  scope.EntityRef,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

func (s *Server) ComputeCollectionMetrics(c *gin.Context) {
	var req collectionMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	scope, periodType, err := req.parse()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	snapshot, err := s.collectionSvc.ComputeMetrics(c.Request.Context(), scope, periodType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

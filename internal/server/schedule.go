package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) CreateScheduleForContract(c *gin.Context) {
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	schedule, err := s.scheduleSvc.CreateScheduleForContract(c.Request.Context(), contractID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) GetScheduleByContract(c *gin.Context) {
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	schedule, err := s.scheduleSvc.GetByContract(c.Request.Context(), contractID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) GetSchedule(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	schedule, err := s.scheduleSvc.Get(c.Request.Context(), scheduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) ListScheduleEntries(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := s.scheduleSvc.Get(ctx, scheduleID); err != nil {
		AbortWithError(c, err)
		return
	}
	entries, err := s.scheduleSvc.ListEntries(ctx, scheduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// PlanSchedule regenerates the schedule's pending entries.
func (s *Server) PlanSchedule(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	entries, err := s.scheduleSvc.Plan(c.Request.Context(), scheduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

package handlers

import (
	"net/http"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

type AnalyticsHandler struct {
	service *services.AnalyticsService
	logger  *logrus.Logger
}

func NewAnalyticsHandler(service *services.AnalyticsService, logger *logrus.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{service: service, logger: logger}
}

// Daily returns the per-day rows between ?from and ?to (YYYY-MM-DD, default the last 7 days).
func (h *AnalyticsHandler) Daily(c *gin.Context) {
	to := time.Now()
	from := to.AddDate(0, 0, -6)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(dateLayout, v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid from", Message: "expected YYYY-MM-DD"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(dateLayout, v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid to", Message: "expected YYYY-MM-DD"})
			return
		}
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid range", Message: "to is before from"})
		return
	}
	rows, err := h.service.Range(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, h.logger, "Failed to load analytics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from.Format(dateLayout), "to": to.Format(dateLayout), "days": rows})
}

// Summary totals the last ?days days (default 7).
func (h *AnalyticsHandler) Summary(c *gin.Context) {
	sum, err := h.service.Summary(c.Request.Context(), queryInt(c, "days", 7))
	if err != nil {
		respondError(c, h.logger, "Failed to summarize analytics", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func RegisterAnalyticsRoutes(r *gin.RouterGroup, handler *AnalyticsHandler) {
	analytics := r.Group("/analytics")
	{
		analytics.GET("/daily", handler.Daily)
		analytics.GET("/summary", handler.Summary)
	}
}

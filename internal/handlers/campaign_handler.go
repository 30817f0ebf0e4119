package handlers

import (
	"net/http"
	"time"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CampaignHandler is the campaign control surface.
type CampaignHandler struct {
	service *services.CampaignService
	logger  *logrus.Logger
}

func NewCampaignHandler(service *services.CampaignService, logger *logrus.Logger) *CampaignHandler {
	return &CampaignHandler{service: service, logger: logger}
}

// controlResult is the {success, error} body of lifecycle operations.
type controlResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *CampaignHandler) control(c *gin.Context, data interface{}, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Errorf("Campaign operation failed: %v", err)
		}
		c.JSON(code, controlResult{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, controlResult{Success: true, Data: data})
}

func (h *CampaignHandler) Create(c *gin.Context) {
	var req services.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	campaign, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create campaign", err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.service.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, h.logger, "Failed to list campaigns", err)
		return
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to get campaign", err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (h *CampaignHandler) Schedule(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	campaign, err := h.service.Schedule(c.Request.Context(), id, req.ScheduledAt)
	h.control(c, campaign, err)
}

// Execute freezes the audience and starts dispatch.
// @Router /api/v1/campaigns/{id}/execute [post]
func (h *CampaignHandler) Execute(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := h.service.Execute(c.Request.Context(), id)
	if err != nil {
		h.control(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CampaignHandler) Pause(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.service.Pause(c.Request.Context(), id)
	h.control(c, campaign, err)
}

func (h *CampaignHandler) Resume(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.service.Resume(c.Request.Context(), id)
	h.control(c, campaign, err)
}

func (h *CampaignHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.service.Cancel(c.Request.Context(), id)
	h.control(c, campaign, err)
}

func (h *CampaignHandler) Performance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	perf, err := h.service.Performance(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to get campaign performance", err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// ABTest splits a draft campaign into variants.
func (h *CampaignHandler) ABTest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Variants []services.ABVariant `json:"variants" binding:"required,min=2,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	children, err := h.service.CreateABTest(c.Request.Context(), id, req.Variants)
	if err != nil {
		respondError(c, h.logger, "Failed to create A/B test", err)
		return
	}
	c.JSON(http.StatusCreated, children)
}

// PreviewAudience counts the contacts a predicate would reach.
func (h *CampaignHandler) PreviewAudience(c *gin.Context) {
	var audience services.CampaignAudience
	if err := c.ShouldBindJSON(&audience); err != nil {
		bindError(c, err)
		return
	}
	contacts, err := h.service.ResolveAudience(c.Request.Context(), audience)
	if err != nil {
		respondError(c, h.logger, "Failed to resolve audience", err)
		return
	}
	sample := contacts
	if len(sample) > 10 {
		sample = sample[:10]
	}
	c.JSON(http.StatusOK, gin.H{"count": len(contacts), "sample": sample})
}

func RegisterCampaignRoutes(r *gin.RouterGroup, handler *CampaignHandler) {
	campaigns := r.Group("/campaigns")
	{
		campaigns.GET("", handler.List)
		campaigns.POST("", handler.Create)
		campaigns.POST("/audience/preview", handler.PreviewAudience)
		campaigns.GET("/:id", handler.Get)
		campaigns.POST("/:id/schedule", handler.Schedule)
		campaigns.POST("/:id/execute", handler.Execute)
		campaigns.POST("/:id/pause", handler.Pause)
		campaigns.POST("/:id/resume", handler.Resume)
		campaigns.POST("/:id/cancel", handler.Cancel)
		campaigns.GET("/:id/performance", handler.Performance)
		campaigns.POST("/:id/ab-test", handler.ABTest)
	}
}

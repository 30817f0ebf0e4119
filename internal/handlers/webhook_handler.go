package handlers

import (
	"net/http"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebhookHandler receives gateway callbacks.
type WebhookHandler struct {
	ingest *services.IngestionService
	logger *logrus.Logger
}

func NewWebhookHandler(ingest *services.IngestionService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, logger: logger}
}

// Receive ingests one event for the session named in the path.
// @Router /api/v1/webhooks/{session} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	var evt services.WebhookEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		bindError(c, err)
		return
	}
	session := c.Param("session")
	result, err := h.ingest.HandleEvent(c.Request.Context(), session, &evt)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"session": session, "event": evt.Kind()}).Warnf("webhook rejected: %v", err)
		respondError(c, h.logger, "Failed to process webhook", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// Test validates a payload without storing anything.
func (h *WebhookHandler) Test(c *gin.Context) {
	var evt services.WebhookEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		bindError(c, err)
		return
	}
	kind, err := services.ValidateEvent(&evt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "event": kind, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "event": kind, "received": evt})
}

func RegisterWebhookRoutes(r *gin.RouterGroup, handler *WebhookHandler) {
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/test", handler.Test)
		hooks.POST("/:session", handler.Receive)
	}
}

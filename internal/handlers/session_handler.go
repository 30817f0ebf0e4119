package handlers

import (
	"net/http"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler manages gateway sessions.
type SessionHandler struct {
	service *services.SessionService
	logger  *logrus.Logger
}

func NewSessionHandler(service *services.SessionService, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{service: service, logger: logger}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req services.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	session, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create session", err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list sessions", err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to get session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// UpdateSettings applies a partial auto-reply / business hours update.
func (h *SessionHandler) UpdateSettings(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.SessionSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	session, err := h.service.UpdateSettings(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to update session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Sync pulls the current state from the gateway.
func (h *SessionHandler) Sync(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.service.SyncStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to sync session", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func RegisterSessionRoutes(r *gin.RouterGroup, handler *SessionHandler) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", handler.List)
		sessions.POST("", handler.Create)
		sessions.GET("/:id", handler.Get)
		sessions.PUT("/:id", handler.UpdateSettings)
		sessions.POST("/:id/sync", handler.Sync)
	}
}

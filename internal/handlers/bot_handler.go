package handlers

import (
	"net/http"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BotHandler configures bots and their triggers.
type BotHandler struct {
	service *services.BotService
	logger  *logrus.Logger
}

func NewBotHandler(service *services.BotService, logger *logrus.Logger) *BotHandler {
	return &BotHandler{service: service, logger: logger}
}

func (h *BotHandler) List(c *gin.Context) {
	bots, err := h.service.ListBots(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list bots", err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (h *BotHandler) Create(c *gin.Context) {
	var req services.CreateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	bot, err := h.service.CreateBot(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create bot", err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

// AddTrigger rejects unknown trigger types and patterns that do not compile.
func (h *BotHandler) AddTrigger(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.AddTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	trigger, err := h.service.AddTrigger(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to add trigger", err)
		return
	}
	c.JSON(http.StatusCreated, trigger)
}

func (h *BotHandler) SeedDefaults(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	created, err := h.service.SeedDefaultTriggers(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to seed triggers", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "seeded", Data: created})
}

func RegisterBotRoutes(r *gin.RouterGroup, handler *BotHandler) {
	bots := r.Group("/bots")
	{
		bots.GET("", handler.List)
		bots.POST("", handler.Create)
		bots.POST("/:id/triggers", handler.AddTrigger)
		bots.POST("/:id/seed", handler.SeedDefaults)
	}
}

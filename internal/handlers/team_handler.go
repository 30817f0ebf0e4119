package handlers

import (
	"net/http"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TeamHandler exposes routing, transfers and agent presence.
type TeamHandler struct {
	router *services.TeamRouter
	hub    *services.AgentHub
	logger *logrus.Logger
}

func NewTeamHandler(router *services.TeamRouter, hub *services.AgentHub, logger *logrus.Logger) *TeamHandler {
	return &TeamHandler{router: router, hub: hub, logger: logger}
}

// Status lists agents grouped by availability with their workload.
// @Router /api/v1/team/status [get]
func (h *TeamHandler) Status(c *gin.Context) {
	status, err := h.router.Status(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to get team status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Route assigns the best available agent.
// @Router /api/v1/team/route [post]
func (h *TeamHandler) Route(c *gin.Context) {
	var req struct {
		ConversationID uint   `json:"conversation_id" binding:"required"`
		Priority       string `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := h.router.Route(c.Request.Context(), req.ConversationID, req.Priority)
	if err != nil {
		if result != nil && result.Error != "" {
			c.JSON(statusFor(err), result)
			return
		}
		respondError(c, h.logger, "Failed to route conversation", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Transfer moves a conversation to another agent.
// @Router /api/v1/team/transfer [post]
func (h *TeamHandler) Transfer(c *gin.Context) {
	var req struct {
		ConversationID uint   `json:"conversation_id" binding:"required"`
		NewAgentID     uint   `json:"new_agent_id" binding:"required"`
		Reason         string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	result, err := h.router.Transfer(c.Request.Context(), req.ConversationID, req.NewAgentID, req.Reason)
	if err != nil {
		if result != nil && result.Error != "" {
			c.JSON(statusFor(err), result)
			return
		}
		respondError(c, h.logger, "Failed to transfer conversation", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TeamHandler) ListAgents(c *gin.Context) {
	agents, err := h.router.ListAgents(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to list agents", err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *TeamHandler) CreateAgent(c *gin.Context) {
	var req services.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	agent, err := h.router.CreateAgent(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create agent", err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// UpdateAgentStatus sets an agent online or offline.
// @Router /api/v1/team/agents/{id}/status [put]
func (h *TeamHandler) UpdateAgentStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	agent, err := h.router.UpdateAgentStatus(c.Request.Context(), id, *req.Online)
	if err != nil {
		respondError(c, h.logger, "Failed to update agent status", err)
		return
	}
	if *req.Online {
		if _, err := h.router.RouteWaiting(c.Request.Context(), 10); err != nil {
			h.logger.Warnf("Route waiting conversations after agent %d came online: %v", id, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"agent_id":  agent.ID,
		"is_online": agent.IsOnline,
		"last_seen": agent.LastSeen,
	})
}

// Performance reports an agent's handling stats over ?days (default 30).
// @Router /api/v1/team/agents/{id}/performance [get]
func (h *TeamHandler) Performance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	perf, err := h.router.AgentPerformance(c.Request.Context(), id, queryInt(c, "days", 30))
	if err != nil {
		respondError(c, h.logger, "Failed to get agent performance", err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// RecordSatisfaction stores a customer rating for an agent.
// @Router /api/v1/team/agents/{id}/satisfaction [post]
func (h *TeamHandler) RecordSatisfaction(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Score float64 `json:"score" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	agent, err := h.router.RecordSatisfaction(c.Request.Context(), id, req.Score)
	if err != nil {
		respondError(c, h.logger, "Failed to record satisfaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"agent_id":             agent.ID,
		"satisfaction_score":   agent.SatisfactionScore,
		"satisfaction_ratings": agent.SatisfactionRatings,
	})
}

// Resolve closes an open conversation.
// @Router /api/v1/conversations/{id}/resolve [post]
func (h *TeamHandler) Resolve(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	conv, err := h.router.ResolveConversation(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to resolve conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *TeamHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *TeamHandler) HubStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": map[string]interface{}{
			"connected_consoles": h.hub.ClientCount(),
		},
	})
}

func RegisterTeamRoutes(r *gin.RouterGroup, handler *TeamHandler) {
	team := r.Group("/team")
	{
		team.GET("/status", handler.Status)
		team.POST("/route", handler.Route)
		team.POST("/transfer", handler.Transfer)
		team.GET("/agents", handler.ListAgents)
		team.POST("/agents", handler.CreateAgent)
		team.GET("/agents/ws", handler.HandleWebSocket)
		team.GET("/agents/ws/stats", handler.HubStats)
		team.PUT("/agents/:id/status", handler.UpdateAgentStatus)
		team.GET("/agents/:id/performance", handler.Performance)
		team.POST("/agents/:id/satisfaction", handler.RecordSatisfaction)
	}
	r.POST("/conversations/:id/resolve", handler.Resolve)
}

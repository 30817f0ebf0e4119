package handlers

import (
	"net/http"

	"github.com/Sairajgoud-kodipaka/demo-backend-sub000/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ContactHandler struct {
	service *services.ContactService
	logger  *logrus.Logger
}

func NewContactHandler(service *services.ContactService, logger *logrus.Logger) *ContactHandler {
	return &ContactHandler{service: service, logger: logger}
}

func (h *ContactHandler) Create(c *gin.Context) {
	var req services.CreateContactInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	contact, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create contact", err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// List pages contacts with ?status, ?tag, ?page and ?page_size.
func (h *ContactHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	size := queryInt(c, "page_size", 50)
	if size < 1 || size > 200 {
		size = 50
	}
	contacts, total, err := h.service.List(c.Request.Context(), services.ContactFilter{
		Status: c.Query("status"),
		Tag:    c.Query("tag"),
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list contacts", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: contacts, Total: total, Page: page, PageSize: size})
}

func (h *ContactHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	contact, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to get contact", err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) UpdateTags(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	contact, err := h.service.UpdateTags(c.Request.Context(), id, req.Tags)
	if err != nil {
		respondError(c, h.logger, "Failed to update contact tags", err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	contact, err := h.service.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, h.logger, "Failed to update contact status", err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func RegisterContactRoutes(r *gin.RouterGroup, handler *ContactHandler) {
	contacts := r.Group("/contacts")
	{
		contacts.GET("", handler.List)
		contacts.POST("", handler.Create)
		contacts.GET("/:id", handler.Get)
		contacts.PUT("/:id/tags", handler.UpdateTags)
		contacts.PUT("/:id/status", handler.UpdateStatus)
	}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/quotagate/internal/service"
)

type DashboardHandler struct {
	service *service.DashboardService
}

func NewDashboardHandler(service *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Handles GET /v1/dashboard
func (h *DashboardHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	data, err := h.service.GetDashboardData(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, data)
}

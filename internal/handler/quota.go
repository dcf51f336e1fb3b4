package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/repository"
	"github.com/opsdeck/quotagate/internal/service"
)

type QuotaHandler struct {
	usage *service.UsageService
}

func NewQuotaHandler(usage *service.UsageService) *QuotaHandler {
	return &QuotaHandler{usage: usage}
}

// Handles POST /v1/quotas
func (h *QuotaHandler) Create(c *gin.Context) {
	var quota models.QuotaLimit
	if err := c.ShouldBindJSON(&quota); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.usage.CreateQuota(ctx, &quota); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quota)
}

// Handles GET /v1/quotas
func (h *QuotaHandler) List(c *gin.Context) {
	var filter repository.QuotaFilter

	if orgStr := c.Query("organization_id"); orgStr != "" {
		orgID, err := uuid.Parse(orgStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization ID"})
			return
		}
		filter.OrganizationID = &orgID
	}

	filter.SubjectType = models.SubjectType(c.Query("subject_type"))
	filter.SubjectID = c.Query("subject_id")

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			filter.Limit = l
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	ctx := c.Request.Context()
	quotas, err := h.usage.ListQuotas(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quotas)
}

// Handles GET /v1/quotas/:id
func (h *QuotaHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quota ID"})
		return
	}

	ctx := c.Request.Context()
	quota, err := h.usage.GetQuota(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, quota)
}

// Handles PATCH /v1/quotas/:id
func (h *QuotaHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quota ID"})
		return
	}

	var req struct {
		QuotaName                *string  `json:"quota_name"`
		LimitValue               *float64 `json:"limit_value"`
		IsHardLimit              *bool    `json:"is_hard_limit"`
		AlertThresholdPercentage *int     `json:"alert_threshold_percentage"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := make(map[string]interface{})
	if req.QuotaName != nil {
		updates["quota_name"] = *req.QuotaName
	}
	if req.LimitValue != nil {
		updates["limit_value"] = *req.LimitValue
	}
	if req.IsHardLimit != nil {
		updates["is_hard_limit"] = *req.IsHardLimit
	}
	if req.AlertThresholdPercentage != nil {
		if *req.AlertThresholdPercentage < 0 || *req.AlertThresholdPercentage > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "alert_threshold_percentage must be 0-100"})
			return
		}
		updates["alert_threshold_percentage"] = *req.AlertThresholdPercentage
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	ctx := c.Request.Context()
	if err := h.usage.UpdateQuota(ctx, id, updates); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quota updated successfully"})
}

// Handles POST /v1/quotas/:id/usage
func (h *QuotaHandler) ApplyIncrement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quota ID"})
		return
	}

	var req struct {
		SubjectID      string  `json:"subject_id" binding:"required"`
		UsageIncrement float64 `json:"usage_increment"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	report, err := h.usage.ApplyIncrement(ctx, id, req.SubjectID, req.UsageIncrement)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Handles GET /v1/usage
func (h *QuotaHandler) ListUsage(c *gin.Context) {
	var filter repository.UsageFilter

	if quotaStr := c.Query("quota_id"); quotaStr != "" {
		quotaID, err := uuid.Parse(quotaStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quota ID"})
			return
		}
		filter.QuotaID = &quotaID
	}

	filter.SubjectID = c.Query("subject_id")
	filter.Status = models.UsageStatus(c.Query("status"))

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			filter.Limit = l
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	ctx := c.Request.Context()
	usage, err := h.usage.ListUsage(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, usage)
}

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

type PolicyHandler struct {
	policies  *service.PolicyService
	admission *service.AdmissionService
}

func NewPolicyHandler(policies *service.PolicyService, admission *service.AdmissionService) *PolicyHandler {
	return &PolicyHandler{
		policies:  policies,
		admission: admission,
	}
}

// Handles POST /v1/policies
func (h *PolicyHandler) Create(c *gin.Context) {
	var policy models.RateLimitPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.policies.Create(ctx, &policy); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, policy)
}

// Handles GET /v1/policies
func (h *PolicyHandler) List(c *gin.Context) {
	var filter repository.PolicyFilter

	if orgStr := c.Query("organization_id"); orgStr != "" {
		orgID, err := uuid.Parse(orgStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid organization ID"})
			return
		}
		filter.OrganizationID = &orgID
	}

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid is_active value"})
			return
		}
		filter.IsActive = &active
	}

	filter.PolicyType = models.PolicyType(c.Query("policy_type"))

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
	policies, err := h.policies.List(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policies)
}

// Handles GET /v1/policies/:id
func (h *PolicyHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
		return
	}

	ctx := c.Request.Context()
	policy, err := h.policies.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// Handles PATCH /v1/policies/:id
func (h *PolicyHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
		return
	}

	var update service.PolicyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	policy, err := h.policies.Update(ctx, id, update)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// Handles DELETE /v1/policies/:id. Policies are disabled, not removed.
func (h *PolicyHandler) Disable(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid policy ID"})
		return
	}

	ctx := c.Request.Context()
	if err := h.policies.Disable(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Policy disabled"})
}

// Handles POST /v1/check
func (h *PolicyHandler) Check(c *gin.Context) {
	var req struct {
		PolicyID   uuid.UUID `json:"policy_id" binding:"required"`
		Identifier string    `json:"identifier"`
		Increment  int       `json:"increment"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	decision, err := h.admission.CheckPolicy(ctx, req.PolicyID, req.Identifier, req.Increment)
	if err != nil {
		respondError(c, err)
		return
	}

	writeDecision(c, decision)
}

// Handles POST /v1/check/identifier
func (h *PolicyHandler) CheckIdentifier(c *gin.Context) {
	var req struct {
		OrganizationID uuid.UUID `json:"organization_id" binding:"required"`
		Identifier     string    `json:"identifier"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	decision, err := h.admission.CheckIdentifier(ctx, req.OrganizationID, req.Identifier)
	if err != nil {
		respondError(c, err)
		return
	}

	writeDecision(c, decision)
}

// A deny is a successful check, not an error. The decision body says why;
// Retry-After mirrors the hint for clients that only look at headers.
func writeDecision(c *gin.Context, decision *service.Decision) {
	if !decision.Allowed && decision.RetryAfter != nil {
		c.Header("Retry-After", strconv.Itoa(*decision.RetryAfter))
	}

	c.JSON(http.StatusOK, decision)
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/quotagate/internal/service"
)

func APIKeyValidator(apiKeyService *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKeyHeader := c.GetHeader("X-API-Key")

		if apiKeyHeader == "" {
			c.Next()
			return
		}

		apiKeyHeader = strings.TrimSpace(apiKeyHeader)

		ctx := c.Request.Context()
		apiKey, err := apiKeyService.Validate(ctx, apiKeyHeader)

		if err != nil || apiKey == nil || !apiKey.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set("api_key", apiKey)
		c.Set("api_key_id", apiKey.ID)
		c.Set("organization_id", apiKey.OrganizationID)

		go apiKeyService.UpdateLastUsed(ctx, apiKey.ID)

		c.Next()
	}
}

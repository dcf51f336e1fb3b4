package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/quotagate/internal/service"
)

// respondError maps service errors to HTTP statuses. Fail-open allows never
// reach here; they come back as ordinary decisions.
func respondError(c *gin.Context, err error) {
	var unavailable *service.UnavailableError

	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &unavailable), errors.Is(err, service.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

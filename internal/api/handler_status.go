package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Root handles GET /.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Production Test System API",
		"version": "1.0.0",
	})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "healthy",
		"cloud_upload_enabled": h.cloudEnabled,
	})
}

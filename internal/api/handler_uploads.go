package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListUploadLogs handles GET /api/upload-logs: the cloud sync audit trail,
// most recent first.
func (h *Handler) ListUploadLogs(c *gin.Context) {
	limit, err := parseIntParam(c, "limit", 50, 1, 500)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	logs, err := h.store.ListUploadLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve upload logs"})
		return
	}
	c.JSON(http.StatusOK, logs)
}

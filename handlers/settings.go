package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crt-reports-server/models"
)

// GetSettings handles GET /api/settings
func (h *APIHandler) GetSettings(c *gin.Context) {
	st, err := h.Store.GetSettings(c.Request.Context())
	if err != nil {
		h.log.Error("load settings failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve settings"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// UpdateSettings handles PUT /api/settings
func (h *APIHandler) UpdateSettings(c *gin.Context) {
	var st models.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings: " + err.Error()})
		return
	}
	if err := h.Store.SaveSettings(c.Request.Context(), st); err != nil {
		h.log.Error("save settings failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, st)
}

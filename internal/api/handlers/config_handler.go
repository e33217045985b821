package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rentfold/rf/internal/services"
)

// ConfigHandler serves the public configuration endpoint.
type ConfigHandler struct {
	configService services.IConfigService
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(configService services.IConfigService) *ConfigHandler {
	return &ConfigHandler{configService: configService}
}

// GetPublicConfig handles GET /v1/config. Only keys flagged public are
// exposed.
func (h *ConfigHandler) GetPublicConfig(c *gin.Context) {
	publicConfig, err := h.configService.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration"})
		return
	}
	c.JSON(http.StatusOK, publicConfig)
}

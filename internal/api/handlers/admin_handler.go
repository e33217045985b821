package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/services"
)

// AdminHandler handles admin-only operations.
type AdminHandler struct {
	userService   services.IUserService
	configService services.IConfigService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(userService services.IUserService, configService services.IConfigService) *AdminHandler {
	return &AdminHandler{userService: userService, configService: configService}
}

// SuspendUser handles POST /v1/admin/users/:id/suspend.
func (h *AdminHandler) SuspendUser(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.userService.SuspendUser(c.Request.Context(), userID, session.UserID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to suspend user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UnsuspendUser handles POST /v1/admin/users/:id/unsuspend.
func (h *AdminHandler) UnsuspendUser(c *gin.Context) {
	userID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	if err := h.userService.UnsuspendUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unsuspend user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type setConfigRequest struct {
	Key    string      `json:"key" binding:"required"`
	Value  interface{} `json:"value" binding:"required"`
	Public bool        `json:"public"`
}

// SetConfig handles PUT /v1/admin/config. Writes a dynamic config value and
// broadcasts the change to all running instances.
func (h *AdminHandler) SetConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := h.configService.SetConfigValue(c.Request.Context(), req.Key, req.Value, req.Public); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set config value"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

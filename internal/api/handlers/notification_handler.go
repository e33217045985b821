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

// NotificationHandler handles in-app notification requests.
type NotificationHandler struct {
	notificationService services.INotificationService
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notificationService services.INotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// List handles GET /v1/notifications. ?unread=true filters to unread only.
func (h *NotificationHandler) List(c *gin.Context) {
	session := middleware.Session(c)
	unreadOnly := c.Query("unread") == "true"
	notifications, err := h.notificationService.ListForUser(c.Request.Context(), session.Email, session.UserID, unreadOnly)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notifications})
}

// UnreadCount handles GET /v1/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	session := middleware.Session(c)
	count, err := h.notificationService.UnreadCount(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles POST /v1/notifications/:id/read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	notificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.notificationService.MarkRead(c.Request.Context(), notificationID, session.Email, session.UserID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkAllRead handles POST /v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	session := middleware.Session(c)
	count, err := h.notificationService.MarkAllRead(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": count})
}

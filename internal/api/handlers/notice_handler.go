package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/services"
)

// NoticeHandler handles landlord/renter notice requests.
type NoticeHandler struct {
	noticeService services.INoticeService
}

// NewNoticeHandler creates a new NoticeHandler.
func NewNoticeHandler(noticeService services.INoticeService) *NoticeHandler {
	return &NoticeHandler{noticeService: noticeService}
}

type sendNoticeRequest struct {
	PropertyID string `json:"property_id" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"` // Email or user ID hex
	Type       string `json:"type" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Body       string `json:"body"`
}

// Send handles POST /v1/notices.
func (h *NoticeHandler) Send(c *gin.Context) {
	var req sendNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	propertyID, err := primitive.ObjectIDFromHex(req.PropertyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}
	recipient, err := models.ParseRenterRef(req.Recipient)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid recipient"})
		return
	}

	session := middleware.Session(c)
	notice, err := h.noticeService.Send(c.Request.Context(), session.UserID, propertyID, recipient, models.NoticeType(req.Type), req.Subject, req.Body)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send notice"})
		return
	}
	c.JSON(http.StatusCreated, notice)
}

// ListReceived handles GET /v1/notices.
func (h *NoticeHandler) ListReceived(c *gin.Context) {
	session := middleware.Session(c)
	notices, err := h.noticeService.ListForRecipient(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notices})
}

// ListSent handles GET /v1/notices/sent.
func (h *NoticeHandler) ListSent(c *gin.Context) {
	session := middleware.Session(c)
	notices, err := h.noticeService.ListBySender(c.Request.Context(), session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notices})
}

// MarkRead handles POST /v1/notices/:id/read.
func (h *NoticeHandler) MarkRead(c *gin.Context) {
	noticeID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notice ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.noticeService.MarkRead(c.Request.Context(), noticeID, session.Email, session.UserID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notice not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notice read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /v1/notices/:id. Only the sender may delete.
func (h *NoticeHandler) Delete(c *gin.Context) {
	noticeID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notice ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.noticeService.Delete(c.Request.Context(), noticeID, session.UserID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notice not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete notice"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

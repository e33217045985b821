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

// InvitationHandler handles invitation lifecycle requests.
type InvitationHandler struct {
	invitationService services.IInvitationService
}

// NewInvitationHandler creates a new InvitationHandler.
func NewInvitationHandler(invitationService services.IInvitationService) *InvitationHandler {
	return &InvitationHandler{invitationService: invitationService}
}

type createInvitationRequest struct {
	PropertyID  string `json:"property_id" binding:"required"`
	RenterEmail string `json:"renter_email" binding:"required,email"`
	Message     string `json:"message"`
}

// Create handles POST /v1/invitations (landlord).
func (h *InvitationHandler) Create(c *gin.Context) {
	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	propertyID, err := primitive.ObjectIDFromHex(req.PropertyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	invitation, err := h.invitationService.Create(c.Request.Context(), session.UserID, propertyID, req.RenterEmail, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateInvitation):
			c.JSON(http.StatusConflict, gin.H{"error": "A pending invitation already exists for this renter"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Property belongs to another landlord"})
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create invitation"})
		}
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

// ListByProperty handles GET /v1/properties/:id/invitations (landlord).
func (h *InvitationHandler) ListByProperty(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	invitations, err := h.invitationService.ListByProperty(c.Request.Context(), propertyID, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invitations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invitations})
}

// ListMine handles GET /v1/invitations (renter).
func (h *InvitationHandler) ListMine(c *gin.Context) {
	session := middleware.Session(c)
	invitations, err := h.invitationService.ListForRenter(c.Request.Context(), session.Email)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invitations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invitations})
}

// GetByToken handles GET /v1/invitations/token/:token. Public: the token is
// the secret from the emailed link, shown before the renter has an account.
func (h *InvitationHandler) GetByToken(c *gin.Context) {
	invitation, err := h.invitationService.FindByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve invitation"})
		return
	}
	c.JSON(http.StatusOK, invitation)
}

// Accept handles POST /v1/invitations/:id/accept (renter).
func (h *InvitationHandler) Accept(c *gin.Context) {
	invitationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return
	}

	session := middleware.Session(c)
	invitation, err := h.invitationService.Accept(c.Request.Context(), invitationID, session.Email)
	if err != nil {
		h.respondStateError(c, err, "Failed to accept invitation")
		return
	}
	c.JSON(http.StatusOK, invitation)
}

// Decline handles POST /v1/invitations/:id/decline (renter).
func (h *InvitationHandler) Decline(c *gin.Context) {
	invitationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.invitationService.Decline(c.Request.Context(), invitationID, session.Email); err != nil {
		h.respondStateError(c, err, "Failed to decline invitation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Revoke handles DELETE /v1/invitations/:id (landlord).
func (h *InvitationHandler) Revoke(c *gin.Context) {
	invitationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.invitationService.Revoke(c.Request.Context(), invitationID, session.UserID); err != nil {
		h.respondStateError(c, err, "Failed to revoke invitation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *InvitationHandler) respondStateError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
	case errors.Is(err, services.ErrInvitationNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "Invitation is no longer pending"})
	case errors.Is(err, services.ErrInvitationExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Invitation has expired"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

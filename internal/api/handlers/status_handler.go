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

// StatusHandler serves the renter status board.
type StatusHandler struct {
	statusService   services.IRenterStatusService
	propertyService services.IPropertyService
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(statusService services.IRenterStatusService, propertyService services.IPropertyService) *StatusHandler {
	return &StatusHandler{statusService: statusService, propertyService: propertyService}
}

// BoardForProperty handles GET /v1/properties/:id/status-board (landlord).
// One row per renter, deduplicated to the furthest stage.
func (h *StatusHandler) BoardForProperty(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	if _, err := h.propertyService.FindByIDForLandlord(c.Request.Context(), propertyID, session.UserID); err != nil {
		h.respondOwnershipError(c, err)
		return
	}

	board, err := h.statusService.BoardForProperty(c.Request.Context(), propertyID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load status board"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": board})
}

// BoardForLandlord handles GET /v1/status-board (landlord). The board across
// all the landlord's properties.
func (h *StatusHandler) BoardForLandlord(c *gin.Context) {
	session := middleware.Session(c)
	board, err := h.statusService.BoardForLandlord(c.Request.Context(), session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load status board"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": board})
}

// Rebuild handles POST /v1/properties/:id/status-board/rebuild (landlord).
// Drops and regenerates the property's status rows from source records.
func (h *StatusHandler) Rebuild(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	if _, err := h.propertyService.FindByIDForLandlord(c.Request.Context(), propertyID, session.UserID); err != nil {
		h.respondOwnershipError(c, err)
		return
	}

	rows, err := h.statusService.Rebuild(c.Request.Context(), propertyID)
	if err != nil {
		if errors.Is(err, services.ErrRebuildInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "A rebuild is already in progress for this property"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rebuild status board"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *StatusHandler) respondOwnershipError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Property belongs to another landlord"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify property"})
	}
}

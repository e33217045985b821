package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/services"
	"rentfold/rf/internal/storage"
)

// IImageTaskEnqueuer enqueues background image-processing work. Implemented
// by tasks.Client; declared here so handlers stay decoupled from asynq.
type IImageTaskEnqueuer interface {
	EnqueueImageProcess(ctx context.Context, s3Key string, propertyID, landlordID primitive.ObjectID) error
}

// PropertyHandler handles landlord property CRUD and photo uploads.
type PropertyHandler struct {
	propertyService services.IPropertyService
	s3Storage       storage.IS3Storage
	imageTasks      IImageTaskEnqueuer
}

// NewPropertyHandler creates a new PropertyHandler.
func NewPropertyHandler(propertyService services.IPropertyService, s3Storage storage.IS3Storage, imageTasks IImageTaskEnqueuer) *PropertyHandler {
	return &PropertyHandler{
		propertyService: propertyService,
		s3Storage:       s3Storage,
		imageTasks:      imageTasks,
	}
}

// Create handles POST /v1/properties.
func (h *PropertyHandler) Create(c *gin.Context) {
	var property models.Property
	if err := c.ShouldBindJSON(&property); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	created, err := h.propertyService.Create(c.Request.Context(), session.UserID, &property)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create property"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List handles GET /v1/properties.
func (h *PropertyHandler) List(c *gin.Context) {
	session := middleware.Session(c)
	properties, err := h.propertyService.ListByLandlord(c.Request.Context(), session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list properties"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": properties})
}

// Get handles GET /v1/properties/:id.
func (h *PropertyHandler) Get(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	property, err := h.propertyService.FindByID(c.Request.Context(), propertyID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve property"})
		return
	}
	c.JSON(http.StatusOK, property)
}

// Update handles PUT /v1/properties/:id.
func (h *PropertyHandler) Update(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	var updates bson.M
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	if err := h.propertyService.Update(c.Request.Context(), propertyID, session.UserID, updates); err != nil {
		h.respondOwnershipError(c, err, "Failed to update property")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /v1/properties/:id.
func (h *PropertyHandler) Delete(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	if err := h.propertyService.Delete(c.Request.Context(), propertyID, session.UserID); err != nil {
		h.respondOwnershipError(c, err, "Failed to delete property")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type photoUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// PhotoUploadURL handles POST /v1/properties/:id/photos/upload-url.
// Returns a presigned PUT URL; the client uploads directly to S3 and then
// confirms with ConfirmPhoto.
func (h *PropertyHandler) PhotoUploadURL(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	var req photoUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	// Ownership check before minting a URL under the landlord's prefix.
	if _, err := h.propertyService.FindByIDForLandlord(c.Request.Context(), propertyID, session.UserID); err != nil {
		h.respondOwnershipError(c, err, "Failed to verify property")
		return
	}

	url, key, err := h.s3Storage.GeneratePresignedPutURL(c.Request.Context(), storage.FolderPropertyPhotos, session.UserID.Hex(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

type confirmPhotoRequest struct {
	Key string `json:"key" binding:"required"`
}

// ConfirmPhoto handles POST /v1/properties/:id/photos. Records the uploaded
// photo key and queues a resize pass.
func (h *PropertyHandler) ConfirmPhoto(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	var req confirmPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	if err := h.propertyService.AddPhoto(c.Request.Context(), propertyID, session.UserID, req.Key); err != nil {
		h.respondOwnershipError(c, err, "Failed to record photo")
		return
	}

	if err := h.imageTasks.EnqueueImageProcess(c.Request.Context(), req.Key, propertyID, session.UserID); err != nil {
		// The photo is recorded; the resize pass can be retried later.
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type removePhotoRequest struct {
	Key string `json:"key" binding:"required"`
}

// RemovePhoto handles DELETE /v1/properties/:id/photos.
func (h *PropertyHandler) RemovePhoto(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	var req removePhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	if err := h.propertyService.RemovePhoto(c.Request.Context(), propertyID, session.UserID, req.Key); err != nil {
		h.respondOwnershipError(c, err, "Failed to remove photo")
		return
	}

	// Best-effort S3 cleanup; the record no longer references the key.
	if err := h.s3Storage.DeleteObject(c.Request.Context(), req.Key); err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PropertyHandler) respondOwnershipError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Property belongs to another landlord"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

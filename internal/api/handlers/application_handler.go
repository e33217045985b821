package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/services"
	"rentfold/rf/internal/storage"
)

// ApplicationHandler handles rental application requests.
type ApplicationHandler struct {
	applicationService services.IApplicationService
	s3Storage          storage.IS3Storage
}

// NewApplicationHandler creates a new ApplicationHandler.
func NewApplicationHandler(applicationService services.IApplicationService, s3Storage storage.IS3Storage) *ApplicationHandler {
	return &ApplicationHandler{applicationService: applicationService, s3Storage: s3Storage}
}

// Autosave handles PUT /v1/invitations/:id/application (renter). Upserts the
// draft; clients call this on every form change so partial progress survives.
func (h *ApplicationHandler) Autosave(c *gin.Context) {
	invitationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return
	}

	var draft models.Application
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	saved, err := h.applicationService.Autosave(c.Request.Context(), invitationID, session.Email, &draft)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Invitation not found"})
		case errors.Is(err, services.ErrApplicationNotDraft):
			c.JSON(http.StatusConflict, gin.H{"error": "Application has already been submitted"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save application"})
		}
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GetDraft handles GET /v1/invitations/:id/application (renter).
func (h *ApplicationHandler) GetDraft(c *gin.Context) {
	invitationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invitation ID"})
		return
	}

	session := middleware.Session(c)
	draft, err := h.applicationService.FindDraftByInvitation(c.Request.Context(), invitationID, session.Email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No application draft found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load application"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

type signatureUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// SignatureUploadURL handles POST /v1/applications/signature-upload-url
// (renter). Signature images go to their own S3 folder.
func (h *ApplicationHandler) SignatureUploadURL(c *gin.Context) {
	var req signatureUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	url, key, err := h.s3Storage.GeneratePresignedPutURL(c.Request.Context(), storage.FolderSignatures, session.UserID.Hex(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

// Submit handles POST /v1/applications/:id/submit (renter).
func (h *ApplicationHandler) Submit(c *gin.Context) {
	applicationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid application ID"})
		return
	}

	session := middleware.Session(c)
	application, err := h.applicationService.Submit(c.Request.Context(), applicationID, session.Email)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		case errors.Is(err, services.ErrUnsignedApplicants):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "All applicants must sign before submission"})
		case errors.Is(err, services.ErrApplicationNotDraft):
			c.JSON(http.StatusConflict, gin.H{"error": "Application has already been submitted"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit application"})
		}
		return
	}
	c.JSON(http.StatusOK, application)
}

// ListByProperty handles GET /v1/properties/:id/applications (landlord).
func (h *ApplicationHandler) ListByProperty(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	applications, err := h.applicationService.ListByProperty(c.Request.Context(), propertyID, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list applications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": applications})
}

// ListMine handles GET /v1/applications (renter).
func (h *ApplicationHandler) ListMine(c *gin.Context) {
	session := middleware.Session(c)
	applications, err := h.applicationService.ListForRenter(c.Request.Context(), session.Email)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list applications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": applications})
}

// Get handles GET /v1/applications/:id.
func (h *ApplicationHandler) Get(c *gin.Context) {
	applicationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid application ID"})
		return
	}

	application, err := h.applicationService.FindByID(c.Request.Context(), applicationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve application"})
		return
	}

	// Landlords see applications for their properties; renters their own.
	session := middleware.Session(c)
	if application.LandlordID != session.UserID && application.RenterEmail != session.Email {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your application"})
		return
	}
	c.JSON(http.StatusOK, application)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// Approve handles POST /v1/applications/:id/approve (landlord).
func (h *ApplicationHandler) Approve(c *gin.Context) {
	h.review(c, h.applicationService.Approve)
}

// Reject handles POST /v1/applications/:id/reject (landlord).
func (h *ApplicationHandler) Reject(c *gin.Context) {
	h.review(c, h.applicationService.Reject)
}

func (h *ApplicationHandler) review(c *gin.Context, fn func(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string) error) {
	applicationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid application ID"})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	if err := fn(c.Request.Context(), applicationID, session.UserID, req.Notes); err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		case errors.Is(err, services.ErrApplicationNotReviewable):
			c.JSON(http.StatusConflict, gin.H{"error": "Application is not awaiting review"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Application belongs to another landlord's property"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to review application"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

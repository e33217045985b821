package handlers

import (
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

// LeaseHandler handles lease lifecycle requests.
type LeaseHandler struct {
	leaseService services.ILeaseService
	s3Storage    storage.IS3Storage
}

// NewLeaseHandler creates a new LeaseHandler.
func NewLeaseHandler(leaseService services.ILeaseService, s3Storage storage.IS3Storage) *LeaseHandler {
	return &LeaseHandler{leaseService: leaseService, s3Storage: s3Storage}
}

// leaseParty reports which side of the lease the session is, if any.
func leaseParty(lease *models.Lease, session middleware.SessionContext) (models.LeaseParty, bool) {
	if lease.LandlordID == session.UserID {
		return models.LeasePartyLandlord, true
	}
	switch lease.Renter.Kind {
	case models.RenterRefByEmail:
		if lease.Renter.Email == session.Email {
			return models.LeasePartyRenter, true
		}
	case models.RenterRefByID:
		if lease.Renter.UserID == session.UserID {
			return models.LeasePartyRenter, true
		}
	}
	return "", false
}

// Upload handles POST /v1/leases (landlord). The lease body carries the
// terms; the document PDF is uploaded separately via DocumentUploadURL.
func (h *LeaseHandler) Upload(c *gin.Context) {
	var lease models.Lease
	if err := c.ShouldBindJSON(&lease); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	created, err := h.leaseService.Upload(c.Request.Context(), session.UserID, &lease)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Property belongs to another landlord"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create lease"})
		}
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Get handles GET /v1/leases/:id.
func (h *LeaseHandler) Get(c *gin.Context) {
	lease, _, ok := h.loadAuthorized(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, lease)
}

// ListByProperty handles GET /v1/properties/:id/leases (landlord).
func (h *LeaseHandler) ListByProperty(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	leases, err := h.leaseService.ListByProperty(c.Request.Context(), propertyID, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list leases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": leases})
}

// ListMine handles GET /v1/leases (renter).
func (h *LeaseHandler) ListMine(c *gin.Context) {
	session := middleware.Session(c)
	leases, err := h.leaseService.ListForRenter(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list leases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": leases})
}

type updateTermsRequest struct {
	Version int64  `json:"version" binding:"required"`
	Updates bson.M `json:"updates" binding:"required"`
}

// UpdateTerms handles PUT /v1/leases/:id (landlord). Requires the version
// the client last saw; changing terms clears both signatures.
func (h *LeaseHandler) UpdateTerms(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	var req updateTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	lease, err := h.leaseService.UpdateTerms(c.Request.Context(), leaseID, session.UserID, req.Version, req.Updates)
	if err != nil {
		h.respondStateError(c, err, "Failed to update lease")
		return
	}
	c.JSON(http.StatusOK, lease)
}

type signRequest struct {
	Version int64 `json:"version" binding:"required"`
}

// Sign handles POST /v1/leases/:id/sign. The signing party is derived from
// the session, never from the request body.
func (h *LeaseHandler) Sign(c *gin.Context) {
	lease, session, ok := h.loadAuthorized(c)
	if !ok {
		return
	}

	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	party, _ := leaseParty(lease, session)
	signed, err := h.leaseService.Sign(c.Request.Context(), lease.ID, party, req.Version)
	if err != nil {
		h.respondStateError(c, err, "Failed to sign lease")
		return
	}
	c.JSON(http.StatusOK, signed)
}

type rejectLeaseRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /v1/leases/:id/reject (renter).
func (h *LeaseHandler) Reject(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	var req rejectLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	if err := h.leaseService.RejectByRenter(c.Request.Context(), leaseID, session.Email, req.Reason); err != nil {
		h.respondStateError(c, err, "Failed to reject lease")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Activate handles POST /v1/leases/:id/activate (landlord). Normally leases
// activate on the first settled payment; this is the manual override.
func (h *LeaseHandler) Activate(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	session := middleware.Session(c)
	lease, err := h.leaseService.Activate(c.Request.Context(), leaseID, session.UserID)
	if err != nil {
		h.respondStateError(c, err, "Failed to activate lease")
		return
	}
	c.JSON(http.StatusOK, lease)
}

type documentUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// DocumentUploadURL handles POST /v1/leases/document-upload-url (landlord).
func (h *LeaseHandler) DocumentUploadURL(c *gin.Context) {
	var req documentUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	url, key, err := h.s3Storage.GeneratePresignedPutURL(c.Request.Context(), storage.FolderLeaseDocuments, session.UserID.Hex(), req.Filename, req.ContentType)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "key": key})
}

// DocumentURL handles GET /v1/leases/:id/document. Returns a presigned GET
// URL for the lease PDF; both parties may fetch it.
func (h *LeaseHandler) DocumentURL(c *gin.Context) {
	lease, _, ok := h.loadAuthorized(c)
	if !ok {
		return
	}
	if lease.DocumentKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lease has no document"})
		return
	}

	url, err := h.s3Storage.GeneratePresignedGetURL(c.Request.Context(), lease.DocumentKey)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate document URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// loadAuthorized fetches the lease from the :id param and verifies the
// session is one of its parties.
func (h *LeaseHandler) loadAuthorized(c *gin.Context) (*models.Lease, middleware.SessionContext, bool) {
	var zero middleware.SessionContext
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return nil, zero, false
	}

	lease, err := h.leaseService.FindByID(c.Request.Context(), leaseID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Lease not found"})
			return nil, zero, false
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve lease"})
		return nil, zero, false
	}

	session := middleware.Session(c)
	if _, isParty := leaseParty(lease, session); !isParty {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a party to this lease"})
		return nil, zero, false
	}
	return lease, session, true
}

func (h *LeaseHandler) respondStateError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, gin.H{"error": "Lease not found"})
	case errors.Is(err, services.ErrStaleLease):
		c.JSON(http.StatusConflict, gin.H{"error": "Lease was modified concurrently, reload and retry"})
	case errors.Is(err, services.ErrLeaseNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "Lease is not awaiting signatures"})
	case errors.Is(err, services.ErrLeaseNotFullySigned):
		c.JSON(http.StatusConflict, gin.H{"error": "Both parties must sign first"})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Lease belongs to another landlord"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/payments"
	"rentfold/rf/internal/services"
)

// InvoiceHandler handles invoice requests.
type InvoiceHandler struct {
	invoiceService services.IInvoiceService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceService services.IInvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

type issueInvoiceRequest struct {
	LeaseID string                   `json:"lease_id" binding:"required"`
	Items   []models.InvoiceLineItem `json:"items" binding:"required,min=1"`
}

// Issue handles POST /v1/invoices (landlord).
func (h *InvoiceHandler) Issue(c *gin.Context) {
	var req issueInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	leaseID, err := primitive.ObjectIDFromHex(req.LeaseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	session := middleware.Session(c)
	invoice, err := h.invoiceService.Issue(c.Request.Context(), session.UserID, leaseID, req.Items)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Lease not found"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Lease belongs to another landlord"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue invoice"})
		}
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

// Get handles GET /v1/invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoiceID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID"})
		return
	}

	invoice, err := h.invoiceService.FindByID(c.Request.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve invoice"})
		return
	}

	session := middleware.Session(c)
	isRenter := (invoice.Renter.Kind == models.RenterRefByEmail && invoice.Renter.Email == session.Email) ||
		(invoice.Renter.Kind == models.RenterRefByID && invoice.Renter.UserID == session.UserID)
	if invoice.LandlordID != session.UserID && !isRenter {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your invoice"})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// ListIssued handles GET /v1/invoices/issued (landlord).
func (h *InvoiceHandler) ListIssued(c *gin.Context) {
	session := middleware.Session(c)
	invoices, err := h.invoiceService.ListByLandlord(c.Request.Context(), session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

// ListMine handles GET /v1/invoices (renter).
func (h *InvoiceHandler) ListMine(c *gin.Context) {
	session := middleware.Session(c)
	invoices, err := h.invoiceService.ListForRenter(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

type payInvoiceRequest struct {
	Method string `json:"method" binding:"required"`
}

// Pay handles POST /v1/invoices/:id/pay (renter).
func (h *InvoiceHandler) Pay(c *gin.Context) {
	invoiceID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invoice ID"})
		return
	}

	var req payInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	invoice, err := h.invoiceService.Pay(c.Request.Context(), invoiceID, session.Email, req.Method)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		case errors.Is(err, services.ErrInvoiceAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"error": "Invoice has already been paid"})
		case errors.Is(err, payments.ErrPaymentDeclined):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment was declined"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to pay invoice"})
		}
		return
	}
	c.JSON(http.StatusOK, invoice)
}

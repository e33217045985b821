package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/payments"
	"rentfold/rf/internal/services"
)

// PaymentHandler handles rent payment requests.
type PaymentHandler struct {
	paymentService services.IPaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService services.IPaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// NextDue handles GET /v1/leases/:id/payments/next-due.
func (h *PaymentHandler) NextDue(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	due, ok, err := h.paymentService.NextDueForLease(c.Request.Context(), leaseID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Lease not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute next payment due"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"due": nil, "fully_paid": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"due": due, "fully_paid": false})
}

type payRentRequest struct {
	Method string `json:"method" binding:"required"`
}

// PayRent handles POST /v1/leases/:id/payments (renter). Charges the next
// due instalment through the gateway.
func (h *PaymentHandler) PayRent(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	var req payRentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	session := middleware.Session(c)
	payment, err := h.paymentService.PayRent(c.Request.Context(), leaseID, session.Email, req.Method)
	if err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			c.JSON(http.StatusNotFound, gin.H{"error": "Lease not found"})
		case errors.Is(err, services.ErrLeaseNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Lease is not payable"})
		case errors.Is(err, services.ErrNothingDue):
			c.JSON(http.StatusConflict, gin.H{"error": "No further rent is due on this lease"})
		case errors.Is(err, payments.ErrPaymentDeclined):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment was declined"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process payment"})
		}
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// ListForLease handles GET /v1/leases/:id/payments.
func (h *PaymentHandler) ListForLease(c *gin.Context) {
	leaseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lease ID"})
		return
	}

	paymentsList, err := h.paymentService.ListForLease(c.Request.Context(), leaseID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": paymentsList})
}

// ListMine handles GET /v1/payments (renter).
func (h *PaymentHandler) ListMine(c *gin.Context) {
	session := middleware.Session(c)
	paymentsList, err := h.paymentService.ListForRenter(c.Request.Context(), session.Email, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": paymentsList})
}

// ListByProperty handles GET /v1/properties/:id/payments (landlord).
func (h *PaymentHandler) ListByProperty(c *gin.Context) {
	propertyID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property ID"})
		return
	}

	session := middleware.Session(c)
	paymentsList, err := h.paymentService.ListByProperty(c.Request.Context(), propertyID, session.UserID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": paymentsList})
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InvoiceStatus tracks the lifecycle of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// InvoiceItemKind classifies an invoice line item. Rent and deposit items fan
// out into RentPayment and SecurityDeposit records when the invoice is paid.
type InvoiceItemKind string

const (
	InvoiceItemRent    InvoiceItemKind = "rent"
	InvoiceItemDeposit InvoiceItemKind = "deposit"
	InvoiceItemFee     InvoiceItemKind = "fee"
)

// InvoiceLineItem is a single line on an invoice.
type InvoiceLineItem struct {
	Kind        InvoiceItemKind `bson:"kind" json:"kind"`
	Description string          `bson:"description" json:"description"`
	Amount      float64         `bson:"amount" json:"amount"`
}

// Invoice bundles rent, deposit and fees into one combined payment request,
// distinct from the recurring RentPayment schedule.
type Invoice struct {
	Base            `bson:",inline"`
	LeaseID         primitive.ObjectID `bson:"lease_id" json:"lease_id"`
	PropertyID      primitive.ObjectID `bson:"property_id" json:"property_id"`
	LandlordID      primitive.ObjectID `bson:"landlord_id" json:"landlord_id"`
	Renter          RenterRef          `bson:"renter" json:"renter"`
	InvoiceNumber   string             `bson:"invoice_number" json:"invoice_number"`
	Items           []InvoiceLineItem  `bson:"items" json:"items"`
	CurrencyCode    string             `bson:"currency_code" json:"currency_code"`
	Total           float64            `bson:"total" json:"total"`
	IssuedAt        time.Time          `bson:"issued_at" json:"issued_at"`
	DueAt           time.Time          `bson:"due" json:"due"`
	Status          InvoiceStatus      `bson:"status" json:"status"`
	PaidAt          *time.Time         `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	TransactionID   string             `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	OverdueNotified bool               `bson:"overdue_notified" json:"overdue_notified"` // Flag to prevent repeat overdue emails
	Deleted         bool               `bson:"deleted" json:"-"`                         // Soft delete flag
}

// SumItems returns the total of the invoice line items.
func (inv *Invoice) SumItems() float64 {
	total := 0.0
	for _, item := range inv.Items {
		total += item.Amount
	}
	return total
}

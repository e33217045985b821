package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentStatus tracks the state of a rent payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusOverdue PaymentStatus = "overdue"
	PaymentStatusPartial PaymentStatus = "partial"
)

// PaymentKind distinguishes rent instalments from one-off fee charges
// fanned out of an invoice.
type PaymentKind string

const (
	PaymentKindRent PaymentKind = "rent"
	PaymentKindFee  PaymentKind = "fee"
)

// RentPayment is one rent instalment, either a schedule placeholder or a
// record written when a payment succeeds.
type RentPayment struct {
	Base          `bson:",inline"`
	LeaseID       primitive.ObjectID `bson:"lease_id" json:"lease_id"`
	PropertyID    primitive.ObjectID `bson:"property_id" json:"property_id"`
	Renter        RenterRef          `bson:"renter" json:"renter"`
	Kind          PaymentKind        `bson:"kind" json:"kind"`
	Amount        float64            `bson:"amount" json:"amount"`
	CurrencyCode  string             `bson:"currency_code" json:"currency_code"`
	DueDate       time.Time          `bson:"due_date" json:"due_date"`
	PaidAt        *time.Time         `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	Status        PaymentStatus      `bson:"status" json:"status"`
	Method        string             `bson:"method,omitempty" json:"method,omitempty"`
	TransactionID string             `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"` // Gateway reference
	InvoiceID     primitive.ObjectID `bson:"invoice_id,omitempty" json:"invoice_id,omitempty"`         // Set when fanned out from an invoice
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted       bool               `bson:"deleted" json:"-"` // Soft delete flag
}

// SecurityDeposit is the one-time deposit for a lease. It never transitions
// state; the record is only created once the deposit is paid.
type SecurityDeposit struct {
	Base          `bson:",inline"`
	LeaseID       primitive.ObjectID `bson:"lease_id" json:"lease_id"`
	PropertyID    primitive.ObjectID `bson:"property_id" json:"property_id"`
	Renter        RenterRef          `bson:"renter" json:"renter"`
	Amount        float64            `bson:"amount" json:"amount"`
	CurrencyCode  string             `bson:"currency_code" json:"currency_code"`
	PaidAt        time.Time          `bson:"paid_at" json:"paid_at"`
	Method        string             `bson:"method,omitempty" json:"method,omitempty"`
	TransactionID string             `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	InvoiceID     primitive.ObjectID `bson:"invoice_id,omitempty" json:"invoice_id,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	Deleted       bool               `bson:"deleted" json:"-"` // Soft delete flag
}

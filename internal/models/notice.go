package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NoticeType is the fixed taxonomy of landlord/renter notices.
type NoticeType string

const (
	NoticeTypeEviction       NoticeType = "eviction"
	NoticeTypeLateRent       NoticeType = "late_rent"
	NoticeTypeLeaseCompleted NoticeType = "lease_completed"
	NoticeTypeInvoiceSent    NoticeType = "invoice_sent"
	NoticeTypeMaintenance    NoticeType = "maintenance"
	NoticeTypeMoveOut        NoticeType = "move_out"
	NoticeTypeGeneral        NoticeType = "general"
)

// Notice is a message of a fixed taxonomy between a landlord and a renter,
// in either direction.
type Notice struct {
	Base       `bson:",inline"`
	PropertyID primitive.ObjectID `bson:"property_id" json:"property_id"`
	SenderID   primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	Recipient  RenterRef          `bson:"recipient" json:"recipient"`
	Type       NoticeType         `bson:"type" json:"type"`
	Subject    string             `bson:"subject" json:"subject"`
	Body       string             `bson:"body,omitempty" json:"body,omitempty"`
	Read       bool               `bson:"read" json:"read"`
	ReadAt     *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	Deleted    bool               `bson:"deleted" json:"-"` // Soft delete flag
}

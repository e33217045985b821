package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InvitationStatus tracks the lifecycle of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusDeclined InvitationStatus = "declined"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// Invitation is a landlord's invitation of a renter to a property, addressed
// by email. The email is the only stable join key to the renter until they
// have an activated account.
type Invitation struct {
	Base        `bson:",inline"`
	PropertyID  primitive.ObjectID `bson:"property_id" json:"property_id"`
	LandlordID  primitive.ObjectID `bson:"landlord_id" json:"landlord_id"`
	RenterEmail string             `bson:"renter_email" json:"renter_email"` // Normalized lowercase
	Message     string             `bson:"message,omitempty" json:"message,omitempty"`
	Status      InvitationStatus   `bson:"status" json:"status"`
	AcceptToken string             `bson:"accept_token" json:"-"` // Embedded in the emailed link
	ExpiresAt   time.Time          `bson:"expires_at" json:"expires_at"`
	RespondedAt *time.Time         `bson:"responded_at,omitempty" json:"responded_at,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted     bool               `bson:"deleted" json:"-"` // Soft delete flag
}

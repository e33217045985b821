package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LeaseStatus tracks the lifecycle of a lease.
type LeaseStatus string

const (
	LeaseStatusDraft            LeaseStatus = "draft"
	LeaseStatusPendingSignature LeaseStatus = "pending_signature"
	LeaseStatusActive           LeaseStatus = "active"
	LeaseStatusExpired          LeaseStatus = "expired"
	LeaseStatusTerminated       LeaseStatus = "terminated"
)

// LeaseParty identifies which side of the lease is acting.
type LeaseParty string

const (
	LeasePartyRenter   LeaseParty = "renter"
	LeasePartyLandlord LeaseParty = "landlord"
)

// Signature records one party's signature on a lease.
type Signature struct {
	Signed   bool       `bson:"signed" json:"signed"`
	SignedAt *time.Time `bson:"signed_at,omitempty" json:"signed_at,omitempty"`
}

// Lease represents a lease agreement between a landlord and a renter.
// The renter is a RenterRef: legacy records addressed renters by email or by
// user ID interchangeably, and the tagged reference keeps that explicit.
// A lease becomes active only once both signature flags are set; mutating the
// lease terms clears both signatures so the parties re-sign the same terms.
type Lease struct {
	Base              `bson:",inline"`
	PropertyID        primitive.ObjectID `bson:"property_id" json:"property_id"`
	LandlordID        primitive.ObjectID `bson:"landlord_id" json:"landlord_id"`
	Renter            RenterRef          `bson:"renter" json:"renter"`
	StartDate         time.Time          `bson:"start_date" json:"start_date"`
	EndDate           time.Time          `bson:"end_date" json:"end_date"`
	MonthlyRent       float64            `bson:"monthly_rent" json:"monthly_rent"`
	DepositAmount     float64            `bson:"deposit_amount" json:"deposit_amount"`
	CurrencyCode      string             `bson:"currency_code" json:"currency_code"`
	DocumentKey       string             `bson:"document_key,omitempty" json:"document_key,omitempty"` // S3 key of the lease PDF
	RenterSignature   Signature          `bson:"renter_signature" json:"renter_signature"`
	LandlordSignature Signature          `bson:"landlord_signature" json:"landlord_signature"`
	Status            LeaseStatus        `bson:"status" json:"status"`
	Version           int64              `bson:"version" json:"version"` // Optimistic concurrency token
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted           bool               `bson:"deleted" json:"-"` // Soft delete flag
}

// FullySigned reports whether both parties have signed.
func (l *Lease) FullySigned() bool {
	return l.RenterSignature.Signed && l.LandlordSignature.Signed
}

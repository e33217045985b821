package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ApplicationStatus tracks the lifecycle of a rental application.
type ApplicationStatus string

const (
	ApplicationStatusIncomplete  ApplicationStatus = "incomplete" // Autosaved draft
	ApplicationStatusSubmitted   ApplicationStatus = "submitted"
	ApplicationStatusUnderReview ApplicationStatus = "under_review"
	ApplicationStatusApproved    ApplicationStatus = "approved"
	ApplicationStatusRejected    ApplicationStatus = "rejected"
)

// Applicant is one person listed on an application. SignatureKey is the S3 key
// of their signature image; an application cannot be submitted while any
// applicant's SignatureKey is empty.
type Applicant struct {
	FullName     string    `bson:"full_name" json:"full_name"`
	DateOfBirth  string    `bson:"date_of_birth,omitempty" json:"date_of_birth,omitempty"`
	Email        string    `bson:"email,omitempty" json:"email,omitempty"`
	Phone        string    `bson:"phone,omitempty" json:"phone,omitempty"`
	SignatureKey string    `bson:"signature_key,omitempty" json:"signature_key,omitempty"`
	SignedAt     time.Time `bson:"signed_at,omitempty" json:"signed_at,omitempty"`
}

// Employment captures an applicant's employment details.
type Employment struct {
	Employer      string  `bson:"employer,omitempty" json:"employer,omitempty"`
	Position      string  `bson:"position,omitempty" json:"position,omitempty"`
	MonthlyIncome float64 `bson:"monthly_income,omitempty" json:"monthly_income,omitempty"`
	YearsEmployed float64 `bson:"years_employed,omitempty" json:"years_employed,omitempty"`
	Phone         string  `bson:"phone,omitempty" json:"phone,omitempty"`
}

// Reference is a personal or professional reference.
type Reference struct {
	Name         string `bson:"name" json:"name"`
	Relationship string `bson:"relationship,omitempty" json:"relationship,omitempty"`
	Phone        string `bson:"phone,omitempty" json:"phone,omitempty"`
	Email        string `bson:"email,omitempty" json:"email,omitempty"`
}

// Vehicle describes a vehicle the applicants intend to keep at the property.
type Vehicle struct {
	Make         string `bson:"make,omitempty" json:"make,omitempty"`
	Model        string `bson:"model,omitempty" json:"model,omitempty"`
	Year         int    `bson:"year,omitempty" json:"year,omitempty"`
	LicensePlate string `bson:"license_plate,omitempty" json:"license_plate,omitempty"`
}

// Residence is a prior residence entry.
type Residence struct {
	Address       string  `bson:"address" json:"address"`
	LandlordName  string  `bson:"landlord_name,omitempty" json:"landlord_name,omitempty"`
	LandlordPhone string  `bson:"landlord_phone,omitempty" json:"landlord_phone,omitempty"`
	MonthlyRent   float64 `bson:"monthly_rent,omitempty" json:"monthly_rent,omitempty"`
	MoveInDate    string  `bson:"move_in_date,omitempty" json:"move_in_date,omitempty"`
	MoveOutDate   string  `bson:"move_out_date,omitempty" json:"move_out_date,omitempty"`
}

// Application is a rental application. Drafts are autosaved under status
// "incomplete" keyed by invitation ID so a renter can resume later.
type Application struct {
	Base         `bson:",inline"`
	InvitationID primitive.ObjectID `bson:"invitation_id" json:"invitation_id"`
	PropertyID   primitive.ObjectID `bson:"property_id" json:"property_id"`
	LandlordID   primitive.ObjectID `bson:"landlord_id" json:"landlord_id"`
	RenterEmail  string             `bson:"renter_email" json:"renter_email"` // Normalized lowercase
	Applicants   []Applicant        `bson:"applicants" json:"applicants"`
	Employment   *Employment        `bson:"employment,omitempty" json:"employment,omitempty"`
	References   []Reference        `bson:"references,omitempty" json:"references,omitempty"`
	Vehicles     []Vehicle          `bson:"vehicles,omitempty" json:"vehicles,omitempty"`
	Residences   []Residence        `bson:"residences,omitempty" json:"residences,omitempty"`
	Status       ApplicationStatus  `bson:"status" json:"status"`
	ReviewNotes  string             `bson:"review_notes,omitempty" json:"review_notes,omitempty"`
	SubmittedAt  *time.Time         `bson:"submitted_at,omitempty" json:"submitted_at,omitempty"`
	ReviewedAt   *time.Time         `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted      bool               `bson:"deleted" json:"-"` // Soft delete flag
}

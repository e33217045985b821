package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PropertyType is the broad category of a property.
type PropertyType string

const (
	PropertyTypeApartment PropertyType = "apartment"
	PropertyTypeHouse     PropertyType = "house"
	PropertyTypeCondo     PropertyType = "condo"
	PropertyTypeTownhouse PropertyType = "townhouse"
)

// Address is a postal address stored inline on a property.
type Address struct {
	Street  string `bson:"street" json:"street"`
	City    string `bson:"city" json:"city"`
	State   string `bson:"state" json:"state"`
	ZipCode string `bson:"zip_code" json:"zip_code"`
	Country string `bson:"country" json:"country"`
}

// Property represents a rental property owned by a landlord.
// Properties are never hard-deleted; references from invitations, leases and
// payments remain valid after a soft delete.
type Property struct {
	Base          `bson:",inline"`
	LandlordID    primitive.ObjectID `bson:"landlord_id" json:"landlord_id"`
	Address       Address            `bson:"address" json:"address"`
	Type          PropertyType       `bson:"type" json:"type"`
	Bedrooms      int                `bson:"bedrooms" json:"bedrooms"`
	Bathrooms     int                `bson:"bathrooms" json:"bathrooms"`
	MonthlyRent   float64            `bson:"monthly_rent" json:"monthly_rent"`
	DepositAmount float64            `bson:"deposit_amount" json:"deposit_amount"`
	CurrencyCode  string             `bson:"currency_code" json:"currency_code"`
	Description   string             `bson:"description,omitempty" json:"description,omitempty"`
	Photos        []string           `bson:"photos" json:"photos"` // S3 keys
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted       bool               `bson:"deleted" json:"-"` // Soft delete flag
}

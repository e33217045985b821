package models

import (
	"time"
)

// Role defines the access level of a user.
type Role string

const (
	RoleLandlord Role = "landlord"
	RoleRenter   Role = "renter"
	RoleAdmin    Role = "admin"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleLandlord, RoleRenter, RoleAdmin:
		return true
	}
	return false
}

// NotificationPreferences allows users to control email notifications.
type NotificationPreferences struct {
	Invitation  bool `bson:"invitation" json:"invitation"`
	Application bool `bson:"application" json:"application"`
	Lease       bool `bson:"lease" json:"lease"`
	Payment     bool `bson:"payment" json:"payment"`
	Notice      bool `bson:"notice" json:"notice"`
}

// User represents a user in the system. Renters invited by email before they
// have signed up exist as phantom users until activation.
type User struct {
	Base                    `bson:",inline"`
	Name                    string                   `bson:"name" json:"name"`
	Email                   string                   `bson:"email" json:"email"`
	PasswordHash            string                   `bson:"password" json:"-"` // Store hash, not plaintext
	Role                    Role                     `bson:"role" json:"role"`
	Phone                   string                   `bson:"phone,omitempty" json:"phone,omitempty"`
	Phantom                 bool                     `bson:"phantom" json:"phantom"`
	Activated               bool                     `bson:"activated" json:"activated"`
	Suspended               bool                     `bson:"suspended" json:"suspended"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
	Deleted                 bool                     `bson:"deleted" json:"-"` // Soft delete flag
}

package models

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RenterRefKind discriminates how a renter is addressed.
type RenterRefKind string

const (
	RenterRefByEmail RenterRefKind = "email"
	RenterRefByID    RenterRefKind = "id"
)

// RenterRef is a tagged reference to a renter. Historically renters were
// addressed sometimes by email and sometimes by user ID depending on the
// write site; RenterRef makes the distinction explicit so it can be resolved
// exactly once at the data-access boundary instead of every reader sniffing
// strings for an "@".
type RenterRef struct {
	Kind   RenterRefKind      `bson:"kind" json:"kind"`
	Email  string             `bson:"email,omitempty" json:"email,omitempty"`
	UserID primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
}

// RenterRefFromEmail builds a reference keyed by (lowercased) email.
func RenterRefFromEmail(email string) RenterRef {
	return RenterRef{Kind: RenterRefByEmail, Email: NormalizeEmail(email)}
}

// RenterRefFromID builds a reference keyed by user ID.
func RenterRefFromID(id primitive.ObjectID) RenterRef {
	return RenterRef{Kind: RenterRefByID, UserID: id}
}

// ParseRenterRef classifies a raw string coming from a legacy record. It is
// the single place where the "does this string contain @" branching lives.
func ParseRenterRef(raw string) (RenterRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RenterRef{}, fmt.Errorf("empty renter reference")
	}
	if strings.Contains(raw, "@") {
		return RenterRefFromEmail(raw), nil
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return RenterRef{}, fmt.Errorf("renter reference %q is neither an email nor an ID: %w", raw, err)
	}
	return RenterRefFromID(id), nil
}

// IsZero reports whether the reference is unset.
func (r RenterRef) IsZero() bool {
	return r.Kind == ""
}

// NormalizeEmail lowercases and trims an email address. All stage rows and
// invitation lookups key on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

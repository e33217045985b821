package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stage is a renter's position in the pipeline for one property.
type Stage string

const (
	StageInvite        Stage = "invite"
	StageApplication   Stage = "application"
	StageLease         Stage = "lease"
	StageLeaseRejected Stage = "lease_rejected"
	StageAccepted      Stage = "accepted"
	StagePayment       Stage = "payment"
	StageLeased        Stage = "leased"
)

// stageRanks is the fixed total order over stages. lease_rejected shares the
// lease rank: it flags the row for the UI but is not a regression.
var stageRanks = map[Stage]int{
	StageInvite:        0,
	StageApplication:   1,
	StageLease:         2,
	StageLeaseRejected: 2,
	StageAccepted:      3,
	StagePayment:       4,
	StageLeased:        5,
}

// Rank returns the numeric rank of a stage, or -1 for an unknown stage.
func (s Stage) Rank() int {
	if r, ok := stageRanks[s]; ok {
		return r
	}
	return -1
}

// StageEvent is a pipeline event fed to the reconciler.
type StageEvent string

const (
	EventInvitationAccepted   StageEvent = "invitation_accepted"
	EventApplicationSubmitted StageEvent = "application_submitted"
	EventApplicationApproved  StageEvent = "application_approved"
	EventApplicationRejected  StageEvent = "application_rejected"
	EventLeaseUploaded        StageEvent = "lease_uploaded"
	EventLeaseAccepted        StageEvent = "lease_accepted"
	EventLeaseRejected        StageEvent = "lease_rejected"
	EventLeaseActivated       StageEvent = "lease_activated"
	EventPaymentCompleted     StageEvent = "payment_completed"
)

// StageForEvent maps an event to the stage it drives the row toward.
// Approval and rejection of an application update notes only: they keep the
// row at the application stage (advancing to lease is the lease upload's job).
func StageForEvent(ev StageEvent) (Stage, error) {
	switch ev {
	case EventInvitationAccepted:
		return StageInvite, nil
	case EventApplicationSubmitted, EventApplicationApproved, EventApplicationRejected:
		return StageApplication, nil
	case EventLeaseUploaded:
		return StageLease, nil
	case EventLeaseRejected:
		return StageLeaseRejected, nil
	case EventLeaseAccepted:
		return StageAccepted, nil
	case EventPaymentCompleted:
		return StagePayment, nil
	case EventLeaseActivated:
		return StageLeased, nil
	default:
		return "", fmt.Errorf("unknown stage event %q", ev)
	}
}

// StageRefs carries whichever foreign keys a stage event knows about. A row
// created or advanced by the event is seeded with the non-zero ones.
type StageRefs struct {
	InvitationID  primitive.ObjectID
	ApplicationID primitive.ObjectID
	LeaseID       primitive.ObjectID
}

// RenterStatus is the denormalized pipeline-stage row for one (property,
// renter email) pair. Version is the optimistic concurrency token: every
// update matches on it and increments it.
type RenterStatus struct {
	Base          `bson:",inline"`
	PropertyID    primitive.ObjectID `bson:"property_id" json:"property_id"`
	RenterEmail   string             `bson:"renter_email" json:"renter_email"` // Normalized lowercase
	Stage         Stage              `bson:"stage" json:"stage"`
	Flagged       bool               `bson:"flagged" json:"flagged"` // Set for lease_rejected rows
	Notes         string             `bson:"notes,omitempty" json:"notes,omitempty"`
	InvitationID  primitive.ObjectID `bson:"invitation_id,omitempty" json:"invitation_id,omitempty"`
	ApplicationID primitive.ObjectID `bson:"application_id,omitempty" json:"application_id,omitempty"`
	LeaseID       primitive.ObjectID `bson:"lease_id,omitempty" json:"lease_id,omitempty"`
	Version       int64              `bson:"version" json:"version"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
}

// DedupHighestRank collapses stage rows so each renter email keeps only its
// highest-rank row. Readers apply this on every render; it is never stored.
// Row order among distinct renters follows first appearance in the input.
func DedupHighestRank(rows []RenterStatus) []RenterStatus {
	best := make(map[string]int) // email -> index into out
	out := make([]RenterStatus, 0, len(rows))
	for _, row := range rows {
		email := NormalizeEmail(row.RenterEmail)
		if i, ok := best[email]; ok {
			if row.Stage.Rank() > out[i].Stage.Rank() {
				out[i] = row
			}
			continue
		}
		best[email] = len(out)
		out = append(out, row)
	}
	return out
}

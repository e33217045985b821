package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationType enumerates the system-generated event notifications.
type NotificationType string

const (
	NotificationInvitationReceived  NotificationType = "invitation_received"
	NotificationApplicationSubmit   NotificationType = "application_submitted"
	NotificationApplicationApproved NotificationType = "application_approved"
	NotificationApplicationRejected NotificationType = "application_rejected"
	NotificationLeaseUploaded       NotificationType = "lease_uploaded"
	NotificationLeaseCompleted      NotificationType = "lease_completed"
	NotificationLeaseRejected       NotificationType = "lease_rejected"
	NotificationPaymentReceived     NotificationType = "payment_received"
	NotificationInvoiceSent         NotificationType = "invoice_sent"
	NotificationNoticeReceived      NotificationType = "notice_received"
)

// NavTarget is the navigation hint attached to a notification: which page the
// UI should open on click, plus query params.
type NavTarget struct {
	Page   string            `bson:"page" json:"page"`
	Params map[string]string `bson:"params,omitempty" json:"params,omitempty"`
}

// navTable maps each notification type to its page. It is the single routing
// policy shared by every surface; pages take their params from the
// notification's subject references.
var navTable = map[NotificationType]string{
	NotificationInvitationReceived:  "/invitations",
	NotificationApplicationSubmit:   "/applications/review",
	NotificationApplicationApproved: "/applications",
	NotificationApplicationRejected: "/applications",
	NotificationLeaseUploaded:       "/leases",
	NotificationLeaseCompleted:      "/leases",
	NotificationLeaseRejected:       "/leases",
	NotificationPaymentReceived:     "/payments",
	NotificationInvoiceSent:         "/invoices",
	NotificationNoticeReceived:      "/notices",
}

// NavTargetFor resolves the navigation target for a notification type.
// Unknown types land on the dashboard.
func NavTargetFor(t NotificationType, params map[string]string) NavTarget {
	page, ok := navTable[t]
	if !ok {
		page = "/dashboard"
	}
	return NavTarget{Page: page, Params: params}
}

// Notification is a system-generated event record shown to a user, with a
// navigation hint consumed by the UI to route on click.
type Notification struct {
	Base       `bson:",inline"`
	Recipient  RenterRef          `bson:"recipient" json:"recipient"`
	Type       NotificationType   `bson:"type" json:"type"`
	Title      string             `bson:"title" json:"title"`
	Body       string             `bson:"body,omitempty" json:"body,omitempty"`
	Nav        NavTarget          `bson:"nav" json:"nav"`
	PropertyID primitive.ObjectID `bson:"property_id,omitempty" json:"property_id,omitempty"`
	SubjectID  primitive.ObjectID `bson:"subject_id,omitempty" json:"subject_id,omitempty"` // Application/lease/payment the event concerns
	Read       bool               `bson:"read" json:"read"`
	ReadAt     *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	Deleted    bool               `bson:"deleted" json:"-"` // Soft delete flag
}

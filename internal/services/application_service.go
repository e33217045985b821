package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrUnsignedApplicants is returned when submitting an application on which
// some applicant has no signature yet.
var ErrUnsignedApplicants = errors.New("all applicants must sign before submission")

// ErrApplicationNotDraft is returned when mutating an application that has
// already been submitted.
var ErrApplicationNotDraft = errors.New("application has already been submitted")

// ErrApplicationNotReviewable is returned when approving or rejecting an
// application that is not awaiting review.
var ErrApplicationNotReviewable = errors.New("application is not awaiting review")

// IApplicationService defines the interface for rental application operations.
type IApplicationService interface {
	Autosave(ctx context.Context, invitationID primitive.ObjectID, renterEmail string, draft *models.Application) (*models.Application, error)
	FindByID(ctx context.Context, applicationID primitive.ObjectID) (*models.Application, error)
	FindDraftByInvitation(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) (*models.Application, error)
	Submit(ctx context.Context, applicationID primitive.ObjectID, renterEmail string) (*models.Application, error)
	ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Application, error)
	ListForRenter(ctx context.Context, renterEmail string) ([]models.Application, error)
	Approve(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string) error
	Reject(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string) error
}

const applicationsCollection = "applications"

type applicationService struct {
	db                *mongo.Database
	invitationService IInvitationService
	effects           IEffectsQueue
}

// NewApplicationService creates a new ApplicationService.
func NewApplicationService(database *mongo.Database, invitationService IInvitationService, effects IEffectsQueue) IApplicationService {
	return &applicationService{db: database, invitationService: invitationService, effects: effects}
}

// Autosave upserts the renter's draft for an accepted invitation. Drafts stay
// at status "incomplete" so a renter can leave mid-form and resume later; only
// Submit changes the status.
func (s *applicationService) Autosave(ctx context.Context, invitationID primitive.ObjectID, renterEmail string, draft *models.Application) (*models.Application, error) {
	email := models.NormalizeEmail(renterEmail)

	invitation, err := s.invitationService.FindByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.RenterEmail != email {
		return nil, mongo.ErrNoDocuments
	}
	if invitation.Status != models.InvitationStatusAccepted {
		return nil, fmt.Errorf("invitation %s has not been accepted", invitationID.Hex())
	}

	existing, err := s.FindDraftByInvitation(ctx, invitationID, email)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	now := time.Now().UTC()
	if existing != nil {
		if existing.Status != models.ApplicationStatusIncomplete {
			return nil, ErrApplicationNotDraft
		}
		set := bson.M{
			"applicants": draft.Applicants,
			"employment": draft.Employment,
			"references": draft.References,
			"vehicles":   draft.Vehicles,
			"residences": draft.Residences,
			"updated_at": now,
		}
		filter := bson.M{"_id": existing.ID, "status": models.ApplicationStatusIncomplete}
		result, err := s.db.Collection(applicationsCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return nil, fmt.Errorf("db error autosaving application %s: %w", existing.ID.Hex(), err)
		}
		if result.MatchedCount == 0 {
			return nil, ErrApplicationNotDraft
		}
		return s.FindByID(ctx, existing.ID)
	}

	application := &models.Application{
		InvitationID: invitationID,
		PropertyID:   invitation.PropertyID,
		LandlordID:   invitation.LandlordID,
		RenterEmail:  email,
		Applicants:   draft.Applicants,
		Employment:   draft.Employment,
		References:   draft.References,
		Vehicles:     draft.Vehicles,
		Residences:   draft.Residences,
		Status:       models.ApplicationStatusIncomplete,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(applicationsCollection), application)
	if err != nil {
		return nil, fmt.Errorf("error inserting application draft: %w", err)
	}
	return doc.(*models.Application), nil
}

// FindByID finds a non-deleted application by ID.
func (s *applicationService) FindByID(ctx context.Context, applicationID primitive.ObjectID) (*models.Application, error) {
	var application models.Application
	filter := bson.M{"_id": applicationID, "deleted": false}
	err := s.db.Collection(applicationsCollection).FindOne(ctx, filter).Decode(&application)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding application %s: %w", applicationID.Hex(), err)
	}
	return &application, nil
}

// FindDraftByInvitation finds the renter's application for an invitation,
// draft or submitted.
func (s *applicationService) FindDraftByInvitation(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) (*models.Application, error) {
	var application models.Application
	filter := bson.M{
		"invitation_id": invitationID,
		"renter_email":  models.NormalizeEmail(renterEmail),
		"deleted":       false,
	}
	err := s.db.Collection(applicationsCollection).FindOne(ctx, filter).Decode(&application)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding application for invitation %s: %w", invitationID.Hex(), err)
	}
	return &application, nil
}

// Submit finalizes a draft. Submission requires at least one applicant and a
// signature from every listed applicant; the conditional update keeps a
// double submit idempotent.
func (s *applicationService) Submit(ctx context.Context, applicationID primitive.ObjectID, renterEmail string) (*models.Application, error) {
	application, err := s.FindByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if application.RenterEmail != models.NormalizeEmail(renterEmail) {
		return nil, mongo.ErrNoDocuments
	}
	if application.Status != models.ApplicationStatusIncomplete {
		return nil, ErrApplicationNotDraft
	}
	if len(application.Applicants) == 0 {
		return nil, fmt.Errorf("application has no applicants")
	}
	for _, applicant := range application.Applicants {
		if applicant.SignatureKey == "" {
			return nil, ErrUnsignedApplicants
		}
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": applicationID, "status": models.ApplicationStatusIncomplete}
	update := bson.M{"$set": bson.M{
		"status":       models.ApplicationStatusSubmitted,
		"submitted_at": now,
		"updated_at":   now,
	}}
	result, err := s.db.Collection(applicationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error submitting application %s: %w", applicationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrApplicationNotDraft
	}

	application.Status = models.ApplicationStatusSubmitted
	application.SubmittedAt = &now
	application.UpdatedAt = now

	if err := s.effects.EnqueueStageAdvance(ctx,
		application.PropertyID,
		models.RenterRefFromEmail(application.RenterEmail),
		models.EventApplicationSubmitted,
		models.StageRefs{InvitationID: application.InvitationID, ApplicationID: application.ID},
		StageDedupKey(models.EventApplicationSubmitted, application.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for application %s: %v", application.ID.Hex(), err)
	}

	n := &models.Notification{
		Recipient: models.RenterRefFromID(application.LandlordID),
		Type:      models.NotificationApplicationSubmit,
		Title:     "New rental application",
		Body:      fmt.Sprintf("An application was submitted by %s.", application.RenterEmail),
		Nav: models.NavTargetFor(models.NotificationApplicationSubmit, map[string]string{
			"applicationId": application.ID.Hex(),
		}),
		PropertyID: application.PropertyID,
		SubjectID:  application.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationApplicationSubmit, application.ID)); err != nil {
		log.Printf("Warning: failed to enqueue submission notification for application %s: %v", application.ID.Hex(), err)
	}

	return application, nil
}

// ListByProperty lists submitted-or-later applications for an owned property.
// Drafts stay private to the renter.
func (s *applicationService) ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Application, error) {
	filter := bson.M{
		"property_id": propertyID,
		"landlord_id": landlordID,
		"status":      bson.M{"$ne": models.ApplicationStatusIncomplete},
		"deleted":     false,
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(applicationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications for property %s: %w", propertyID.Hex(), err)
	}
	defer cursor.Close(ctx)

	applications := []models.Application{}
	if err = cursor.All(ctx, &applications); err != nil {
		return nil, fmt.Errorf("failed to decode applications: %w", err)
	}
	return applications, nil
}

// ListForRenter lists a renter's applications in any status, newest first.
func (s *applicationService) ListForRenter(ctx context.Context, renterEmail string) ([]models.Application, error) {
	filter := bson.M{"renter_email": models.NormalizeEmail(renterEmail), "deleted": false}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(applicationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications for renter %s: %w", renterEmail, err)
	}
	defer cursor.Close(ctx)

	applications := []models.Application{}
	if err = cursor.All(ctx, &applications); err != nil {
		return nil, fmt.Errorf("failed to decode applications: %w", err)
	}
	return applications, nil
}

// Approve marks a submitted application approved. The stage row keeps its
// application stage; only the note changes. Advancing to the lease stage is
// the lease upload's job.
func (s *applicationService) Approve(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string) error {
	return s.review(ctx, applicationID, landlordID, notes,
		models.ApplicationStatusApproved,
		models.EventApplicationApproved,
		models.NotificationApplicationApproved,
		"Application approved",
		"Your rental application has been approved.")
}

// Reject marks a submitted application rejected.
func (s *applicationService) Reject(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string) error {
	return s.review(ctx, applicationID, landlordID, notes,
		models.ApplicationStatusRejected,
		models.EventApplicationRejected,
		models.NotificationApplicationRejected,
		"Application rejected",
		"Your rental application has been rejected.")
}

func (s *applicationService) review(ctx context.Context, applicationID, landlordID primitive.ObjectID, notes string, newStatus models.ApplicationStatus, event models.StageEvent, notifType models.NotificationType, title, body string) error {
	application, err := s.FindByID(ctx, applicationID)
	if err != nil {
		return err
	}
	if application.LandlordID != landlordID {
		return mongo.ErrNoDocuments
	}
	if application.Status != models.ApplicationStatusSubmitted && application.Status != models.ApplicationStatusUnderReview {
		return ErrApplicationNotReviewable
	}

	now := time.Now().UTC()
	filter := bson.M{
		"_id":    applicationID,
		"status": bson.M{"$in": []models.ApplicationStatus{models.ApplicationStatusSubmitted, models.ApplicationStatusUnderReview}},
	}
	update := bson.M{"$set": bson.M{
		"status":       newStatus,
		"review_notes": notes,
		"reviewed_at":  now,
		"updated_at":   now,
	}}
	result, err := s.db.Collection(applicationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error reviewing application %s: %w", applicationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return ErrApplicationNotReviewable
	}

	if err := s.effects.EnqueueStageAdvance(ctx,
		application.PropertyID,
		models.RenterRefFromEmail(application.RenterEmail),
		event,
		models.StageRefs{InvitationID: application.InvitationID, ApplicationID: application.ID},
		StageDedupKey(event, application.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for application %s: %v", application.ID.Hex(), err)
	}

	n := &models.Notification{
		Recipient: models.RenterRefFromEmail(application.RenterEmail),
		Type:      notifType,
		Title:     title,
		Body:      body,
		Nav: models.NavTargetFor(notifType, map[string]string{
			"applicationId": application.ID.Hex(),
		}),
		PropertyID: application.PropertyID,
		SubjectID:  application.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(notifType, application.ID)); err != nil {
		log.Printf("Warning: failed to enqueue review notification for application %s: %v", application.ID.Hex(), err)
	}

	return nil
}

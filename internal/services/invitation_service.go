package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrInvitationNotPending is returned when accepting or declining an
// invitation that is no longer pending.
var ErrInvitationNotPending = errors.New("invitation is not pending")

// ErrInvitationExpired is returned when acting on an expired invitation.
var ErrInvitationExpired = errors.New("invitation has expired")

// ErrDuplicateInvitation is returned when a pending invitation for the same
// property and email already exists.
var ErrDuplicateInvitation = errors.New("a pending invitation for this renter and property already exists")

// IInvitationService defines the interface for invitation operations.
type IInvitationService interface {
	Create(ctx context.Context, landlordID, propertyID primitive.ObjectID, renterEmail, message string) (*models.Invitation, error)
	FindByID(ctx context.Context, invitationID primitive.ObjectID) (*models.Invitation, error)
	FindByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Invitation, error)
	ListForRenter(ctx context.Context, renterEmail string) ([]models.Invitation, error)
	Accept(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) (*models.Invitation, error)
	Decline(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) error
	Revoke(ctx context.Context, invitationID, landlordID primitive.ObjectID) error
	ExpireStale(ctx context.Context) (int64, error)
}

const invitationsCollection = "invitations"

type invitationService struct {
	db              *mongo.Database
	cfg             *config.Config
	userService     IUserService
	propertyService IPropertyService
	effects         IEffectsQueue
}

// NewInvitationService creates a new InvitationService.
func NewInvitationService(database *mongo.Database, cfg *config.Config, userService IUserService, propertyService IPropertyService, effects IEffectsQueue) IInvitationService {
	return &invitationService{
		db:              database,
		cfg:             cfg,
		userService:     userService,
		propertyService: propertyService,
		effects:         effects,
	}
}

// Create issues an invitation for a property to a renter email. A phantom
// renter account is created if the email is unknown, so the invitation shows
// up the moment the renter signs up. The invitation email and in-app
// notification go through the effects queue.
func (s *invitationService) Create(ctx context.Context, landlordID, propertyID primitive.ObjectID, renterEmail, message string) (*models.Invitation, error) {
	email := models.NormalizeEmail(renterEmail)
	if email == "" {
		return nil, fmt.Errorf("renter email is required")
	}

	property, err := s.propertyService.FindByIDForLandlord(ctx, propertyID, landlordID)
	if err != nil {
		return nil, err
	}

	collection := s.db.Collection(invitationsCollection)
	count, err := collection.CountDocuments(ctx, bson.M{
		"property_id":  propertyID,
		"renter_email": email,
		"status":       models.InvitationStatusPending,
		"deleted":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("error checking for duplicate invitation: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateInvitation
	}

	if _, err := s.userService.CreatePhantomRenter(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to ensure renter account for %s: %w", email, err)
	}

	now := time.Now().UTC()
	invitation := &models.Invitation{
		PropertyID:  propertyID,
		LandlordID:  landlordID,
		RenterEmail: email,
		Message:     message,
		Status:      models.InvitationStatusPending,
		AcceptToken: uuid.NewString(),
		ExpiresAt:   now.Add(s.cfg.InvitationTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	doc, err := db.InsertOne(ctx, collection, invitation)
	if err != nil {
		return nil, fmt.Errorf("error inserting invitation: %w", err)
	}
	invitation = doc.(*models.Invitation)

	if err := s.effects.EnqueueEmail(ctx, email, "invitation", map[string]interface{}{
		"propertyAddress": property.Address.Street + ", " + property.Address.City,
		"message":         message,
		"acceptLink":      s.cfg.AppBaseURL + "/invitations/accept?token=" + invitation.AcceptToken,
	}); err != nil {
		log.Printf("Warning: failed to enqueue invitation email for %s: %v", email, err)
	}

	n := &models.Notification{
		Recipient: models.RenterRefFromEmail(email),
		Type:      models.NotificationInvitationReceived,
		Title:     "You have been invited to apply",
		Body:      fmt.Sprintf("You were invited to apply for %s, %s.", property.Address.Street, property.Address.City),
		Nav: models.NavTargetFor(models.NotificationInvitationReceived, map[string]string{
			"invitationId": invitation.ID.Hex(),
		}),
		PropertyID: propertyID,
		SubjectID:  invitation.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationInvitationReceived, invitation.ID)); err != nil {
		log.Printf("Warning: failed to enqueue invitation notification for %s: %v", email, err)
	}

	return invitation, nil
}

// FindByID finds a non-deleted invitation by ID.
func (s *invitationService) FindByID(ctx context.Context, invitationID primitive.ObjectID) (*models.Invitation, error) {
	var invitation models.Invitation
	filter := bson.M{"_id": invitationID, "deleted": false}
	err := s.db.Collection(invitationsCollection).FindOne(ctx, filter).Decode(&invitation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding invitation %s: %w", invitationID.Hex(), err)
	}
	return &invitation, nil
}

// FindByToken finds an invitation by its emailed accept token.
func (s *invitationService) FindByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var invitation models.Invitation
	filter := bson.M{"accept_token": token, "deleted": false}
	err := s.db.Collection(invitationsCollection).FindOne(ctx, filter).Decode(&invitation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding invitation by token: %w", err)
	}
	return &invitation, nil
}

// ListByProperty lists invitations for an owned property, newest first.
func (s *invitationService) ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Invitation, error) {
	if _, err := s.propertyService.FindByIDForLandlord(ctx, propertyID, landlordID); err != nil {
		return nil, err
	}
	filter := bson.M{"property_id": propertyID, "deleted": false}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(invitationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations for property %s: %w", propertyID.Hex(), err)
	}
	defer cursor.Close(ctx)

	invitations := []models.Invitation{}
	if err = cursor.All(ctx, &invitations); err != nil {
		return nil, fmt.Errorf("failed to decode invitations: %w", err)
	}
	return invitations, nil
}

// ListForRenter lists a renter's pending, unexpired invitations.
func (s *invitationService) ListForRenter(ctx context.Context, renterEmail string) ([]models.Invitation, error) {
	filter := bson.M{
		"renter_email": models.NormalizeEmail(renterEmail),
		"status":       models.InvitationStatusPending,
		"expires_at":   bson.M{"$gt": time.Now().UTC()},
		"deleted":      false,
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(invitationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations for renter %s: %w", renterEmail, err)
	}
	defer cursor.Close(ctx)

	invitations := []models.Invitation{}
	if err = cursor.All(ctx, &invitations); err != nil {
		return nil, fmt.Errorf("failed to decode invitations: %w", err)
	}
	return invitations, nil
}

// Accept marks a pending invitation accepted by its addressee and enqueues
// the stage advance. The conditional update makes a double accept a no-op at
// the database and the deterministic dedup key makes the effect idempotent.
func (s *invitationService) Accept(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) (*models.Invitation, error) {
	invitation, err := s.FindByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.RenterEmail != models.NormalizeEmail(renterEmail) {
		return nil, mongo.ErrNoDocuments
	}
	if invitation.Status != models.InvitationStatusPending {
		return nil, ErrInvitationNotPending
	}
	if time.Now().UTC().After(invitation.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": invitationID, "status": models.InvitationStatusPending, "deleted": false}
	update := bson.M{"$set": bson.M{
		"status":       models.InvitationStatusAccepted,
		"responded_at": now,
		"updated_at":   now,
	}}
	result, err := s.db.Collection(invitationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error accepting invitation %s: %w", invitationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrInvitationNotPending
	}

	invitation.Status = models.InvitationStatusAccepted
	invitation.RespondedAt = &now
	invitation.UpdatedAt = now

	if err := s.effects.EnqueueStageAdvance(ctx,
		invitation.PropertyID,
		models.RenterRefFromEmail(invitation.RenterEmail),
		models.EventInvitationAccepted,
		models.StageRefs{InvitationID: invitation.ID},
		StageDedupKey(models.EventInvitationAccepted, invitation.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for invitation %s: %v", invitation.ID.Hex(), err)
	}

	return invitation, nil
}

// Decline marks a pending invitation declined by its addressee.
func (s *invitationService) Decline(ctx context.Context, invitationID primitive.ObjectID, renterEmail string) error {
	invitation, err := s.FindByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if invitation.RenterEmail != models.NormalizeEmail(renterEmail) {
		return mongo.ErrNoDocuments
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": invitationID, "status": models.InvitationStatusPending, "deleted": false}
	update := bson.M{"$set": bson.M{
		"status":       models.InvitationStatusDeclined,
		"responded_at": now,
		"updated_at":   now,
	}}
	result, err := s.db.Collection(invitationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error declining invitation %s: %w", invitationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return ErrInvitationNotPending
	}
	return nil
}

// Revoke soft-deletes a pending invitation issued by the landlord.
func (s *invitationService) Revoke(ctx context.Context, invitationID, landlordID primitive.ObjectID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":         invitationID,
		"landlord_id": landlordID,
		"status":      models.InvitationStatusPending,
		"deleted":     false,
	}
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now, "updated_at": now}}
	result, err := s.db.Collection(invitationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error revoking invitation %s: %w", invitationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ExpireStale marks pending invitations past their expiry as expired.
// Runs from the background sweep task.
func (s *invitationService) ExpireStale(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":     models.InvitationStatusPending,
		"expires_at": bson.M{"$lt": now},
		"deleted":    false,
	}
	update := bson.M{"$set": bson.M{"status": models.InvitationStatusExpired, "updated_at": now}}
	result, err := s.db.Collection(invitationsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error expiring invitations: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("Expired %d stale invitations", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}

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

// INoticeService defines the interface for notice operations.
type INoticeService interface {
	Send(ctx context.Context, senderID, propertyID primitive.ObjectID, recipient models.RenterRef, noticeType models.NoticeType, subject, body string) (*models.Notice, error)
	FindByID(ctx context.Context, noticeID primitive.ObjectID) (*models.Notice, error)
	ListForRecipient(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Notice, error)
	ListBySender(ctx context.Context, senderID primitive.ObjectID) ([]models.Notice, error)
	MarkRead(ctx context.Context, noticeID primitive.ObjectID, renterEmail string, renterID primitive.ObjectID) error
	Delete(ctx context.Context, noticeID, senderID primitive.ObjectID) error
}

const noticesCollection = "notices"

type noticeService struct {
	db            *mongo.Database
	statusService IRenterStatusService
	effects       IEffectsQueue
}

// NewNoticeService creates a new NoticeService.
func NewNoticeService(database *mongo.Database, statusService IRenterStatusService, effects IEffectsQueue) INoticeService {
	return &noticeService{db: database, statusService: statusService, effects: effects}
}

// Send records a notice and notifies the recipient in-app and by email.
func (s *noticeService) Send(ctx context.Context, senderID, propertyID primitive.ObjectID, recipient models.RenterRef, noticeType models.NoticeType, subject, body string) (*models.Notice, error) {
	if recipient.IsZero() {
		return nil, fmt.Errorf("notice recipient is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("notice subject is required")
	}

	now := time.Now().UTC()
	notice := &models.Notice{
		PropertyID: propertyID,
		SenderID:   senderID,
		Recipient:  recipient,
		Type:       noticeType,
		Subject:    subject,
		Body:       body,
		CreatedAt:  now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(noticesCollection), notice)
	if err != nil {
		return nil, fmt.Errorf("error inserting notice: %w", err)
	}
	notice = doc.(*models.Notice)

	n := &models.Notification{
		Recipient: recipient,
		Type:      models.NotificationNoticeReceived,
		Title:     subject,
		Body:      body,
		Nav: models.NavTargetFor(models.NotificationNoticeReceived, map[string]string{
			"noticeId": notice.ID.Hex(),
		}),
		PropertyID: propertyID,
		SubjectID:  notice.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationNoticeReceived, notice.ID)); err != nil {
		log.Printf("Warning: failed to enqueue notice notification for %s: %v", notice.ID.Hex(), err)
	}

	if email, err := s.statusService.ResolveEmail(ctx, recipient); err == nil && email != "" {
		if err := s.effects.EnqueueEmail(ctx, email, "notice", map[string]interface{}{
			"noticeType": string(noticeType),
			"subject":    subject,
			"body":       body,
		}); err != nil {
			log.Printf("Warning: failed to enqueue notice email for %s: %v", notice.ID.Hex(), err)
		}
	}

	return notice, nil
}

// FindByID finds a non-deleted notice by ID.
func (s *noticeService) FindByID(ctx context.Context, noticeID primitive.ObjectID) (*models.Notice, error) {
	var notice models.Notice
	filter := bson.M{"_id": noticeID, "deleted": false}
	err := s.db.Collection(noticesCollection).FindOne(ctx, filter).Decode(&notice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding notice %s: %w", noticeID.Hex(), err)
	}
	return &notice, nil
}

// recipientFilter matches a notice recipient under either addressing form.
func recipientFilter(renterEmail string, renterID primitive.ObjectID) []bson.M {
	or := []bson.M{
		{"recipient.kind": models.RenterRefByEmail, "recipient.email": models.NormalizeEmail(renterEmail)},
	}
	if !renterID.IsZero() {
		or = append(or, bson.M{"recipient.kind": models.RenterRefByID, "recipient.user_id": renterID})
	}
	return or
}

// ListForRecipient lists notices addressed to a user, newest first.
func (s *noticeService) ListForRecipient(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Notice, error) {
	filter := bson.M{"$or": recipientFilter(renterEmail, renterID), "deleted": false}
	return s.listNotices(ctx, filter)
}

// ListBySender lists notices a user has sent, newest first.
func (s *noticeService) ListBySender(ctx context.Context, senderID primitive.ObjectID) ([]models.Notice, error) {
	filter := bson.M{"sender_id": senderID, "deleted": false}
	return s.listNotices(ctx, filter)
}

func (s *noticeService) listNotices(ctx context.Context, filter bson.M) ([]models.Notice, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(noticesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notices: %w", err)
	}
	defer cursor.Close(ctx)

	notices := []models.Notice{}
	if err = cursor.All(ctx, &notices); err != nil {
		return nil, fmt.Errorf("failed to decode notices: %w", err)
	}
	return notices, nil
}

// MarkRead marks a notice read by its recipient.
func (s *noticeService) MarkRead(ctx context.Context, noticeID primitive.ObjectID, renterEmail string, renterID primitive.ObjectID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":     noticeID,
		"$or":     recipientFilter(renterEmail, renterID),
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{"read": true, "read_at": now}}
	result, err := s.db.Collection(noticesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error marking notice %s read: %w", noticeID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete soft-deletes a notice sent by the user.
func (s *noticeService) Delete(ctx context.Context, noticeID, senderID primitive.ObjectID) error {
	now := time.Now().UTC()
	filter := bson.M{"_id": noticeID, "sender_id": senderID, "deleted": false}
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now}}
	result, err := s.db.Collection(noticesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting notice %s: %w", noticeID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// INotificationService defines the interface for in-app notifications.
// Store is called by the background effects worker, never by handlers.
type INotificationService interface {
	Store(ctx context.Context, n *models.Notification) (*models.Notification, error)
	ListForUser(ctx context.Context, email string, userID primitive.ObjectID, unreadOnly bool) ([]models.Notification, error)
	UnreadCount(ctx context.Context, email string, userID primitive.ObjectID) (int64, error)
	MarkRead(ctx context.Context, notificationID primitive.ObjectID, email string, userID primitive.ObjectID) error
	MarkAllRead(ctx context.Context, email string, userID primitive.ObjectID) (int64, error)
}

const notificationsCollection = "notifications"

type notificationService struct {
	db  *mongo.Database
	cfg *config.Config
	rdb *redis.Client
}

// NewNotificationService creates a new NotificationService. rdb may be nil;
// the unread-count cache is then skipped.
func NewNotificationService(database *mongo.Database, cfg *config.Config, rdb *redis.Client) INotificationService {
	return &notificationService{db: database, cfg: cfg, rdb: rdb}
}

// Store persists a notification delivered through the effects queue.
func (s *notificationService) Store(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	if n.Recipient.IsZero() {
		return nil, fmt.Errorf("notification recipient is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(notificationsCollection), n)
	if err != nil {
		return nil, fmt.Errorf("error inserting notification: %w", err)
	}
	stored := doc.(*models.Notification)
	s.invalidateUnreadCache(ctx, stored.Recipient)
	return stored, nil
}

// notificationRecipientFilter matches a recipient under either addressing
// form: phantom-era notifications key on email, later ones on user ID.
func notificationRecipientFilter(email string, userID primitive.ObjectID) []bson.M {
	or := []bson.M{
		{"recipient.kind": models.RenterRefByEmail, "recipient.email": models.NormalizeEmail(email)},
	}
	if !userID.IsZero() {
		or = append(or, bson.M{"recipient.kind": models.RenterRefByID, "recipient.user_id": userID})
	}
	return or
}

// ListForUser lists a user's notifications, newest first.
func (s *notificationService) ListForUser(ctx context.Context, email string, userID primitive.ObjectID, unreadOnly bool) ([]models.Notification, error) {
	filter := bson.M{"$or": notificationRecipientFilter(email, userID), "deleted": false}
	if unreadOnly {
		filter["read"] = false
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(100)
	cursor, err := s.db.Collection(notificationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := []models.Notification{}
	if err = cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

func unreadCacheKey(email string) string {
	return "notifications:unread:" + models.NormalizeEmail(email)
}

// UnreadCount returns the user's unread notification count, served from the
// redis cache when warm. The badge tolerates short staleness.
func (s *notificationService) UnreadCount(ctx context.Context, email string, userID primitive.ObjectID) (int64, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, unreadCacheKey(email)).Result()
		if err == nil {
			if count, convErr := strconv.ParseInt(cached, 10, 64); convErr == nil {
				return count, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			log.Printf("Warning: unread cache read failed for %s: %v", email, err)
		}
	}

	filter := bson.M{
		"$or":     notificationRecipientFilter(email, userID),
		"read":    false,
		"deleted": false,
	}
	count, err := s.db.Collection(notificationsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, unreadCacheKey(email), strconv.FormatInt(count, 10), s.cfg.UnreadCacheTTL).Err(); err != nil {
			log.Printf("Warning: unread cache write failed for %s: %v", email, err)
		}
	}
	return count, nil
}

func (s *notificationService) invalidateUnreadCache(ctx context.Context, recipient models.RenterRef) {
	if s.rdb == nil || recipient.Email == "" {
		return
	}
	if err := s.rdb.Del(ctx, unreadCacheKey(recipient.Email)).Err(); err != nil {
		log.Printf("Warning: unread cache invalidation failed for %s: %v", recipient.Email, err)
	}
}

// MarkRead marks one notification read by its recipient.
func (s *notificationService) MarkRead(ctx context.Context, notificationID primitive.ObjectID, email string, userID primitive.ObjectID) error {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":     notificationID,
		"$or":     notificationRecipientFilter(email, userID),
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{"read": true, "read_at": now}}
	result, err := s.db.Collection(notificationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error marking notification %s read: %w", notificationID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	s.invalidateUnreadCache(ctx, models.RenterRefFromEmail(email))
	return nil
}

// MarkAllRead marks every unread notification of the user read.
func (s *notificationService) MarkAllRead(ctx context.Context, email string, userID primitive.ObjectID) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"$or":     notificationRecipientFilter(email, userID),
		"read":    false,
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{"read": true, "read_at": now}}
	result, err := s.db.Collection(notificationsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error marking notifications read: %w", err)
	}
	s.invalidateUnreadCache(ctx, models.RenterRefFromEmail(email))
	return result.ModifiedCount, nil
}

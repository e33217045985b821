package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/utils"
)

func newNotificationService(t *testing.T, dbName string) INotificationService {
	db := utils.SetupTestDB(t, dbName, "notifications")
	// nil redis: the unread-count cache is skipped in tests.
	return NewNotificationService(db, &config.Config{UnreadCacheTTL: time.Minute}, nil)
}

func storeFor(t *testing.T, svc INotificationService, recipient models.RenterRef, typ models.NotificationType) *models.Notification {
	n, err := svc.Store(context.Background(), &models.Notification{
		Recipient: recipient,
		Type:      typ,
		Title:     "test",
		Nav:       models.NavTargetFor(typ, nil),
	})
	require.NoError(t, err)
	return n
}

func TestNotificationService_StoreAndList(t *testing.T) {
	svc := newNotificationService(t, "testdb_notification_store")
	ctx := context.Background()

	email := models.RenterRefFromEmail("renter@example.com")
	storeFor(t, svc, email, models.NotificationInvitationReceived)
	storeFor(t, svc, email, models.NotificationLeaseUploaded)
	storeFor(t, svc, models.RenterRefFromEmail("other@example.com"), models.NotificationInvitationReceived)

	_, err := svc.Store(ctx, &models.Notification{Type: models.NotificationInvitationReceived})
	assert.Error(t, err, "recipient is required")

	list, err := svc.ListForUser(ctx, "RENTER@example.com", primitive.NilObjectID, false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := svc.UnreadCount(ctx, "renter@example.com", primitive.NilObjectID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNotificationService_BothAddressingForms(t *testing.T) {
	svc := newNotificationService(t, "testdb_notification_addressing")
	ctx := context.Background()

	// Phantom-era notifications key on email, later ones on user ID; one
	// reader query must see both.
	userID := primitive.NewObjectID()
	storeFor(t, svc, models.RenterRefFromEmail("renter@example.com"), models.NotificationInvitationReceived)
	storeFor(t, svc, models.RenterRefFromID(userID), models.NotificationPaymentReceived)

	list, err := svc.ListForUser(ctx, "renter@example.com", userID, false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := svc.UnreadCount(ctx, "renter@example.com", userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestNotificationService_MarkRead(t *testing.T) {
	svc := newNotificationService(t, "testdb_notification_mark_read")
	ctx := context.Background()

	email := models.RenterRefFromEmail("renter@example.com")
	n1 := storeFor(t, svc, email, models.NotificationInvitationReceived)
	storeFor(t, svc, email, models.NotificationLeaseUploaded)

	// Someone else's notification cannot be marked.
	err := svc.MarkRead(ctx, n1.ID, "other@example.com", primitive.NilObjectID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	require.NoError(t, svc.MarkRead(ctx, n1.ID, "renter@example.com", primitive.NilObjectID))

	unread, err := svc.ListForUser(ctx, "renter@example.com", primitive.NilObjectID, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.NotEqual(t, n1.ID, unread[0].ID)

	updated, err := svc.MarkAllRead(ctx, "renter@example.com", primitive.NilObjectID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	count, err := svc.UnreadCount(ctx, "renter@example.com", primitive.NilObjectID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

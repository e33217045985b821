package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/models"
	"rentfold/rf/internal/utils"
)

func setupTestDBUser(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "users")
}

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_register")
	svc := NewUserService(db)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Pat Landlord", "Pat@Example.COM", "hunter2secret", models.RoleLandlord)
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", user.Email)
	assert.Equal(t, models.RoleLandlord, user.Role)
	assert.True(t, user.Activated)
	assert.False(t, user.Phantom)
	assert.NotEqual(t, "hunter2secret", user.PasswordHash)

	// Duplicate email is refused regardless of case.
	_, err = svc.Register(ctx, "Other", "PAT@example.com", "password123", models.RoleRenter)
	assert.ErrorIs(t, err, ErrEmailExists)

	authed, err := svc.Authenticate(ctx, "pat@example.com", "hunter2secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	_, err = svc.Authenticate(ctx, "pat@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "hunter2secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_RegisterActivatesPhantom(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_phantom_activation")
	svc := NewUserService(db)
	ctx := context.Background()

	phantom, err := svc.CreatePhantomRenter(ctx, "invited@example.com")
	require.NoError(t, err)
	assert.True(t, phantom.Phantom)
	assert.False(t, phantom.Activated)

	// Phantom accounts cannot sign in.
	_, err = svc.Authenticate(ctx, "invited@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// A repeated invite reuses the account.
	again, err := svc.CreatePhantomRenter(ctx, "Invited@Example.com")
	require.NoError(t, err)
	assert.Equal(t, phantom.ID, again.ID)

	// Signing up with the invited email activates the phantom in place, so
	// invitations keyed on the email stay attached.
	user, err := svc.Register(ctx, "Invited Renter", "invited@example.com", "secretpass1", models.RoleRenter)
	require.NoError(t, err)
	assert.Equal(t, phantom.ID, user.ID)
	assert.True(t, user.Activated)
	assert.False(t, user.Phantom)

	authed, err := svc.Authenticate(ctx, "invited@example.com", "secretpass1")
	require.NoError(t, err)
	assert.Equal(t, phantom.ID, authed.ID)
}

func TestUserService_SuspendUnsuspend(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_suspend")
	svc := NewUserService(db)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Renter", "renter@example.com", "secretpass1", models.RoleRenter)
	require.NoError(t, err)
	adminID := primitive.NewObjectID()

	require.NoError(t, svc.SuspendUser(ctx, user.ID, adminID))

	_, err = svc.Authenticate(ctx, "renter@example.com", "secretpass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Admins cannot suspend themselves.
	err = svc.SuspendUser(ctx, adminID, adminID)
	assert.Error(t, err)

	require.NoError(t, svc.UnsuspendUser(ctx, user.ID))
	_, err = svc.Authenticate(ctx, "renter@example.com", "secretpass1")
	assert.NoError(t, err)

	err = svc.SuspendUser(ctx, primitive.NewObjectID(), adminID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestUserService_DeleteStalePhantoms(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_stale_phantoms")
	svc := NewUserService(db)
	ctx := context.Background()

	stale, err := svc.CreatePhantomRenter(ctx, "stale@example.com")
	require.NoError(t, err)
	fresh, err := svc.CreatePhantomRenter(ctx, "fresh@example.com")
	require.NoError(t, err)
	activated, err := svc.Register(ctx, "Active", "active@example.com", "secretpass1", models.RoleRenter)
	require.NoError(t, err)

	// Age the stale phantom past the cutoff.
	_, err = db.Collection("users").UpdateByID(ctx, stale.ID,
		bson.M{"$set": bson.M{"created_at": time.Now().UTC().Add(-40 * 24 * time.Hour)}})
	require.NoError(t, err)

	n, err := svc.DeleteStalePhantoms(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.FindByID(ctx, stale.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	_, err = svc.FindByID(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = svc.FindByID(ctx, activated.ID)
	assert.NoError(t, err)
}

func TestUserService_UpdateProfile(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_update_profile")
	svc := NewUserService(db)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Old Name", "user@example.com", "secretpass1", models.RoleRenter)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateProfile(ctx, user.ID, "New Name", "+1 555 0100"))

	got, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
	assert.Equal(t, "+1 555 0100", got.Phone)

	err = svc.UpdateProfile(ctx, primitive.NewObjectID(), "X", "")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

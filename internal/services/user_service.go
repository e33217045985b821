package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/auth"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ErrInvalidCredentials is returned on a failed sign-in.
var ErrInvalidCredentials = errors.New("invalid email or password")

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	CreatePhantomRenter(ctx context.Context, email string) (*models.User, error)
	ActivatePhantom(ctx context.Context, userID primitive.ObjectID, name, password string) error
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, name, phone string) error
	SuspendUser(ctx context.Context, userIDToSuspend, adminUserID primitive.ObjectID) error
	UnsuspendUser(ctx context.Context, userIDToUnsuspend primitive.ObjectID) error
	DeleteUser(ctx context.Context, userID primitive.ObjectID) error
	GetAllPhantomUserIDs(ctx context.Context) ([]primitive.ObjectID, error)
	DeleteStalePhantoms(ctx context.Context, olderThan time.Duration) (int64, error)
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database) IUserService {
	return &userService{db: database}
}

// FindByEmail finds a non-deleted user by their (normalized) email address.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"email": models.NormalizeEmail(email), "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindByID finds a non-deleted user by their ID.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// Register creates a new activated user with the given role. If a phantom
// user already holds the email (created by an invitation), it is activated
// in place instead.
func (s *userService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	email = models.NormalizeEmail(email)

	existing, err := s.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if existing != nil {
		if !existing.Phantom {
			return nil, ErrEmailExists
		}
		if err := s.ActivatePhantom(ctx, existing.ID, name, password); err != nil {
			return nil, err
		}
		return s.FindByID(ctx, existing.ID)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Phantom:      false,
		Activated:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
		NotificationPreferences: &models.NotificationPreferences{
			Invitation:  true,
			Application: true,
			Lease:       true,
			Payment:     true,
			Notice:      true,
		},
	}

	doc, err := db.InsertOne(ctx, s.db.Collection(usersCollection), user)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) && strings.Contains(err.Error(), "email") {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("error inserting user for %s: %w", email, err)
	}
	return doc.(*models.User), nil
}

// Authenticate checks email/password against the stored hash.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Phantom || !user.Activated || user.Suspended {
		return nil, ErrInvalidCredentials
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// CreatePhantomRenter creates a non-activated renter account for an email
// that was invited but has not signed up yet. Invitations, applications and
// stage rows key on the email, so the phantom only reserves the address and
// receives notifications once activated.
func (s *userService) CreatePhantomRenter(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	collection := s.db.Collection(usersCollection)

	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", email, err)
	}
	if count > 0 {
		return s.FindByEmail(ctx, email)
	}

	now := time.Now().UTC()
	user := &models.User{
		Email:     email,
		Role:      models.RoleRenter,
		Phantom:   true,
		Activated: false,
		CreatedAt: now,
		UpdatedAt: now,
		NotificationPreferences: &models.NotificationPreferences{
			Invitation:  true,
			Application: true,
			Lease:       true,
			Payment:     true,
			Notice:      true,
		},
	}

	doc, err := db.InsertOne(ctx, collection, user)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) && strings.Contains(err.Error(), "email") {
			// Raced with a concurrent signup for the same email.
			return s.FindByEmail(ctx, email)
		}
		return nil, fmt.Errorf("error inserting phantom renter for %s: %w", email, err)
	}
	return doc.(*models.User), nil
}

// ActivatePhantom sets credentials on a phantom user and activates it.
func (s *userService) ActivatePhantom(ctx context.Context, userID primitive.ObjectID, name, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	collection := s.db.Collection(usersCollection)
	update := bson.M{
		"$set": bson.M{
			"name":       name,
			"password":   hash,
			"activated":  true,
			"phantom":    false,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := collection.UpdateByID(ctx, userID, update)
	if err != nil {
		return fmt.Errorf("error activating user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	log.Printf("Activated phantom user %s", userID.Hex())
	return nil
}

// UpdateProfile updates mutable profile fields.
func (s *userService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, name, phone string) error {
	collection := s.db.Collection(usersCollection)
	update := bson.M{"$set": bson.M{"name": name, "phone": phone, "updated_at": time.Now().UTC()}}
	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("db error updating profile for user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SuspendUser marks a user as suspended.
// Ensures an admin cannot suspend themselves.
func (s *userService) SuspendUser(ctx context.Context, userIDToSuspend, adminUserID primitive.ObjectID) error {
	if userIDToSuspend == adminUserID {
		return fmt.Errorf("admin cannot suspend themselves")
	}
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userIDToSuspend, "deleted": false}
	update := bson.M{"$set": bson.M{"suspended": true, "updated_at": time.Now().UTC()}}
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error suspending user %s: %w", userIDToSuspend.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	log.Printf("User %s suspended by admin %s", userIDToSuspend.Hex(), adminUserID.Hex())
	return nil
}

// UnsuspendUser marks a user as not suspended.
func (s *userService) UnsuspendUser(ctx context.Context, userIDToUnsuspend primitive.ObjectID) error {
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userIDToUnsuspend, "deleted": false}
	update := bson.M{"$set": bson.M{"suspended": false, "updated_at": time.Now().UTC()}}
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error unsuspending user %s: %w", userIDToUnsuspend.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	log.Printf("User %s unsuspended", userIDToUnsuspend.Hex())
	return nil
}

// DeleteUser performs a soft delete on a user.
func (s *userService) DeleteUser(ctx context.Context, userID primitive.ObjectID) error {
	collection := s.db.Collection(usersCollection)
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now, "updated_at": now}}

	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return fmt.Errorf("db error deleting user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s not found", userID.Hex())
	}
	return nil
}

// GetAllPhantomUserIDs retrieves the IDs of all non-deleted phantom users.
func (s *userService) GetAllPhantomUserIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"deleted": false, "phantom": true}
	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query phantom user IDs: %w", err)
	}
	defer cursor.Close(ctx)
	var results []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode phantom user IDs: %w", err)
	}
	ids := make([]primitive.ObjectID, len(results))
	for i, res := range results {
		ids[i] = res.ID
	}
	return ids, nil
}

// DeleteStalePhantoms soft-deletes phantom users older than the given age.
// Runs from the background cleanup task.
func (s *userService) DeleteStalePhantoms(ctx context.Context, olderThan time.Duration) (int64, error) {
	collection := s.db.Collection(usersCollection)
	cutoff := time.Now().UTC().Add(-olderThan)
	now := time.Now().UTC()
	filter := bson.M{
		"deleted":    false,
		"phantom":    true,
		"created_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now, "updated_at": now}}

	result, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error deleting stale phantom users: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("Soft-deleted %d stale phantom users", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}

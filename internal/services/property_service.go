package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrNotOwner is returned when a landlord acts on a property they do not own.
var ErrNotOwner = errors.New("property belongs to another landlord")

// IPropertyService defines the interface for property operations.
type IPropertyService interface {
	Create(ctx context.Context, landlordID primitive.ObjectID, p *models.Property) (*models.Property, error)
	FindByID(ctx context.Context, propertyID primitive.ObjectID) (*models.Property, error)
	FindByIDForLandlord(ctx context.Context, propertyID, landlordID primitive.ObjectID) (*models.Property, error)
	ListByLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.Property, error)
	Update(ctx context.Context, propertyID, landlordID primitive.ObjectID, updates bson.M) error
	AddPhoto(ctx context.Context, propertyID, landlordID primitive.ObjectID, photoKey string) error
	RemovePhoto(ctx context.Context, propertyID, landlordID primitive.ObjectID, photoKey string) error
	Delete(ctx context.Context, propertyID, landlordID primitive.ObjectID) error
}

const propertiesCollection = "properties"

type propertyService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewPropertyService creates a new PropertyService.
func NewPropertyService(database *mongo.Database, cfg *config.Config) IPropertyService {
	return &propertyService{db: database, cfg: cfg}
}

// Create inserts a new property owned by the landlord. Missing currency falls
// back to the configured default.
func (s *propertyService) Create(ctx context.Context, landlordID primitive.ObjectID, p *models.Property) (*models.Property, error) {
	now := time.Now().UTC()
	p.LandlordID = landlordID
	if p.CurrencyCode == "" {
		p.CurrencyCode = s.cfg.DefaultCurrencyCode
	}
	if p.Photos == nil {
		p.Photos = []string{}
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Deleted = false

	doc, err := db.InsertOne(ctx, s.db.Collection(propertiesCollection), p)
	if err != nil {
		return nil, fmt.Errorf("error inserting property: %w", err)
	}
	return doc.(*models.Property), nil
}

// FindByID finds a non-deleted property by ID.
func (s *propertyService) FindByID(ctx context.Context, propertyID primitive.ObjectID) (*models.Property, error) {
	var property models.Property
	filter := bson.M{"_id": propertyID, "deleted": false}
	err := s.db.Collection(propertiesCollection).FindOne(ctx, filter).Decode(&property)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding property %s: %w", propertyID.Hex(), err)
	}
	return &property, nil
}

// FindByIDForLandlord finds a property and verifies ownership.
func (s *propertyService) FindByIDForLandlord(ctx context.Context, propertyID, landlordID primitive.ObjectID) (*models.Property, error) {
	property, err := s.FindByID(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.LandlordID != landlordID {
		return nil, ErrNotOwner
	}
	return property, nil
}

// ListByLandlord lists the landlord's non-deleted properties, newest first.
func (s *propertyService) ListByLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.Property, error) {
	filter := bson.M{"landlord_id": landlordID, "deleted": false}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(propertiesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties for landlord %s: %w", landlordID.Hex(), err)
	}
	defer cursor.Close(ctx)

	properties := []models.Property{}
	if err = cursor.All(ctx, &properties); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return properties, nil
}

// allowedPropertyUpdateFields guards against arbitrary field injection from
// handler-supplied update maps.
var allowedPropertyUpdateFields = map[string]bool{
	"address":        true,
	"type":           true,
	"bedrooms":       true,
	"bathrooms":      true,
	"monthly_rent":   true,
	"deposit_amount": true,
	"currency_code":  true,
	"description":    true,
}

// Update applies whitelisted field updates to an owned property.
func (s *propertyService) Update(ctx context.Context, propertyID, landlordID primitive.ObjectID, updates bson.M) error {
	set := bson.M{}
	for field, value := range updates {
		if allowedPropertyUpdateFields[field] {
			set[field] = value
		}
	}
	if len(set) == 0 {
		return fmt.Errorf("no updatable fields provided")
	}
	set["updated_at"] = time.Now().UTC()

	filter := bson.M{"_id": propertyID, "landlord_id": landlordID, "deleted": false}
	result, err := s.db.Collection(propertiesCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("db error updating property %s: %w", propertyID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// AddPhoto appends an S3 photo key to the property.
func (s *propertyService) AddPhoto(ctx context.Context, propertyID, landlordID primitive.ObjectID, photoKey string) error {
	filter := bson.M{"_id": propertyID, "landlord_id": landlordID, "deleted": false}
	update := bson.M{
		"$addToSet": bson.M{"photos": photoKey},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := s.db.Collection(propertiesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error adding photo to property %s: %w", propertyID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// RemovePhoto removes an S3 photo key from the property. The S3 object itself
// is deleted best-effort by the caller.
func (s *propertyService) RemovePhoto(ctx context.Context, propertyID, landlordID primitive.ObjectID, photoKey string) error {
	filter := bson.M{"_id": propertyID, "landlord_id": landlordID, "deleted": false}
	update := bson.M{
		"$pull": bson.M{"photos": photoKey},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := s.db.Collection(propertiesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error removing photo from property %s: %w", propertyID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete soft-deletes an owned property. Invitations, leases and payments
// keep referencing it; only listings hide it.
func (s *propertyService) Delete(ctx context.Context, propertyID, landlordID primitive.ObjectID) error {
	now := time.Now().UTC()
	filter := bson.M{"_id": propertyID, "landlord_id": landlordID, "deleted": false}
	update := bson.M{"$set": bson.M{"deleted": true, "deleted_at": now, "updated_at": now}}

	result, err := s.db.Collection(propertiesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error deleting property %s: %w", propertyID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

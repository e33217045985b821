package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/utils"
)

func newPropertyService(t *testing.T, dbName string) IPropertyService {
	db := utils.SetupTestDB(t, dbName, "properties")
	return NewPropertyService(db, &config.Config{DefaultCurrencyCode: "USD"})
}

func TestPropertyService_CreateAndList(t *testing.T) {
	svc := newPropertyService(t, "testdb_property_create")
	ctx := context.Background()
	landlordID := primitive.NewObjectID()

	property, err := svc.Create(ctx, landlordID, &models.Property{
		Address:     models.Address{Street: "12 Elm St", City: "Springfield"},
		MonthlyRent: 1200,
	})
	require.NoError(t, err)
	assert.Equal(t, landlordID, property.LandlordID)
	assert.Equal(t, "USD", property.CurrencyCode, "missing currency falls back to the default")
	assert.NotNil(t, property.Photos)

	_, err = svc.Create(ctx, primitive.NewObjectID(), &models.Property{
		Address: models.Address{Street: "1 Other Rd"},
	})
	require.NoError(t, err)

	listed, err := svc.ListByLandlord(ctx, landlordID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, property.ID, listed[0].ID)

	_, err = svc.FindByIDForLandlord(ctx, property.ID, landlordID)
	assert.NoError(t, err)
	_, err = svc.FindByIDForLandlord(ctx, property.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestPropertyService_UpdateWhitelist(t *testing.T) {
	svc := newPropertyService(t, "testdb_property_update")
	ctx := context.Background()
	landlordID := primitive.NewObjectID()

	property, err := svc.Create(ctx, landlordID, &models.Property{
		Address:     models.Address{Street: "12 Elm St"},
		MonthlyRent: 1200,
	})
	require.NoError(t, err)

	err = svc.Update(ctx, property.ID, landlordID, bson.M{
		"monthly_rent": 1350.0,
		"landlord_id":  primitive.NewObjectID(), // not updatable, dropped
	})
	require.NoError(t, err)

	got, err := svc.FindByID(ctx, property.ID)
	require.NoError(t, err)
	assert.Equal(t, 1350.0, got.MonthlyRent)
	assert.Equal(t, landlordID, got.LandlordID)

	// An update carrying only unknown fields is refused.
	err = svc.Update(ctx, property.ID, landlordID, bson.M{"landlord_id": primitive.NewObjectID()})
	assert.Error(t, err)

	err = svc.Update(ctx, property.ID, primitive.NewObjectID(), bson.M{"monthly_rent": 1400.0})
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestPropertyService_Photos(t *testing.T) {
	svc := newPropertyService(t, "testdb_property_photos")
	ctx := context.Background()
	landlordID := primitive.NewObjectID()

	property, err := svc.Create(ctx, landlordID, &models.Property{Address: models.Address{Street: "12 Elm St"}})
	require.NoError(t, err)

	require.NoError(t, svc.AddPhoto(ctx, property.ID, landlordID, "properties/1_front.jpg"))
	require.NoError(t, svc.AddPhoto(ctx, property.ID, landlordID, "properties/1_front.jpg"))
	require.NoError(t, svc.AddPhoto(ctx, property.ID, landlordID, "properties/2_back.jpg"))

	got, err := svc.FindByID(ctx, property.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"properties/1_front.jpg", "properties/2_back.jpg"}, got.Photos)

	require.NoError(t, svc.RemovePhoto(ctx, property.ID, landlordID, "properties/1_front.jpg"))
	got, err = svc.FindByID(ctx, property.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"properties/2_back.jpg"}, got.Photos)

	err = svc.AddPhoto(ctx, property.ID, primitive.NewObjectID(), "properties/3.jpg")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestPropertyService_SoftDelete(t *testing.T) {
	svc := newPropertyService(t, "testdb_property_delete")
	ctx := context.Background()
	landlordID := primitive.NewObjectID()

	property, err := svc.Create(ctx, landlordID, &models.Property{Address: models.Address{Street: "12 Elm St"}})
	require.NoError(t, err)

	err = svc.Delete(ctx, property.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	require.NoError(t, svc.Delete(ctx, property.ID, landlordID))

	_, err = svc.FindByID(ctx, property.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	listed, err := svc.ListByLandlord(ctx, landlordID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Deleting twice reports not found, not success.
	err = svc.Delete(ctx, property.ID, landlordID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

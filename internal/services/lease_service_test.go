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

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/utils"
)

type leaseFixture struct {
	svc        ILeaseService
	effects    *fakeEffectsQueue
	landlordID primitive.ObjectID
	property   *models.Property
	db         *mongo.Database
}

func newLeaseFixture(t *testing.T, dbName string) *leaseFixture {
	db := utils.SetupTestDB(t, dbName, "leases", "properties", "users", "renter_statuses")
	cfg := &config.Config{DefaultCurrencyCode: "USD"}
	effects := &fakeEffectsQueue{}
	userSvc := NewUserService(db)
	statusSvc := NewRenterStatusService(db, cfg, nil, userSvc)
	propertySvc := NewPropertyService(db, cfg)

	landlord, err := userSvc.Register(context.Background(), "Landlord", "landlord@example.com", "secretpass1", models.RoleLandlord)
	require.NoError(t, err)

	landlordID := landlord.ID
	property, err := propertySvc.Create(context.Background(), landlordID, &models.Property{
		Address:       models.Address{Street: "12 Elm St", City: "Springfield"},
		MonthlyRent:   1500,
		DepositAmount: 3000,
	})
	require.NoError(t, err)

	return &leaseFixture{
		svc:        NewLeaseService(db, propertySvc, statusSvc, effects),
		effects:    effects,
		landlordID: landlordID,
		property:   property,
		db:         db,
	}
}

func (f *leaseFixture) upload(t *testing.T) *models.Lease {
	start := time.Now().UTC()
	lease, err := f.svc.Upload(context.Background(), f.landlordID, &models.Lease{
		PropertyID: f.property.ID,
		Renter:     models.RenterRefFromEmail("renter@example.com"),
		StartDate:  start,
		EndDate:    start.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	return lease
}

func TestLeaseService_UploadDefaultsFromProperty(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_upload")
	lease := f.upload(t)

	assert.Equal(t, models.LeaseStatusPendingSignature, lease.Status)
	assert.Equal(t, 1500.0, lease.MonthlyRent)
	assert.Equal(t, 3000.0, lease.DepositAmount)
	assert.Equal(t, "USD", lease.CurrencyCode)
	assert.Equal(t, int64(1), lease.Version)
	assert.False(t, lease.FullySigned())

	require.Len(t, f.effects.stageAdvances, 1)
	assert.Equal(t, models.EventLeaseUploaded, f.effects.stageAdvances[0].Event)
	require.Len(t, f.effects.notifications, 1)
	assert.Equal(t, models.NotificationLeaseUploaded, f.effects.notifications[0].Type)

	// End before start is refused.
	start := time.Now().UTC()
	_, err := f.svc.Upload(context.Background(), f.landlordID, &models.Lease{
		PropertyID: f.property.ID,
		Renter:     models.RenterRefFromEmail("renter@example.com"),
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, -1),
	})
	assert.Error(t, err)
}

func TestLeaseService_SignBothParties(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_sign")
	ctx := context.Background()
	lease := f.upload(t)

	// A stale version token is refused.
	_, err := f.svc.Sign(ctx, lease.ID, models.LeasePartyRenter, lease.Version+5)
	assert.ErrorIs(t, err, ErrStaleLease)

	lease, err = f.svc.Sign(ctx, lease.ID, models.LeasePartyRenter, lease.Version)
	require.NoError(t, err)
	assert.True(t, lease.RenterSignature.Signed)
	assert.False(t, lease.LandlordSignature.Signed)
	assert.Equal(t, int64(2), lease.Version)

	// The renter signing is their acceptance of the lease.
	found := false
	for _, call := range f.effects.stageAdvances {
		if call.Event == models.EventLeaseAccepted {
			found = true
		}
	}
	assert.True(t, found)

	lease, err = f.svc.Sign(ctx, lease.ID, models.LeasePartyLandlord, lease.Version)
	require.NoError(t, err)
	assert.True(t, lease.FullySigned())
	assert.Equal(t, models.LeaseStatusPendingSignature, lease.Status, "activation waits for the first payment")

	// Both signed: the completion notification is out.
	var completed bool
	for _, n := range f.effects.notifications {
		if n.Type == models.NotificationLeaseCompleted {
			completed = true
		}
	}
	assert.True(t, completed)
}

func TestLeaseService_UpdateTermsClearsSignatures(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_update_terms")
	ctx := context.Background()
	lease := f.upload(t)

	lease, err := f.svc.Sign(ctx, lease.ID, models.LeasePartyRenter, lease.Version)
	require.NoError(t, err)
	require.True(t, lease.RenterSignature.Signed)

	updated, err := f.svc.UpdateTerms(ctx, lease.ID, f.landlordID, lease.Version, bson.M{
		"monthly_rent": 1600.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 1600.0, updated.MonthlyRent)
	assert.False(t, updated.RenterSignature.Signed, "changed terms must be re-signed")
	assert.False(t, updated.LandlordSignature.Signed)
	assert.Equal(t, lease.Version+1, updated.Version)

	// Unknown fields are dropped; an update carrying only unknowns is refused.
	_, err = f.svc.UpdateTerms(ctx, lease.ID, f.landlordID, updated.Version, bson.M{
		"landlord_id": primitive.NewObjectID(),
	})
	assert.Error(t, err)

	// The version consumed by the first update is now stale.
	_, err = f.svc.UpdateTerms(ctx, lease.ID, f.landlordID, lease.Version, bson.M{"monthly_rent": 1700.0})
	assert.ErrorIs(t, err, ErrStaleLease)

	// Only the lease's landlord may edit terms.
	_, err = f.svc.UpdateTerms(ctx, lease.ID, primitive.NewObjectID(), updated.Version, bson.M{"monthly_rent": 1700.0})
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestLeaseService_RejectByRenter(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_reject")
	ctx := context.Background()
	lease := f.upload(t)

	err := f.svc.RejectByRenter(ctx, lease.ID, "someone-else@example.com", "too expensive")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	err = f.svc.RejectByRenter(ctx, lease.ID, "renter@example.com", "too expensive")
	require.NoError(t, err)

	var rejected bool
	for _, call := range f.effects.stageAdvances {
		if call.Event == models.EventLeaseRejected {
			rejected = true
			assert.Equal(t, lease.ID, call.Refs.LeaseID)
		}
	}
	assert.True(t, rejected)

	// The landlord hears about it in-app and by email.
	var notified bool
	for _, n := range f.effects.notifications {
		if n.Type == models.NotificationLeaseRejected {
			notified = true
			assert.Equal(t, models.RenterRefFromID(f.landlordID), n.Recipient)
			assert.Contains(t, n.Body, "too expensive")
		}
	}
	assert.True(t, notified)

	var emailed bool
	for _, e := range f.effects.emails {
		if e.TemplateID == "lease_rejected" {
			emailed = true
			assert.Equal(t, "landlord@example.com", e.To)
			assert.Equal(t, "too expensive", e.Data["reason"])
		}
	}
	assert.True(t, emailed)

	// The lease itself stays open for revised terms.
	got, err := f.svc.FindByID(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusPendingSignature, got.Status)
}

func TestLeaseService_Activate(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_activate")
	ctx := context.Background()
	lease := f.upload(t)

	// Not fully signed yet.
	_, err := f.svc.Activate(ctx, lease.ID, f.landlordID)
	assert.ErrorIs(t, err, ErrLeaseNotFullySigned)

	lease, err = f.svc.Sign(ctx, lease.ID, models.LeasePartyRenter, lease.Version)
	require.NoError(t, err)
	lease, err = f.svc.Sign(ctx, lease.ID, models.LeasePartyLandlord, lease.Version)
	require.NoError(t, err)

	activated, err := f.svc.Activate(ctx, lease.ID, f.landlordID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, activated.Status)

	var leasedEvent bool
	for _, call := range f.effects.stageAdvances {
		if call.Event == models.EventLeaseActivated {
			leasedEvent = true
		}
	}
	assert.True(t, leasedEvent)

	// Activating an already active lease is a no-op.
	again, err := f.svc.Activate(ctx, lease.ID, f.landlordID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, again.Status)

	// Signing a settled lease is refused.
	_, err = f.svc.Sign(ctx, lease.ID, models.LeasePartyRenter, activated.Version)
	assert.ErrorIs(t, err, ErrLeaseNotPending)
}

func TestLeaseService_ExpireEnded(t *testing.T) {
	f := newLeaseFixture(t, "testdb_lease_expire")
	ctx := context.Background()
	now := time.Now().UTC()

	ended := models.Lease{
		Base: models.NewBase(), PropertyID: f.property.ID, LandlordID: f.landlordID,
		Renter:    models.RenterRefFromEmail("old@example.com"),
		StartDate: now.AddDate(-1, 0, 0), EndDate: now.AddDate(0, 0, -1),
		Status: models.LeaseStatusActive, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	running := models.Lease{
		Base: models.NewBase(), PropertyID: f.property.ID, LandlordID: f.landlordID,
		Renter:    models.RenterRefFromEmail("current@example.com"),
		StartDate: now, EndDate: now.AddDate(1, 0, 0),
		Status: models.LeaseStatusActive, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	_, err := f.db.Collection("leases").InsertMany(ctx, []interface{}{ended, running})
	require.NoError(t, err)

	n, err := f.svc.ExpireEnded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.FindByID(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusExpired, got.Status)

	got, err = f.svc.FindByID(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, got.Status)
}

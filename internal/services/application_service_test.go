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

type applicationFixture struct {
	svc          IApplicationService
	effects      *fakeEffectsQueue
	landlordID   primitive.ObjectID
	propertyID   primitive.ObjectID
	invitationID primitive.ObjectID
	renterEmail  string
	db           *mongo.Database
}

func newApplicationFixture(t *testing.T, dbName string) *applicationFixture {
	db := utils.SetupTestDB(t, dbName, "applications", "invitations", "users", "properties", "renter_statuses")
	cfg := &config.Config{InvitationTTL: 72 * time.Hour, DefaultCurrencyCode: "USD"}
	effects := &fakeEffectsQueue{}
	userSvc := NewUserService(db)
	propertySvc := NewPropertyService(db, cfg)
	invitationSvc := NewInvitationService(db, cfg, userSvc, propertySvc, effects)
	ctx := context.Background()

	landlordID := primitive.NewObjectID()
	property, err := propertySvc.Create(ctx, landlordID, &models.Property{
		Address: models.Address{Street: "12 Elm St", City: "Springfield"},
	})
	require.NoError(t, err)

	renterEmail := "renter@example.com"
	inv, err := invitationSvc.Create(ctx, landlordID, property.ID, renterEmail, "")
	require.NoError(t, err)
	_, err = invitationSvc.Accept(ctx, inv.ID, renterEmail)
	require.NoError(t, err)

	// Reset effects recorded during fixture setup.
	*effects = fakeEffectsQueue{}

	return &applicationFixture{
		svc:          NewApplicationService(db, invitationSvc, effects),
		effects:      effects,
		landlordID:   landlordID,
		propertyID:   property.ID,
		invitationID: inv.ID,
		renterEmail:  renterEmail,
		db:           db,
	}
}

func TestApplicationService_AutosaveCreatesAndUpdatesDraft(t *testing.T) {
	f := newApplicationFixture(t, "testdb_application_autosave")
	ctx := context.Background()

	draft := &models.Application{
		Applicants: []models.Applicant{{FullName: "Pat Renter"}},
	}
	app, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, draft)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusIncomplete, app.Status)
	assert.Equal(t, f.propertyID, app.PropertyID)
	assert.Equal(t, f.landlordID, app.LandlordID)

	// A later autosave updates the same draft in place.
	draft.Applicants = append(draft.Applicants, models.Applicant{FullName: "Sam Renter"})
	draft.Employment = &models.Employment{Employer: "Acme", MonthlyIncome: 4200}
	updated, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, draft)
	require.NoError(t, err)
	assert.Equal(t, app.ID, updated.ID)
	assert.Len(t, updated.Applicants, 2)
	require.NotNil(t, updated.Employment)
	assert.Equal(t, "Acme", updated.Employment.Employer)

	// Only the invitation's addressee may autosave.
	_, err = f.svc.Autosave(ctx, f.invitationID, "intruder@example.com", draft)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestApplicationService_SubmitRequiresSignatures(t *testing.T) {
	f := newApplicationFixture(t, "testdb_application_submit_unsigned")
	ctx := context.Background()

	app, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, &models.Application{
		Applicants: []models.Applicant{
			{FullName: "Pat Renter", SignatureKey: "signatures/pat.png"},
			{FullName: "Sam Renter"}, // unsigned
		},
	})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, app.ID, f.renterEmail)
	assert.ErrorIs(t, err, ErrUnsignedApplicants)

	// The draft must be untouched by the refused submit.
	got, err := f.svc.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusIncomplete, got.Status)
	assert.Nil(t, got.SubmittedAt)
	assert.Empty(t, f.effects.stageAdvances)
}

func TestApplicationService_SubmitAndReview(t *testing.T) {
	f := newApplicationFixture(t, "testdb_application_submit_review")
	ctx := context.Background()

	app, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, &models.Application{
		Applicants: []models.Applicant{{FullName: "Pat Renter", SignatureKey: "signatures/pat.png"}},
	})
	require.NoError(t, err)

	submitted, err := f.svc.Submit(ctx, app.ID, f.renterEmail)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	require.Len(t, f.effects.stageAdvances, 1)
	assert.Equal(t, models.EventApplicationSubmitted, f.effects.stageAdvances[0].Event)
	assert.Equal(t, app.ID, f.effects.stageAdvances[0].Refs.ApplicationID)
	require.Len(t, f.effects.notifications, 1)
	assert.Equal(t, models.NotificationApplicationSubmit, f.effects.notifications[0].Type)

	// Submitting twice is refused at the database.
	_, err = f.svc.Submit(ctx, app.ID, f.renterEmail)
	assert.ErrorIs(t, err, ErrApplicationNotDraft)

	// And so is further autosaving.
	_, err = f.svc.Autosave(ctx, f.invitationID, f.renterEmail, &models.Application{
		Applicants: []models.Applicant{{FullName: "Changed"}},
	})
	assert.ErrorIs(t, err, ErrApplicationNotDraft)

	// Only the landlord of record may review.
	err = f.svc.Approve(ctx, app.ID, primitive.NewObjectID(), "")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	err = f.svc.Approve(ctx, app.ID, f.landlordID, "solid references")
	require.NoError(t, err)

	got, err := f.svc.FindByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, got.Status)
	assert.Equal(t, "solid references", got.ReviewNotes)
	require.NotNil(t, got.ReviewedAt)

	// A second review of the settled application is refused.
	err = f.svc.Reject(ctx, app.ID, f.landlordID, "")
	assert.ErrorIs(t, err, ErrApplicationNotReviewable)
}

func TestApplicationService_SubmitWithoutApplicants(t *testing.T) {
	f := newApplicationFixture(t, "testdb_application_submit_empty")
	ctx := context.Background()

	app, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, &models.Application{})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, app.ID, f.renterEmail)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsignedApplicants)
}

func TestApplicationService_Listing(t *testing.T) {
	f := newApplicationFixture(t, "testdb_application_listing")
	ctx := context.Background()

	app, err := f.svc.Autosave(ctx, f.invitationID, f.renterEmail, &models.Application{
		Applicants: []models.Applicant{{FullName: "Pat Renter", SignatureKey: "signatures/pat.png"}},
	})
	require.NoError(t, err)

	// Drafts stay private to the renter.
	forLandlord, err := f.svc.ListByProperty(ctx, f.propertyID, f.landlordID)
	require.NoError(t, err)
	assert.Empty(t, forLandlord)

	forRenter, err := f.svc.ListForRenter(ctx, f.renterEmail)
	require.NoError(t, err)
	assert.Len(t, forRenter, 1)

	_, err = f.svc.Submit(ctx, app.ID, f.renterEmail)
	require.NoError(t, err)

	forLandlord, err = f.svc.ListByProperty(ctx, f.propertyID, f.landlordID)
	require.NoError(t, err)
	require.Len(t, forLandlord, 1)
	assert.Equal(t, app.ID, forLandlord[0].ID)
}

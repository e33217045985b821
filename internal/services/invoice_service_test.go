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
	"rentfold/rf/internal/payments"
	"rentfold/rf/internal/utils"
)

type invoiceFixture struct {
	svc     IInvoiceService
	effects *fakeEffectsQueue
	gateway *fakeGateway
	lease   *models.Lease
	db      *mongo.Database
}

func newInvoiceFixture(t *testing.T, dbName string) *invoiceFixture {
	db := utils.SetupTestDB(t, dbName, "invoices", "rent_payments", "security_deposits", "leases", "properties", "users", "renter_statuses")
	cfg := &config.Config{InvoiceDueDays: 14, RentCycleDays: 30, DefaultCurrencyCode: "USD"}
	effects := &fakeEffectsQueue{}
	gateway := &fakeGateway{}
	userSvc := NewUserService(db)
	statusSvc := NewRenterStatusService(db, cfg, nil, userSvc)
	propertySvc := NewPropertyService(db, cfg)
	leaseSvc := NewLeaseService(db, propertySvc, statusSvc, effects)

	now := time.Now().UTC()
	lease := models.Lease{
		Base:              models.NewBase(),
		PropertyID:        primitive.NewObjectID(),
		LandlordID:        primitive.NewObjectID(),
		Renter:            models.RenterRefFromEmail("renter@example.com"),
		StartDate:         now,
		EndDate:           now.AddDate(1, 0, 0),
		MonthlyRent:       1500,
		DepositAmount:     3000,
		CurrencyCode:      "USD",
		RenterSignature:   models.Signature{Signed: true, SignedAt: &now},
		LandlordSignature: models.Signature{Signed: true, SignedAt: &now},
		Status:            models.LeaseStatusPendingSignature,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := db.Collection("leases").InsertOne(context.Background(), lease)
	require.NoError(t, err)

	return &invoiceFixture{
		svc:     NewInvoiceService(db, cfg, leaseSvc, statusSvc, gateway, effects),
		effects: effects,
		gateway: gateway,
		lease:   &lease,
		db:      db,
	}
}

func moveInItems() []models.InvoiceLineItem {
	return []models.InvoiceLineItem{
		{Kind: models.InvoiceItemRent, Description: "First month's rent", Amount: 1500},
		{Kind: models.InvoiceItemDeposit, Description: "Security deposit", Amount: 3000},
		{Kind: models.InvoiceItemFee, Description: "Application fee", Amount: 75},
	}
}

func TestInvoiceService_Issue(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_issue")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, invoice.Status)
	assert.Equal(t, 4575.0, invoice.Total)
	assert.Equal(t, "USD", invoice.CurrencyCode)
	assert.NotEmpty(t, invoice.InvoiceNumber)
	assert.Equal(t, invoice.IssuedAt.AddDate(0, 0, 14), invoice.DueAt)

	require.Len(t, f.effects.notifications, 1)
	assert.Equal(t, models.NotificationInvoiceSent, f.effects.notifications[0].Type)
	require.Len(t, f.effects.emails, 1)
	assert.Equal(t, "renter@example.com", f.effects.emails[0].To)
	assert.Equal(t, "invoice_sent", f.effects.emails[0].TemplateID)

	// Only the lease's landlord can issue against it.
	_, err = f.svc.Issue(ctx, primitive.NewObjectID(), f.lease.ID, moveInItems())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	_, err = f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, nil)
	assert.Error(t, err)
}

func TestInvoiceService_PayFansOutItems(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_pay")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	paid, err := f.svc.Pay(ctx, invoice.ID, "renter@example.com", "card")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, "txn_test", paid.TransactionID)
	assert.Equal(t, 1, f.gateway.intents, "one charge for the whole invoice")

	// Every line item fans out into a record: rent and fee become payment
	// rows, the deposit a deposit row, and their amounts sum to the total.
	var rent models.RentPayment
	err = f.db.Collection("rent_payments").FindOne(ctx, bson.M{"invoice_id": invoice.ID, "kind": models.PaymentKindRent}).Decode(&rent)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, rent.Amount)
	assert.Equal(t, models.PaymentStatusPaid, rent.Status)

	var fee models.RentPayment
	err = f.db.Collection("rent_payments").FindOne(ctx, bson.M{"invoice_id": invoice.ID, "kind": models.PaymentKindFee}).Decode(&fee)
	require.NoError(t, err)
	assert.Equal(t, 75.0, fee.Amount)
	assert.Equal(t, models.PaymentStatusPaid, fee.Status)

	var deposit models.SecurityDeposit
	err = f.db.Collection("security_deposits").FindOne(ctx, bson.M{"invoice_id": invoice.ID}).Decode(&deposit)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, deposit.Amount)

	assert.Equal(t, invoice.Total, rent.Amount+fee.Amount+deposit.Amount)

	rentCount, err := f.db.Collection("rent_payments").CountDocuments(ctx, bson.M{"invoice_id": invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rentCount)

	// The settled payment advances the stage row and activates the lease.
	found := false
	for _, call := range f.effects.stageAdvances {
		if call.Event == models.EventPaymentCompleted {
			found = true
			assert.Equal(t, invoice.LeaseID, call.Refs.LeaseID)
			assert.Equal(t, StageDedupKey(models.EventPaymentCompleted, invoice.ID), call.DedupKey)
		}
	}
	assert.True(t, found)

	var lease models.Lease
	err = f.db.Collection("leases").FindOne(ctx, bson.M{"_id": f.lease.ID}).Decode(&lease)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, lease.Status)
}

func TestInvoiceService_PayTwice(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_pay_twice")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, invoice.ID, "renter@example.com", "card")
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, invoice.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, ErrInvoiceAlreadyPaid)

	// No duplicate fan-out.
	rentCount, err := f.db.Collection("rent_payments").CountDocuments(ctx, bson.M{"invoice_id": invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rentCount)
	depositCount, err := f.db.Collection("security_deposits").CountDocuments(ctx, bson.M{"invoice_id": invoice.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), depositCount)
}

func TestInvoiceService_PayWrongRenter(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_pay_wrong_renter")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	// Only the invoice's renter can pay it.
	_, err = f.svc.Pay(ctx, invoice.ID, "intruder@example.com", "card")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	assert.Zero(t, f.gateway.intents)

	got, err := f.svc.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)
}

func TestInvoiceService_PayDeclined(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_pay_declined")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	f.gateway.decline = true
	_, err = f.svc.Pay(ctx, invoice.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, payments.ErrPaymentDeclined)

	got, err := f.svc.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)
	assert.Nil(t, got.PaidAt)
}

func TestInvoiceService_Listing(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_listing")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	byLandlord, err := f.svc.ListByLandlord(ctx, f.lease.LandlordID)
	require.NoError(t, err)
	require.Len(t, byLandlord, 1)
	assert.Equal(t, invoice.ID, byLandlord[0].ID)

	forRenter, err := f.svc.ListForRenter(ctx, "RENTER@example.com", primitive.NilObjectID)
	require.NoError(t, err)
	assert.Len(t, forRenter, 1)

	forOther, err := f.svc.ListForRenter(ctx, "other@example.com", primitive.NilObjectID)
	require.NoError(t, err)
	assert.Empty(t, forOther)
}

func TestInvoiceService_SweepOverdue(t *testing.T) {
	f := newInvoiceFixture(t, "testdb_invoice_sweep")
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)
	fresh, err := f.svc.Issue(ctx, f.lease.LandlordID, f.lease.ID, moveInItems())
	require.NoError(t, err)

	_, err = f.db.Collection("invoices").UpdateByID(ctx, invoice.ID,
		bson.M{"$set": bson.M{"due": time.Now().UTC().Add(-time.Hour)}})
	require.NoError(t, err)

	f.effects.emails = nil
	n, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusOverdue, got.Status)
	assert.True(t, got.OverdueNotified)

	require.Len(t, f.effects.emails, 1)
	assert.Equal(t, "invoice_overdue", f.effects.emails[0].TemplateID)

	// A repeat sweep is quiet: the invoice is no longer in sent status.
	f.effects.emails = nil
	n, err = f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.effects.emails)

	got, err = f.svc.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)
}

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

func TestNextPaymentDue(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lease := &models.Lease{
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, 90), // three 30-day cycles
		MonthlyRent:   1500,
		DepositAmount: 3000,
	}
	paidAt := func(due time.Time) models.RentPayment {
		return models.RentPayment{Kind: models.PaymentKindRent, Status: models.PaymentStatusPaid, DueDate: due}
	}
	deposit := []models.SecurityDeposit{{Amount: 3000}}

	t.Run("fully unpaid bundles deposit and first month", func(t *testing.T) {
		due, ok := NextPaymentDue(lease, nil, nil, 30)
		require.True(t, ok)
		assert.Equal(t, 4500.0, due.Amount)
		assert.Equal(t, 1500.0, due.RentAmount)
		assert.Equal(t, 3000.0, due.DepositAmount)
		assert.True(t, due.IncludesDeposit)
		assert.Equal(t, start, due.DueDate)
	})

	t.Run("deposit paid leaves plain rent", func(t *testing.T) {
		due, ok := NextPaymentDue(lease, nil, deposit, 30)
		require.True(t, ok)
		assert.Equal(t, 1500.0, due.Amount)
		assert.False(t, due.IncludesDeposit)
		assert.Equal(t, start, due.DueDate)
	})

	t.Run("next instalment one cycle after the last paid", func(t *testing.T) {
		history := []models.RentPayment{paidAt(start)}
		due, ok := NextPaymentDue(lease, history, deposit, 30)
		require.True(t, ok)
		assert.Equal(t, 1500.0, due.Amount)
		assert.Equal(t, start.AddDate(0, 0, 30), due.DueDate)
	})

	t.Run("fee records do not advance the schedule", func(t *testing.T) {
		history := []models.RentPayment{
			paidAt(start),
			{Kind: models.PaymentKindFee, Status: models.PaymentStatusPaid, DueDate: start.AddDate(0, 0, 60)},
		}
		due, ok := NextPaymentDue(lease, history, deposit, 30)
		require.True(t, ok)
		assert.Equal(t, start.AddDate(0, 0, 30), due.DueDate)
	})

	t.Run("term fully covered", func(t *testing.T) {
		history := []models.RentPayment{paidAt(start), paidAt(start.AddDate(0, 0, 30)), paidAt(start.AddDate(0, 0, 60))}
		_, ok := NextPaymentDue(lease, history, deposit, 30)
		assert.False(t, ok)
	})

	t.Run("zero cycle is invalid", func(t *testing.T) {
		_, ok := NextPaymentDue(lease, nil, nil, 0)
		assert.False(t, ok)
	})

	t.Run("lease without deposit never bundles", func(t *testing.T) {
		noDeposit := &models.Lease{StartDate: start, EndDate: start.AddDate(0, 0, 90), MonthlyRent: 1500}
		due, ok := NextPaymentDue(noDeposit, nil, nil, 30)
		require.True(t, ok)
		assert.Equal(t, 1500.0, due.Amount)
		assert.False(t, due.IncludesDeposit)
	})
}

type paymentFixture struct {
	svc      IPaymentService
	leaseSvc ILeaseService
	effects  *fakeEffectsQueue
	gateway  *fakeGateway
	db       *mongo.Database
}

func newPaymentFixture(t *testing.T, dbName string) *paymentFixture {
	db := utils.SetupTestDB(t, dbName, "rent_payments", "security_deposits", "leases", "properties", "users", "renter_statuses")
	cfg := &config.Config{RentCycleDays: 30, DefaultCurrencyCode: "USD"}
	effects := &fakeEffectsQueue{}
	gateway := &fakeGateway{}
	userSvc := NewUserService(db)
	statusSvc := NewRenterStatusService(db, cfg, nil, userSvc)
	propertySvc := NewPropertyService(db, cfg)
	leaseSvc := NewLeaseService(db, propertySvc, statusSvc, effects)
	return &paymentFixture{
		svc:      NewPaymentService(db, cfg, leaseSvc, statusSvc, gateway, effects),
		leaseSvc: leaseSvc,
		effects:  effects,
		gateway:  gateway,
		db:       db,
	}
}

// insertLease seeds a lease record directly, bypassing the upload flow.
func (f *paymentFixture) insertLease(t *testing.T, status models.LeaseStatus, signed bool, start, end time.Time) *models.Lease {
	now := time.Now().UTC()
	lease := models.Lease{
		Base:          models.NewBase(),
		PropertyID:    primitive.NewObjectID(),
		LandlordID:    primitive.NewObjectID(),
		Renter:        models.RenterRefFromEmail("renter@example.com"),
		StartDate:     start,
		EndDate:       end,
		MonthlyRent:   1500,
		DepositAmount: 3000,
		CurrencyCode:  "USD",
		Status:        status,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if signed {
		lease.RenterSignature = models.Signature{Signed: true, SignedAt: &now}
		lease.LandlordSignature = models.Signature{Signed: true, SignedAt: &now}
	}
	_, err := f.db.Collection("leases").InsertOne(context.Background(), lease)
	require.NoError(t, err)
	return &lease
}

func TestPaymentService_PayRentBundlesDeposit(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_payrent")
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lease := f.insertLease(t, models.LeaseStatusActive, true, start, start.AddDate(1, 0, 0))

	// First charge on a fully unpaid lease covers deposit plus first month.
	payment, err := f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
	assert.Equal(t, models.PaymentKindRent, payment.Kind)
	assert.Equal(t, 1500.0, payment.Amount, "the instalment record carries the rent portion")
	assert.Equal(t, lease.Renter, payment.Renter)
	assert.Equal(t, start, payment.DueDate.UTC())
	assert.Equal(t, "txn_test", payment.TransactionID)
	require.Equal(t, 1, f.gateway.intents)
	assert.Equal(t, 4500.0, f.gateway.amounts[0], "deposit and rent are charged together")

	var deposit models.SecurityDeposit
	err = f.db.Collection("security_deposits").FindOne(ctx, bson.M{"lease_id": lease.ID}).Decode(&deposit)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, deposit.Amount)
	assert.Equal(t, "txn_test", deposit.TransactionID)

	require.Len(t, f.effects.stageAdvances, 1)
	call := f.effects.stageAdvances[0]
	assert.Equal(t, models.EventPaymentCompleted, call.Event)
	assert.Equal(t, lease.ID, call.Refs.LeaseID)
	assert.Equal(t, StageDedupKey(models.EventPaymentCompleted, payment.ID), call.DedupKey)

	require.Len(t, f.effects.notifications, 1)
	assert.Equal(t, models.NotificationPaymentReceived, f.effects.notifications[0].Type)
	assert.Equal(t, models.RenterRefFromID(lease.LandlordID), f.effects.notifications[0].Recipient)

	// With the deposit settled the schedule moves one cycle and drops to rent.
	due, ok, err := f.svc.NextDueForLease(ctx, lease.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start.AddDate(0, 0, 30), due.DueDate.UTC())
	assert.Equal(t, 1500.0, due.Amount)
	assert.False(t, due.IncludesDeposit)

	// The second charge is plain rent.
	_, err = f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, f.gateway.amounts[1])
}

func TestPaymentService_PayRentWrongRenter(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_wrong_renter")
	ctx := context.Background()

	start := time.Now().UTC()
	lease := f.insertLease(t, models.LeaseStatusActive, true, start, start.AddDate(1, 0, 0))

	// Only the lease's renter can charge against it.
	_, err := f.svc.PayRent(ctx, lease.ID, "intruder@example.com", "card")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	assert.Zero(t, f.gateway.intents)

	count, err := f.db.Collection("rent_payments").CountDocuments(ctx, bson.M{"lease_id": lease.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.effects.stageAdvances)
}

func TestPaymentService_PayRentDeclined(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_declined")
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Second)
	lease := f.insertLease(t, models.LeaseStatusActive, true, start, start.AddDate(1, 0, 0))

	f.gateway.decline = true
	_, err := f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, payments.ErrPaymentDeclined)

	// No payment or deposit record is written for a declined charge.
	count, err := f.db.Collection("rent_payments").CountDocuments(ctx, bson.M{"lease_id": lease.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = f.db.Collection("security_deposits").CountDocuments(ctx, bson.M{"lease_id": lease.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.effects.stageAdvances)
}

func TestPaymentService_PayRentLeaseStates(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_lease_states")
	ctx := context.Background()

	start := time.Now().UTC()
	end := start.AddDate(1, 0, 0)

	draft := f.insertLease(t, models.LeaseStatusDraft, false, start, end)
	_, err := f.svc.PayRent(ctx, draft.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, ErrLeaseNotActive)

	// Pending but unsigned is still not payable.
	unsigned := f.insertLease(t, models.LeaseStatusPendingSignature, false, start, end)
	_, err = f.svc.PayRent(ctx, unsigned.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, ErrLeaseNotActive)

	_, err = f.svc.PayRent(ctx, primitive.NewObjectID(), "renter@example.com", "card")
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestPaymentService_FirstPaymentActivatesLease(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_activates")
	ctx := context.Background()

	start := time.Now().UTC()
	lease := f.insertLease(t, models.LeaseStatusPendingSignature, true, start, start.AddDate(1, 0, 0))

	_, err := f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	require.NoError(t, err)

	got, err := f.leaseSvc.FindByID(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, got.Status)
}

func TestPaymentService_NothingDue(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_nothing_due")
	ctx := context.Background()

	// One 30-day cycle; the single instalment is already paid.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lease := f.insertLease(t, models.LeaseStatusActive, true, start, start.AddDate(0, 0, 30))

	_, err := f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	require.NoError(t, err)

	_, err = f.svc.PayRent(ctx, lease.ID, "renter@example.com", "card")
	assert.ErrorIs(t, err, ErrNothingDue)

	_, ok, err := f.svc.NextDueForLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaymentService_MarkOverdue(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_mark_overdue")
	ctx := context.Background()
	now := time.Now().UTC()

	docs := []interface{}{
		models.RentPayment{Base: models.NewBase(), LeaseID: primitive.NewObjectID(), Kind: models.PaymentKindRent, Status: models.PaymentStatusPending, DueDate: now.Add(-48 * time.Hour), CreatedAt: now, UpdatedAt: now},
		models.RentPayment{Base: models.NewBase(), LeaseID: primitive.NewObjectID(), Kind: models.PaymentKindRent, Status: models.PaymentStatusPending, DueDate: now.Add(48 * time.Hour), CreatedAt: now, UpdatedAt: now},
		models.RentPayment{Base: models.NewBase(), LeaseID: primitive.NewObjectID(), Kind: models.PaymentKindRent, Status: models.PaymentStatusPaid, DueDate: now.Add(-48 * time.Hour), CreatedAt: now, UpdatedAt: now},
	}
	_, err := f.db.Collection("rent_payments").InsertMany(ctx, docs)
	require.NoError(t, err)

	n, err := f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := f.db.Collection("rent_payments").CountDocuments(ctx, bson.M{"status": models.PaymentStatusOverdue})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPaymentService_RemindUpcoming(t *testing.T) {
	f := newPaymentFixture(t, "testdb_payment_remind")
	ctx := context.Background()

	// Next instalment falls due within the reminder window.
	start := time.Now().UTC().AddDate(0, 0, -28)
	f.insertLease(t, models.LeaseStatusActive, true, start, start.AddDate(1, 0, 0))
	// And one lease whose instalment is a month out.
	farStart := time.Now().UTC()
	f.insertLease(t, models.LeaseStatusActive, true, farStart.AddDate(0, 0, 25), farStart.AddDate(1, 0, 25))

	reminded, err := f.svc.RemindUpcoming(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)
	require.Len(t, f.effects.emails, 1)
	assert.Equal(t, "renter@example.com", f.effects.emails[0].To)
	assert.Equal(t, "rent_due", f.effects.emails[0].TemplateID)
}

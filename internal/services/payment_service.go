package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/payments"
)

// ErrLeaseNotActive is returned when paying rent on a lease that is neither
// active nor fully signed and awaiting activation.
var ErrLeaseNotActive = errors.New("lease is not active")

// ErrNothingDue is returned when paying rent on a lease whose term is fully
// covered by recorded payments.
var ErrNothingDue = errors.New("no further rent is due on this lease")

// IPaymentService defines the interface for rent payment operations.
type IPaymentService interface {
	NextDueForLease(ctx context.Context, leaseID primitive.ObjectID) (PaymentDue, bool, error)
	PayRent(ctx context.Context, leaseID primitive.ObjectID, renterEmail, method string) (*models.RentPayment, error)
	ListForLease(ctx context.Context, leaseID primitive.ObjectID) ([]models.RentPayment, error)
	ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.RentPayment, error)
	ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.RentPayment, error)
	MarkOverdue(ctx context.Context) (int64, error)
	RemindUpcoming(ctx context.Context, within time.Duration) (int, error)
}

const (
	rentPaymentsCollection     = "rent_payments"
	securityDepositsCollection = "security_deposits"
)

// PaymentDue describes the next amount owed on a lease. While the security
// deposit is unpaid it is bundled with the rent instalment into one charge.
type PaymentDue struct {
	Amount          float64   `json:"amount"`
	RentAmount      float64   `json:"rent_amount"`
	DepositAmount   float64   `json:"deposit_amount,omitempty"`
	IncludesDeposit bool      `json:"includes_deposit"`
	DueDate         time.Time `json:"due_date"`
}

// NextPaymentDue computes the next amount owed on a lease from the recorded
// payment and deposit history. The first instalment falls due at the lease
// start; each later one a fixed cycle after the most recent paid instalment's
// due date. While no deposit record exists the deposit is bundled into the
// charge. Once the due date reaches the lease end the term is fully covered
// and ok is false.
func NextPaymentDue(lease *models.Lease, history []models.RentPayment, deposits []models.SecurityDeposit, cycleDays int) (PaymentDue, bool) {
	if cycleDays <= 0 {
		return PaymentDue{}, false
	}

	var lastPaid time.Time
	anyPaid := false
	for _, p := range history {
		if p.Status != models.PaymentStatusPaid || p.Kind == models.PaymentKindFee || p.Deleted {
			continue
		}
		anyPaid = true
		if p.DueDate.After(lastPaid) {
			lastPaid = p.DueDate
		}
	}

	due := lease.StartDate
	if anyPaid {
		due = lastPaid.AddDate(0, 0, cycleDays)
	}
	if !due.Before(lease.EndDate) {
		return PaymentDue{}, false
	}

	depositPaid := false
	for _, d := range deposits {
		if !d.Deleted {
			depositPaid = true
			break
		}
	}

	out := PaymentDue{
		Amount:     lease.MonthlyRent,
		RentAmount: lease.MonthlyRent,
		DueDate:    due,
	}
	if !depositPaid && lease.DepositAmount > 0 {
		out.DepositAmount = lease.DepositAmount
		out.Amount += lease.DepositAmount
		out.IncludesDeposit = true
	}
	return out, true
}

type paymentService struct {
	db            *mongo.Database
	cfg           *config.Config
	leaseService  ILeaseService
	statusService IRenterStatusService
	gateway       payments.IGateway
	effects       IEffectsQueue
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(database *mongo.Database, cfg *config.Config, leaseService ILeaseService, statusService IRenterStatusService, gateway payments.IGateway, effects IEffectsQueue) IPaymentService {
	return &paymentService{
		db:            database,
		cfg:           cfg,
		leaseService:  leaseService,
		statusService: statusService,
		gateway:       gateway,
		effects:       effects,
	}
}

// historyForLease loads the paid instalments and deposit records of a lease.
func (s *paymentService) historyForLease(ctx context.Context, leaseID primitive.ObjectID) ([]models.RentPayment, []models.SecurityDeposit, error) {
	cursor, err := s.db.Collection(rentPaymentsCollection).Find(ctx, bson.M{
		"lease_id": leaseID,
		"status":   models.PaymentStatusPaid,
		"deleted":  false,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query paid instalments for lease %s: %w", leaseID.Hex(), err)
	}
	var history []models.RentPayment
	if err = cursor.All(ctx, &history); err != nil {
		return nil, nil, fmt.Errorf("failed to decode paid instalments: %w", err)
	}

	cursor, err = s.db.Collection(securityDepositsCollection).Find(ctx, bson.M{
		"lease_id": leaseID,
		"deleted":  false,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query deposits for lease %s: %w", leaseID.Hex(), err)
	}
	var deposits []models.SecurityDeposit
	if err = cursor.All(ctx, &deposits); err != nil {
		return nil, nil, fmt.Errorf("failed to decode deposits: %w", err)
	}
	return history, deposits, nil
}

// NextDueForLease returns the lease's next due amount and date, or ok=false
// when the term is fully covered.
func (s *paymentService) NextDueForLease(ctx context.Context, leaseID primitive.ObjectID) (PaymentDue, bool, error) {
	lease, err := s.leaseService.FindByID(ctx, leaseID)
	if err != nil {
		return PaymentDue{}, false, err
	}
	history, deposits, err := s.historyForLease(ctx, leaseID)
	if err != nil {
		return PaymentDue{}, false, err
	}
	due, ok := NextPaymentDue(lease, history, deposits, s.cfg.RentCycleDays)
	return due, ok, nil
}

// PayRent charges the lease's next due amount through the gateway and records
// it. While the deposit is unpaid the charge bundles deposit and rent and a
// deposit record is written alongside the instalment. The first successful
// payment on a fully signed lease activates it, which moves the stage row to
// leased. Only the lease's renter may pay.
func (s *paymentService) PayRent(ctx context.Context, leaseID primitive.ObjectID, renterEmail, method string) (*models.RentPayment, error) {
	lease, err := s.leaseService.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	leaseRenterEmail, err := s.statusService.ResolveEmail(ctx, lease.Renter)
	if err != nil {
		return nil, err
	}
	if leaseRenterEmail != models.NormalizeEmail(renterEmail) {
		return nil, mongo.ErrNoDocuments
	}
	if lease.Status != models.LeaseStatusActive {
		if lease.Status != models.LeaseStatusPendingSignature || !lease.FullySigned() {
			return nil, ErrLeaseNotActive
		}
	}

	history, deposits, err := s.historyForLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	due, ok := NextPaymentDue(lease, history, deposits, s.cfg.RentCycleDays)
	if !ok {
		return nil, ErrNothingDue
	}

	reference := fmt.Sprintf("rent:%s:%d", leaseID.Hex(), len(history))
	intent, err := s.gateway.CreateIntent(ctx, due.Amount, lease.CurrencyCode, reference)
	if err != nil {
		return nil, err
	}
	confirmation, err := s.gateway.ConfirmIntent(ctx, intent.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &models.RentPayment{
		LeaseID:       leaseID,
		PropertyID:    lease.PropertyID,
		Renter:        lease.Renter,
		Kind:          models.PaymentKindRent,
		Amount:        due.RentAmount,
		CurrencyCode:  lease.CurrencyCode,
		DueDate:       due.DueDate,
		PaidAt:        &now,
		Status:        models.PaymentStatusPaid,
		Method:        method,
		TransactionID: confirmation.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(rentPaymentsCollection), payment)
	if err != nil {
		return nil, fmt.Errorf("error recording rent payment for lease %s: %w", leaseID.Hex(), err)
	}
	payment = doc.(*models.RentPayment)

	if due.IncludesDeposit {
		deposit := &models.SecurityDeposit{
			LeaseID:       leaseID,
			PropertyID:    lease.PropertyID,
			Renter:        lease.Renter,
			Amount:        due.DepositAmount,
			CurrencyCode:  lease.CurrencyCode,
			PaidAt:        now,
			Method:        method,
			TransactionID: confirmation.TransactionID,
			CreatedAt:     now,
		}
		if _, err := db.InsertOne(ctx, s.db.Collection(securityDepositsCollection), deposit); err != nil {
			return nil, fmt.Errorf("error recording deposit for lease %s: %w", leaseID.Hex(), err)
		}
	}

	if err := s.effects.EnqueueStageAdvance(ctx,
		lease.PropertyID,
		lease.Renter,
		models.EventPaymentCompleted,
		models.StageRefs{LeaseID: lease.ID},
		StageDedupKey(models.EventPaymentCompleted, payment.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for payment %s: %v", payment.ID.Hex(), err)
	}

	n := &models.Notification{
		Recipient: models.RenterRefFromID(lease.LandlordID),
		Type:      models.NotificationPaymentReceived,
		Title:     "Rent payment received",
		Body:      fmt.Sprintf("A rent payment of %.2f %s was received.", due.Amount, payment.CurrencyCode),
		Nav: models.NavTargetFor(models.NotificationPaymentReceived, map[string]string{
			"leaseId": lease.ID.Hex(),
		}),
		PropertyID: lease.PropertyID,
		SubjectID:  payment.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationPaymentReceived, payment.ID)); err != nil {
		log.Printf("Warning: failed to enqueue payment notification for %s: %v", payment.ID.Hex(), err)
	}

	// First payment on a fully signed lease activates it.
	if lease.Status == models.LeaseStatusPendingSignature && len(history) == 0 {
		if _, err := s.leaseService.Activate(ctx, lease.ID, lease.LandlordID); err != nil {
			log.Printf("Warning: failed to activate lease %s after first payment: %v", lease.ID.Hex(), err)
		}
	}

	return payment, nil
}

// ListForLease lists rent instalments for a lease, oldest due first.
func (s *paymentService) ListForLease(ctx context.Context, leaseID primitive.ObjectID) ([]models.RentPayment, error) {
	filter := bson.M{"lease_id": leaseID, "deleted": false}
	opts := options.Find().SetSort(bson.M{"due_date": 1})
	return s.listPayments(ctx, filter, opts)
}

// ListForRenter lists a renter's rent payments across leases. The filter
// matches both addressing forms of the renter reference.
func (s *paymentService) ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.RentPayment, error) {
	or := []bson.M{
		{"renter.kind": models.RenterRefByEmail, "renter.email": models.NormalizeEmail(renterEmail)},
	}
	if !renterID.IsZero() {
		or = append(or, bson.M{"renter.kind": models.RenterRefByID, "renter.user_id": renterID})
	}
	filter := bson.M{"$or": or, "deleted": false}
	opts := options.Find().SetSort(bson.M{"due_date": -1})
	return s.listPayments(ctx, filter, opts)
}

// ListByProperty lists rent payments for an owned property, newest due first.
func (s *paymentService) ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.RentPayment, error) {
	lease := s.db.Collection(leasesCollection)
	count, err := lease.CountDocuments(ctx, bson.M{"property_id": propertyID, "landlord_id": landlordID})
	if err != nil {
		return nil, fmt.Errorf("failed to verify property ownership: %w", err)
	}
	if count == 0 {
		return []models.RentPayment{}, nil
	}
	filter := bson.M{"property_id": propertyID, "deleted": false}
	opts := options.Find().SetSort(bson.M{"due_date": -1})
	return s.listPayments(ctx, filter, opts)
}

func (s *paymentService) listPayments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.RentPayment, error) {
	cursor, err := s.db.Collection(rentPaymentsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query rent payments: %w", err)
	}
	defer cursor.Close(ctx)

	results := []models.RentPayment{}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode rent payments: %w", err)
	}
	return results, nil
}

// MarkOverdue flips pending instalments past their due date to overdue.
// Runs from the background sweep task.
func (s *paymentService) MarkOverdue(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":   models.PaymentStatusPending,
		"due_date": bson.M{"$lt": now},
		"deleted":  false,
	}
	update := bson.M{"$set": bson.M{"status": models.PaymentStatusOverdue, "updated_at": now}}
	result, err := s.db.Collection(rentPaymentsCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error marking payments overdue: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("Marked %d rent payments overdue", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}

// RemindUpcoming emails renters on active leases whose next instalment falls
// due within the window. Runs from the periodic rent-due check.
func (s *paymentService) RemindUpcoming(ctx context.Context, within time.Duration) (int, error) {
	cursor, err := s.db.Collection(leasesCollection).Find(ctx, bson.M{
		"status":  models.LeaseStatusActive,
		"deleted": false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query active leases: %w", err)
	}
	defer cursor.Close(ctx)

	var leases []models.Lease
	if err = cursor.All(ctx, &leases); err != nil {
		return 0, fmt.Errorf("failed to decode active leases: %w", err)
	}

	cutoff := time.Now().UTC().Add(within)
	reminded := 0
	for i := range leases {
		lease := &leases[i]
		history, deposits, err := s.historyForLease(ctx, lease.ID)
		if err != nil {
			log.Printf("Warning: skipping rent reminder for lease %s: %v", lease.ID.Hex(), err)
			continue
		}
		due, ok := NextPaymentDue(lease, history, deposits, s.cfg.RentCycleDays)
		if !ok || due.DueDate.After(cutoff) {
			continue
		}
		email := lease.Renter.Email
		if email == "" {
			continue
		}
		if err := s.effects.EnqueueEmail(ctx, email, "rent_due", map[string]interface{}{
			"leaseId": lease.ID.Hex(),
			"amount":  due.Amount,
			"dueDate": due.DueDate.Format("2006-01-02"),
		}); err != nil {
			log.Printf("Warning: failed to enqueue rent reminder for lease %s: %v", lease.ID.Hex(), err)
			continue
		}
		reminded++
	}
	return reminded, nil
}

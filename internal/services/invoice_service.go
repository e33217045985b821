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

// ErrInvoiceAlreadyPaid is returned when paying an invoice that is already
// settled.
var ErrInvoiceAlreadyPaid = errors.New("invoice has already been paid")

// IInvoiceService defines the interface for invoice operations.
type IInvoiceService interface {
	Issue(ctx context.Context, landlordID, leaseID primitive.ObjectID, items []models.InvoiceLineItem) (*models.Invoice, error)
	FindByID(ctx context.Context, invoiceID primitive.ObjectID) (*models.Invoice, error)
	ListByLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.Invoice, error)
	ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Invoice, error)
	Pay(ctx context.Context, invoiceID primitive.ObjectID, renterEmail, method string) (*models.Invoice, error)
	SweepOverdue(ctx context.Context) (int64, error)
}

const invoicesCollection = "invoices"

type invoiceService struct {
	db            *mongo.Database
	cfg           *config.Config
	leaseService  ILeaseService
	statusService IRenterStatusService
	gateway       payments.IGateway
	effects       IEffectsQueue
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(database *mongo.Database, cfg *config.Config, leaseService ILeaseService, statusService IRenterStatusService, gateway payments.IGateway, effects IEffectsQueue) IInvoiceService {
	return &invoiceService{
		db:            database,
		cfg:           cfg,
		leaseService:  leaseService,
		statusService: statusService,
		gateway:       gateway,
		effects:       effects,
	}
}

// Issue creates an invoice against a lease from line items. Due date comes
// from configuration; the renter is notified and emailed.
func (s *invoiceService) Issue(ctx context.Context, landlordID, leaseID primitive.ObjectID, items []models.InvoiceLineItem) (*models.Invoice, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("invoice needs at least one line item")
	}
	lease, err := s.leaseService.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.LandlordID != landlordID {
		return nil, mongo.ErrNoDocuments
	}

	now := time.Now().UTC()
	invoice := &models.Invoice{
		LeaseID:       leaseID,
		PropertyID:    lease.PropertyID,
		LandlordID:    landlordID,
		Renter:        lease.Renter,
		InvoiceNumber: fmt.Sprintf("INV-%s-%d", now.Format("20060102"), now.UnixNano()%100000),
		Items:         items,
		CurrencyCode:  lease.CurrencyCode,
		IssuedAt:      now,
		DueAt:         now.AddDate(0, 0, s.cfg.InvoiceDueDays),
		Status:        models.InvoiceStatusSent,
	}
	invoice.Total = invoice.SumItems()

	doc, err := db.InsertOne(ctx, s.db.Collection(invoicesCollection), invoice)
	if err != nil {
		return nil, fmt.Errorf("error inserting invoice: %w", err)
	}
	invoice = doc.(*models.Invoice)

	n := &models.Notification{
		Recipient: invoice.Renter,
		Type:      models.NotificationInvoiceSent,
		Title:     "New invoice",
		Body:      fmt.Sprintf("Invoice %s for %.2f %s is due by %s.", invoice.InvoiceNumber, invoice.Total, invoice.CurrencyCode, invoice.DueAt.Format("2006-01-02")),
		Nav: models.NavTargetFor(models.NotificationInvoiceSent, map[string]string{
			"invoiceId": invoice.ID.Hex(),
		}),
		PropertyID: invoice.PropertyID,
		SubjectID:  invoice.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationInvoiceSent, invoice.ID)); err != nil {
		log.Printf("Warning: failed to enqueue invoice notification for %s: %v", invoice.ID.Hex(), err)
	}
	if invoice.Renter.Email != "" {
		if err := s.effects.EnqueueEmail(ctx, invoice.Renter.Email, "invoice_sent", map[string]interface{}{
			"invoiceNumber": invoice.InvoiceNumber,
			"total":         invoice.Total,
			"currency":      invoice.CurrencyCode,
			"dueDate":       invoice.DueAt.Format("2006-01-02"),
		}); err != nil {
			log.Printf("Warning: failed to enqueue invoice email for %s: %v", invoice.ID.Hex(), err)
		}
	}

	return invoice, nil
}

// FindByID finds a non-deleted invoice by ID.
func (s *invoiceService) FindByID(ctx context.Context, invoiceID primitive.ObjectID) (*models.Invoice, error) {
	var invoice models.Invoice
	filter := bson.M{"_id": invoiceID, "deleted": false}
	err := s.db.Collection(invoicesCollection).FindOne(ctx, filter).Decode(&invoice)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding invoice %s: %w", invoiceID.Hex(), err)
	}
	return &invoice, nil
}

// ListByLandlord lists a landlord's invoices, newest first.
func (s *invoiceService) ListByLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.Invoice, error) {
	filter := bson.M{"landlord_id": landlordID, "deleted": false}
	return s.listInvoices(ctx, filter)
}

// ListForRenter lists a renter's invoices. The filter matches both addressing
// forms of the renter reference.
func (s *invoiceService) ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Invoice, error) {
	or := []bson.M{
		{"renter.kind": models.RenterRefByEmail, "renter.email": models.NormalizeEmail(renterEmail)},
	}
	if !renterID.IsZero() {
		or = append(or, bson.M{"renter.kind": models.RenterRefByID, "renter.user_id": renterID})
	}
	filter := bson.M{"$or": or, "deleted": false}
	return s.listInvoices(ctx, filter)
}

func (s *invoiceService) listInvoices(ctx context.Context, filter bson.M) ([]models.Invoice, error) {
	opts := options.Find().SetSort(bson.M{"issued_at": -1})
	cursor, err := s.db.Collection(invoicesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer cursor.Close(ctx)

	invoices := []models.Invoice{}
	if err = cursor.All(ctx, &invoices); err != nil {
		return nil, fmt.Errorf("failed to decode invoices: %w", err)
	}
	return invoices, nil
}

// Pay charges the invoice total through the gateway, marks the invoice paid
// and fans its line items out into payment records: each rent item becomes a
// paid RentPayment, each deposit item a SecurityDeposit and each fee a
// fee-kind RentPayment, so the fanned-out records sum to the invoice total.
// The conditional status flip is the idempotency guard, so a concurrent or
// repeated Pay cannot fan out twice. Only the invoice's renter may pay.
func (s *invoiceService) Pay(ctx context.Context, invoiceID primitive.ObjectID, renterEmail, method string) (*models.Invoice, error) {
	invoice, err := s.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	invoiceRenterEmail, err := s.statusService.ResolveEmail(ctx, invoice.Renter)
	if err != nil {
		return nil, err
	}
	if invoiceRenterEmail != models.NormalizeEmail(renterEmail) {
		return nil, mongo.ErrNoDocuments
	}
	if invoice.Status == models.InvoiceStatusPaid {
		return nil, ErrInvoiceAlreadyPaid
	}

	intent, err := s.gateway.CreateIntent(ctx, invoice.Total, invoice.CurrencyCode, "invoice:"+invoice.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	confirmation, err := s.gateway.ConfirmIntent(ctx, intent.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	filter := bson.M{
		"_id":     invoiceID,
		"status":  bson.M{"$in": []models.InvoiceStatus{models.InvoiceStatusSent, models.InvoiceStatusOverdue}},
		"deleted": false,
	}
	update := bson.M{"$set": bson.M{
		"status":         models.InvoiceStatusPaid,
		"paid_at":        now,
		"transaction_id": confirmation.TransactionID,
	}}
	result, err := s.db.Collection(invoicesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error marking invoice %s paid: %w", invoiceID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		// Another payer won the race; the charge for this attempt is the
		// gateway's to reconcile against the duplicate reference.
		return nil, ErrInvoiceAlreadyPaid
	}

	lease, err := s.leaseService.FindByID(ctx, invoice.LeaseID)
	if err != nil {
		return nil, err
	}

	for _, item := range invoice.Items {
		switch item.Kind {
		case models.InvoiceItemRent:
			payment := &models.RentPayment{
				LeaseID:       invoice.LeaseID,
				PropertyID:    invoice.PropertyID,
				Renter:        invoice.Renter,
				Kind:          models.PaymentKindRent,
				Amount:        item.Amount,
				CurrencyCode:  invoice.CurrencyCode,
				DueDate:       invoice.DueAt,
				PaidAt:        &now,
				Status:        models.PaymentStatusPaid,
				Method:        method,
				TransactionID: confirmation.TransactionID,
				InvoiceID:     invoice.ID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := db.InsertOne(ctx, s.db.Collection(rentPaymentsCollection), payment); err != nil {
				return nil, fmt.Errorf("failed to fan out rent item for invoice %s: %w", invoiceID.Hex(), err)
			}
		case models.InvoiceItemDeposit:
			deposit := &models.SecurityDeposit{
				LeaseID:       invoice.LeaseID,
				PropertyID:    invoice.PropertyID,
				Renter:        invoice.Renter,
				Amount:        item.Amount,
				CurrencyCode:  invoice.CurrencyCode,
				PaidAt:        now,
				Method:        method,
				TransactionID: confirmation.TransactionID,
				InvoiceID:     invoice.ID,
				CreatedAt:     now,
			}
			if _, err := db.InsertOne(ctx, s.db.Collection(securityDepositsCollection), deposit); err != nil {
				return nil, fmt.Errorf("failed to fan out deposit item for invoice %s: %w", invoiceID.Hex(), err)
			}
		case models.InvoiceItemFee:
			fee := &models.RentPayment{
				LeaseID:       invoice.LeaseID,
				PropertyID:    invoice.PropertyID,
				Renter:        invoice.Renter,
				Kind:          models.PaymentKindFee,
				Amount:        item.Amount,
				CurrencyCode:  invoice.CurrencyCode,
				DueDate:       invoice.DueAt,
				PaidAt:        &now,
				Status:        models.PaymentStatusPaid,
				Method:        method,
				TransactionID: confirmation.TransactionID,
				InvoiceID:     invoice.ID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := db.InsertOne(ctx, s.db.Collection(rentPaymentsCollection), fee); err != nil {
				return nil, fmt.Errorf("failed to fan out fee item for invoice %s: %w", invoiceID.Hex(), err)
			}
		}
	}

	if err := s.effects.EnqueueStageAdvance(ctx,
		invoice.PropertyID,
		invoice.Renter,
		models.EventPaymentCompleted,
		models.StageRefs{LeaseID: invoice.LeaseID},
		StageDedupKey(models.EventPaymentCompleted, invoice.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for invoice %s: %v", invoice.ID.Hex(), err)
	}

	n := &models.Notification{
		Recipient: models.RenterRefFromID(invoice.LandlordID),
		Type:      models.NotificationPaymentReceived,
		Title:     "Invoice paid",
		Body:      fmt.Sprintf("Invoice %s was paid: %.2f %s.", invoice.InvoiceNumber, invoice.Total, invoice.CurrencyCode),
		Nav: models.NavTargetFor(models.NotificationPaymentReceived, map[string]string{
			"invoiceId": invoice.ID.Hex(),
		}),
		PropertyID: invoice.PropertyID,
		SubjectID:  invoice.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationPaymentReceived, invoice.ID)); err != nil {
		log.Printf("Warning: failed to enqueue payment notification for invoice %s: %v", invoice.ID.Hex(), err)
	}

	// First settled payment on a fully signed lease activates it.
	if lease.Status == models.LeaseStatusPendingSignature && lease.FullySigned() {
		if _, err := s.leaseService.Activate(ctx, lease.ID, lease.LandlordID); err != nil {
			log.Printf("Warning: failed to activate lease %s after invoice payment: %v", lease.ID.Hex(), err)
		}
	}

	invoice.Status = models.InvoiceStatusPaid
	invoice.PaidAt = &now
	invoice.TransactionID = confirmation.TransactionID
	return invoice, nil
}

// SweepOverdue flips sent invoices past their due date to overdue and emails
// each renter once. OverdueNotified keeps repeat sweeps quiet.
func (s *invoiceService) SweepOverdue(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":  models.InvoiceStatusSent,
		"due":     bson.M{"$lt": now},
		"deleted": false,
	}
	cursor, err := s.db.Collection(invoicesCollection).Find(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to query overdue invoices: %w", err)
	}
	defer cursor.Close(ctx)

	var overdue []models.Invoice
	if err = cursor.All(ctx, &overdue); err != nil {
		return 0, fmt.Errorf("failed to decode overdue invoices: %w", err)
	}

	var flipped int64
	for _, invoice := range overdue {
		update := bson.M{"$set": bson.M{"status": models.InvoiceStatusOverdue}}
		if !invoice.OverdueNotified {
			update["$set"].(bson.M)["overdue_notified"] = true
		}
		result, err := s.db.Collection(invoicesCollection).UpdateOne(ctx,
			bson.M{"_id": invoice.ID, "status": models.InvoiceStatusSent}, update)
		if err != nil {
			log.Printf("Warning: failed to mark invoice %s overdue: %v", invoice.ID.Hex(), err)
			continue
		}
		if result.MatchedCount == 0 {
			continue
		}
		flipped++

		if !invoice.OverdueNotified && invoice.Renter.Email != "" {
			if err := s.effects.EnqueueEmail(ctx, invoice.Renter.Email, "invoice_overdue", map[string]interface{}{
				"invoiceNumber": invoice.InvoiceNumber,
				"total":         invoice.Total,
				"currency":      invoice.CurrencyCode,
				"lateFee":       s.cfg.LateFeeAmount,
			}); err != nil {
				log.Printf("Warning: failed to enqueue overdue email for invoice %s: %v", invoice.ID.Hex(), err)
			}
		}
	}
	if flipped > 0 {
		log.Printf("Marked %d invoices overdue", flipped)
	}
	return flipped, nil
}

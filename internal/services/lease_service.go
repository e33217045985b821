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

	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrStaleLease is returned when a lease mutation carries an outdated version
// token. The caller re-reads and retries with fresh terms.
var ErrStaleLease = errors.New("lease was modified concurrently, reload and retry")

// ErrLeaseNotPending is returned when signing a lease that is not awaiting
// signatures.
var ErrLeaseNotPending = errors.New("lease is not awaiting signatures")

// ErrLeaseNotFullySigned is returned when activating a lease that is missing
// a signature.
var ErrLeaseNotFullySigned = errors.New("lease is missing a signature")

// ILeaseService defines the interface for lease operations.
type ILeaseService interface {
	Upload(ctx context.Context, landlordID primitive.ObjectID, lease *models.Lease) (*models.Lease, error)
	FindByID(ctx context.Context, leaseID primitive.ObjectID) (*models.Lease, error)
	ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Lease, error)
	ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Lease, error)
	UpdateTerms(ctx context.Context, leaseID, landlordID primitive.ObjectID, version int64, updates bson.M) (*models.Lease, error)
	Sign(ctx context.Context, leaseID primitive.ObjectID, party models.LeaseParty, version int64) (*models.Lease, error)
	RejectByRenter(ctx context.Context, leaseID primitive.ObjectID, renterEmail, reason string) error
	Activate(ctx context.Context, leaseID, landlordID primitive.ObjectID) (*models.Lease, error)
	ExpireEnded(ctx context.Context) (int64, error)
}

const leasesCollection = "leases"

type leaseService struct {
	db              *mongo.Database
	propertyService IPropertyService
	statusService   IRenterStatusService
	effects         IEffectsQueue
}

// NewLeaseService creates a new LeaseService.
func NewLeaseService(database *mongo.Database, propertyService IPropertyService, statusService IRenterStatusService, effects IEffectsQueue) ILeaseService {
	return &leaseService{
		db:              database,
		propertyService: propertyService,
		statusService:   statusService,
		effects:         effects,
	}
}

// Upload creates a lease awaiting signatures. Rent, deposit and currency
// default from the property when left zero. The renter gets a notification
// and the stage row moves to the lease stage.
func (s *leaseService) Upload(ctx context.Context, landlordID primitive.ObjectID, lease *models.Lease) (*models.Lease, error) {
	if lease.Renter.IsZero() {
		return nil, fmt.Errorf("lease renter reference is required")
	}
	property, err := s.propertyService.FindByIDForLandlord(ctx, lease.PropertyID, landlordID)
	if err != nil {
		return nil, err
	}
	if !lease.EndDate.After(lease.StartDate) {
		return nil, fmt.Errorf("lease end date must be after start date")
	}

	now := time.Now().UTC()
	lease.LandlordID = landlordID
	if lease.MonthlyRent == 0 {
		lease.MonthlyRent = property.MonthlyRent
	}
	if lease.DepositAmount == 0 {
		lease.DepositAmount = property.DepositAmount
	}
	if lease.CurrencyCode == "" {
		lease.CurrencyCode = property.CurrencyCode
	}
	lease.RenterSignature = models.Signature{}
	lease.LandlordSignature = models.Signature{}
	lease.Status = models.LeaseStatusPendingSignature
	lease.Version = 1
	lease.CreatedAt = now
	lease.UpdatedAt = now
	lease.Deleted = false

	doc, err := db.InsertOne(ctx, s.db.Collection(leasesCollection), lease)
	if err != nil {
		return nil, fmt.Errorf("error inserting lease: %w", err)
	}
	lease = doc.(*models.Lease)

	if err := s.effects.EnqueueStageAdvance(ctx,
		lease.PropertyID,
		lease.Renter,
		models.EventLeaseUploaded,
		models.StageRefs{LeaseID: lease.ID},
		StageDedupKey(models.EventLeaseUploaded, lease.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for lease %s: %v", lease.ID.Hex(), err)
	}

	n := &models.Notification{
		Recipient: lease.Renter,
		Type:      models.NotificationLeaseUploaded,
		Title:     "Lease ready for review",
		Body:      fmt.Sprintf("A lease for %s, %s is ready for your signature.", property.Address.Street, property.Address.City),
		Nav: models.NavTargetFor(models.NotificationLeaseUploaded, map[string]string{
			"leaseId": lease.ID.Hex(),
		}),
		PropertyID: lease.PropertyID,
		SubjectID:  lease.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationLeaseUploaded, lease.ID)); err != nil {
		log.Printf("Warning: failed to enqueue lease notification for %s: %v", lease.ID.Hex(), err)
	}

	return lease, nil
}

// FindByID finds a non-deleted lease by ID.
func (s *leaseService) FindByID(ctx context.Context, leaseID primitive.ObjectID) (*models.Lease, error) {
	var lease models.Lease
	filter := bson.M{"_id": leaseID, "deleted": false}
	err := s.db.Collection(leasesCollection).FindOne(ctx, filter).Decode(&lease)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding lease %s: %w", leaseID.Hex(), err)
	}
	return &lease, nil
}

// ListByProperty lists leases for an owned property, newest first.
func (s *leaseService) ListByProperty(ctx context.Context, propertyID, landlordID primitive.ObjectID) ([]models.Lease, error) {
	filter := bson.M{"property_id": propertyID, "landlord_id": landlordID, "deleted": false}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(leasesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases for property %s: %w", propertyID.Hex(), err)
	}
	defer cursor.Close(ctx)

	leases := []models.Lease{}
	if err = cursor.All(ctx, &leases); err != nil {
		return nil, fmt.Errorf("failed to decode leases: %w", err)
	}
	return leases, nil
}

// ListForRenter lists a renter's leases. Legacy records address the renter
// either by email or by user ID, so the filter matches both forms of the
// tagged reference.
func (s *leaseService) ListForRenter(ctx context.Context, renterEmail string, renterID primitive.ObjectID) ([]models.Lease, error) {
	or := []bson.M{
		{"renter.kind": models.RenterRefByEmail, "renter.email": models.NormalizeEmail(renterEmail)},
	}
	if !renterID.IsZero() {
		or = append(or, bson.M{"renter.kind": models.RenterRefByID, "renter.user_id": renterID})
	}
	filter := bson.M{"$or": or, "deleted": false}
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.db.Collection(leasesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases for renter %s: %w", renterEmail, err)
	}
	defer cursor.Close(ctx)

	leases := []models.Lease{}
	if err = cursor.All(ctx, &leases); err != nil {
		return nil, fmt.Errorf("failed to decode leases: %w", err)
	}
	return leases, nil
}

// allowedLeaseTermFields are the term fields a landlord may edit before
// activation.
var allowedLeaseTermFields = map[string]bool{
	"start_date":     true,
	"end_date":       true,
	"monthly_rent":   true,
	"deposit_amount": true,
	"currency_code":  true,
	"document_key":   true,
}

// UpdateTerms edits the lease terms under the version token. Any term change
// invalidates both signatures so each party re-signs exactly the terms they
// saw; a stale version returns ErrStaleLease instead of silently overwriting.
func (s *leaseService) UpdateTerms(ctx context.Context, leaseID, landlordID primitive.ObjectID, version int64, updates bson.M) (*models.Lease, error) {
	lease, err := s.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.LandlordID != landlordID {
		return nil, mongo.ErrNoDocuments
	}
	if lease.Status == models.LeaseStatusActive || lease.Status == models.LeaseStatusExpired || lease.Status == models.LeaseStatusTerminated {
		return nil, fmt.Errorf("lease %s terms can no longer be edited", leaseID.Hex())
	}

	set := bson.M{}
	for field, value := range updates {
		if allowedLeaseTermFields[field] {
			set[field] = value
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no updatable fields provided")
	}
	now := time.Now().UTC()
	set["renter_signature"] = models.Signature{}
	set["landlord_signature"] = models.Signature{}
	set["status"] = models.LeaseStatusPendingSignature
	set["updated_at"] = now

	filter := bson.M{"_id": leaseID, "version": version, "deleted": false}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	result, err := s.db.Collection(leasesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error updating lease %s: %w", leaseID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrStaleLease
	}
	return s.FindByID(ctx, leaseID)
}

// Sign records one party's signature under the version token. The renter
// signing is their acceptance of the lease and advances their stage row; when
// both signatures are in, the parties are notified that the lease is complete
// and awaiting activation.
func (s *leaseService) Sign(ctx context.Context, leaseID primitive.ObjectID, party models.LeaseParty, version int64) (*models.Lease, error) {
	lease, err := s.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status != models.LeaseStatusPendingSignature {
		return nil, ErrLeaseNotPending
	}

	var field string
	switch party {
	case models.LeasePartyRenter:
		field = "renter_signature"
	case models.LeasePartyLandlord:
		field = "landlord_signature"
	default:
		return nil, fmt.Errorf("unknown lease party %q", party)
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": leaseID, "version": version, "deleted": false}
	update := bson.M{
		"$set": bson.M{
			field:        models.Signature{Signed: true, SignedAt: &now},
			"updated_at": now,
		},
		"$inc": bson.M{"version": 1},
	}
	result, err := s.db.Collection(leasesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error signing lease %s: %w", leaseID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrStaleLease
	}

	lease, err = s.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	if party == models.LeasePartyRenter {
		if err := s.effects.EnqueueStageAdvance(ctx,
			lease.PropertyID,
			lease.Renter,
			models.EventLeaseAccepted,
			models.StageRefs{LeaseID: lease.ID},
			StageDedupKey(models.EventLeaseAccepted, lease.ID),
		); err != nil {
			log.Printf("Warning: failed to enqueue stage advance for lease %s: %v", lease.ID.Hex(), err)
		}
	}

	if lease.FullySigned() {
		n := &models.Notification{
			Recipient: lease.Renter,
			Type:      models.NotificationLeaseCompleted,
			Title:     "Lease fully signed",
			Body:      "Both parties have signed the lease. It becomes active once the first payment clears.",
			Nav: models.NavTargetFor(models.NotificationLeaseCompleted, map[string]string{
				"leaseId": lease.ID.Hex(),
			}),
			PropertyID: lease.PropertyID,
			SubjectID:  lease.ID,
			CreatedAt:  now,
		}
		if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationLeaseCompleted, lease.ID)); err != nil {
			log.Printf("Warning: failed to enqueue lease-completed notification for %s: %v", lease.ID.Hex(), err)
		}
	}

	return lease, nil
}

// RejectByRenter records the renter declining the lease terms. The stage row
// moves to the flagged lease_rejected sibling; the lease stays open so the
// landlord can revise terms and the renter can re-sign.
func (s *leaseService) RejectByRenter(ctx context.Context, leaseID primitive.ObjectID, renterEmail, reason string) error {
	lease, err := s.FindByID(ctx, leaseID)
	if err != nil {
		return err
	}
	if lease.Status != models.LeaseStatusPendingSignature {
		return ErrLeaseNotPending
	}
	email, err := s.statusService.ResolveEmail(ctx, lease.Renter)
	if err != nil {
		return err
	}
	if email != models.NormalizeEmail(renterEmail) {
		return mongo.ErrNoDocuments
	}

	if err := s.effects.EnqueueStageAdvance(ctx,
		lease.PropertyID,
		lease.Renter,
		models.EventLeaseRejected,
		models.StageRefs{LeaseID: lease.ID},
		StageDedupKey(models.EventLeaseRejected, lease.ID),
	); err != nil {
		return fmt.Errorf("failed to enqueue lease rejection for %s: %w", lease.ID.Hex(), err)
	}

	now := time.Now().UTC()
	n := &models.Notification{
		Recipient: models.RenterRefFromID(lease.LandlordID),
		Type:      models.NotificationLeaseRejected,
		Title:     "Lease terms rejected",
		Body:      fmt.Sprintf("The renter declined the lease terms: %s", reason),
		Nav: models.NavTargetFor(models.NotificationLeaseRejected, map[string]string{
			"leaseId": lease.ID.Hex(),
		}),
		PropertyID: lease.PropertyID,
		SubjectID:  lease.ID,
		CreatedAt:  now,
	}
	if err := s.effects.EnqueueNotification(ctx, n, NotificationDedupKey(models.NotificationLeaseRejected, lease.ID)); err != nil {
		log.Printf("Warning: failed to enqueue lease-rejected notification for %s: %v", lease.ID.Hex(), err)
	}

	landlordEmail, err := s.statusService.ResolveEmail(ctx, models.RenterRefFromID(lease.LandlordID))
	if err != nil {
		log.Printf("Warning: cannot resolve landlord email for lease %s: %v", lease.ID.Hex(), err)
		return nil
	}
	if err := s.effects.EnqueueEmail(ctx, landlordEmail, "lease_rejected", map[string]interface{}{
		"leaseId": lease.ID.Hex(),
		"reason":  reason,
	}); err != nil {
		log.Printf("Warning: failed to enqueue lease-rejected email for %s: %v", lease.ID.Hex(), err)
	}
	return nil
}

// Activate moves a fully signed lease to active and advances the stage row to
// leased. Called once the first payment has cleared.
func (s *leaseService) Activate(ctx context.Context, leaseID, landlordID primitive.ObjectID) (*models.Lease, error) {
	lease, err := s.FindByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.LandlordID != landlordID {
		return nil, mongo.ErrNoDocuments
	}
	if lease.Status == models.LeaseStatusActive {
		return lease, nil
	}
	if !lease.FullySigned() {
		return nil, ErrLeaseNotFullySigned
	}

	now := time.Now().UTC()
	filter := bson.M{"_id": leaseID, "status": models.LeaseStatusPendingSignature, "deleted": false}
	update := bson.M{
		"$set": bson.M{"status": models.LeaseStatusActive, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}
	result, err := s.db.Collection(leasesCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error activating lease %s: %w", leaseID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrLeaseNotPending
	}

	if err := s.effects.EnqueueStageAdvance(ctx,
		lease.PropertyID,
		lease.Renter,
		models.EventLeaseActivated,
		models.StageRefs{LeaseID: lease.ID},
		StageDedupKey(models.EventLeaseActivated, lease.ID),
	); err != nil {
		log.Printf("Warning: failed to enqueue stage advance for lease %s: %v", lease.ID.Hex(), err)
	}

	return s.FindByID(ctx, leaseID)
}

// ExpireEnded marks active leases whose end date has passed as expired.
// Runs from the background sweep task.
func (s *leaseService) ExpireEnded(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":   models.LeaseStatusActive,
		"end_date": bson.M{"$lt": now},
		"deleted":  false,
	}
	update := bson.M{"$set": bson.M{"status": models.LeaseStatusExpired, "updated_at": now}}
	result, err := s.db.Collection(leasesCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("db error expiring leases: %w", err)
	}
	if result.ModifiedCount > 0 {
		log.Printf("Expired %d ended leases", result.ModifiedCount)
	}
	return result.ModifiedCount, nil
}

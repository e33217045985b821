package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/models"
)

// ErrRebuildInProgress is returned by Advance when a rebuild holds the
// per-property lock. The effects worker retries the task later.
var ErrRebuildInProgress = errors.New("renter status rebuild in progress for property")

// errVersionConflict signals an optimistic concurrency miss; the advance loop
// re-reads and retries.
var errVersionConflict = errors.New("renter status version conflict")

// IRenterStatusService is the renter-lifecycle reconciler: it keeps the
// denormalized pipeline-stage row per (property, renter email) consistent as
// invitation/application/lease/payment events arrive.
type IRenterStatusService interface {
	Advance(ctx context.Context, propertyID primitive.ObjectID, ref models.RenterRef, event models.StageEvent, refs models.StageRefs) (*models.RenterStatus, error)
	BoardForProperty(ctx context.Context, propertyID primitive.ObjectID) ([]models.RenterStatus, error)
	BoardForLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.RenterStatus, error)
	Rebuild(ctx context.Context, propertyID primitive.ObjectID) ([]models.RenterStatus, error)
	ResolveEmail(ctx context.Context, ref models.RenterRef) (string, error)
}

const renterStatusCollection = "renter_statuses"

// renterStatusService implements IRenterStatusService.
type renterStatusService struct {
	db          *mongo.Database
	cfg         *config.Config
	rdb         *redis.Client
	userService IUserService
}

// NewRenterStatusService creates a new RenterStatusService. rdb may be nil in
// tests; the rebuild lock is then skipped.
func NewRenterStatusService(database *mongo.Database, cfg *config.Config, rdb *redis.Client, userService IUserService) IRenterStatusService {
	return &renterStatusService{db: database, cfg: cfg, rdb: rdb, userService: userService}
}

// ResolveEmail resolves a RenterRef to the canonical renter email. ByID refs
// are looked up in the users collection; this is the only place the two
// addressing schemes meet.
func (s *renterStatusService) ResolveEmail(ctx context.Context, ref models.RenterRef) (string, error) {
	switch ref.Kind {
	case models.RenterRefByEmail:
		if ref.Email == "" {
			return "", fmt.Errorf("renter ref has empty email")
		}
		return models.NormalizeEmail(ref.Email), nil
	case models.RenterRefByID:
		user, err := s.userService.FindByID(ctx, ref.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve renter ref %s: %w", ref.UserID.Hex(), err)
		}
		return models.NormalizeEmail(user.Email), nil
	default:
		return "", fmt.Errorf("unresolvable renter ref kind %q", ref.Kind)
	}
}

// rebuildLockKey is the redis key guarding rebuilds of one property's rows.
func rebuildLockKey(propertyID primitive.ObjectID) string {
	return "renterstatus:rebuild:" + propertyID.Hex()
}

// rebuildLocked reports whether a rebuild currently holds the property lock.
func (s *renterStatusService) rebuildLocked(ctx context.Context, propertyID primitive.ObjectID) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, rebuildLockKey(propertyID)).Result()
	if err != nil {
		// Redis trouble must not block stage advancement; log and proceed.
		log.Printf("Warning: rebuild lock check failed for property %s: %v", propertyID.Hex(), err)
		return false
	}
	return n > 0
}

// Advance applies one stage event to the (property, renter) row. The stage
// only moves forward by rank; application approval/rejection and duplicate
// event deliveries update notes and back-references without regressing the
// stage. Concurrent writers are serialized by the row's version token.
func (s *renterStatusService) Advance(ctx context.Context, propertyID primitive.ObjectID, ref models.RenterRef, event models.StageEvent, refs models.StageRefs) (*models.RenterStatus, error) {
	email, err := s.ResolveEmail(ctx, ref)
	if err != nil {
		return nil, err
	}
	target, err := models.StageForEvent(event)
	if err != nil {
		return nil, err
	}
	if s.rebuildLocked(ctx, propertyID) {
		return nil, ErrRebuildInProgress
	}

	var result *models.RenterStatus
	operation := func() error {
		row, err := s.findCurrentRow(ctx, propertyID, email)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}

		if row == nil {
			created, insertErr := s.insertRow(ctx, propertyID, email, target, event, refs)
			if insertErr != nil {
				return insertErr
			}
			result = created
			return nil
		}

		updated, updateErr := s.updateRow(ctx, row, target, event, refs)
		if updateErr != nil {
			return updateErr
		}
		result = updated
		return nil
	}

	retryable := func(err error) bool {
		return errors.Is(err, errVersionConflict) || db.IsMongoDuplicateKeyError(err)
	}
	if err := db.WithRetries(operation, db.DefaultMaxRetries, retryable); err != nil {
		return nil, fmt.Errorf("failed to advance renter status for %s on property %s: %w", email, propertyID.Hex(), err)
	}
	return result, nil
}

// findCurrentRow returns the row for (property, email). When duplicates exist
// (legacy data, interrupted rebuilds) the highest-rank row wins.
func (s *renterStatusService) findCurrentRow(ctx context.Context, propertyID primitive.ObjectID, email string) (*models.RenterStatus, error) {
	collection := s.db.Collection(renterStatusCollection)
	filter := bson.M{"property_id": propertyID, "renter_email": email}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error querying renter status rows: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.RenterStatus
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding renter status rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, mongo.ErrNoDocuments
	}

	best := rows[0]
	for _, row := range rows[1:] {
		if row.Stage.Rank() > best.Stage.Rank() {
			best = row
		}
	}
	return &best, nil
}

func (s *renterStatusService) insertRow(ctx context.Context, propertyID primitive.ObjectID, email string, stage models.Stage, event models.StageEvent, refs models.StageRefs) (*models.RenterStatus, error) {
	now := time.Now().UTC()
	row := &models.RenterStatus{
		PropertyID:    propertyID,
		RenterEmail:   email,
		Stage:         stage,
		Flagged:       stage == models.StageLeaseRejected,
		Notes:         noteForEvent(event),
		InvitationID:  refs.InvitationID,
		ApplicationID: refs.ApplicationID,
		LeaseID:       refs.LeaseID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	doc, err := db.InsertOne(ctx, s.db.Collection(renterStatusCollection), row)
	if err != nil {
		return nil, err
	}
	return doc.(*models.RenterStatus), nil
}

// updateRow applies the target stage to an existing row under its version
// token. Lower-rank events only refresh notes and back-references.
func (s *renterStatusService) updateRow(ctx context.Context, row *models.RenterStatus, target models.Stage, event models.StageEvent, refs models.StageRefs) (*models.RenterStatus, error) {
	collection := s.db.Collection(renterStatusCollection)
	now := time.Now().UTC()

	newStage := row.Stage
	flagged := row.Flagged
	if target.Rank() > row.Stage.Rank() {
		newStage = target
		flagged = target == models.StageLeaseRejected
	} else if target.Rank() == row.Stage.Rank() && target != row.Stage {
		// lease <-> lease_rejected sibling transition at equal rank.
		newStage = target
		flagged = target == models.StageLeaseRejected
	}

	set := bson.M{
		"stage":      newStage,
		"flagged":    flagged,
		"notes":      noteForEvent(event),
		"updated_at": now,
	}
	if !refs.InvitationID.IsZero() {
		set["invitation_id"] = refs.InvitationID
	}
	if !refs.ApplicationID.IsZero() {
		set["application_id"] = refs.ApplicationID
	}
	if !refs.LeaseID.IsZero() {
		set["lease_id"] = refs.LeaseID
	}

	filter := bson.M{"_id": row.ID, "version": row.Version}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("db error updating renter status %s: %w", row.ID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return nil, errVersionConflict
	}

	updated := *row
	updated.Stage = newStage
	updated.Flagged = flagged
	updated.Notes = noteForEvent(event)
	updated.Version = row.Version + 1
	updated.UpdatedAt = now
	if !refs.InvitationID.IsZero() {
		updated.InvitationID = refs.InvitationID
	}
	if !refs.ApplicationID.IsZero() {
		updated.ApplicationID = refs.ApplicationID
	}
	if !refs.LeaseID.IsZero() {
		updated.LeaseID = refs.LeaseID
	}
	return &updated, nil
}

func noteForEvent(event models.StageEvent) string {
	switch event {
	case models.EventApplicationApproved:
		return "application approved"
	case models.EventApplicationRejected:
		return "application rejected"
	case models.EventLeaseRejected:
		return "lease rejected by renter"
	default:
		return string(event)
	}
}

// BoardForProperty returns the deduplicated status board for one property:
// for each renter email, only the highest-rank row.
func (s *renterStatusService) BoardForProperty(ctx context.Context, propertyID primitive.ObjectID) ([]models.RenterStatus, error) {
	rows, err := s.rowsForFilter(ctx, bson.M{"property_id": propertyID})
	if err != nil {
		return nil, err
	}
	return models.DedupHighestRank(rows), nil
}

// BoardForLandlord returns the deduplicated board across all of the
// landlord's properties. Dedup is applied per property.
func (s *renterStatusService) BoardForLandlord(ctx context.Context, landlordID primitive.ObjectID) ([]models.RenterStatus, error) {
	propCollection := s.db.Collection(propertiesCollection)
	cursor, err := propCollection.Find(ctx, bson.M{"landlord_id": landlordID, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to query landlord properties: %w", err)
	}
	defer cursor.Close(ctx)

	var props []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &props); err != nil {
		return nil, fmt.Errorf("failed to decode landlord properties: %w", err)
	}

	board := []models.RenterStatus{}
	for _, p := range props {
		rows, err := s.BoardForProperty(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		board = append(board, rows...)
	}
	return board, nil
}

// Rebuild deletes every stage row for a property and regenerates them from
// source records: one row per accepted invitation, one per application
// (approved applications map to the lease stage), one per active lease.
// The per-property redis lock makes the rebuild exclusive against concurrent
// Advance calls.
func (s *renterStatusService) Rebuild(ctx context.Context, propertyID primitive.ObjectID) ([]models.RenterStatus, error) {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, rebuildLockKey(propertyID), "1", s.cfg.RebuildLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to take rebuild lock for property %s: %w", propertyID.Hex(), err)
		}
		if !ok {
			return nil, ErrRebuildInProgress
		}
		defer func() {
			if err := s.rdb.Del(context.Background(), rebuildLockKey(propertyID)).Err(); err != nil {
				log.Printf("Warning: failed to release rebuild lock for property %s: %v", propertyID.Hex(), err)
			}
		}()
	}

	collection := s.db.Collection(renterStatusCollection)
	if _, err := collection.DeleteMany(ctx, bson.M{"property_id": propertyID}); err != nil {
		return nil, fmt.Errorf("failed to clear renter status rows for property %s: %w", propertyID.Hex(), err)
	}

	now := time.Now().UTC()
	rows := []models.RenterStatus{}

	// Accepted invitations -> invite stage.
	invCursor, err := s.db.Collection(invitationsCollection).Find(ctx, bson.M{
		"property_id": propertyID,
		"status":      models.InvitationStatusAccepted,
		"deleted":     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query invitations for rebuild: %w", err)
	}
	var invitations []models.Invitation
	if err = invCursor.All(ctx, &invitations); err != nil {
		return nil, fmt.Errorf("failed to decode invitations for rebuild: %w", err)
	}
	for _, inv := range invitations {
		rows = append(rows, models.RenterStatus{
			PropertyID:   propertyID,
			RenterEmail:  models.NormalizeEmail(inv.RenterEmail),
			Stage:        models.StageInvite,
			InvitationID: inv.ID,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	// Applications -> lease stage if approved, else application stage.
	appCursor, err := s.db.Collection(applicationsCollection).Find(ctx, bson.M{
		"property_id": propertyID,
		"deleted":     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query applications for rebuild: %w", err)
	}
	var applications []models.Application
	if err = appCursor.All(ctx, &applications); err != nil {
		return nil, fmt.Errorf("failed to decode applications for rebuild: %w", err)
	}
	for _, app := range applications {
		stage := models.StageApplication
		if app.Status == models.ApplicationStatusApproved {
			stage = models.StageLease
		}
		rows = append(rows, models.RenterStatus{
			PropertyID:    propertyID,
			RenterEmail:   models.NormalizeEmail(app.RenterEmail),
			Stage:         stage,
			InvitationID:  app.InvitationID,
			ApplicationID: app.ID,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	// Active leases -> leased stage.
	leaseCursor, err := s.db.Collection(leasesCollection).Find(ctx, bson.M{
		"property_id": propertyID,
		"status":      models.LeaseStatusActive,
		"deleted":     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query leases for rebuild: %w", err)
	}
	var leases []models.Lease
	if err = leaseCursor.All(ctx, &leases); err != nil {
		return nil, fmt.Errorf("failed to decode leases for rebuild: %w", err)
	}
	for _, lease := range leases {
		email, resolveErr := s.ResolveEmail(ctx, lease.Renter)
		if resolveErr != nil {
			log.Printf("Warning: skipping lease %s in rebuild, unresolvable renter: %v", lease.ID.Hex(), resolveErr)
			continue
		}
		rows = append(rows, models.RenterStatus{
			PropertyID:  propertyID,
			RenterEmail: email,
			Stage:       models.StageLeased,
			LeaseID:     lease.ID,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	inserted := make([]models.RenterStatus, 0, len(rows))
	for i := range rows {
		doc, err := db.InsertOne(ctx, collection, &rows[i])
		if err != nil {
			return nil, fmt.Errorf("failed to insert rebuilt renter status row: %w", err)
		}
		inserted = append(inserted, *doc.(*models.RenterStatus))
	}

	log.Printf("Rebuilt %d renter status rows for property %s", len(inserted), propertyID.Hex())
	return inserted, nil
}

func (s *renterStatusService) rowsForFilter(ctx context.Context, filter bson.M) ([]models.RenterStatus, error) {
	collection := s.db.Collection(renterStatusCollection)
	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query renter status rows: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.RenterStatus
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode renter status rows: %w", err)
	}
	return rows, nil
}

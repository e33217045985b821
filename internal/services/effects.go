package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"rentfold/rf/internal/models"
)

// IEffectsQueue is the outbox boundary. Mutating services never apply
// secondary effects (stage reconciliation, notifications, emails) inline:
// they enqueue durable tasks carrying a deterministic idempotency key, and
// the background worker applies them with retries. A failed primary mutation
// therefore never leaves a half-applied effect, and a retried enqueue cannot
// double-apply.
//
// Implemented by tasks.Client over asynq; tests substitute a synchronous fake.
type IEffectsQueue interface {
	EnqueueStageAdvance(ctx context.Context, propertyID primitive.ObjectID, ref models.RenterRef, event models.StageEvent, refs models.StageRefs, dedupKey string) error
	EnqueueNotification(ctx context.Context, n *models.Notification, dedupKey string) error
	EnqueueEmail(ctx context.Context, to, templateID string, data map[string]interface{}) error
}

// StageDedupKey builds the idempotency key for a stage-advance effect from
// the event and the record that triggered it.
func StageDedupKey(event models.StageEvent, subjectID primitive.ObjectID) string {
	return "stage:" + string(event) + ":" + subjectID.Hex()
}

// NotificationDedupKey builds the idempotency key for a notification effect.
func NotificationDedupKey(t models.NotificationType, subjectID primitive.ObjectID) string {
	return "notify:" + string(t) + ":" + subjectID.Hex()
}

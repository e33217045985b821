package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentfold/rf/internal/models"
	"rentfold/rf/internal/payments"
)

// fakeEffectsQueue records enqueued effects for assertions. Shared by the
// service tests in this package.
type stageAdvanceCall struct {
	PropertyID primitive.ObjectID
	Ref        models.RenterRef
	Event      models.StageEvent
	Refs       models.StageRefs
	DedupKey   string
}

type emailCall struct {
	To         string
	TemplateID string
	Data       map[string]interface{}
}

type fakeEffectsQueue struct {
	stageAdvances []stageAdvanceCall
	notifications []*models.Notification
	emails        []emailCall
	failStage     error
}

func (q *fakeEffectsQueue) EnqueueStageAdvance(ctx context.Context, propertyID primitive.ObjectID, ref models.RenterRef, event models.StageEvent, refs models.StageRefs, dedupKey string) error {
	if q.failStage != nil {
		return q.failStage
	}
	q.stageAdvances = append(q.stageAdvances, stageAdvanceCall{propertyID, ref, event, refs, dedupKey})
	return nil
}

func (q *fakeEffectsQueue) EnqueueNotification(ctx context.Context, n *models.Notification, dedupKey string) error {
	q.notifications = append(q.notifications, n)
	return nil
}

func (q *fakeEffectsQueue) EnqueueEmail(ctx context.Context, to, templateID string, data map[string]interface{}) error {
	q.emails = append(q.emails, emailCall{to, templateID, data})
	return nil
}

// fakeGateway is a deterministic payment gateway: every intent succeeds unless
// decline is set.
type fakeGateway struct {
	decline  bool
	intents  int
	confirms int
	amounts  []float64
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount float64, currency, reference string) (*payments.Intent, error) {
	g.intents++
	g.amounts = append(g.amounts, amount)
	return &payments.Intent{ID: "int_test", Amount: amount, Currency: currency}, nil
}

func (g *fakeGateway) ConfirmIntent(ctx context.Context, intentID string) (*payments.Confirmation, error) {
	g.confirms++
	if g.decline {
		return nil, payments.ErrPaymentDeclined
	}
	return &payments.Confirmation{IntentID: intentID, Status: "succeeded", TransactionID: "txn_test"}, nil
}

func TestDedupKeys(t *testing.T) {
	id := primitive.NewObjectID()

	k1 := StageDedupKey(models.EventInvitationAccepted, id)
	k2 := StageDedupKey(models.EventInvitationAccepted, id)
	assert.Equal(t, k1, k2, "same event and subject must produce the same key")
	assert.Equal(t, "stage:invitation_accepted:"+id.Hex(), k1)

	other := StageDedupKey(models.EventApplicationSubmitted, id)
	assert.NotEqual(t, k1, other)

	nk := NotificationDedupKey(models.NotificationPaymentReceived, id)
	assert.Equal(t, "notify:payment_received:"+id.Hex(), nk)
}

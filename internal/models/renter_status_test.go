package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStageRanks_TotalOrder(t *testing.T) {
	assert.Equal(t, 0, StageInvite.Rank())
	assert.Equal(t, 1, StageApplication.Rank())
	assert.Equal(t, 2, StageLease.Rank())
	assert.Equal(t, 2, StageLeaseRejected.Rank()) // sibling of lease, not a regression
	assert.Equal(t, 3, StageAccepted.Rank())
	assert.Equal(t, 4, StagePayment.Rank())
	assert.Equal(t, 5, StageLeased.Rank())
	assert.Equal(t, -1, Stage("bogus").Rank())
}

func TestStageForEvent_ApprovalKeepsApplicationStage(t *testing.T) {
	for _, ev := range []StageEvent{EventApplicationSubmitted, EventApplicationApproved, EventApplicationRejected} {
		stage, err := StageForEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, StageApplication, stage, "event %s", ev)
	}
}

func TestStageForEvent_Unknown(t *testing.T) {
	_, err := StageForEvent(StageEvent("nope"))
	assert.Error(t, err)
}

func TestDedupHighestRank(t *testing.T) {
	pid := primitive.NewObjectID()
	rows := []RenterStatus{
		{PropertyID: pid, RenterEmail: "a@x.com", Stage: StageApplication},
		{PropertyID: pid, RenterEmail: "b@x.com", Stage: StageInvite},
		{PropertyID: pid, RenterEmail: "A@X.com", Stage: StageAccepted}, // same renter, different case
		{PropertyID: pid, RenterEmail: "a@x.com", Stage: StageInvite},
	}

	out := DedupHighestRank(rows)
	require.Len(t, out, 2)
	assert.Equal(t, StageAccepted, out[0].Stage)
	assert.Equal(t, "b@x.com", out[1].RenterEmail)
}

func TestDedupHighestRank_LeaseRejectedDoesNotOutrankAccepted(t *testing.T) {
	pid := primitive.NewObjectID()
	rows := []RenterStatus{
		{PropertyID: pid, RenterEmail: "a@x.com", Stage: StageAccepted},
		{PropertyID: pid, RenterEmail: "a@x.com", Stage: StageLeaseRejected, Flagged: true},
	}
	out := DedupHighestRank(rows)
	require.Len(t, out, 1)
	assert.Equal(t, StageAccepted, out[0].Stage)
}

func TestParseRenterRef(t *testing.T) {
	ref, err := ParseRenterRef("  Renter@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, RenterRefByEmail, ref.Kind)
	assert.Equal(t, "renter@example.com", ref.Email)

	id := primitive.NewObjectID()
	ref, err = ParseRenterRef(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, RenterRefByID, ref.Kind)
	assert.Equal(t, id, ref.UserID)

	_, err = ParseRenterRef("")
	assert.Error(t, err)

	_, err = ParseRenterRef("not-an-id-or-email")
	assert.Error(t, err)
}

func TestNavTargetFor(t *testing.T) {
	nav := NavTargetFor(NotificationApplicationApproved, map[string]string{"applicationId": "abc"})
	assert.Equal(t, "/applications", nav.Page)
	assert.Equal(t, "abc", nav.Params["applicationId"])

	nav = NavTargetFor(NotificationType("unknown"), nil)
	assert.Equal(t, "/dashboard", nav.Page)
}

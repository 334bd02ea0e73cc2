package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsplit/mailsplit/internal/store"
)

// completedExperiment seeds contacts, an experiment completed with a winner,
// and assignments for the first `tested` contacts.
func completedExperiment(t *testing.T, s *store.SQLiteStore, contacts, tested int) (*store.Experiment, []*store.Variant) {
	t.Helper()
	ctx := context.Background()
	seedContacts(t, s, contacts)

	exp, variants := fixtureExperiment(false)
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	var assignments []*store.Assignment
	for i := 0; i < tested; i++ {
		assignments = append(assignments, &store.Assignment{
			ID:           uuid.NewString(),
			ExperimentID: exp.ID,
			Recipient:    fmt.Sprintf("contact%d@example.com", i),
			VariantID:    variants[i%2].ID,
		})
	}
	require.NoError(t, s.CreateAssignments(ctx, assignments))

	now := time.Now()
	exp.Status = store.StatusCompleted
	exp.CompletedAt = &now
	exp.WinnerDeclaredAt = &now
	exp.WinningVariantID = variants[1].ID
	require.NoError(t, s.UpdateExperiment(ctx, exp))

	return exp, variants
}

func TestRollout_ExcludesTestedRecipients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp, variants := completedExperiment(t, s, 10, 4)

	eng := newTestEngine(t, s)
	defer eng.Close()

	summary, err := eng.Rollout(ctx, exp.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, variants[1].ID, summary.VariantID)
	assert.Equal(t, "Subject 1", summary.Subject)
	assert.Len(t, summary.Recipients, 6)

	assigned, err := s.ListAssignedRecipients(ctx, exp.ID)
	require.NoError(t, err)
	tested := make(map[string]bool)
	for _, r := range assigned {
		tested[r] = true
	}
	for _, r := range summary.Recipients {
		assert.False(t, tested[r], "tested recipient %s must not be rolled out to", r)
	}

	// The handoff artifact is materialized in the queue.
	entries, err := s.ListQueueEntries(ctx, summary.CampaignID)
	require.NoError(t, err)
	assert.Len(t, entries, 6)

	insights, err := s.ListInsights(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "rollout_executed", insights[0].Type)
	assert.Equal(t, float64(6), insights[0].Data["recipientCount"])
}

func TestRollout_PercentageCap(t *testing.T) {
	s := newTestStore(t)
	exp, _ := completedExperiment(t, s, 10, 4)

	eng := newTestEngine(t, s)
	defer eng.Close()

	// floor(6 * 50 / 100) = 3
	summary, err := eng.Rollout(context.Background(), exp.ID, 50)
	require.NoError(t, err)
	assert.Len(t, summary.Recipients, 3)
}

func TestRollout_SecondRunRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exp, _ := completedExperiment(t, s, 10, 4)

	eng := newTestEngine(t, s)
	defer eng.Close()

	_, err := eng.Rollout(ctx, exp.ID, 100)
	require.NoError(t, err)

	_, err = eng.Rollout(ctx, exp.ID, 100)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRollout_RequiresCompletedWithWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedContacts(t, s, 5)

	exp, variants := fixtureExperiment(false)
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))
	exp.Status = store.StatusActive
	require.NoError(t, s.UpdateExperiment(ctx, exp))

	eng := newTestEngine(t, s)
	defer eng.Close()

	_, err := eng.Rollout(ctx, exp.ID, 100)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRollout_EngagementRangeNotReapplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two cold contacts (score 0) and one engaged.
	require.NoError(t, s.UpsertContact(ctx, &store.Contact{
		OwnerID: testOwner, Email: "cold1@example.com", Status: "active", LifetimeSent: 10,
	}))
	require.NoError(t, s.UpsertContact(ctx, &store.Contact{
		OwnerID: testOwner, Email: "cold2@example.com", Status: "active", LifetimeSent: 10,
	}))
	require.NoError(t, s.UpsertContact(ctx, &store.Contact{
		OwnerID: testOwner, Email: "hot@example.com", Status: "active",
		LifetimeSent: 10, LifetimeOpened: 10, LifetimeClicked: 10,
	}))

	exp, variants := fixtureExperiment(false)
	min := 50.0
	exp.Config.Audience.Filters.EngagementMin = &min
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	// Only the engaged contact was tested.
	require.NoError(t, s.CreateAssignments(ctx, []*store.Assignment{
		{ID: uuid.NewString(), ExperimentID: exp.ID, Recipient: "hot@example.com", VariantID: variants[1].ID},
	}))

	now := time.Now()
	exp.Status = store.StatusCompleted
	exp.CompletedAt = &now
	exp.WinningVariantID = variants[1].ID
	require.NoError(t, s.UpdateExperiment(ctx, exp))

	eng := newTestEngine(t, s)
	defer eng.Close()

	summary, err := eng.Rollout(ctx, exp.ID, 100)
	require.NoError(t, err)

	// The engagement filter is dropped at rollout time, so the cold
	// contacts are part of the remainder.
	assert.ElementsMatch(t, []string{"cold1@example.com", "cold2@example.com"}, summary.Recipients)
}

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func draftExperiment(owner string) (*Experiment, []*Variant) {
	exp := &Experiment{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Name:    "subject-test",
		Type:    TypeSubjectLine,
		Status:  StatusDraft,
		Config: TestConfiguration{
			Audience: AudienceSettings{TestPercentage: 20},
			Metrics:  SuccessMetrics{Primary: MetricOpenRate},
			Statistics: StatisticalSettings{
				ConfidenceLevel: 95,
			},
		},
	}
	variants := []*Variant{
		{ID: uuid.NewString(), Name: "Control", IsControl: true, TrafficAllocation: 50,
			Campaign: CampaignConfig{Subject: "Hello"}},
		{ID: uuid.NewString(), Name: "Challenger", TrafficAllocation: 50,
			Campaign: CampaignConfig{Subject: "Hey there"}},
	}
	return exp, variants
}

func TestExperimentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.Name, got.Name)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, MetricOpenRate, got.Config.Metrics.Primary)
	assert.Equal(t, 95, got.Config.Statistics.ConfidenceLevel)
	assert.Nil(t, got.StartedAt)

	vs, err := s.GetVariants(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.True(t, vs[0].IsControl)
	assert.Equal(t, "Hey there", vs[1].Campaign.Subject)
	assert.Equal(t, 1, vs[1].Position)
}

func TestGetExperiment_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetExperiment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateExperiment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	exp.Status = StatusActive
	started := exp.CreatedAt
	exp.StartedAt = &started
	require.NoError(t, s.UpdateExperiment(ctx, exp))

	got, err := s.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, started.Unix(), got.StartedAt.Unix())
}

func TestListExperiments_ScopedToOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mine, mineVars := draftExperiment("acct-1")
	other, otherVars := draftExperiment("acct-2")
	require.NoError(t, s.CreateExperiment(ctx, mine, mineVars))
	require.NoError(t, s.CreateExperiment(ctx, other, otherVars))

	exps, err := s.ListExperiments(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, mine.ID, exps[0].ID)
}

func TestAssignmentLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	a := &Assignment{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		Recipient:    "user@example.com",
		VariantID:    variants[0].ID,
	}
	require.NoError(t, s.CreateAssignments(ctx, []*Assignment{a}))

	got, err := s.GetAssignment(ctx, exp.ID, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, variants[0].ID, got.VariantID)

	// The initial assigned event is written with the assignment.
	events, err := s.ListVariantEvents(ctx, exp.ID, variants[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAssigned, events[0].Type)

	require.NoError(t, s.AppendEvent(ctx, a.ID, EventSent, nil))
	require.NoError(t, s.AppendEvent(ctx, a.ID, EventDelivered, nil))
	require.NoError(t, s.AppendEvent(ctx, a.ID, EventOpened, map[string]string{"client": "gmail"}))

	events, err = s.ListVariantEvents(ctx, exp.ID, variants[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, EventOpened, events[3].Type)
	assert.Equal(t, "gmail", events[3].Metadata["client"])

	recipients, err := s.ListAssignedRecipients(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user@example.com"}, recipients)
}

func TestFindActiveAssignments_OnlyActiveExperiments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active, activeVars := draftExperiment("acct-1")
	draft, draftVars := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, active, activeVars))
	require.NoError(t, s.CreateExperiment(ctx, draft, draftVars))

	active.Status = StatusActive
	require.NoError(t, s.UpdateExperiment(ctx, active))

	recipient := "shared@example.com"
	require.NoError(t, s.CreateAssignments(ctx, []*Assignment{
		{ID: uuid.NewString(), ExperimentID: active.ID, Recipient: recipient, VariantID: activeVars[0].ID},
		{ID: uuid.NewString(), ExperimentID: draft.ID, Recipient: recipient, VariantID: draftVars[0].ID},
	}))

	found, err := s.FindActiveAssignments(ctx, recipient)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, active.ID, found[0].ExperimentID)
}

func TestResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	res := &Result{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		VariantID:    variants[1].ID,
		Analysis:     Analysis{SampleSize: 120},
	}
	require.NoError(t, s.CreateResult(ctx, res))

	metrics := VariantMetrics{Sent: 120, Delivered: 110, Opened: 44}
	rates := VariantRates{Delivery: 91.67, Open: 40}
	require.NoError(t, s.UpdateResultMetrics(ctx, exp.ID, variants[1].ID, metrics, rates))

	p := 0.03
	analysis := Analysis{SampleSize: 120, PValue: &p, Significant: true, Lift: 21.5}
	require.NoError(t, s.UpdateResultAnalysis(ctx, exp.ID, variants[1].ID, analysis))

	got, err := s.GetResult(ctx, exp.ID, variants[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 44, got.Metrics.Opened)
	assert.InDelta(t, 40.0, got.Rates.Open, 0.001)
	assert.True(t, got.Analysis.Significant)
	require.NotNil(t, got.Analysis.PValue)
	assert.InDelta(t, 0.03, *got.Analysis.PValue, 1e-9)
}

func TestUpdateResult_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateResultAnalysis(context.Background(), "exp", "variant", Analysis{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsights(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	in := &Insight{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		Type:         "winner_declared",
		Description:  "Variant B declared winner",
		Data:         map[string]any{"variantId": variants[1].ID},
	}
	require.NoError(t, s.CreateInsight(ctx, in))

	insights, err := s.ListInsights(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "winner_declared", insights[0].Type)
	assert.Equal(t, variants[1].ID, insights[0].Data["variantId"])
}

func TestContacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContact(ctx, &Contact{
		OwnerID: "acct-1", Email: "a@x.com", Status: "active",
		Company: "Acme", Tags: []string{"vip"}, LifetimeSent: 10, LifetimeOpened: 5,
	}))
	require.NoError(t, s.UpsertContact(ctx, &Contact{
		OwnerID: "acct-1", Email: "b@x.com", Status: "unsubscribed",
	}))

	active, err := s.ListActiveContacts(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a@x.com", active[0].Email)
	assert.Equal(t, []string{"vip"}, active[0].Tags)

	// Upsert overwrites in place.
	require.NoError(t, s.UpsertContact(ctx, &Contact{
		OwnerID: "acct-1", Email: "a@x.com", Status: "active", Company: "Globex",
	}))
	found, err := s.LookupContacts(ctx, "acct-1", []string{"a@x.com", "missing@x.com"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Globex", found[0].Company)
}

func TestCampaignAndQueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp, variants := draftExperiment("acct-1")
	require.NoError(t, s.CreateExperiment(ctx, exp, variants))

	_, err := s.GetCampaignByExperiment(ctx, exp.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	c := &Campaign{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		VariantID:    variants[1].ID,
		Subject:      "Hey there",
	}
	recipients := []string{"x@x.com", "y@x.com", "z@x.com"}
	require.NoError(t, s.CreateCampaign(ctx, c, recipients))
	assert.Equal(t, 3, c.RecipientCount)

	got, err := s.GetCampaignByExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	entries, err := s.ListQueueEntries(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "queued", entries[0].Status)
	assert.Equal(t, "x@x.com", entries[0].Recipient)
}

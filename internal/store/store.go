package store

import "context"

// Store defines the interface for experiment storage operations.
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, exp *Experiment, variants []*Variant) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context, ownerID string) ([]*Experiment, error)
	UpdateExperiment(ctx context.Context, exp *Experiment) error

	// Variant operations
	GetVariants(ctx context.Context, experimentID string) ([]*Variant, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
	SetVariantRecipients(ctx context.Context, variantID string, recipients []string) error

	// Assignment ledger
	CreateAssignments(ctx context.Context, assignments []*Assignment) error
	GetAssignment(ctx context.Context, experimentID, recipient string) (*Assignment, error)
	ListAssignedRecipients(ctx context.Context, experimentID string) ([]string, error)
	AppendEvent(ctx context.Context, assignmentID string, eventType EventType, metadata map[string]string) error
	ListVariantEvents(ctx context.Context, experimentID, variantID string) ([]AssignmentEvent, error)
	FindActiveAssignments(ctx context.Context, recipient string) ([]ActiveAssignment, error)

	// Results
	CreateResult(ctx context.Context, res *Result) error
	GetResult(ctx context.Context, experimentID, variantID string) (*Result, error)
	GetResults(ctx context.Context, experimentID string) ([]*Result, error)
	UpdateResultMetrics(ctx context.Context, experimentID, variantID string, metrics VariantMetrics, rates VariantRates) error
	UpdateResultAnalysis(ctx context.Context, experimentID, variantID string, analysis Analysis) error

	// Insights
	CreateInsight(ctx context.Context, insight *Insight) error
	ListInsights(ctx context.Context, experimentID string) ([]*Insight, error)

	// Audience store
	UpsertContact(ctx context.Context, contact *Contact) error
	ListActiveContacts(ctx context.Context, ownerID string) ([]*Contact, error)
	LookupContacts(ctx context.Context, ownerID string, emails []string) ([]*Contact, error)

	// Campaign/queue handoff
	CreateCampaign(ctx context.Context, campaign *Campaign, recipients []string) error
	GetCampaignByExperiment(ctx context.Context, experimentID string) (*Campaign, error)
	ListQueueEntries(ctx context.Context, campaignID string) ([]*QueueEntry, error)

	// Lifecycle
	Close() error
}

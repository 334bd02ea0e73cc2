package store

import "time"

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
)

type ExperimentType string

const (
	TypeSubjectLine  ExperimentType = "subject_line"
	TypeContent      ExperimentType = "content"
	TypeSendTime     ExperimentType = "send_time"
	TypeFromName     ExperimentType = "from_name"
	TypeMultivariate ExperimentType = "multivariate"
)

// Metric names a success metric tracked per variant.
type Metric string

const (
	MetricOpenRate       Metric = "open_rate"
	MetricClickRate      Metric = "click_rate"
	MetricConversionRate Metric = "conversion_rate"
	MetricRevenue        Metric = "revenue"
	MetricEngagementTime Metric = "engagement_time"
)

// EventType is one entry kind in an assignment's event log.
type EventType string

const (
	EventAssigned     EventType = "assigned"
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventConverted    EventType = "converted"
	EventUnsubscribed EventType = "unsubscribed"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
)

// Experiment is one A/B test. Config is fixed once the experiment leaves draft.
type Experiment struct {
	ID               string
	OwnerID          string
	Name             string
	Description      string
	Type             ExperimentType
	Status           ExperimentStatus
	Config           TestConfiguration // Decoded from JSON
	WinningVariantID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	WinnerDeclaredAt *time.Time
}

type TestConfiguration struct {
	Audience   AudienceSettings    `json:"audience"`
	Metrics    SuccessMetrics      `json:"metrics"`
	Statistics StatisticalSettings `json:"statistics"`
	Bayesian   *BayesianSettings   `json:"bayesian,omitempty"`
}

type AudienceSettings struct {
	TotalAudience  int            `json:"totalAudience,omitempty"`
	TestPercentage float64        `json:"testPercentage"`
	Filters        SegmentFilters `json:"filters"`
}

type SegmentFilters struct {
	Tags          []string `json:"tags,omitempty"`
	Companies     []string `json:"companies,omitempty"`
	EngagementMin *float64 `json:"engagementMin,omitempty"`
	EngagementMax *float64 `json:"engagementMax,omitempty"`
}

type SuccessMetrics struct {
	Primary         Metric   `json:"primary"`
	Secondary       []Metric `json:"secondary,omitempty"`
	ConversionURL   string   `json:"conversionUrl,omitempty"`
	ConversionValue float64  `json:"conversionValue,omitempty"`
}

type StatisticalSettings struct {
	ConfidenceLevel         int     `json:"confidenceLevel"` // 90, 95 or 99
	MinimumDetectableEffect float64 `json:"minimumDetectableEffect,omitempty"`
	MaxDurationDays         int     `json:"maxDurationDays,omitempty"`
	MinimumSampleSize       int     `json:"minimumSampleSize,omitempty"`
	AutomaticWinner         bool    `json:"automaticWinner"`
}

// BayesianSettings is accepted and stored but not computed by this engine.
// Reserved for exploration-based allocation upstream.
type BayesianSettings struct {
	Enabled           bool    `json:"enabled"`
	ExplorationRate   float64 `json:"explorationRate,omitempty"`
	ReallocationHours int     `json:"reallocationHours,omitempty"`
}

// Variant is one treatment arm, including the control.
type Variant struct {
	ID                 string
	ExperimentID       string
	Name               string
	IsControl          bool
	TrafficAllocation  float64        // percentage of the test sample, not the full audience
	Campaign           CampaignConfig // Decoded from JSON
	AssignedRecipients []string       // denormalized cache; the assignment ledger is authoritative
	Position           int            // declared order, drives allocation slicing
}

type CampaignConfig struct {
	Subject    string              `json:"subject"`
	Body       string              `json:"body,omitempty"`
	TemplateID string              `json:"templateId,omitempty"`
	FromName   string              `json:"fromName,omitempty"`
	FromEmail  string              `json:"fromEmail,omitempty"`
	SendAt     *time.Time          `json:"sendAt,omitempty"`
	Elements   map[string][]string `json:"elements,omitempty"` // multivariate element sets
}

// Assignment is the ledger record for one (experiment, recipient) pair.
type Assignment struct {
	ID           string
	ExperimentID string
	Recipient    string
	VariantID    string
	AssignedAt   time.Time
}

// AssignmentEvent is one append-only entry in an assignment's event log.
type AssignmentEvent struct {
	ID           int64
	AssignmentID string
	Type         EventType
	Metadata     map[string]string // Decoded from JSON
	CreatedAt    time.Time
}

// ActiveAssignment is the recipient-index view joining an assignment to its
// experiment, used to fan inbound events out to every active experiment a
// recipient belongs to.
type ActiveAssignment struct {
	AssignmentID string
	ExperimentID string
	VariantID    string
}

// Result is the materialized per-variant aggregate, one row per
// (experiment, variant), created zero-valued at assignment time.
type Result struct {
	ID           string
	ExperimentID string
	VariantID    string
	Metrics      VariantMetrics // Decoded from JSON
	Rates        VariantRates   // Decoded from JSON
	Analysis     Analysis       // Decoded from JSON
	UpdatedAt    time.Time
}

type VariantMetrics struct {
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Clicked      int     `json:"clicked"`
	Conversions  int     `json:"conversions"`
	Revenue      float64 `json:"revenue"`
	Unsubscribes int     `json:"unsubscribes"`
	Bounces      int     `json:"bounces"`
}

// VariantRates are percentages (0-100) derived from VariantMetrics.
type VariantRates struct {
	Delivery    float64 `json:"delivery"`
	Open        float64 `json:"open"`
	Click       float64 `json:"click"`
	Conversion  float64 `json:"conversion"`
	Unsubscribe float64 `json:"unsubscribe"`
	Bounce      float64 `json:"bounce"`
}

// Analysis is the significance output for a variant against control.
// PValue is nil when the sample floor was not met.
type Analysis struct {
	SampleSize         int      `json:"sampleSize"`
	PValue             *float64 `json:"pValue,omitempty"`
	Significant        bool     `json:"significant"`
	Lift               float64  `json:"lift"`
	ConfidenceInterval Interval `json:"confidenceInterval"`
	LiftInterval       Interval `json:"liftInterval"`
	IsControl          bool     `json:"isControl,omitempty"`
}

type Interval struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Metric string  `json:"metric,omitempty"`
}

// Insight is an immutable audit/notification record emitted on
// state-changing decisions.
type Insight struct {
	ID           string
	ExperimentID string
	Type         string // "winner_declared", "statistical_significance", "rollout_executed"
	Description  string
	Data         map[string]any // Decoded from JSON
	CreatedAt    time.Time
}

// Contact is one audience member owned by an account.
type Contact struct {
	Email   string
	OwnerID string
	Status  string // "active" or "unsubscribed"
	Company string
	Tags    []string // Decoded from JSON
	// Lifetime delivery counters feeding the engagement score.
	LifetimeSent    int
	LifetimeOpened  int
	LifetimeClicked int
}

// Campaign is the rollout handoff artifact for the external queue system.
type Campaign struct {
	ID             string
	ExperimentID   string
	VariantID      string
	Subject        string
	Body           string
	FromName       string
	FromEmail      string
	RecipientCount int
	CreatedAt      time.Time
}

// QueueEntry is one outbound message owed to a recipient by a campaign.
type QueueEntry struct {
	ID         int64
	CampaignID string
	Recipient  string
	Status     string // "queued"; delivery and retries are owned upstream
	CreatedAt  time.Time
}

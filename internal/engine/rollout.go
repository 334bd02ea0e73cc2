package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mailsplit/mailsplit/internal/audience"
	"github.com/mailsplit/mailsplit/internal/store"
)

// RolloutSummary is the materialized handoff to the campaign/queue system.
type RolloutSummary struct {
	CampaignID   string   `json:"campaignId"`
	ExperimentID string   `json:"experimentId"`
	VariantID    string   `json:"variantId"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	FromName     string   `json:"fromName,omitempty"`
	FromEmail    string   `json:"fromEmail,omitempty"`
	Recipients   []string `json:"recipients"`
	Percentage   float64  `json:"percentage"`
}

// Rollout sends the winning variant to the untested remainder of the
// audience. The eligible set is recomputed with the original tag/company
// filters (the engagement range is deliberately not reapplied), every
// recipient already in the assignment ledger is excluded, and the remainder
// is optionally capped to a percentage. A second rollout for the same
// experiment is rejected.
func (e *Engine) Rollout(ctx context.Context, experimentID string, percentage float64) (*RolloutSummary, error) {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != store.StatusCompleted {
		return nil, validationf(fmt.Sprintf("cannot roll out experiment in status %q", exp.Status))
	}
	if exp.WinningVariantID == "" {
		return nil, validationf("experiment completed without a winner")
	}

	if _, err := e.store.GetCampaignByExperiment(ctx, experimentID); err == nil {
		return nil, validationf("rollout already executed for this experiment")
	} else if err != store.ErrNotFound {
		return nil, err
	}

	winner, err := e.store.GetVariant(ctx, exp.WinningVariantID)
	if err != nil {
		return nil, err
	}

	contacts, err := e.store.ListActiveContacts(ctx, exp.OwnerID)
	if err != nil {
		return nil, err
	}

	filters := exp.Config.Audience.Filters
	filters.EngagementMin = nil
	filters.EngagementMax = nil
	eligible := audience.Eligible(contacts, filters)

	assigned, err := e.store.ListAssignedRecipients(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	tested := make(map[string]bool, len(assigned))
	for _, r := range assigned {
		tested[r] = true
	}

	var remaining []string
	for _, c := range eligible {
		if !tested[c.Email] {
			remaining = append(remaining, c.Email)
		}
	}

	if percentage <= 0 || percentage > 100 {
		percentage = 100
	}
	limit := int(math.Floor(float64(len(remaining)) * percentage / 100))
	remaining = remaining[:limit]

	campaign := &store.Campaign{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		VariantID:    winner.ID,
		Subject:      winner.Campaign.Subject,
		Body:         winner.Campaign.Body,
		FromName:     winner.Campaign.FromName,
		FromEmail:    winner.Campaign.FromEmail,
	}
	if err := e.store.CreateCampaign(ctx, campaign, remaining); err != nil {
		return nil, err
	}

	insight := &store.Insight{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Type:         "rollout_executed",
		Description: fmt.Sprintf("Winning variant %q rolled out to %d recipients (%.0f%% of remainder)",
			winner.Name, len(remaining), percentage),
		Data: map[string]any{
			"campaignId":     campaign.ID,
			"recipientCount": len(remaining),
			"percentage":     percentage,
		},
	}
	if err := e.store.CreateInsight(ctx, insight); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"experiment": experimentID,
		"campaign":   campaign.ID,
		"recipients": len(remaining),
	}).Info("rollout executed")

	return &RolloutSummary{
		CampaignID:   campaign.ID,
		ExperimentID: experimentID,
		VariantID:    winner.ID,
		Subject:      campaign.Subject,
		Body:         campaign.Body,
		FromName:     campaign.FromName,
		FromEmail:    campaign.FromEmail,
		Recipients:   remaining,
		Percentage:   percentage,
	}, nil
}

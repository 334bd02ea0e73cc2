// Package engine drives experiments through their lifecycle: activation with
// audience sampling, event ingestion, significance recomputation and winner
// declaration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mailsplit/mailsplit/internal/audience"
	"github.com/mailsplit/mailsplit/internal/stats"
	"github.com/mailsplit/mailsplit/internal/store"
)

const allocationTolerance = 0.01

type Engine struct {
	store store.Store
	log   *logrus.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	recompute chan string
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Engine)

// WithRand injects the random source used for audience sampling, so tests
// can seed it.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New builds an engine and starts its background recompute worker.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		log:       logrus.New(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		recompute: make(chan string, 64),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.wg.Add(1)
	go e.recomputeLoop()
	return e
}

// Close stops the recompute worker and waits for in-flight background work.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.recompute)
	})
	e.wg.Wait()
}

// ValidateVariants enforces the activation preconditions: at least two
// variants, allocations summing to 100 within tolerance, exactly one control.
func ValidateVariants(variants []*store.Variant) error {
	if len(variants) < 2 {
		return validationf("experiment needs at least 2 variants")
	}

	var sum float64
	controls := 0
	for _, v := range variants {
		sum += v.TrafficAllocation
		if v.IsControl {
			controls++
		}
	}

	if math.Abs(sum-100) > allocationTolerance {
		return validationf(fmt.Sprintf("traffic allocations must sum to 100, got %.2f", sum))
	}
	if controls != 1 {
		return validationf(fmt.Sprintf("exactly one control variant required, got %d", controls))
	}
	return nil
}

// Start transitions draft -> active. Sampling and assignment run in the
// background; callers must not assume assignment has finished when Start
// returns.
func (e *Engine) Start(ctx context.Context, experimentID string) error {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != store.StatusDraft {
		return validationf(fmt.Sprintf("cannot start experiment in status %q", exp.Status))
	}

	variants, err := e.store.GetVariants(ctx, experimentID)
	if err != nil {
		return err
	}
	if err := ValidateVariants(variants); err != nil {
		return err
	}

	now := time.Now()
	exp.Status = store.StatusActive
	exp.StartedAt = &now
	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"experiment": exp.ID,
		"variants":   len(variants),
	}).Info("experiment started")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.assignAudience(context.Background(), exp, variants); err != nil {
			e.log.WithError(err).WithField("experiment", exp.ID).Error("audience assignment failed")
		}
	}()

	return nil
}

// assignAudience samples the eligible audience, partitions it across
// variants, and writes the assignment ledger plus zero-valued result rows.
// An empty eligible audience is not an error; variants simply receive zero
// recipients.
func (e *Engine) assignAudience(ctx context.Context, exp *store.Experiment, variants []*store.Variant) error {
	contacts, err := e.store.ListActiveContacts(ctx, exp.OwnerID)
	if err != nil {
		return err
	}

	settings := exp.Config.Audience
	eligible := audience.Eligible(contacts, settings.Filters)
	size := audience.SampleSize(len(eligible), settings.TestPercentage)

	e.rngMu.Lock()
	sample := audience.Sample(eligible, size, e.rng)
	e.rngMu.Unlock()

	allocation := audience.Allocate(sample, variants)

	var assignments []*store.Assignment
	for _, v := range variants {
		for _, email := range allocation[v.ID] {
			assignments = append(assignments, &store.Assignment{
				ID:           uuid.NewString(),
				ExperimentID: exp.ID,
				Recipient:    email,
				VariantID:    v.ID,
			})
		}
	}

	if err := e.store.CreateAssignments(ctx, assignments); err != nil {
		return err
	}

	for _, v := range variants {
		emails := allocation[v.ID]
		if err := e.store.SetVariantRecipients(ctx, v.ID, emails); err != nil {
			return err
		}
		res := &store.Result{
			ID:           uuid.NewString(),
			ExperimentID: exp.ID,
			VariantID:    v.ID,
			Analysis: store.Analysis{
				SampleSize: len(emails),
				IsControl:  v.IsControl,
			},
		}
		if err := e.store.CreateResult(ctx, res); err != nil {
			return err
		}
	}

	e.log.WithFields(logrus.Fields{
		"experiment": exp.ID,
		"eligible":   len(eligible),
		"sampled":    len(sample),
	}).Info("audience assigned")

	return nil
}

// InboundEvent is one delivery/engagement report from the sending pipeline.
type InboundEvent struct {
	Recipient string            `json:"recipient"`
	Type      store.EventType   `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

var inboundTypes = map[store.EventType]bool{
	store.EventSent:         true,
	store.EventDelivered:    true,
	store.EventOpened:       true,
	store.EventClicked:      true,
	store.EventConverted:    true,
	store.EventUnsubscribed: true,
	store.EventBounced:      true,
	store.EventComplained:   true,
}

// IngestEvent fans an inbound event out to every active experiment the
// recipient is assigned to, appends it to the ledger, refreshes the variant's
// counters and schedules a significance recompute off the critical path.
func (e *Engine) IngestEvent(ctx context.Context, ev InboundEvent) error {
	if ev.Recipient == "" {
		return validationf("recipient is required")
	}
	if !inboundTypes[ev.Type] {
		return validationf(fmt.Sprintf("unknown event type %q", ev.Type))
	}

	active, err := e.store.FindActiveAssignments(ctx, ev.Recipient)
	if err != nil {
		return err
	}

	var errs []error
	for _, aa := range active {
		if err := e.store.AppendEvent(ctx, aa.AssignmentID, ev.Type, ev.Metadata); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.refreshResult(ctx, aa.ExperimentID, aa.VariantID); err != nil {
			errs = append(errs, err)
			continue
		}
		e.scheduleRecompute(aa.ExperimentID)
	}
	return errors.Join(errs...)
}

func (e *Engine) refreshResult(ctx context.Context, experimentID, variantID string) error {
	events, err := e.store.ListVariantEvents(ctx, experimentID, variantID)
	if err != nil {
		return err
	}
	metrics := stats.Fold(events)
	return e.store.UpdateResultMetrics(ctx, experimentID, variantID, metrics, stats.Rates(metrics))
}

// scheduleRecompute is fire-and-forget. A full queue just drops the trigger:
// the next qualifying event re-triggers, which is the at-least-once recovery
// contract.
func (e *Engine) scheduleRecompute(experimentID string) {
	select {
	case e.recompute <- experimentID:
	default:
	}
}

func (e *Engine) recomputeLoop() {
	defer e.wg.Done()
	for experimentID := range e.recompute {
		if err := e.RecomputeSignificance(context.Background(), experimentID); err != nil {
			e.log.WithError(err).WithField("experiment", experimentID).Warn("significance recompute failed")
		}
	}
}

// RecomputeSignificance re-runs the two-proportion test for every
// non-control variant against control and overwrites each result's analysis.
// It carries no incremental state, so concurrent or repeated runs on
// unchanged data converge to identical output. When automatic winner
// selection is enabled it also performs the winner check.
func (e *Engine) RecomputeSignificance(ctx context.Context, experimentID string) error {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != store.StatusActive {
		return nil
	}

	variants, results, err := e.loadVariantResults(ctx, experimentID)
	if err != nil {
		return err
	}

	control, controlRes, err := findControl(variants, results)
	if err != nil {
		return err
	}

	metric := exp.Config.Metrics.Primary
	level := exp.Config.Statistics.ConfidenceLevel
	controlProp := stats.Proportion{
		Rate:       stats.MetricRate(controlRes.Rates, metric),
		SampleSize: controlRes.Analysis.SampleSize,
	}

	anySignificant := false
	for _, v := range variants {
		if v.ID == control.ID {
			continue
		}
		res, ok := results[v.ID]
		if !ok {
			return fmt.Errorf("missing result for variant %s: %w", v.ID, store.ErrNotFound)
		}
		analysis := stats.Compare(controlProp, stats.Proportion{
			Rate:       stats.MetricRate(res.Rates, metric),
			SampleSize: res.Analysis.SampleSize,
		}, metric, level)
		if err := e.store.UpdateResultAnalysis(ctx, experimentID, v.ID, analysis); err != nil {
			return err
		}
		res.Analysis = analysis
		if analysis.Significant && analysis.Lift > 0 {
			anySignificant = true
		}
	}

	if anySignificant {
		if err := e.noteSignificance(ctx, exp, metric); err != nil {
			return err
		}
	}

	if exp.Config.Statistics.AutomaticWinner {
		if winner := pickWinner(variants, results, metric); winner != nil {
			return e.DeclareWinner(ctx, experimentID, winner.ID)
		}
	}
	return nil
}

func (e *Engine) loadVariantResults(ctx context.Context, experimentID string) ([]*store.Variant, map[string]*store.Result, error) {
	variants, err := e.store.GetVariants(ctx, experimentID)
	if err != nil {
		return nil, nil, err
	}
	resultRows, err := e.store.GetResults(ctx, experimentID)
	if err != nil {
		return nil, nil, err
	}
	results := make(map[string]*store.Result, len(resultRows))
	for _, r := range resultRows {
		results[r.VariantID] = r
	}
	return variants, results, nil
}

func findControl(variants []*store.Variant, results map[string]*store.Result) (*store.Variant, *store.Result, error) {
	for _, v := range variants {
		if v.IsControl {
			res, ok := results[v.ID]
			if !ok {
				return nil, nil, fmt.Errorf("missing control result: %w", store.ErrNotFound)
			}
			return v, res, nil
		}
	}
	return nil, nil, validationf("experiment has no control variant")
}

// pickWinner selects the significant positive-lift variant with the highest
// primary-metric value. Ties keep the first variant in declared order.
func pickWinner(variants []*store.Variant, results map[string]*store.Result, metric store.Metric) *store.Variant {
	var winner *store.Variant
	best := 0.0
	for _, v := range variants {
		if v.IsControl {
			continue
		}
		res, ok := results[v.ID]
		if !ok || !res.Analysis.Significant || res.Analysis.Lift <= 0 {
			continue
		}
		value := stats.MetricRate(res.Rates, metric)
		if winner == nil || value > best {
			winner = v
			best = value
		}
	}
	return winner
}

// noteSignificance records a statistical_significance insight once per
// experiment, the first time a recompute observes a significant result.
func (e *Engine) noteSignificance(ctx context.Context, exp *store.Experiment, metric store.Metric) error {
	insights, err := e.store.ListInsights(ctx, exp.ID)
	if err != nil {
		return err
	}
	for _, in := range insights {
		if in.Type == "statistical_significance" {
			return nil
		}
	}
	return e.store.CreateInsight(ctx, &store.Insight{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		Type:         "statistical_significance",
		Description:  fmt.Sprintf("Experiment %q reached statistical significance on %s", exp.Name, metric),
		Data: map[string]any{
			"metric":          string(metric),
			"confidenceLevel": exp.Config.Statistics.ConfidenceLevel,
		},
	})
}

// Pause toggles active -> paused without touching assignments or metrics.
func (e *Engine) Pause(ctx context.Context, experimentID string) error {
	return e.toggle(ctx, experimentID, store.StatusActive, store.StatusPaused)
}

// Resume toggles paused -> active.
func (e *Engine) Resume(ctx context.Context, experimentID string) error {
	return e.toggle(ctx, experimentID, store.StatusPaused, store.StatusActive)
}

func (e *Engine) toggle(ctx context.Context, experimentID string, from, to store.ExperimentStatus) error {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != from {
		return validationf(fmt.Sprintf("cannot move experiment from %q to %q", exp.Status, to))
	}
	exp.Status = to
	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"experiment": experimentID, "status": to}).Info("experiment status changed")
	return nil
}

// DeclareWinner completes an active experiment with the given winning
// variant. Declaring on an already-completed experiment is rejected, so
// redundant declare calls are safe.
func (e *Engine) DeclareWinner(ctx context.Context, experimentID, variantID string) error {
	exp, err := e.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status == store.StatusCompleted {
		return validationf("experiment already completed")
	}
	if exp.Status != store.StatusActive {
		return validationf(fmt.Sprintf("cannot declare winner in status %q", exp.Status))
	}

	variant, err := e.store.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	if variant.ExperimentID != experimentID {
		return validationf("variant does not belong to this experiment")
	}

	now := time.Now()
	exp.Status = store.StatusCompleted
	exp.CompletedAt = &now
	exp.WinnerDeclaredAt = &now
	exp.WinningVariantID = variantID
	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return err
	}

	insight := &store.Insight{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Type:         "winner_declared",
		Description:  fmt.Sprintf("Variant %q declared winner of experiment %q", variant.Name, exp.Name),
		Data: map[string]any{
			"variantId":   variantID,
			"variantName": variant.Name,
		},
	}
	if err := e.store.CreateInsight(ctx, insight); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"experiment": experimentID,
		"winner":     variant.Name,
	}).Info("winner declared")
	return nil
}

// VariantAnalysis is one row of a manual analysis report. Significant is nil
// on the control row.
type VariantAnalysis struct {
	VariantID   string               `json:"variantId"`
	Name        string               `json:"name"`
	IsControl   bool                 `json:"isControl"`
	Metrics     store.VariantMetrics `json:"metrics"`
	Rates       store.VariantRates   `json:"rates"`
	Analysis    store.Analysis       `json:"analysis"`
	Significant *bool                `json:"significant"`
}

type AnalysisReport struct {
	ExperimentID   string            `json:"experimentId"`
	Variants       []VariantAnalysis `json:"variants"`
	Recommendation string            `json:"recommendation"` // "declare_winner" or "continue_test"
}

// Analyze is the user-triggered recompute-and-report. It mirrors the
// automatic path, including winner declaration when the automatic-winner
// flag is set; without that flag a significant result only yields a
// declare_winner recommendation.
func (e *Engine) Analyze(ctx context.Context, experimentID string) (*AnalysisReport, error) {
	if err := e.RecomputeSignificance(ctx, experimentID); err != nil {
		return nil, err
	}

	variants, results, err := e.loadVariantResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	report := &AnalysisReport{
		ExperimentID:   experimentID,
		Recommendation: "continue_test",
	}
	for _, v := range variants {
		res, ok := results[v.ID]
		if !ok {
			return nil, fmt.Errorf("missing result for variant %s: %w", v.ID, store.ErrNotFound)
		}
		row := VariantAnalysis{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
			Metrics:   res.Metrics,
			Rates:     res.Rates,
			Analysis:  res.Analysis,
		}
		if !v.IsControl {
			sig := res.Analysis.Significant
			row.Significant = &sig
			if sig && res.Analysis.Lift > 0 {
				report.Recommendation = "declare_winner"
			}
		}
		report.Variants = append(report.Variants, row)
	}
	return report, nil
}

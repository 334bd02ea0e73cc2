package stats

import (
	"strconv"

	"github.com/mailsplit/mailsplit/internal/store"
)

// Fold reduces an event log into counters. Repeat events are not
// deduplicated: a second opened event counts again, matching
// multiple-open tracking semantics.
func Fold(events []store.AssignmentEvent) store.VariantMetrics {
	var m store.VariantMetrics
	for _, e := range events {
		switch e.Type {
		case store.EventSent:
			m.Sent++
		case store.EventDelivered:
			m.Delivered++
		case store.EventOpened:
			m.Opened++
		case store.EventClicked:
			m.Clicked++
		case store.EventConverted:
			m.Conversions++
			if v, ok := e.Metadata["revenue"]; ok {
				if rev, err := strconv.ParseFloat(v, 64); err == nil {
					m.Revenue += rev
				}
			}
		case store.EventUnsubscribed:
			m.Unsubscribes++
		case store.EventBounced:
			m.Bounces++
		}
	}
	return m
}

// Rates derives the percentage rates from counters, guarding every
// division by zero to 0.
func Rates(m store.VariantMetrics) store.VariantRates {
	return store.VariantRates{
		Delivery:    ratio(m.Delivered, m.Sent),
		Open:        ratio(m.Opened, m.Delivered),
		Click:       ratio(m.Clicked, m.Delivered),
		Conversion:  ratio(m.Conversions, m.Delivered),
		Unsubscribe: ratio(m.Unsubscribes, m.Delivered),
		Bounce:      ratio(m.Bounces, m.Sent),
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// EngagementScore scores a contact 0-100 from its lifetime open and click
// fractions, weighted evenly.
func EngagementScore(sent, opened, clicked int) float64 {
	if sent == 0 {
		return 0
	}
	openRate := float64(opened) / float64(sent)
	clickRate := float64(clicked) / float64(sent)
	score := openRate*50 + clickRate*50
	if score > 100 {
		return 100
	}
	return score
}

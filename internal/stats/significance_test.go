package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsplit/mailsplit/internal/store"
)

func TestCriticalZ(t *testing.T) {
	assert.Equal(t, 1.645, CriticalZ(90))
	assert.Equal(t, 1.96, CriticalZ(95))
	assert.Equal(t, 2.576, CriticalZ(99))
	// Unknown levels fall back to 95%
	assert.Equal(t, 1.96, CriticalZ(0))
	assert.Equal(t, 1.96, CriticalZ(87))
}

func TestCompare_ClearWinner(t *testing.T) {
	// 10% vs 15% over 1000 each is well past the 95% critical value.
	control := Proportion{Rate: 10, SampleSize: 1000}
	challenger := Proportion{Rate: 15, SampleSize: 1000}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	require.NotNil(t, analysis.PValue)
	assert.True(t, analysis.Significant)
	assert.Less(t, *analysis.PValue, 0.05)
	assert.InDelta(t, 50.0, analysis.Lift, 0.001)
	assert.Equal(t, 1000, analysis.SampleSize)
}

func TestCompare_OpenRateScenario(t *testing.T) {
	// Control 40% open, challenger 55% open, 200 delivered each.
	control := Proportion{Rate: 40, SampleSize: 200}
	challenger := Proportion{Rate: 55, SampleSize: 200}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	require.NotNil(t, analysis.PValue)
	assert.True(t, analysis.Significant)
	assert.InDelta(t, 37.5, analysis.Lift, 0.001)
}

func TestCompare_BelowSampleFloor(t *testing.T) {
	// Sample sizes under 30 never claim significance, however large the gap.
	control := Proportion{Rate: 5, SampleSize: 20}
	challenger := Proportion{Rate: 95, SampleSize: 20}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	assert.Nil(t, analysis.PValue)
	assert.False(t, analysis.Significant)
	// Directional signal is still reported.
	assert.InDelta(t, 1800.0, analysis.Lift, 0.001)
	assert.Zero(t, analysis.ConfidenceInterval.Lower)
	assert.Zero(t, analysis.ConfidenceInterval.Upper)
}

func TestCompare_EqualRates(t *testing.T) {
	control := Proportion{Rate: 10, SampleSize: 500}
	challenger := Proportion{Rate: 10, SampleSize: 500}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	require.NotNil(t, analysis.PValue)
	assert.False(t, analysis.Significant)
	assert.Zero(t, analysis.Lift)
	assert.InDelta(t, 1.0, *analysis.PValue, 0.001)
}

func TestCompare_ZeroControlRate(t *testing.T) {
	control := Proportion{Rate: 0, SampleSize: 100}
	challenger := Proportion{Rate: 10, SampleSize: 100}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	// Lift against a zero baseline is defined as 0, and so is its interval.
	assert.Zero(t, analysis.Lift)
	assert.Zero(t, analysis.LiftInterval.Lower)
	assert.Zero(t, analysis.LiftInterval.Upper)
}

func TestCompare_Idempotent(t *testing.T) {
	control := Proportion{Rate: 12.5, SampleSize: 640}
	challenger := Proportion{Rate: 14.75, SampleSize: 655}

	first := Compare(control, challenger, store.MetricClickRate, 99)
	second := Compare(control, challenger, store.MetricClickRate, 99)

	require.NotNil(t, first.PValue)
	require.NotNil(t, second.PValue)
	assert.Equal(t, *first.PValue, *second.PValue)
	first.PValue, second.PValue = nil, nil
	assert.Equal(t, first, second)
}

func TestCompare_RateInterval(t *testing.T) {
	control := Proportion{Rate: 40, SampleSize: 200}
	challenger := Proportion{Rate: 55, SampleSize: 200}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	// The challenger's rate CI straddles the observed rate symmetrically.
	assert.Less(t, analysis.ConfidenceInterval.Lower, 55.0)
	assert.Greater(t, analysis.ConfidenceInterval.Upper, 55.0)
	mid := (analysis.ConfidenceInterval.Lower + analysis.ConfidenceInterval.Upper) / 2
	assert.InDelta(t, 55.0, mid, 0.001)
	assert.Equal(t, string(store.MetricOpenRate), analysis.ConfidenceInterval.Metric)
}

func TestCompare_LiftInterval(t *testing.T) {
	control := Proportion{Rate: 10, SampleSize: 1000}
	challenger := Proportion{Rate: 15, SampleSize: 1000}

	analysis := Compare(control, challenger, store.MetricOpenRate, 95)

	assert.Less(t, analysis.LiftInterval.Lower, analysis.Lift)
	assert.Greater(t, analysis.LiftInterval.Upper, analysis.Lift)
}

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, normalCDF(0), 1e-6)
	assert.InDelta(t, 0.8413, normalCDF(1), 1e-4)
	assert.InDelta(t, 0.9772, normalCDF(2), 1e-4)
	assert.InDelta(t, 0.1587, normalCDF(-1), 1e-4)
	// Symmetry
	assert.InDelta(t, 1.0, normalCDF(1.5)+normalCDF(-1.5), 1e-7)
}

func TestMetricRate(t *testing.T) {
	rates := store.VariantRates{Open: 25, Click: 10, Conversion: 5}

	assert.Equal(t, 25.0, MetricRate(rates, store.MetricOpenRate))
	assert.Equal(t, 10.0, MetricRate(rates, store.MetricClickRate))
	assert.Equal(t, 5.0, MetricRate(rates, store.MetricConversionRate))
	// Revenue and engagement_time test against the conversion rate.
	assert.Equal(t, 5.0, MetricRate(rates, store.MetricRevenue))
	assert.Equal(t, 5.0, MetricRate(rates, store.MetricEngagementTime))
}

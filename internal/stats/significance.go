package stats

import (
	"math"

	"github.com/mailsplit/mailsplit/internal/store"
)

// MinSampleSize is the floor below which no significance claim is made.
// Lift is still reported so small experiments show directional signal.
const MinSampleSize = 30

// CriticalZ returns the two-tailed critical z-value for a confidence level.
// Unknown levels fall back to 95%.
func CriticalZ(confidenceLevel int) float64 {
	switch confidenceLevel {
	case 90:
		return 1.645
	case 95:
		return 1.96
	case 99:
		return 2.576
	default:
		return 1.96
	}
}

// Proportion is one variant's observed rate for the primary metric.
type Proportion struct {
	Rate       float64 // stored percentage, 0-100
	SampleSize int
}

// Compare runs a two-proportion z-test of challenger against control and
// returns the analysis to overwrite onto the challenger's result row.
func Compare(control, challenger Proportion, metric store.Metric, confidenceLevel int) store.Analysis {
	analysis := store.Analysis{
		SampleSize:         challenger.SampleSize,
		ConfidenceInterval: store.Interval{Metric: string(metric)},
		LiftInterval:       store.Interval{Metric: string(metric)},
	}

	p1 := control.Rate / 100
	p2 := challenger.Rate / 100
	analysis.Lift = lift(p1, p2)

	if control.SampleSize < MinSampleSize || challenger.SampleSize < MinSampleSize {
		return analysis
	}

	n1 := float64(control.SampleSize)
	n2 := float64(challenger.SampleSize)
	critical := CriticalZ(confidenceLevel)

	// Pooled proportion under the null hypothesis of no difference.
	pooled := (p1*n1 + p2*n2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	var z float64
	if se > 0 {
		z = math.Abs(p2-p1) / se
	}

	p := 2 * (1 - normalCDF(z))
	analysis.PValue = &p
	analysis.Significant = z > critical

	// CI for the challenger's raw rate, as a percentage.
	rateSE := math.Sqrt(p2 * (1 - p2) / n2)
	analysis.ConfidenceInterval.Lower = (p2 - critical*rateSE) * 100
	analysis.ConfidenceInterval.Upper = (p2 + critical*rateSE) * 100

	// CI for lift: both rates' binomial variances propagated, scaled into
	// relative-percentage terms against control.
	if p1 > 0 {
		diffSE := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
		liftSE := diffSE * 100 / p1
		analysis.LiftInterval.Lower = analysis.Lift - critical*liftSE
		analysis.LiftInterval.Upper = analysis.Lift + critical*liftSE
	}

	return analysis
}

func lift(p1, p2 float64) float64 {
	if p1 == 0 {
		return 0
	}
	return (p2 - p1) / p1 * 100
}

// normalCDF approximates the standard normal CDF using the Zelen-Severo
// rational approximation (absolute error < 7.5e-8).
func normalCDF(z float64) float64 {
	t := 1 / (1 + 0.2316419*math.Abs(z))
	d := 0.3989423 * math.Exp(-z*z/2)
	poly := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))
	if z > 0 {
		return 1 - poly
	}
	return poly
}

// MetricRate picks the stored rate for the primary metric off a result row.
// Revenue and engagement_time have no binomial rate; conversion rate is the
// closest proxy and is what the test runs against for those metrics.
func MetricRate(rates store.VariantRates, metric store.Metric) float64 {
	switch metric {
	case store.MetricOpenRate:
		return rates.Open
	case store.MetricClickRate:
		return rates.Click
	case store.MetricConversionRate, store.MetricRevenue, store.MetricEngagementTime:
		return rates.Conversion
	default:
		return rates.Open
	}
}

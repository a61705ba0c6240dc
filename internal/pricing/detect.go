// Package pricing classifies price changes and derives buy/wait advice from
// a product's recent history. Everything here is pure.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// Trend is the direction of a price change.
type Trend string

const (
	TrendDown      Trend = "down"
	TrendUp        Trend = "up"
	TrendUnchanged Trend = "unchanged"
	// TrendPending means there was no previous price to compare against.
	TrendPending Trend = "pending"
)

// Severity thresholds for drops, in percent.
const (
	MegaDropPct = 30.0
	HotDropPct  = 15.0
)

// Change is the classification of one new observation against the
// previous price.
type Change struct {
	Previous *float64
	Current  float64
	Trend    Trend
	// DeltaAbs is |current - previous|, rounded to cents.
	DeltaAbs float64
	// DeltaPct is DeltaAbs / previous * 100, rounded to one decimal.
	DeltaPct float64
	// Severity is only above normal for drops.
	Severity domain.Severity
}

// Detect classifies current against previous. A nil or non-positive
// previous price yields TrendPending.
func Detect(previous *float64, current float64) Change {
	c := Change{Previous: previous, Current: current, Trend: TrendPending, Severity: domain.SeverityNormal}
	if previous == nil || *previous <= 0 {
		return c
	}
	prev := *previous

	diff := math.Abs(current - prev)
	c.DeltaAbs = decimal.NewFromFloat(diff).Round(2).InexactFloat64()
	c.DeltaPct = decimal.NewFromFloat(diff / prev * 100).Round(1).InexactFloat64()

	switch {
	case current < prev:
		c.Trend = TrendDown
		c.Severity = ClassifySeverity(c.DeltaPct)
	case current > prev:
		c.Trend = TrendUp
	default:
		c.Trend = TrendUnchanged
	}
	return c
}

// ClassifySeverity maps a drop percentage to its severity tier.
func ClassifySeverity(dropPct float64) domain.Severity {
	switch {
	case dropPct >= MegaDropPct:
		return domain.SeverityMega
	case dropPct >= HotDropPct:
		return domain.SeverityHot
	default:
		return domain.SeverityNormal
	}
}

package pricing

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// Recommendation is the predictor's advice.
type Recommendation string

const (
	RecommendBuy     Recommendation = "buy"
	RecommendWait    Recommendation = "wait"
	RecommendNeutral Recommendation = "neutral"
)

// Confidence is an ordinal label attached to a recommendation. It is not a
// probability.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Heuristic parameters.
const (
	DefaultWindow = 14 * 24 * time.Hour

	minSamples        = 3
	fallingSlope      = -5.0
	steepSlope        = 20.0
	risingSlope       = 5.0
	risingVolatility  = 8.0
	nearLowFactor     = 1.03
	extrapolateChecks = 5
)

// Prediction is the output of Predict.
type Prediction struct {
	Recommendation   Recommendation `json:"recommendation"`
	Reason           string         `json:"reason"`
	PredictedDropPct *float64       `json:"predicted_drop_pct,omitempty"`
	Confidence       Confidence     `json:"confidence"`
	// Slope is the least-squares price change per check.
	Slope   float64 `json:"slope"`
	Samples int     `json:"samples"`
}

// InWindow returns the ticks observed within window before now, oldest first.
func InWindow(ticks []domain.Tick, now time.Time, window time.Duration) []domain.Tick {
	since := now.Add(-window)
	out := make([]domain.Tick, 0, len(ticks))
	for _, t := range ticks {
		if !t.ObservedAt.Before(since) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Tick) int { return a.ObservedAt.Compare(b.ObservedAt) })
	return out
}

// Predict turns a chronologically ordered price series into a buy/wait
// recommendation using a transparent rule set over the least-squares slope
// of price against check index. Observations are treated as equally spaced
// regardless of wall-clock gaps.
func Predict(series []domain.Tick) Prediction {
	n := len(series)
	if n < minSamples {
		return Prediction{
			Recommendation: RecommendNeutral,
			Reason:         "Not enough price history yet. Check back in a few days.",
			Confidence:     ConfidenceLow,
			Samples:        n,
		}
	}

	prices := make([]float64, n)
	for i, t := range series {
		prices[i] = t.Price
	}
	slope := Slope(prices)
	last := prices[n-1]
	lowest, highest := slices.Min(prices), slices.Max(prices)
	volatility := 0.0
	if highest > 0 {
		volatility = (highest - lowest) / highest * 100
	}

	p := Prediction{Slope: slope, Samples: n}
	switch {
	case slope < fallingSlope:
		drop := decimal.NewFromFloat(math.Abs(slope) * extrapolateChecks).Round(1).InexactFloat64()
		p.Recommendation = RecommendWait
		p.PredictedDropPct = &drop
		p.Reason = fmt.Sprintf("Price is falling (trend: -%.1f per check). Estimated drop of ~%.1f%% over the next %d checks.",
			math.Abs(slope), drop, extrapolateChecks)
		p.Confidence = ConfidenceMedium
		if math.Abs(slope) > steepSlope {
			p.Confidence = ConfidenceHigh
		}
	case slope > risingSlope && volatility > risingVolatility:
		p.Recommendation = RecommendBuy
		p.Reason = "Price is rising. Current price looks like a good entry point."
		p.Confidence = ConfidenceMedium
	case last <= lowest*nearLowFactor:
		p.Recommendation = RecommendBuy
		p.Reason = "At or near the lowest recorded price. Good time to buy."
		p.Confidence = ConfidenceHigh
	default:
		p.Recommendation = RecommendNeutral
		p.Reason = "Price is stable. Set a target price alert and wait for a better deal."
		p.Confidence = ConfidenceLow
	}
	return p
}

// Slope is the ordinary least-squares slope of ys against their index.
func Slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	xMean := (n - 1) / 2
	var yMean float64
	for _, y := range ys {
		yMean += y
	}
	yMean /= n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

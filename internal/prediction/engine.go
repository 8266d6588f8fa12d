// internal/prediction/engine.go
package prediction

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

const (
	rampFloor       = 0.7
	maxBelowBuffer  = 0.7
	defaultHistory  = 10
	maxEstimateSecs = float64(math.MaxInt64 / int64(time.Second))
)

// Params configures the prediction engine and the crossing detector.
type Params struct {
	Threshold          decimal.Decimal
	Buffer             decimal.Decimal
	ConfirmationWindow int
	HistorySize        int
	MinimumEstimate    time.Duration
	MinProgressRate    decimal.Decimal // market cap units per second
}

// Predict computes distance, crossing probability and ETA for the latest snapshot.
// history holds earlier snapshots of the same asset, oldest first.
func Predict(snap domain.MarketSnapshot, history []domain.MarketSnapshot, migrated bool, p Params) domain.Prediction {
	if migrated {
		return domain.Prediction{
			DistanceToThreshold: decimal.Zero,
			CrossingProbability: 1,
			ProgressRate:        decimal.Zero,
			Migrated:            true,
		}
	}

	distance := DistanceToThreshold(snap.MarketCap, p.Threshold)
	rate := ProgressRate(snap, history, p.MinProgressRate)

	return domain.Prediction{
		DistanceToThreshold:      distance,
		CrossingProbability:      CrossingProbability(snap.MarketCap, snap.BondingCurveProgress, p.Threshold, p.Buffer),
		EstimatedTimeToThreshold: EstimateTime(distance, rate, p.MinimumEstimate),
		ProgressRate:             rate,
	}
}

// DistanceToThreshold is max(0, threshold - marketCap).
func DistanceToThreshold(marketCap, threshold decimal.Decimal) decimal.Decimal {
	d := threshold.Sub(marketCap)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// CrossingProbability is 1 at or above the threshold, ramps 0.7→1.0 through the buffer zone
// and is capped at 0.7 below it.
func CrossingProbability(marketCap decimal.Decimal, progress float64, threshold, buffer decimal.Decimal) float64 {
	if marketCap.GreaterThanOrEqual(threshold) {
		return 1
	}

	zoneStart := threshold.Sub(buffer)
	if buffer.IsPositive() && marketCap.GreaterThanOrEqual(zoneStart) {
		frac := marketCap.Sub(zoneStart).Div(buffer).InexactFloat64()
		return rampFloor + (1-rampFloor)*frac
	}

	if !threshold.IsPositive() {
		return 0
	}
	ratio := marketCap.Div(threshold).InexactFloat64()
	p := domain.ClampProgress(progress) * ratio
	if p < 0 {
		return 0
	}
	return math.Min(maxBelowBuffer, p)
}

// ProgressRate derives market cap growth per second from the oldest history entry to snap.
// Negative growth counts as zero; the result is floored at minRate.
func ProgressRate(snap domain.MarketSnapshot, history []domain.MarketSnapshot, minRate decimal.Decimal) decimal.Decimal {
	rate := decimal.Zero
	if len(history) > 0 {
		first := history[0]
		dt := snap.Timestamp.Sub(first.Timestamp).Seconds()
		if dt > 0 {
			rate = snap.MarketCap.Sub(first.MarketCap).Div(decimal.NewFromFloat(dt))
		}
	}
	if rate.LessThan(minRate) {
		return minRate
	}
	return rate
}

// EstimateTime returns max(minimum, distance/rate).
func EstimateTime(distance, rate decimal.Decimal, minimum time.Duration) time.Duration {
	if !rate.IsPositive() {
		return time.Duration(math.MaxInt64)
	}
	secs := distance.Div(rate).InexactFloat64()
	var eta time.Duration
	if secs >= maxEstimateSecs {
		eta = time.Duration(math.MaxInt64)
	} else {
		eta = time.Duration(secs * float64(time.Second))
	}
	if eta < minimum {
		return minimum
	}
	return eta
}

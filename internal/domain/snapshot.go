// internal/domain/snapshot.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is a point-in-time valuation of a single asset.
type MarketSnapshot struct {
	AssetID              string              `json:"asset_id"`
	Timestamp            time.Time           `json:"timestamp"`
	MarketCap            decimal.Decimal     `json:"market_cap"`
	Liquidity            decimal.Decimal     `json:"liquidity"`
	BondingCurveProgress float64             `json:"bonding_curve_progress"`
	Price                decimal.NullDecimal `json:"price"` // spot price when the source reports one
}

// ClampProgress bounds the bonding curve progress to [0,1].
func ClampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// ThresholdCrossingEvent is emitted once per asset when a crossing is confirmed.
type ThresholdCrossingEvent struct {
	AssetID           string         `json:"asset_id"`
	Snapshot          MarketSnapshot `json:"snapshot"`
	ConfirmationTicks int            `json:"confirmation_ticks"`
	CrossingTime      time.Time      `json:"crossing_time"`
}

// Prediction is the output of the threshold prediction engine for one snapshot.
type Prediction struct {
	DistanceToThreshold      decimal.Decimal `json:"distance_to_threshold"`
	CrossingProbability      float64         `json:"crossing_probability"`
	EstimatedTimeToThreshold time.Duration   `json:"estimated_time_to_threshold"`
	ProgressRate             decimal.Decimal `json:"progress_rate"` // market cap units per second
	Migrated                 bool            `json:"migrated"`
}

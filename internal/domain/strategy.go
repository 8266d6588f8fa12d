// internal/domain/strategy.go
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPartialSellFraction is the share of the remaining tokens sold when a ladder rung fires.
var DefaultPartialSellFraction = decimal.NewFromFloat(0.25)

// Strategy describes how a position is entered and exited.
type Strategy struct {
	Name                string            `json:"name"`
	BuyAmount           decimal.Decimal   `json:"buy_amount"`
	SellThreshold       decimal.Decimal   `json:"sell_threshold"`      // % profit
	StopLossThreshold   decimal.Decimal   `json:"stop_loss_threshold"` // % loss, positive number
	MaxHoldDuration     time.Duration     `json:"max_hold_duration"`
	PartialSellLadder   []decimal.Decimal `json:"partial_sell_ladder"`
	PartialSellFraction decimal.Decimal   `json:"partial_sell_fraction"`
	SlippagePercent     decimal.Decimal   `json:"slippage_percent"`
}

// Validate checks the strategy fields and normalises the ladder ordering.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return &ConfigurationError{Field: "strategies", Reason: "strategy name is empty"}
	}
	field := "strategies." + s.Name
	if !s.BuyAmount.IsPositive() {
		return &ConfigurationError{Field: field + ".buy_amount", Reason: "must be positive"}
	}
	if !s.SellThreshold.IsPositive() {
		return &ConfigurationError{Field: field + ".sell_threshold", Reason: "must be positive"}
	}
	if !s.StopLossThreshold.IsPositive() || s.StopLossThreshold.GreaterThan(decimal.NewFromInt(100)) {
		return &ConfigurationError{Field: field + ".stop_loss_threshold", Reason: "must be in (0,100]"}
	}
	if s.MaxHoldDuration <= 0 {
		return &ConfigurationError{Field: field + ".max_hold_duration", Reason: "must be positive"}
	}
	if s.SlippagePercent.IsNegative() || s.SlippagePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return &ConfigurationError{Field: field + ".slippage_percent", Reason: "must be in [0,100)"}
	}
	if s.PartialSellFraction.IsZero() {
		s.PartialSellFraction = DefaultPartialSellFraction
	}
	if !s.PartialSellFraction.IsPositive() || s.PartialSellFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &ConfigurationError{Field: field + ".partial_sell_fraction", Reason: "must be in (0,1)"}
	}

	sort.Slice(s.PartialSellLadder, func(i, j int) bool {
		return s.PartialSellLadder[i].LessThan(s.PartialSellLadder[j])
	})
	for i, rung := range s.PartialSellLadder {
		if !rung.IsPositive() {
			return &ConfigurationError{Field: field + ".partial_sell_ladder", Reason: fmt.Sprintf("rung %s must be positive", rung)}
		}
		if i > 0 && rung.Equal(s.PartialSellLadder[i-1]) {
			return &ConfigurationError{Field: field + ".partial_sell_ladder", Reason: fmt.Sprintf("duplicate rung %s", rung)}
		}
	}
	return nil
}

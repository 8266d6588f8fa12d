// internal/position/exit.go
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// ExitDecision describes what a monitoring tick should do with a position.
type ExitDecision struct {
	Reason string
	Full   bool
	Rung   decimal.Decimal // set for partial sells
}

// DecideExit evaluates the exit rules in priority order: stop loss, profit target,
// max hold time, then the smallest unfired ladder rung. The first match wins.
func DecideExit(pos domain.TradePosition, strat domain.Strategy, pnlPercent decimal.Decimal, now time.Time) (ExitDecision, bool) {
	if strat.StopLossThreshold.IsPositive() && pnlPercent.LessThanOrEqual(strat.StopLossThreshold.Neg()) {
		return ExitDecision{Reason: domain.ExitReasonStopLoss, Full: true}, true
	}
	if strat.SellThreshold.IsPositive() && pnlPercent.GreaterThanOrEqual(strat.SellThreshold) {
		return ExitDecision{Reason: domain.ExitReasonProfitTarget, Full: true}, true
	}
	if strat.MaxHoldDuration > 0 && now.Sub(pos.EntryTime) > strat.MaxHoldDuration {
		return ExitDecision{Reason: domain.ExitReasonMaxHold, Full: true}, true
	}
	for _, rung := range strat.PartialSellLadder {
		if pos.HasFired(rung) {
			continue
		}
		if pnlPercent.GreaterThanOrEqual(rung) {
			return ExitDecision{Reason: domain.PartialSellReason(rung), Rung: rung}, true
		}
		// ladder is ascending, no later rung can match
		break
	}
	return ExitDecision{}, false
}

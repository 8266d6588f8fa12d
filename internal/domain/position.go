// internal/domain/position.go
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a trade position.
type PositionStatus string

const (
	StatusPending PositionStatus = "PENDING"
	StatusActive  PositionStatus = "ACTIVE"
	StatusClosing PositionStatus = "CLOSING"
	StatusClosed  PositionStatus = "CLOSED"
	StatusFailed  PositionStatus = "FAILED"
)

// Exit reasons stamped on positions.
const (
	ExitReasonStopLoss     = "Stop loss triggered"
	ExitReasonProfitTarget = "Profit threshold reached"
	ExitReasonMaxHold      = "Max hold time exceeded"
	ExitReasonExitFailed   = "Exit failed"
)

// PartialSellReason formats the reason for a ladder rung exit.
func PartialSellReason(rung decimal.Decimal) string {
	return fmt.Sprintf("Partial sell at %s%%", rung.String())
}

var allowedTransitions = map[PositionStatus][]PositionStatus{
	StatusPending: {StatusActive},
	StatusActive:  {StatusClosing},
	StatusClosing: {StatusActive, StatusClosed, StatusFailed},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to PositionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// TradePosition is a position opened after a threshold crossing.
type TradePosition struct {
	ID                 uint64              `json:"id"`
	AssetID            string              `json:"asset_id"`
	StrategyName       string              `json:"strategy_name"`
	EntryAmount        decimal.Decimal     `json:"entry_amount"`
	EntryTokenQuantity decimal.Decimal     `json:"entry_token_quantity"`
	TokenQuantity      decimal.Decimal     `json:"token_quantity"` // remaining after partial sells
	EntryPrice         decimal.Decimal     `json:"entry_price"`
	EntryTime          time.Time           `json:"entry_time"`
	CurrentPrice       decimal.NullDecimal `json:"current_price"`
	Status             PositionStatus      `json:"status"`
	ExitPrice          decimal.NullDecimal `json:"exit_price"`
	ExitTime           *time.Time          `json:"exit_time,omitempty"`
	ExitReason         string              `json:"exit_reason,omitempty"`
	FiredLadderRungs   []decimal.Decimal   `json:"fired_ladder_rungs"`
	RealizedProceeds   decimal.Decimal     `json:"realized_proceeds"`
	FeesPaid           decimal.Decimal     `json:"fees_paid"`
	ExitAttempts       int                 `json:"exit_attempts"`
	LastError          string              `json:"last_error,omitempty"`
}

// Transition moves the position to next or reports an invariant violation.
func (p *TradePosition) Transition(next PositionStatus) error {
	if !CanTransition(p.Status, next) {
		return fmt.Errorf("%w: position %d cannot move %s -> %s", ErrInvariantViolation, p.ID, p.Status, next)
	}
	p.Status = next
	return nil
}

// HasFired reports whether the ladder rung was already triggered.
func (p *TradePosition) HasFired(rung decimal.Decimal) bool {
	for _, r := range p.FiredLadderRungs {
		if r.Equal(rung) {
			return true
		}
	}
	return false
}

// RecordRung appends a rung, keeping the set strictly increasing.
func (p *TradePosition) RecordRung(rung decimal.Decimal) error {
	if n := len(p.FiredLadderRungs); n > 0 && !rung.GreaterThan(p.FiredLadderRungs[n-1]) {
		return fmt.Errorf("%w: rung %s fired after %s on position %d", ErrInvariantViolation, rung, p.FiredLadderRungs[n-1], p.ID)
	}
	p.FiredLadderRungs = append(p.FiredLadderRungs, rung)
	return nil
}

// EntryValue is the entry cost attributable to the remaining token quantity.
func (p *TradePosition) EntryValue() decimal.Decimal {
	return p.TokenQuantity.Mul(p.EntryPrice)
}

// PnLPercent computes profit in percent of the remaining entry value for a current value.
func (p *TradePosition) PnLPercent(currentValue decimal.Decimal) decimal.Decimal {
	entry := p.EntryValue()
	if entry.IsZero() {
		return decimal.Zero
	}
	return currentValue.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
}

// RealizedPnL is the proceeds of all sells minus the entry amount.
func (p *TradePosition) RealizedPnL() decimal.Decimal {
	return p.RealizedProceeds.Sub(p.EntryAmount)
}

// Clone returns a deep copy safe to hand to callers.
func (p *TradePosition) Clone() TradePosition {
	c := *p
	c.FiredLadderRungs = append([]decimal.Decimal(nil), p.FiredLadderRungs...)
	if p.ExitTime != nil {
		t := *p.ExitTime
		c.ExitTime = &t
	}
	return c
}

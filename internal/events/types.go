// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	// Registry events
	AssetAdded   EventType = "asset.added"
	AssetRemoved EventType = "asset.removed"

	// Sampling events
	StatusUpdate     EventType = "status.update"
	ThresholdCrossed EventType = "threshold.crossed"

	// Position events
	PositionOpened      EventType = "position.opened"
	PositionClosed      EventType = "position.closed"
	PositionPartialSell EventType = "position.partial_sell"
	PositionFailed      EventType = "position.failed"
	PositionSkipped     EventType = "position.skipped"
	PositionBuyFailed   EventType = "position.buy_failed"

	// Risk and defect signals
	RiskAlert          EventType = "risk.alert"
	InvariantViolation EventType = "invariant.violation"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	// AssetKey identifies the asset the event belongs to; ordering is preserved per key.
	AssetKey() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	Asset     string
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// AssetKey returns the asset id the event is about.
func (e BaseEvent) AssetKey() string {
	return e.Asset
}

func newBase(t EventType, asset string) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now(), Asset: asset}
}

// AssetAddedEvent is emitted on first registration of an asset.
type AssetAddedEvent struct {
	BaseEvent
	ID string
}

// AssetRemovedEvent is emitted when a registered asset is removed.
type AssetRemovedEvent struct {
	BaseEvent
	ID string
}

// StatusUpdateEvent carries every successful sample.
type StatusUpdateEvent struct {
	BaseEvent
	ID         string
	Snapshot   domain.MarketSnapshot
	Prediction domain.Prediction
}

// ThresholdCrossedEvent is emitted once per asset when a crossing is confirmed.
type ThresholdCrossedEvent struct {
	BaseEvent
	ID           string
	Snapshot     domain.MarketSnapshot
	CrossingTime time.Time
	Crossing     domain.ThresholdCrossingEvent
}

// PositionOpenedEvent is emitted when a buy succeeds.
type PositionOpenedEvent struct {
	BaseEvent
	Position domain.TradePosition
}

// PositionClosedEvent is emitted when a position fully exits.
type PositionClosedEvent struct {
	BaseEvent
	Position domain.TradePosition
}

// PositionPartialSellEvent is emitted when a ladder rung sells part of a position.
type PositionPartialSellEvent struct {
	BaseEvent
	Position   domain.TradePosition
	Rung       decimal.Decimal
	AmountSold decimal.Decimal
	Proceeds   decimal.Decimal
}

// PositionFailedEvent is emitted when exit retries are exhausted.
type PositionFailedEvent struct {
	BaseEvent
	Position domain.TradePosition
	Err      error
}

// PositionSkippedEvent is emitted when the risk governor refuses a crossing.
type PositionSkippedEvent struct {
	BaseEvent
	ID     string
	Reason string
}

// PositionBuyFailedEvent is emitted when the entry swap fails. No position exists.
type PositionBuyFailedEvent struct {
	BaseEvent
	ID     string
	Reason string
	Err    error
}

// RiskAlertEvent is emitted when the aggregate risk level changes.
type RiskAlertEvent struct {
	BaseEvent
	Level    string
	Previous string
	Drawdown decimal.Decimal
	Failures int
}

// InvariantViolationEvent surfaces a detected defect.
type InvariantViolationEvent struct {
	BaseEvent
	Err error
}

func NewAssetAdded(id string) AssetAddedEvent {
	return AssetAddedEvent{BaseEvent: newBase(AssetAdded, id), ID: id}
}

func NewAssetRemoved(id string) AssetRemovedEvent {
	return AssetRemovedEvent{BaseEvent: newBase(AssetRemoved, id), ID: id}
}

func NewStatusUpdate(snap domain.MarketSnapshot, pred domain.Prediction) StatusUpdateEvent {
	return StatusUpdateEvent{BaseEvent: newBase(StatusUpdate, snap.AssetID), ID: snap.AssetID, Snapshot: snap, Prediction: pred}
}

func NewThresholdCrossed(ev domain.ThresholdCrossingEvent) ThresholdCrossedEvent {
	return ThresholdCrossedEvent{
		BaseEvent:    newBase(ThresholdCrossed, ev.AssetID),
		ID:           ev.AssetID,
		Snapshot:     ev.Snapshot,
		CrossingTime: ev.CrossingTime,
		Crossing:     ev,
	}
}

func NewPositionOpened(p domain.TradePosition) PositionOpenedEvent {
	return PositionOpenedEvent{BaseEvent: newBase(PositionOpened, p.AssetID), Position: p}
}

func NewPositionClosed(p domain.TradePosition) PositionClosedEvent {
	return PositionClosedEvent{BaseEvent: newBase(PositionClosed, p.AssetID), Position: p}
}

func NewPositionPartialSell(p domain.TradePosition, rung, sold, proceeds decimal.Decimal) PositionPartialSellEvent {
	return PositionPartialSellEvent{
		BaseEvent:  newBase(PositionPartialSell, p.AssetID),
		Position:   p,
		Rung:       rung,
		AmountSold: sold,
		Proceeds:   proceeds,
	}
}

func NewPositionFailed(p domain.TradePosition, err error) PositionFailedEvent {
	return PositionFailedEvent{BaseEvent: newBase(PositionFailed, p.AssetID), Position: p, Err: err}
}

func NewPositionSkipped(id, reason string) PositionSkippedEvent {
	return PositionSkippedEvent{BaseEvent: newBase(PositionSkipped, id), ID: id, Reason: reason}
}

func NewPositionBuyFailed(id string, err error) PositionBuyFailedEvent {
	return PositionBuyFailedEvent{
		BaseEvent: newBase(PositionBuyFailed, id),
		ID:        id,
		Reason:    string(domain.ExecutionKind(err)),
		Err:       err,
	}
}

func NewRiskAlert(level, previous string, drawdown decimal.Decimal, failures int) RiskAlertEvent {
	return RiskAlertEvent{
		BaseEvent: newBase(RiskAlert, ""),
		Level:     level,
		Previous:  previous,
		Drawdown:  drawdown,
		Failures:  failures,
	}
}

func NewInvariantViolation(asset string, err error) InvariantViolationEvent {
	return InvariantViolationEvent{BaseEvent: newBase(InvariantViolation, asset), Err: err}
}

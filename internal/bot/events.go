// internal/bot/events.go
package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/utils/logger"
)

// journalTypes are the position events written to the structured log.
var journalTypes = []events.EventType{
	events.PositionOpened,
	events.PositionPartialSell,
	events.PositionClosed,
	events.PositionFailed,
	events.PositionSkipped,
	events.PositionBuyFailed,
	events.RiskAlert,
}

// subscribe connects the position manager to confirmed crossings and installs the journal.
// Crossings use the Block policy so none is ever dropped while the bot runs.
func (b *Bot) subscribe() error {
	sub, err := b.bus.Subscribe(events.SubscribeOptions{
		Name:   "position_manager",
		Types:  []events.EventType{events.ThresholdCrossed},
		Policy: events.Block,
	}, events.HandlerFunc(b.onCrossing))
	if err != nil {
		return fmt.Errorf("subscribe position manager: %w", err)
	}
	b.crossingSub = sub

	_, err = b.bus.Subscribe(events.SubscribeOptions{
		Name:  "journal",
		Types: journalTypes,
	}, events.HandlerFunc(b.journal))
	if err != nil {
		return fmt.Errorf("subscribe journal: %w", err)
	}
	return nil
}

// onCrossing runs the buy under the bot's work context, not the dispatcher's.
// Crossings that arrive once Stop has begun are dropped without trading.
func (b *Bot) onCrossing(_ context.Context, ev events.Event) error {
	crossed, ok := ev.(events.ThresholdCrossedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on crossing subscription", ev)
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.logger.Info("Crossing dropped, bot is not running",
			zap.String("asset", domain.ShortID(crossed.Crossing.AssetID)))
		return nil
	}
	b.crossings.Add(1)
	ctx := b.workCtx
	b.mu.Unlock()
	defer b.crossings.Done()

	return b.positions.HandleCrossing(ctx, crossed.Crossing)
}

func (b *Bot) journal(_ context.Context, ev events.Event) error {
	log := b.logger.Named("journal")
	switch e := ev.(type) {
	case events.PositionOpenedEvent:
		log.Info("Opened", logger.PositionFields(e.Position)...)
	case events.PositionPartialSellEvent:
		log.Info("Partial sell", append(logger.PositionFields(e.Position),
			logger.Decimal("rung", e.Rung),
			logger.Decimal("sold", e.AmountSold),
			logger.Decimal("proceeds", e.Proceeds))...)
	case events.PositionClosedEvent:
		log.Info("Closed", append(logger.PositionFields(e.Position),
			zap.String("reason", e.Position.ExitReason),
			logger.Decimal("realized_pnl", e.Position.RealizedPnL()))...)
	case events.PositionFailedEvent:
		log.Error("Failed", append(logger.PositionFields(e.Position), zap.Error(e.Err))...)
	case events.PositionSkippedEvent:
		log.Info("Skipped", zap.String("asset", domain.ShortID(e.ID)), zap.String("reason", e.Reason))
	case events.PositionBuyFailedEvent:
		log.Warn("Buy failed", zap.String("asset", domain.ShortID(e.ID)), zap.String("reason", e.Reason), zap.Error(e.Err))
	case events.RiskAlertEvent:
		log.Warn("Risk level changed",
			zap.String("level", e.Level),
			zap.String("previous", e.Previous),
			logger.Decimal("drawdown_percent", e.Drawdown),
			zap.Int("recent_failures", e.Failures))
	}
	return nil
}

// internal/notify/telegram/notifier.go
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
)

// Sender delivers a message. *tele.Bot satisfies it.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Types lists the events worth a chat message.
var Types = []events.EventType{
	events.ThresholdCrossed,
	events.PositionOpened,
	events.PositionPartialSell,
	events.PositionClosed,
	events.PositionFailed,
	events.PositionBuyFailed,
	events.RiskAlert,
	events.InvariantViolation,
}

// Notifier forwards engine events to one Telegram chat.
type Notifier struct {
	sender Sender
	chat   tele.Recipient
	logger *zap.Logger
}

// NewBot connects to the Bot API with a long poller for commands.
func NewBot(token string) (*tele.Bot, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return b, nil
}

// NewNotifier creates a notifier posting to chatID.
func NewNotifier(sender Sender, chatID int64, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chat:   tele.ChatID(chatID),
		logger: logger.Named("telegram"),
	}
}

// Handle implements events.Handler.
func (n *Notifier) Handle(_ context.Context, ev events.Event) error {
	text, ok := Format(ev)
	if !ok {
		return nil
	}
	if _, err := n.sender.Send(n.chat, text, tele.NoPreview); err != nil {
		return fmt.Errorf("telegram send %s: %w", ev.Type(), err)
	}
	n.logger.Debug("Notification sent", zap.String("type", string(ev.Type())))
	return nil
}

// Format renders ev as a chat message. ok is false for events that are not announced.
func Format(ev events.Event) (text string, ok bool) {
	switch e := ev.(type) {
	case events.ThresholdCrossedEvent:
		return fmt.Sprintf("🎓 Threshold crossed: %s\nMarket cap: %s\nConfirmed after %d ticks",
			e.ID, e.Snapshot.MarketCap.StringFixed(2), e.Crossing.ConfirmationTicks), true
	case events.PositionOpenedEvent:
		p := e.Position
		return fmt.Sprintf("🟢 Opened #%d %s (%s)\nSpent: %s SOL\nEntry price: %s",
			p.ID, p.AssetID, p.StrategyName, p.EntryAmount.String(), p.EntryPrice.String()), true
	case events.PositionPartialSellEvent:
		p := e.Position
		return fmt.Sprintf("🟡 Partial sell #%d %s at +%s%%\nSold: %s tokens for %s SOL",
			p.ID, p.AssetID, e.Rung.String(), e.AmountSold.String(), e.Proceeds.StringFixed(6)), true
	case events.PositionClosedEvent:
		p := e.Position
		return fmt.Sprintf("%s Closed #%d %s\nReason: %s\nPnL: %s SOL",
			pnlIcon(p), p.ID, p.AssetID, p.ExitReason, p.RealizedPnL().StringFixed(6)), true
	case events.PositionFailedEvent:
		return fmt.Sprintf("🚨 Exit failed #%d %s after %d attempts\n%s\nManual action required",
			e.Position.ID, e.Position.AssetID, e.Position.ExitAttempts, errText(e.Err)), true
	case events.PositionBuyFailedEvent:
		return fmt.Sprintf("⚠️ Buy failed for %s\n%s", e.ID, errText(e.Err)), true
	case events.RiskAlertEvent:
		return fmt.Sprintf("🛡 Risk level %s → %s\nDrawdown: %s%%\nRecent failures: %d",
			e.Previous, e.Level, e.Drawdown.StringFixed(2), e.Failures), true
	case events.InvariantViolationEvent:
		return fmt.Sprintf("❗ Invariant violation on %s\n%s", e.AssetKey(), errText(e.Err)), true
	default:
		return "", false
	}
}

func pnlIcon(p domain.TradePosition) string {
	if p.RealizedPnL().IsNegative() {
		return "🔴"
	}
	return "✅"
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return strings.TrimSpace(err.Error())
}

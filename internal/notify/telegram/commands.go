// internal/notify/telegram/commands.go
package telegram

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/position"
)

// Reporter answers chat queries.
type Reporter interface {
	GetPositionStats() position.Stats
	ListActivePositions() []domain.TradePosition
	ListFailedPositions() []domain.TradePosition
}

// Router is the part of *tele.Bot that commands are registered on.
type Router interface {
	Use(middleware ...tele.MiddlewareFunc)
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

// RegisterCommands installs /stats, /positions and /failed. Only authorizedID may use them.
func RegisterCommands(b Router, r Reporter, authorizedID int64) {
	b.Use(authorized(authorizedID))
	b.Handle("/stats", func(c tele.Context) error { return c.Send(StatsText(r.GetPositionStats())) })
	b.Handle("/positions", func(c tele.Context) error { return c.Send(PositionsText("Active positions", r.ListActivePositions())) })
	b.Handle("/failed", func(c tele.Context) error { return c.Send(PositionsText("Failed positions", r.ListFailedPositions())) })
}

func authorized(id int64) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || c.Sender().ID != id {
				return c.Send("⛔ Unauthorized")
			}
			return next(c)
		}
	}
}

// StatsText renders aggregate outcomes.
func StatsText(st position.Stats) string {
	return fmt.Sprintf("📊 Positions\nActive: %d\nCompleted: %d (wins %d, %.0f%%)\nFailed: %d\nRealized PnL: %s SOL",
		st.ActiveCount, st.CompletedCount, st.Wins, st.SuccessRate*100, st.FailedCount, st.TotalRealizedPnL.StringFixed(6))
}

// PositionsText renders one line per position.
func PositionsText(title string, positions []domain.TradePosition) string {
	if len(positions) == 0 {
		return title + ": none"
	}
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(":")
	for _, p := range positions {
		price := "n/a"
		if p.CurrentPrice.Valid {
			price = p.CurrentPrice.Decimal.String()
		}
		fmt.Fprintf(&sb, "\n#%d %s %s entry %s now %s", p.ID, domain.ShortID(p.AssetID), p.Status, p.EntryPrice.String(), price)
	}
	return sb.String()
}

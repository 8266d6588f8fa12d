package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

func TestDecideExit_Priority(t *testing.T) {
	strat := aggressive()
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := entry.Add(time.Minute)
	expired := entry.Add(2 * time.Hour)

	tests := []struct {
		name  string
		pnl   float64
		now   time.Time
		fired []decimal.Decimal
		want  string
		full  bool
		exit  bool
	}{
		{name: "flat", pnl: 0, now: fresh},
		{name: "stop loss at threshold", pnl: -20, now: fresh, want: domain.ExitReasonStopLoss, full: true, exit: true},
		{name: "stop loss beats max hold", pnl: -35, now: expired, want: domain.ExitReasonStopLoss, full: true, exit: true},
		{name: "profit target beats ladder", pnl: 50, now: fresh, want: domain.ExitReasonProfitTarget, full: true, exit: true},
		{name: "profit target beats max hold", pnl: 80, now: expired, want: domain.ExitReasonProfitTarget, full: true, exit: true},
		{name: "max hold beats ladder", pnl: 30, now: expired, want: domain.ExitReasonMaxHold, full: true, exit: true},
		{name: "first rung", pnl: 26, now: fresh, want: domain.PartialSellReason(d(25)), exit: true},
		{name: "fired rung is skipped", pnl: 26, now: fresh, fired: []decimal.Decimal{d(25)}},
		{name: "small loss holds", pnl: -19.99, now: fresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := domain.TradePosition{EntryTime: entry, FiredLadderRungs: tt.fired}
			got, ok := DecideExit(pos, strat, d(tt.pnl), tt.now)
			assert.Equal(t, tt.exit, ok)
			assert.Equal(t, tt.want, got.Reason)
			assert.Equal(t, tt.full, got.Full)
		})
	}
}

func TestDecideExit_SmallestUnfiredRung(t *testing.T) {
	strat := aggressive()
	strat.SellThreshold = d(500) // keep the profit target out of the way
	entry := time.Now()
	pos := domain.TradePosition{EntryTime: entry}

	got, ok := DecideExit(pos, strat, d(90), entry)
	assert.True(t, ok)
	assert.True(t, got.Rung.Equal(d(25)), "a jump past several rungs fires the lowest first")

	pos.FiredLadderRungs = []decimal.Decimal{d(25), d(50)}
	got, ok = DecideExit(pos, strat, d(90), entry)
	assert.True(t, ok)
	assert.True(t, got.Rung.Equal(d(75)))

	pos.FiredLadderRungs = append(pos.FiredLadderRungs, d(75))
	_, ok = DecideExit(pos, strat, d(90), entry)
	assert.False(t, ok)
}

// internal/risk/governor.go
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/events"
)

// ErrOpenRefused is returned when the governor does not approve a new position.
var ErrOpenRefused = errors.New("open refused by risk governor")

// Level is the aggregate risk level.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// PositionBook reports the currently committed positions.
type PositionBook interface {
	ActiveCount() int
	ActiveExposure() decimal.Decimal
}

// Publisher delivers risk alerts.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Recorder receives the current risk level for metrics.
type Recorder interface {
	SetRiskLevel(level int)
}

// Config holds caps and level thresholds.
type Config struct {
	MaxConcurrentTrades int
	MaxTotalExposure    decimal.Decimal
	Window              time.Duration

	// Drawdown thresholds, percent of MaxTotalExposure
	DrawdownMedium   decimal.Decimal
	DrawdownHigh     decimal.Decimal
	DrawdownCritical decimal.Decimal

	// Failed exits within Window
	FailuresMedium   int
	FailuresHigh     int
	FailuresCritical int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTrades: 3,
		MaxTotalExposure:    decimal.NewFromInt(1),
		Window:              24 * time.Hour,
		DrawdownMedium:      decimal.NewFromInt(10),
		DrawdownHigh:        decimal.NewFromInt(25),
		DrawdownCritical:    decimal.NewFromInt(50),
		FailuresMedium:      1,
		FailuresHigh:        2,
		FailuresCritical:    3,
	}
}

type pnlPoint struct {
	at  time.Time
	pnl decimal.Decimal
}

// Status is a read-only view of the governor.
type Status struct {
	Level            string          `json:"level"`
	DrawdownPercent  decimal.Decimal `json:"drawdown_percent"`
	RecentFailures   int             `json:"recent_failures"`
	ActiveCount      int             `json:"active_count"`
	ActiveExposure   decimal.Decimal `json:"active_exposure"`
	ReservedCount    int             `json:"reserved_count"`
	ReservedExposure decimal.Decimal `json:"reserved_exposure"`
}

// Governor enforces concurrency and exposure caps and derives the aggregate risk level.
type Governor struct {
	mu       sync.Mutex
	cfg      Config
	book     PositionBook
	logger   *zap.Logger
	pub      Publisher
	recorder Recorder
	now      func() time.Time

	reserved    map[uint64]decimal.Decimal
	nextReserve uint64
	closes      []pnlPoint
	failures    []time.Time
	level       Level
	drawdown    decimal.Decimal
}

// NewGovernor creates a governor. book, pub and recorder may be nil.
func NewGovernor(cfg Config, book PositionBook, pub Publisher, recorder Recorder, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:      cfg,
		book:     book,
		logger:   logger.Named("risk_governor"),
		pub:      pub,
		recorder: recorder,
		now:      time.Now,
		reserved: make(map[uint64]decimal.Decimal),
	}
}

// AttachBook sets the position book when it is created after the governor.
func (g *Governor) AttachBook(book PositionBook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.book = book
}

// SetClock replaces the time source.
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// CanOpen reports whether a position of candidate size may be opened now.
func (g *Governor) CanOpen(candidate decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check(candidate) == nil
}

// TryReserve atomically checks the caps and holds candidate until release is called.
func (g *Governor) TryReserve(candidate decimal.Decimal) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.check(candidate); err != nil {
		return nil, err
	}
	g.nextReserve++
	id := g.nextReserve
	g.reserved[id] = candidate

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.reserved, id)
			g.mu.Unlock()
		})
	}, nil
}

func (g *Governor) check(candidate decimal.Decimal) error {
	if g.level == LevelCritical {
		return fmt.Errorf("%w: risk level %s", ErrOpenRefused, g.level)
	}

	reservedSum := decimal.Zero
	for _, amt := range g.reserved {
		reservedSum = reservedSum.Add(amt)
	}

	activeCount, activeExposure := g.bookState()
	count := activeCount + len(g.reserved)
	if count >= g.cfg.MaxConcurrentTrades {
		return fmt.Errorf("%w: %d of %d concurrent trades in use", ErrOpenRefused, count, g.cfg.MaxConcurrentTrades)
	}

	exposure := activeExposure.Add(reservedSum).Add(candidate)
	if exposure.GreaterThan(g.cfg.MaxTotalExposure) {
		return fmt.Errorf("%w: exposure %s would exceed %s", ErrOpenRefused, exposure, g.cfg.MaxTotalExposure)
	}
	return nil
}

func (g *Governor) bookState() (int, decimal.Decimal) {
	if g.book == nil {
		return 0, decimal.Zero
	}
	return g.book.ActiveCount(), g.book.ActiveExposure()
}

// RecordClose registers the realized PnL of a closed position.
func (g *Governor) RecordClose(ctx context.Context, pnl decimal.Decimal) {
	g.mu.Lock()
	g.closes = append(g.closes, pnlPoint{at: g.now(), pnl: pnl})
	alert := g.reevaluate()
	g.mu.Unlock()
	g.emit(ctx, alert)
}

// RecordFailure registers a position that ended in FAILED.
func (g *Governor) RecordFailure(ctx context.Context) {
	g.mu.Lock()
	g.failures = append(g.failures, g.now())
	alert := g.reevaluate()
	g.mu.Unlock()
	g.emit(ctx, alert)
}

// Refresh expires old observations so levels decay over time.
func (g *Governor) Refresh(ctx context.Context) {
	g.mu.Lock()
	alert := g.reevaluate()
	g.mu.Unlock()
	g.emit(ctx, alert)
}

// Level returns the current aggregate risk level.
func (g *Governor) Level() Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Status returns a snapshot of caps usage and risk state.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	reservedSum := decimal.Zero
	for _, amt := range g.reserved {
		reservedSum = reservedSum.Add(amt)
	}
	activeCount, activeExposure := g.bookState()
	return Status{
		Level:            g.level.String(),
		DrawdownPercent:  g.drawdown,
		RecentFailures:   len(g.failures),
		ActiveCount:      activeCount,
		ActiveExposure:   activeExposure,
		ReservedCount:    len(g.reserved),
		ReservedExposure: reservedSum,
	}
}

// reevaluate must be called with mu held. It returns an alert when the level changed.
func (g *Governor) reevaluate() *events.RiskAlertEvent {
	cutoff := g.now().Add(-g.cfg.Window)

	kept := g.closes[:0]
	for _, c := range g.closes {
		if c.at.After(cutoff) {
			kept = append(kept, c)
		}
	}
	g.closes = kept

	keptF := g.failures[:0]
	for _, f := range g.failures {
		if f.After(cutoff) {
			keptF = append(keptF, f)
		}
	}
	g.failures = keptF

	g.drawdown = drawdownPercent(g.closes, g.cfg.MaxTotalExposure)
	next := maxLevel(g.drawdownLevel(g.drawdown), g.failureLevel(len(g.failures)))
	if next == g.level {
		return nil
	}

	prev := g.level
	g.level = next
	if g.recorder != nil {
		g.recorder.SetRiskLevel(int(next))
	}
	g.logger.Warn("Risk level changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.String("drawdown_percent", g.drawdown.StringFixed(2)),
		zap.Int("recent_failures", len(g.failures)))

	ev := events.NewRiskAlert(next.String(), prev.String(), g.drawdown, len(g.failures))
	return &ev
}

func (g *Governor) emit(ctx context.Context, alert *events.RiskAlertEvent) {
	if alert == nil || g.pub == nil {
		return
	}
	if err := g.pub.Publish(ctx, *alert); err != nil {
		g.logger.Error("Failed to publish risk alert", zap.Error(err))
	}
}

func (g *Governor) drawdownLevel(dd decimal.Decimal) Level {
	switch {
	case g.cfg.DrawdownCritical.IsPositive() && dd.GreaterThanOrEqual(g.cfg.DrawdownCritical):
		return LevelCritical
	case g.cfg.DrawdownHigh.IsPositive() && dd.GreaterThanOrEqual(g.cfg.DrawdownHigh):
		return LevelHigh
	case g.cfg.DrawdownMedium.IsPositive() && dd.GreaterThanOrEqual(g.cfg.DrawdownMedium):
		return LevelMedium
	default:
		return LevelLow
	}
}

func (g *Governor) failureLevel(n int) Level {
	switch {
	case g.cfg.FailuresCritical > 0 && n >= g.cfg.FailuresCritical:
		return LevelCritical
	case g.cfg.FailuresHigh > 0 && n >= g.cfg.FailuresHigh:
		return LevelHigh
	case g.cfg.FailuresMedium > 0 && n >= g.cfg.FailuresMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// drawdownPercent is the largest peak-to-trough fall of cumulative realized PnL,
// as a percentage of base. The running peak starts at zero.
func drawdownPercent(closes []pnlPoint, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	cum, peak, worst := decimal.Zero, decimal.Zero, decimal.Zero
	for _, c := range closes {
		cum = cum.Add(c.pnl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst.Div(base).Mul(decimal.NewFromInt(100))
}

func maxLevel(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

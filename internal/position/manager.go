// internal/position/manager.go
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/execution"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage"
)

// DefaultMaxExitAttempts bounds sell retries before a position is marked FAILED.
const DefaultMaxExitAttempts = 3

// Governor gates new positions and tracks realized outcomes.
type Governor interface {
	TryReserve(candidate decimal.Decimal) (release func(), err error)
	RecordClose(ctx context.Context, pnl decimal.Decimal)
	RecordFailure(ctx context.Context)
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Recorder receives position metrics. *metrics.Collector implements it.
type Recorder interface {
	PositionOutcome(outcome string)
	SetActivePositions(n int)
	InvariantViolation(component string)
	RecordSwap(ctx context.Context, direction string, duration time.Duration, success bool)
}

// Config holds strategies and execution limits.
type Config struct {
	Strategies      map[string]domain.Strategy
	DefaultStrategy string
	SwapTimeout     time.Duration
	QuoteTimeout    time.Duration
	MaxExitAttempts int
	Workers         int // concurrent evaluations per tick, 0 = one per position
}

type tracked struct {
	exitLock sync.Mutex // at most one evaluation or exit in flight

	pos domain.TradePosition // guarded by Manager.mu
}

// Manager turns threshold crossings into positions and drives them to exit.
// It is the only writer of TradePosition values; readers receive copies.
type Manager struct {
	mu        sync.RWMutex
	active    map[uint64]*tracked
	completed []domain.TradePosition
	failed    []domain.TradePosition
	crossed   map[string]struct{} // assets that already produced a crossing
	assigned  map[string]string   // asset -> strategy override
	nextID    uint64

	cfg      Config
	gateway  execution.Gateway
	governor Governor
	store    storage.Storage
	pub      Publisher
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewManager creates a manager. store may be nil, in which case positions live in memory only.
func NewManager(cfg Config, gateway execution.Gateway, governor Governor, store storage.Storage, pub Publisher, recorder Recorder, logger *zap.Logger) (*Manager, error) {
	if len(cfg.Strategies) == 0 {
		return nil, &domain.ConfigurationError{Field: "strategies", Reason: "at least one strategy is required"}
	}
	if _, ok := cfg.Strategies[cfg.DefaultStrategy]; !ok {
		return nil, &domain.ConfigurationError{Field: "default_strategy", Reason: fmt.Sprintf("unknown strategy %q", cfg.DefaultStrategy)}
	}
	if cfg.MaxExitAttempts < 1 {
		cfg.MaxExitAttempts = DefaultMaxExitAttempts
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Manager{
		active:   make(map[uint64]*tracked),
		crossed:  make(map[string]struct{}),
		assigned: make(map[string]string),
		cfg:      cfg,
		gateway:  gateway,
		governor: governor,
		store:    store,
		pub:      pub,
		recorder: recorder,
		logger:   logger.Named("position_manager"),
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) clock() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

// AssignStrategy selects a non-default strategy for a future crossing of assetID.
func (m *Manager) AssignStrategy(assetID, name string) error {
	if _, ok := m.cfg.Strategies[name]; !ok {
		return &domain.ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[assetID] = name
	return nil
}

func (m *Manager) strategyFor(assetID string) domain.Strategy {
	m.mu.RLock()
	name, ok := m.assigned[assetID]
	m.mu.RUnlock()
	if !ok {
		name = m.cfg.DefaultStrategy
	}
	return m.cfg.Strategies[name]
}

func (m *Manager) strategyByName(name string) domain.Strategy {
	if s, ok := m.cfg.Strategies[name]; ok {
		return s
	}
	m.logger.Warn("Unknown strategy on position, using default",
		zap.String("strategy", name),
		zap.String("default", m.cfg.DefaultStrategy))
	return m.cfg.Strategies[m.cfg.DefaultStrategy]
}

// HandleCrossing opens a position for a confirmed crossing if the governor approves.
// A refused open publishes position.skipped. A failed buy publishes position.buy_failed
// and returns the execution error; no position is recorded.
func (m *Manager) HandleCrossing(ctx context.Context, ev domain.ThresholdCrossingEvent) error {
	m.mu.Lock()
	if _, dup := m.crossed[ev.AssetID]; dup {
		m.mu.Unlock()
		err := fmt.Errorf("%w: duplicate crossing for asset %s", domain.ErrInvariantViolation, ev.AssetID)
		m.reportInvariant(ctx, ev.AssetID, err)
		return err
	}
	m.crossed[ev.AssetID] = struct{}{}
	m.mu.Unlock()

	strat := m.strategyFor(ev.AssetID)
	log := m.logger.With(
		zap.String("asset", domain.ShortID(ev.AssetID)),
		zap.String("strategy", strat.Name))

	release, err := m.governor.TryReserve(strat.BuyAmount)
	if err != nil {
		log.Info("Position skipped", zap.Error(err))
		m.recorder.PositionOutcome("skipped")
		m.publish(ctx, events.NewPositionSkipped(ev.AssetID, err.Error()))
		return nil
	}
	defer release()

	res, err := m.buy(ctx, ev.AssetID, strat)
	if err != nil {
		log.Warn("Buy failed, no position created",
			zap.String("kind", string(domain.ExecutionKind(err))),
			zap.Error(err))
		m.recorder.PositionOutcome("buy_failed")
		m.publish(ctx, events.NewPositionBuyFailed(ev.AssetID, err))
		return err
	}

	m.mu.Lock()
	m.nextID++
	pos := domain.TradePosition{
		ID:                 m.nextID,
		AssetID:            ev.AssetID,
		StrategyName:       strat.Name,
		EntryAmount:        strat.BuyAmount,
		EntryTokenQuantity: res.AmountOut,
		TokenQuantity:      res.AmountOut,
		EntryPrice:         strat.BuyAmount.Div(res.AmountOut),
		EntryTime:          m.now(),
		Status:             domain.StatusPending,
		RealizedProceeds:   decimal.Zero,
		FeesPaid:           res.FeePaid,
	}
	if err := pos.Transition(domain.StatusActive); err != nil {
		m.mu.Unlock()
		m.reportInvariant(ctx, ev.AssetID, err)
		return err
	}
	m.active[pos.ID] = &tracked{pos: pos}
	n := len(m.active)
	m.mu.Unlock()

	m.persist(ctx, pos)
	m.recorder.SetActivePositions(n)
	m.recorder.PositionOutcome("opened")
	log.Info("Position opened",
		zap.Uint64("position_id", pos.ID),
		zap.String("entry_amount", pos.EntryAmount.String()),
		zap.String("tokens", pos.TokenQuantity.String()),
		zap.String("entry_price", pos.EntryPrice.String()))
	m.publish(ctx, events.NewPositionOpened(pos.Clone()))
	return nil
}

func (m *Manager) buy(ctx context.Context, assetID string, strat domain.Strategy) (execution.SwapResult, error) {
	expected, err := m.quote(ctx, execution.QuoteRequest{
		AssetID:   assetID,
		Direction: execution.Buy,
		AmountIn:  strat.BuyAmount,
	})
	if err != nil {
		return execution.SwapResult{}, domain.NewExecutionError(domain.Rejected, err)
	}

	res, err := m.swap(ctx, execution.SwapRequest{
		AssetID:      assetID,
		Direction:    execution.Buy,
		AmountIn:     strat.BuyAmount,
		MinAmountOut: execution.MinAmountOut(expected, strat.SlippagePercent),
	}, expected)
	if err != nil {
		return res, err
	}
	if !res.AmountOut.IsPositive() {
		return res, domain.NewExecutionError(domain.Rejected, errors.New("swap returned no tokens"))
	}
	return res, nil
}

func (m *Manager) quote(ctx context.Context, req execution.QuoteRequest) (decimal.Decimal, error) {
	if m.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.QuoteTimeout)
		defer cancel()
	}
	return m.gateway.Quote(ctx, req)
}

// swap applies the swap timeout both as a context deadline and as the request deadline.
// Fills are logged with their price impact against the quoted amount.
func (m *Manager) swap(ctx context.Context, req execution.SwapRequest, expected decimal.Decimal) (execution.SwapResult, error) {
	if m.cfg.SwapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.SwapTimeout)
		defer cancel()
		req.Deadline = m.clock().Add(m.cfg.SwapTimeout)
	}
	start := time.Now()
	res, err := m.gateway.Swap(ctx, req)
	m.recorder.RecordSwap(ctx, string(req.Direction), time.Since(start), err == nil)
	if err != nil {
		return res, err
	}
	m.logger.Debug("Swap filled",
		zap.String("asset", domain.ShortID(req.AssetID)),
		zap.String("direction", string(req.Direction)),
		zap.String("expected", expected.String()),
		zap.String("amount_out", res.AmountOut.String()),
		zap.String("price_impact_percent", execution.PriceImpactPercent(expected, res.AmountOut).StringFixed(2)))
	return res, nil
}

// Tick starts one evaluation per ACTIVE position and returns without waiting.
// Positions with an evaluation or exit still in flight are skipped.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.RLock()
	batch := make([]*tracked, 0, len(m.active))
	for _, t := range m.active {
		if t.pos.Status == domain.StatusActive {
			batch = append(batch, t)
		}
	}
	m.mu.RUnlock()

	var g errgroup.Group
	if m.cfg.Workers > 0 {
		g.SetLimit(m.cfg.Workers)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, t := range batch {
			if !t.exitLock.TryLock() {
				continue
			}
			g.Go(func() error {
				defer t.exitLock.Unlock()
				m.evaluate(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until all started evaluations have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) snapshot(t *tracked) domain.TradePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return t.pos.Clone()
}

func (m *Manager) evaluate(ctx context.Context, t *tracked) {
	pos := m.snapshot(t)
	if pos.Status != domain.StatusActive || !pos.TokenQuantity.IsPositive() {
		return
	}
	strat := m.strategyByName(pos.StrategyName)

	value, err := m.quote(ctx, execution.QuoteRequest{
		AssetID:   pos.AssetID,
		Direction: execution.Sell,
		AmountIn:  pos.TokenQuantity,
	})
	if err != nil {
		m.logger.Debug("Quote failed, skipping tick",
			zap.Uint64("position_id", pos.ID),
			zap.String("asset", domain.ShortID(pos.AssetID)),
			zap.Error(err))
		return
	}

	price := value.Div(pos.TokenQuantity)
	m.mu.Lock()
	t.pos.CurrentPrice = decimal.NewNullDecimal(price)
	now := m.now()
	m.mu.Unlock()
	pos.CurrentPrice = decimal.NewNullDecimal(price)

	pnl := pos.PnLPercent(value)
	decision, ok := DecideExit(pos, strat, pnl, now)
	if !ok {
		return
	}

	m.logger.Info("Exit triggered",
		zap.Uint64("position_id", pos.ID),
		zap.String("asset", domain.ShortID(pos.AssetID)),
		zap.String("reason", decision.Reason),
		zap.String("pnl_percent", pnl.StringFixed(2)))
	m.exit(ctx, t, strat, decision, value)
}

// exit runs one sell attempt. It must be called with t.exitLock held.
func (m *Manager) exit(ctx context.Context, t *tracked, strat domain.Strategy, decision ExitDecision, quoted decimal.Decimal) {
	m.mu.Lock()
	if err := t.pos.Transition(domain.StatusClosing); err != nil {
		m.mu.Unlock()
		m.reportInvariant(ctx, t.pos.AssetID, err)
		return
	}
	pos := t.pos.Clone()
	m.mu.Unlock()

	qty, expected := pos.TokenQuantity, quoted
	if !decision.Full {
		qty = pos.TokenQuantity.Mul(strat.PartialSellFraction)
		expected = quoted.Mul(strat.PartialSellFraction)
	}

	res, err := m.swap(ctx, execution.SwapRequest{
		AssetID:      pos.AssetID,
		Direction:    execution.Sell,
		AmountIn:     qty,
		MinAmountOut: execution.MinAmountOut(expected, strat.SlippagePercent),
	}, expected)
	if err != nil {
		m.exitFailed(ctx, t, decision, err)
		return
	}
	if decision.Full {
		m.closed(ctx, t, decision, qty, res)
		return
	}
	m.partiallySold(ctx, t, decision, qty, res)
}

func (m *Manager) exitFailed(ctx context.Context, t *tracked, decision ExitDecision, cause error) {
	m.mu.Lock()
	if ctx.Err() != nil {
		// abandoned on shutdown, not a venue failure
		_ = t.pos.Transition(domain.StatusActive)
		pos := t.pos.Clone()
		m.mu.Unlock()
		m.persist(ctx, pos)
		m.logger.Info("Exit abandoned on shutdown", zap.Uint64("position_id", pos.ID))
		return
	}
	t.pos.ExitAttempts++
	t.pos.LastError = cause.Error()
	terminal := t.pos.ExitAttempts >= m.cfg.MaxExitAttempts

	next := domain.StatusActive
	if terminal {
		next = domain.StatusFailed
	}
	if err := t.pos.Transition(next); err != nil {
		m.mu.Unlock()
		m.reportInvariant(ctx, t.pos.AssetID, err)
		return
	}
	if terminal {
		exitTime := m.now()
		t.pos.ExitTime = &exitTime
		t.pos.ExitReason = domain.ExitReasonExitFailed
		delete(m.active, t.pos.ID)
		m.failed = append(m.failed, t.pos.Clone())
	}
	pos := t.pos.Clone()
	n := len(m.active)
	m.mu.Unlock()

	m.persist(ctx, pos)
	log := m.logger.With(
		zap.Uint64("position_id", pos.ID),
		zap.String("asset", domain.ShortID(pos.AssetID)),
		zap.String("trigger", decision.Reason),
		zap.String("kind", string(domain.ExecutionKind(cause))),
		zap.Int("attempts", pos.ExitAttempts))

	if !terminal {
		log.Warn("Exit attempt failed, will retry next tick", zap.Error(cause))
		return
	}

	log.Error("Exit attempts exhausted, position FAILED", zap.Error(cause))
	m.recorder.SetActivePositions(n)
	m.recorder.PositionOutcome("failed")
	m.governor.RecordFailure(ctx)
	m.publish(ctx, events.NewPositionFailed(pos, cause))
}

func (m *Manager) closed(ctx context.Context, t *tracked, decision ExitDecision, qty decimal.Decimal, res execution.SwapResult) {
	m.mu.Lock()
	exitTime := m.now()
	t.pos.ExitPrice = decimal.NewNullDecimal(res.AmountOut.Div(qty))
	t.pos.ExitTime = &exitTime
	t.pos.ExitReason = decision.Reason
	t.pos.RealizedProceeds = t.pos.RealizedProceeds.Add(res.AmountOut)
	t.pos.FeesPaid = t.pos.FeesPaid.Add(res.FeePaid)
	t.pos.TokenQuantity = decimal.Zero
	t.pos.LastError = ""
	if err := t.pos.Transition(domain.StatusClosed); err != nil {
		m.mu.Unlock()
		m.reportInvariant(ctx, t.pos.AssetID, err)
		return
	}
	delete(m.active, t.pos.ID)
	pos := t.pos.Clone()
	m.completed = append(m.completed, pos.Clone())
	n := len(m.active)
	m.mu.Unlock()

	m.persist(ctx, pos)
	m.recorder.SetActivePositions(n)
	m.recorder.PositionOutcome("closed")
	m.logger.Info("Position closed",
		zap.Uint64("position_id", pos.ID),
		zap.String("asset", domain.ShortID(pos.AssetID)),
		zap.String("reason", pos.ExitReason),
		zap.String("proceeds", pos.RealizedProceeds.String()),
		zap.String("pnl", pos.RealizedPnL().String()))
	m.governor.RecordClose(ctx, pos.RealizedPnL())
	m.publish(ctx, events.NewPositionClosed(pos))
}

func (m *Manager) partiallySold(ctx context.Context, t *tracked, decision ExitDecision, qty decimal.Decimal, res execution.SwapResult) {
	m.mu.Lock()
	if err := t.pos.RecordRung(decision.Rung); err != nil {
		// the sell went through, so the position must still leave CLOSING
		_ = t.pos.Transition(domain.StatusActive)
		m.mu.Unlock()
		m.reportInvariant(ctx, t.pos.AssetID, err)
		return
	}
	t.pos.TokenQuantity = t.pos.TokenQuantity.Sub(qty)
	t.pos.RealizedProceeds = t.pos.RealizedProceeds.Add(res.AmountOut)
	t.pos.FeesPaid = t.pos.FeesPaid.Add(res.FeePaid)
	t.pos.ExitAttempts = 0
	t.pos.LastError = ""
	if err := t.pos.Transition(domain.StatusActive); err != nil {
		m.mu.Unlock()
		m.reportInvariant(ctx, t.pos.AssetID, err)
		return
	}
	pos := t.pos.Clone()
	m.mu.Unlock()

	m.persist(ctx, pos)
	m.recorder.PositionOutcome("partial_sell")
	m.logger.Info("Partial sell",
		zap.Uint64("position_id", pos.ID),
		zap.String("asset", domain.ShortID(pos.AssetID)),
		zap.String("rung", decision.Rung.String()),
		zap.String("sold", qty.String()),
		zap.String("remaining", pos.TokenQuantity.String()))
	m.publish(ctx, events.NewPositionPartialSell(pos, decision.Rung, qty, res.AmountOut))
}

func (m *Manager) persist(ctx context.Context, pos domain.TradePosition) {
	if err := m.store.SavePosition(context.WithoutCancel(ctx), pos); err != nil {
		m.logger.Error("Failed to persist position",
			zap.Uint64("position_id", pos.ID),
			zap.String("status", string(pos.Status)),
			zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("type", string(ev.Type())),
			zap.Error(err))
	}
}

func (m *Manager) reportInvariant(ctx context.Context, assetID string, err error) {
	m.logger.Error("Invariant violation", zap.String("asset", domain.ShortID(assetID)), zap.Error(err))
	m.recorder.InvariantViolation("position")
	m.publish(ctx, events.NewInvariantViolation(assetID, err))
}

type nopRecorder struct{}

func (nopRecorder) PositionOutcome(string)                                  {}
func (nopRecorder) SetActivePositions(int)                                  {}
func (nopRecorder) InvariantViolation(string)                               {}
func (nopRecorder) RecordSwap(context.Context, string, time.Duration, bool) {}

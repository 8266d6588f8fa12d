// internal/bot/service.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/config"
	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/execution"
	"github.com/rovshanmuradov/graduation-sniper/internal/execution/paper"
	"github.com/rovshanmuradov/graduation-sniper/internal/position"
	"github.com/rovshanmuradov/graduation-sniper/internal/prediction"
	"github.com/rovshanmuradov/graduation-sniper/internal/risk"
	"github.com/rovshanmuradov/graduation-sniper/internal/sampler"
	"github.com/rovshanmuradov/graduation-sniper/internal/storage"
	"github.com/rovshanmuradov/graduation-sniper/internal/utils/metrics"
)

// Deps are the external collaborators of the engine.
type Deps struct {
	Source   sampler.MarketDataSource
	Metadata sampler.MetadataSource // optional
	Gateway  execution.Gateway      // nil selects the paper gateway fed by sampled prices
	Store    storage.Storage        // nil keeps state in memory
	Metrics  *metrics.Collector     // optional
}

// Status is the aggregate read-only view returned by GetStatus.
type Status struct {
	Running     bool                     `json:"running"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	Assets      []sampler.AssetStatus    `json:"assets"`
	Risk        risk.Status              `json:"risk"`
	Positions   position.Stats           `json:"positions"`
	Subscribers []events.SubscriberStats `json:"subscribers"`
}

// Bot wires the sampler, detector, dispatcher, position manager and risk governor
// and drives them from two independent tickers.
type Bot struct {
	cfg    *config.Config
	logger *zap.Logger

	bus       *events.Bus
	detector  *prediction.Detector
	sampler   *sampler.Sampler
	governor  *risk.Governor
	positions *position.Manager
	store     storage.Storage

	mu        sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
	stopLoops context.CancelFunc
	stopWork  context.CancelFunc
	loops     chan error
	workCtx   context.Context

	// crossings tracks HandleCrossing calls so Stop's grace covers in-flight buys.
	crossings   sync.WaitGroup
	crossingSub events.Subscription
}

// New builds the engine from configuration. It does not start any goroutines.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Bot, error) {
	if deps.Source == nil {
		return nil, &domain.ConfigurationError{Field: "source", Reason: "market data source is required"}
	}
	strategies, err := cfg.BuildStrategies()
	if err != nil {
		return nil, err
	}
	store := deps.Store
	if store == nil {
		store = storage.NewMemory()
	}

	b := &Bot{
		cfg:    cfg,
		logger: logger.Named("bot"),
		store:  store,
	}

	b.bus = events.NewBus(logger, events.Options{
		QueueSize: cfg.DispatcherQueueSize,
		Policy:    events.OverflowPolicy(cfg.DispatcherPolicy),
		Drops:     deps.Metrics,
	})

	b.detector = prediction.NewDetector(prediction.Params{
		Threshold:          decimal.NewFromFloat(cfg.Threshold),
		Buffer:             decimal.NewFromFloat(cfg.Buffer),
		ConfirmationWindow: cfg.ConfirmationWindow,
		HistorySize:        cfg.HistorySize,
		MinimumEstimate:    cfg.MinimumEstimate,
		MinProgressRate:    decimal.NewFromFloat(cfg.MinProgressRate),
	})

	opts := []sampler.Option{sampler.WithRecorder(deps.Metrics)}
	if deps.Metadata != nil {
		opts = append(opts, sampler.WithMetadataSource(deps.Metadata))
	}
	b.sampler = sampler.New(sampler.Config{
		MaxTokens:      cfg.MaxTokens,
		SampleTimeout:  cfg.SampleTimeout,
		MaxAttempts:    cfg.SampleMaxAttempts,
		InitialBackoff: cfg.SampleBackoff,
		Workers:        cfg.Workers,
	}, deps.Source, b.detector, b.bus, logger, opts...)

	gateway := deps.Gateway
	if gateway == nil {
		gateway = paper.NewGateway(b.sampler, paper.Config{FeeBps: cfg.Paper.FeeBps, Latency: cfg.Paper.Latency}, logger)
		b.logger.Info("Using paper execution gateway", zap.Int64("fee_bps", cfg.Paper.FeeBps))
	}

	b.governor = risk.NewGovernor(riskConfig(cfg), nil, b.bus, deps.Metrics, logger)

	b.positions, err = position.NewManager(position.Config{
		Strategies:      strategies,
		DefaultStrategy: cfg.DefaultStrategyName(),
		SwapTimeout:     cfg.SwapTimeout,
		QuoteTimeout:    cfg.QuoteTimeout,
		MaxExitAttempts: cfg.MaxExitAttempts,
		Workers:         cfg.Workers,
	}, gateway, b.governor, store, b.bus, deps.Metrics, logger)
	if err != nil {
		return nil, err
	}
	b.governor.AttachBook(b.positions)

	if err := b.subscribe(); err != nil {
		return nil, err
	}
	return b, nil
}

func riskConfig(cfg *config.Config) risk.Config {
	r := cfg.Risk
	return risk.Config{
		MaxConcurrentTrades: cfg.MaxConcurrentTrades,
		MaxTotalExposure:    decimal.NewFromFloat(cfg.MaxTotalExposure),
		Window:              r.Window,
		DrawdownMedium:      decimal.NewFromFloat(r.DrawdownMedium),
		DrawdownHigh:        decimal.NewFromFloat(r.DrawdownHigh),
		DrawdownCritical:    decimal.NewFromFloat(r.DrawdownCritical),
		FailuresMedium:      r.FailuresMedium,
		FailuresHigh:        r.FailuresHigh,
		FailuresCritical:    r.FailuresCritical,
	}
}

// Bus exposes the dispatcher so callers can attach subscribers such as notifiers.
func (b *Bot) Bus() *events.Bus {
	return b.bus
}

// AddAsset registers an asset and persists it for restart. Re-adding is a no-op.
func (b *Bot) AddAsset(ctx context.Context, id string) error {
	if err := b.sampler.AddAsset(ctx, id); err != nil {
		return err
	}
	if b.positions.HasPosition(id) {
		b.sampler.MarkMigrated(id)
	}
	asset, ok := b.sampler.Asset(id)
	if !ok {
		return nil
	}
	if err := b.store.SaveAsset(ctx, asset); err != nil {
		b.logger.Error("Failed to persist asset", zap.String("asset", domain.ShortID(id)), zap.Error(err))
	}
	return nil
}

// RemoveAsset stops monitoring an asset. Open positions on it are unaffected.
func (b *Bot) RemoveAsset(ctx context.Context, id string) error {
	b.sampler.RemoveAsset(ctx, id)
	if err := b.store.DeleteAsset(ctx, id); err != nil {
		return fmt.Errorf("remove asset %s: %w", id, err)
	}
	return nil
}

// AssignStrategy overrides the strategy used for the next position on assetID.
func (b *Bot) AssignStrategy(assetID, strategy string) error {
	return b.positions.AssignStrategy(assetID, strategy)
}

// GetStatus returns a consistent copy of the engine state.
func (b *Bot) GetStatus() Status {
	b.mu.Lock()
	st := Status{Running: b.running}
	if b.running {
		started := b.startedAt
		st.StartedAt = &started
	}
	b.mu.Unlock()

	st.Assets = b.sampler.Status()
	st.Risk = b.governor.Status()
	st.Positions = b.positions.Stats()
	st.Subscribers = b.bus.Stats()
	return st
}

func (b *Bot) ListActivePositions() []domain.TradePosition    { return b.positions.ListActive() }
func (b *Bot) ListCompletedPositions() []domain.TradePosition { return b.positions.ListCompleted() }
func (b *Bot) ListFailedPositions() []domain.TradePosition    { return b.positions.ListFailed() }
func (b *Bot) GetPositionStats() position.Stats               { return b.positions.Stats() }

// restore reloads persisted positions and assets, then registers configured assets.
func (b *Bot) restore(ctx context.Context) error {
	crossed, err := b.positions.Restore(ctx)
	if err != nil {
		return err
	}
	for _, id := range crossed {
		b.sampler.MarkMigrated(id)
	}

	stored, err := b.store.LoadAssets(ctx)
	if err != nil {
		return fmt.Errorf("restore assets: %w", err)
	}
	ids := make([]string, 0, len(stored)+len(b.cfg.Assets))
	for _, a := range stored {
		ids = append(ids, a.ID)
	}
	ids = append(ids, b.cfg.Assets...)

	for _, id := range ids {
		if err := b.AddAsset(ctx, id); err != nil {
			if errors.Is(err, domain.ErrCapacityExceeded) {
				b.logger.Warn("Asset not restored, monitor is full", zap.String("asset", domain.ShortID(id)))
				continue
			}
			return err
		}
	}
	b.logger.Info("State restored",
		zap.Int("positions_with_crossing", len(crossed)),
		zap.Int("assets", len(b.sampler.Assets())))
	return nil
}

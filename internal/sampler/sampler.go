// internal/sampler/sampler.go
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/prediction"
)

// Config controls sampling limits and retries.
type Config struct {
	MaxTokens      int           // hard cap on registered assets
	SampleTimeout  time.Duration // per Sample call
	MaxAttempts    int           // per asset per tick, including the first call
	InitialBackoff time.Duration
	Workers        int // concurrent samples per tick, 0 = one per asset
}

// AssetStatus is a read-only view of one registered asset.
type AssetStatus struct {
	Asset               domain.MonitoredAsset  `json:"asset"`
	LastSnapshot        *domain.MarketSnapshot `json:"last_snapshot,omitempty"`
	LastPrediction      *domain.Prediction     `json:"last_prediction,omitempty"`
	Consecutive         int                    `json:"consecutive"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	LastError           string                 `json:"last_error,omitempty"`
}

type entry struct {
	inflight sync.Mutex // held while a sample for this asset runs

	// guarded by Sampler.mu
	asset    domain.MonitoredAsset
	last     *domain.MarketSnapshot
	pred     *domain.Prediction
	failures int
	lastErr  string
}

// Sampler polls the market data source for every registered asset and feeds
// the crossing detector.
type Sampler struct {
	mu     sync.RWMutex
	assets map[string]*entry

	cfg      Config
	source   MarketDataSource
	meta     MetadataSource
	detector *prediction.Detector
	pub      Publisher
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithMetadataSource resolves metadata on AddAsset.
func WithMetadataSource(m MetadataSource) Option {
	return func(s *Sampler) { s.meta = m }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Sampler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock replaces the time source used for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// New creates a sampler.
func New(cfg Config, source MarketDataSource, detector *prediction.Detector, pub Publisher, logger *zap.Logger, opts ...Option) *Sampler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	s := &Sampler{
		assets:   make(map[string]*entry),
		cfg:      cfg,
		source:   source,
		detector: detector,
		pub:      pub,
		recorder: nopRecorder{},
		logger:   logger.Named("sampler"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAsset registers an asset. Re-adding a registered asset is a no-op.
func (s *Sampler) AddAsset(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ConfigurationError{Field: "asset", Reason: "empty id"}
	}
	if done, err := s.canAdd(id); done || err != nil {
		return err
	}

	var md domain.AssetMetadata
	if s.meta != nil {
		m, err := s.meta.Metadata(ctx, id)
		if err != nil {
			s.logger.Warn("Metadata unavailable, registering without it",
				zap.String("asset", domain.ShortID(id)), zap.Error(err))
		} else {
			md = m
		}
	}

	s.mu.Lock()
	if _, ok := s.assets[id]; ok {
		s.mu.Unlock()
		return nil
	}
	if len(s.assets) >= s.cfg.MaxTokens {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d assets already monitored", domain.ErrCapacityExceeded, s.cfg.MaxTokens)
	}
	asset := domain.MonitoredAsset{ID: id, Metadata: md, AddedAt: s.now()}
	if s.detector.IsMigrated(id) {
		asset.MarkMigrated()
	}
	s.assets[id] = &entry{asset: asset}
	n := len(s.assets)
	s.mu.Unlock()

	s.recorder.SetMonitoredAssets(n)
	s.logger.Info("Asset registered",
		zap.String("asset", domain.ShortID(id)),
		zap.String("symbol", md.Symbol),
		zap.Bool("migrated", asset.Migrated))
	s.publish(ctx, events.NewAssetAdded(id))
	return nil
}

func (s *Sampler) canAdd(id string) (exists bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.assets[id]; ok {
		return true, nil
	}
	if len(s.assets) >= s.cfg.MaxTokens {
		return false, fmt.Errorf("%w: %d assets already monitored", domain.ErrCapacityExceeded, s.cfg.MaxTokens)
	}
	return false, nil
}

// RemoveAsset unregisters an asset. Removing an unknown asset is a no-op.
func (s *Sampler) RemoveAsset(ctx context.Context, id string) {
	s.mu.Lock()
	if _, ok := s.assets[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.assets, id)
	n := len(s.assets)
	s.mu.Unlock()

	s.detector.Forget(id)
	s.recorder.SetMonitoredAssets(n)
	s.logger.Info("Asset removed", zap.String("asset", domain.ShortID(id)))
	s.publish(ctx, events.NewAssetRemoved(id))
}

// MarkMigrated excludes an asset from crossing evaluation, e.g. when a
// restored position already exists for it.
func (s *Sampler) MarkMigrated(id string) {
	s.detector.MarkMigrated(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.assets[id]; ok {
		e.asset.MarkMigrated()
	}
}

// Tick starts one sampling unit per registered asset and returns without waiting.
// Assets whose previous unit is still running are skipped.
func (s *Sampler) Tick(ctx context.Context) {
	s.mu.RLock()
	batch := make([]*entry, 0, len(s.assets))
	for _, e := range s.assets {
		batch = append(batch, e)
	}
	s.mu.RUnlock()

	var g errgroup.Group
	if s.cfg.Workers > 0 {
		g.SetLimit(s.cfg.Workers)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, e := range batch {
			if !e.inflight.TryLock() {
				s.logger.Debug("Previous sample still in flight, skipping",
					zap.String("asset", domain.ShortID(s.assetOf(e).ID)))
				continue
			}
			g.Go(func() error {
				defer e.inflight.Unlock()
				s.sampleOne(ctx, e)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// Wait blocks until all started sampling units have returned.
func (s *Sampler) Wait() {
	s.wg.Wait()
}

func (s *Sampler) sampleOne(ctx context.Context, e *entry) {
	asset := s.assetOf(e)
	start := time.Now()

	snap, err := s.fetch(ctx, asset)
	s.recorder.RecordSample(ctx, time.Since(start), err)
	if err != nil {
		s.mu.Lock()
		e.failures++
		e.lastErr = err.Error()
		failures := e.failures
		s.mu.Unlock()
		if ctx.Err() == nil {
			s.logger.Warn("Sample failed",
				zap.String("asset", domain.ShortID(asset.ID)),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
		}
		return
	}

	snap.AssetID = asset.ID
	snap.BondingCurveProgress = domain.ClampProgress(snap.BondingCurveProgress)
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}

	pred, crossing, err := s.detector.Observe(snap)
	if err != nil {
		s.logger.Warn("Dropping snapshot", zap.String("asset", domain.ShortID(asset.ID)), zap.Error(err))
		return
	}

	// RemoveAsset may have run at any point since the unit started; the check and
	// the state update share one critical section.
	s.mu.Lock()
	if s.assets[asset.ID] != e {
		s.mu.Unlock()
		s.detector.Forget(asset.ID)
		s.logger.Debug("Discarding sample for removed asset",
			zap.String("asset", domain.ShortID(asset.ID)),
			zap.Bool("crossing", crossing != nil))
		return
	}
	e.last = &snap
	e.pred = &pred
	e.failures = 0
	e.lastErr = ""
	if crossing != nil {
		e.asset.MarkMigrated()
	}
	s.mu.Unlock()

	s.publish(ctx, events.NewStatusUpdate(snap, pred))

	if crossing != nil {
		s.recorder.CrossingDetected()
		s.logger.Info("Threshold crossing confirmed",
			zap.String("asset", domain.ShortID(asset.ID)),
			zap.String("market_cap", snap.MarketCap.String()),
			zap.Int("confirmation_ticks", crossing.ConfirmationTicks))
		s.publish(ctx, events.NewThresholdCrossed(*crossing))
	}
}

// fetch calls the source with a per-call timeout, retrying ErrDataUnavailable
// with exponential backoff.
func (s *Sampler) fetch(ctx context.Context, asset domain.MonitoredAsset) (domain.MarketSnapshot, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.InitialBackoff * 10

	operation := func() (domain.MarketSnapshot, error) {
		callCtx := ctx
		if s.cfg.SampleTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.SampleTimeout)
			defer cancel()
		}
		snap, err := s.source.Sample(callCtx, asset)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return snap, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return snap, err
		}
		return snap, backoff.Permanent(err)
	}

	notify := func(err error, d time.Duration) {
		s.logger.Debug("Retrying sample",
			zap.String("asset", domain.ShortID(asset.ID)),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
		backoff.WithNotify(notify))
}

func (s *Sampler) publish(ctx context.Context, ev events.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", string(ev.Type())),
			zap.String("asset", domain.ShortID(ev.AssetKey())),
			zap.Error(err))
	}
}

func (s *Sampler) assetOf(e *entry) domain.MonitoredAsset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.asset
}

// LastSnapshot returns the most recent accepted snapshot for an asset.
func (s *Sampler) LastSnapshot(id string) (domain.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assets[id]
	if !ok || e.last == nil {
		return domain.MarketSnapshot{}, false
	}
	return *e.last, true
}

// Asset returns a registered asset.
func (s *Sampler) Asset(id string) (domain.MonitoredAsset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assets[id]
	if !ok {
		return domain.MonitoredAsset{}, false
	}
	return e.asset, true
}

// Assets returns the registered assets ordered by registration time.
func (s *Sampler) Assets() []domain.MonitoredAsset {
	s.mu.RLock()
	out := make([]domain.MonitoredAsset, 0, len(s.assets))
	for _, e := range s.assets {
		out = append(out, e.asset)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out
}

// Status returns a copy of the sampling state of every asset.
func (s *Sampler) Status() []AssetStatus {
	s.mu.RLock()
	out := make([]AssetStatus, 0, len(s.assets))
	for _, e := range s.assets {
		st := AssetStatus{
			Asset:               e.asset,
			ConsecutiveFailures: e.failures,
			LastError:           e.lastErr,
		}
		if e.last != nil {
			snap := *e.last
			st.LastSnapshot = &snap
		}
		if e.pred != nil {
			pred := *e.pred
			st.LastPrediction = &pred
		}
		out = append(out, st)
	}
	s.mu.RUnlock()

	for i := range out {
		out[i].Consecutive = s.detector.Consecutive(out[i].Asset.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.AddedAt.Before(out[j].Asset.AddedAt) })
	return out
}

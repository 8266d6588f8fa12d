package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
	"github.com/rovshanmuradov/graduation-sniper/internal/prediction"
)

type scriptFunc func(ctx context.Context, call int) (domain.MarketSnapshot, error)

type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	scripts map[string]scriptFunc
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, scripts: map[string]scriptFunc{}}
}

func (f *fakeSource) Sample(ctx context.Context, asset domain.MonitoredAsset) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	f.calls[asset.ID]++
	call := f.calls[asset.ID]
	script := f.scripts[asset.ID]
	f.mu.Unlock()
	if script == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: no script", domain.ErrDataUnavailable)
	}
	return script(ctx, call)
}

func (f *fakeSource) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// capSeries returns snapshots with the given market caps, one per call, one second apart.
func capSeries(base time.Time, caps ...float64) scriptFunc {
	return func(_ context.Context, call int) (domain.MarketSnapshot, error) {
		i := call - 1
		if i >= len(caps) {
			i = len(caps) - 1
		}
		return domain.MarketSnapshot{
			Timestamp:            base.Add(time.Duration(call) * time.Second),
			MarketCap:            decimal.NewFromFloat(caps[i]),
			Liquidity:            decimal.NewFromInt(5),
			BondingCurveProgress: 0.9,
			Price:                decimal.NewNullDecimal(decimal.NewFromFloat(0.001)),
		}, nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) OfType(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMetadata struct {
	md  domain.AssetMetadata
	err error
}

func (f fakeMetadata) Metadata(context.Context, string) (domain.AssetMetadata, error) {
	return f.md, f.err
}

func newTestSampler(t *testing.T, cfg Config, src MarketDataSource, opts ...Option) (*Sampler, *recordingPublisher) {
	t.Helper()
	det := prediction.NewDetector(prediction.Params{
		Threshold:          decimal.NewFromInt(18),
		Buffer:             decimal.NewFromFloat(0.5),
		ConfirmationWindow: 3,
		MinimumEstimate:    time.Second,
		MinProgressRate:    decimal.NewFromFloat(0.001),
	})
	pub := &recordingPublisher{}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 10
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	return New(cfg, src, det, pub, zaptest.NewLogger(t), opts...), pub
}

func tickAndWait(s *Sampler, n int) {
	for i := 0; i < n; i++ {
		s.Tick(context.Background())
		s.Wait()
	}
}

func TestAddAsset_Idempotent(t *testing.T) {
	s, pub := newTestSampler(t, Config{}, newFakeSource())
	ctx := context.Background()

	require.NoError(t, s.AddAsset(ctx, "mintA"))
	require.NoError(t, s.AddAsset(ctx, "mintA"))

	assert.Len(t, s.Assets(), 1)
	assert.Len(t, pub.OfType(events.AssetAdded), 1)
}

func TestAddAsset_CapacityExceeded(t *testing.T) {
	s, _ := newTestSampler(t, Config{MaxTokens: 2}, newFakeSource())
	ctx := context.Background()

	require.NoError(t, s.AddAsset(ctx, "a"))
	require.NoError(t, s.AddAsset(ctx, "b"))

	err := s.AddAsset(ctx, "c")
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.NoError(t, s.AddAsset(ctx, "a"), "re-adding at the cap is still a no-op")
	assert.Len(t, s.Assets(), 2)
}

func TestAddAsset_EmptyID(t *testing.T) {
	s, _ := newTestSampler(t, Config{}, newFakeSource())
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, s.AddAsset(context.Background(), ""), &cfgErr)
}

func TestAddAsset_Metadata(t *testing.T) {
	md := domain.AssetMetadata{Name: "Frog", Symbol: "FROG", Decimals: 6, TotalSupply: decimal.NewFromInt(1_000_000_000)}
	s, _ := newTestSampler(t, Config{}, newFakeSource(), WithMetadataSource(fakeMetadata{md: md}))
	require.NoError(t, s.AddAsset(context.Background(), "frog"))
	assert.Equal(t, "FROG", s.Assets()[0].Metadata.Symbol)

	s2, _ := newTestSampler(t, Config{}, newFakeSource(), WithMetadataSource(fakeMetadata{err: errors.New("rpc down")}))
	require.NoError(t, s2.AddAsset(context.Background(), "frog"))
	assert.Empty(t, s2.Assets()[0].Metadata.Symbol)
}

func TestRemoveAsset(t *testing.T) {
	s, pub := newTestSampler(t, Config{}, newFakeSource())
	ctx := context.Background()

	s.RemoveAsset(ctx, "missing")
	assert.Empty(t, pub.OfType(events.AssetRemoved))

	require.NoError(t, s.AddAsset(ctx, "a"))
	s.RemoveAsset(ctx, "a")
	s.RemoveAsset(ctx, "a")
	assert.Empty(t, s.Assets())
	assert.Len(t, pub.OfType(events.AssetRemoved), 1)
}

func TestTick_ConfirmsCrossingOnceAndMarksMigrated(t *testing.T) {
	src := newFakeSource()
	src.scripts["mint"] = capSeries(time.Now(), 17.6, 17.9, 18.2, 18.3, 18.4)
	s, pub := newTestSampler(t, Config{MaxAttempts: 1}, src)
	require.NoError(t, s.AddAsset(context.Background(), "mint"))

	tickAndWait(s, 4)
	assert.Empty(t, pub.OfType(events.ThresholdCrossed))
	assert.Len(t, pub.OfType(events.StatusUpdate), 4)

	tickAndWait(s, 1)
	crossed := pub.OfType(events.ThresholdCrossed)
	require.Len(t, crossed, 1)
	ev := crossed[0].(events.ThresholdCrossedEvent)
	assert.Equal(t, "mint", ev.ID)
	assert.True(t, ev.Snapshot.MarketCap.Equal(decimal.NewFromFloat(18.4)))
	assert.True(t, s.Assets()[0].Migrated)

	tickAndWait(s, 3)
	assert.Len(t, pub.OfType(events.ThresholdCrossed), 1, "never re-evaluated after migration")
}

func TestTick_RemovedMidSampleNeverCrosses(t *testing.T) {
	src := newFakeSource()
	series := capSeries(time.Now(), 18.2, 18.3, 18.4)
	var s *Sampler
	src.scripts["mint"] = func(ctx context.Context, call int) (domain.MarketSnapshot, error) {
		if call == 3 {
			s.RemoveAsset(ctx, "mint")
		}
		return series(ctx, call)
	}
	s, pub := newTestSampler(t, Config{MaxAttempts: 1}, src)
	require.NoError(t, s.AddAsset(context.Background(), "mint"))

	tickAndWait(s, 2)
	assert.Equal(t, 2, s.detector.Consecutive("mint"))

	// the third sample would confirm the crossing but lands after removal
	tickAndWait(s, 1)
	assert.Equal(t, 3, src.Calls("mint"))
	assert.Empty(t, pub.OfType(events.ThresholdCrossed))
	assert.Len(t, pub.OfType(events.StatusUpdate), 2)
	assert.Len(t, pub.OfType(events.AssetRemoved), 1)
	assert.Empty(t, s.Assets())
	assert.Zero(t, s.detector.Consecutive("mint"))
}

func TestTick_RetriesDataUnavailable(t *testing.T) {
	src := newFakeSource()
	ok := capSeries(time.Now(), 10)
	src.scripts["a"] = func(ctx context.Context, call int) (domain.MarketSnapshot, error) {
		if call < 3 {
			return domain.MarketSnapshot{}, fmt.Errorf("%w: flaky", domain.ErrDataUnavailable)
		}
		return ok(ctx, call)
	}
	s, pub := newTestSampler(t, Config{MaxAttempts: 3}, src)
	require.NoError(t, s.AddAsset(context.Background(), "a"))

	tickAndWait(s, 1)

	assert.Equal(t, 3, src.Calls("a"))
	assert.Len(t, pub.OfType(events.StatusUpdate), 1)
	assert.Zero(t, s.Status()[0].ConsecutiveFailures)
}

func TestTick_FailureIsolatedPerAsset(t *testing.T) {
	src := newFakeSource()
	src.scripts["bad"] = func(context.Context, int) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: down", domain.ErrDataUnavailable)
	}
	src.scripts["good"] = capSeries(time.Now(), 12)
	s, pub := newTestSampler(t, Config{MaxAttempts: 2}, src)
	require.NoError(t, s.AddAsset(context.Background(), "bad"))
	require.NoError(t, s.AddAsset(context.Background(), "good"))

	tickAndWait(s, 2)

	assert.Equal(t, 4, src.Calls("bad"), "bounded attempts per tick")
	updates := pub.OfType(events.StatusUpdate)
	require.Len(t, updates, 2)
	for _, u := range updates {
		assert.Equal(t, "good", u.AssetKey())
	}
	for _, st := range s.Status() {
		if st.Asset.ID == "bad" {
			assert.Equal(t, 2, st.ConsecutiveFailures)
			assert.Nil(t, st.LastSnapshot)
		}
	}
}

func TestTick_PermanentErrorNotRetried(t *testing.T) {
	src := newFakeSource()
	src.scripts["a"] = func(context.Context, int) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{}, errors.New("account is not a bonding curve")
	}
	s, _ := newTestSampler(t, Config{MaxAttempts: 5}, src)
	require.NoError(t, s.AddAsset(context.Background(), "a"))

	tickAndWait(s, 1)
	assert.Equal(t, 1, src.Calls("a"))
}

func TestTick_PerCallTimeout(t *testing.T) {
	src := newFakeSource()
	src.scripts["slow"] = func(ctx context.Context, _ int) (domain.MarketSnapshot, error) {
		<-ctx.Done()
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, ctx.Err())
	}
	s, _ := newTestSampler(t, Config{MaxAttempts: 2, SampleTimeout: 10 * time.Millisecond}, src)
	require.NoError(t, s.AddAsset(context.Background(), "slow"))

	tickAndWait(s, 1)
	assert.Equal(t, 2, src.Calls("slow"))
	assert.Equal(t, 1, s.Status()[0].ConsecutiveFailures)
}

func TestTick_SlowAssetDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	src := newFakeSource()
	src.scripts["slow"] = func(ctx context.Context, call int) (domain.MarketSnapshot, error) {
		<-release
		return capSeries(time.Now(), 1)(ctx, call)
	}
	src.scripts["fast"] = capSeries(time.Now(), 2)
	s, pub := newTestSampler(t, Config{MaxAttempts: 1}, src)
	require.NoError(t, s.AddAsset(context.Background(), "slow"))
	require.NoError(t, s.AddAsset(context.Background(), "fast"))

	s.Tick(context.Background())
	require.Eventually(t, func() bool { return src.Calls("fast") == 1 }, time.Second, 5*time.Millisecond)

	s.Tick(context.Background())
	require.Eventually(t, func() bool { return src.Calls("fast") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, src.Calls("slow"), "in-flight asset is skipped")
	assert.Len(t, pub.OfType(events.StatusUpdate), 2)

	close(release)
	s.Wait()
	assert.Len(t, pub.OfType(events.StatusUpdate), 3)
}

func TestTick_DropsStaleSnapshot(t *testing.T) {
	fixed := time.Now()
	src := newFakeSource()
	src.scripts["a"] = func(context.Context, int) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{Timestamp: fixed, MarketCap: decimal.NewFromInt(10)}, nil
	}
	s, pub := newTestSampler(t, Config{MaxAttempts: 1}, src)
	require.NoError(t, s.AddAsset(context.Background(), "a"))

	tickAndWait(s, 2)
	assert.Len(t, pub.OfType(events.StatusUpdate), 1)
}

func TestLastSnapshotAndMarkMigrated(t *testing.T) {
	src := newFakeSource()
	src.scripts["a"] = capSeries(time.Now(), 30, 30, 30, 30)
	s, pub := newTestSampler(t, Config{MaxAttempts: 1}, src)
	require.NoError(t, s.AddAsset(context.Background(), "a"))

	_, ok := s.LastSnapshot("a")
	assert.False(t, ok)

	s.MarkMigrated("a")
	tickAndWait(s, 4)

	snap, ok := s.LastSnapshot("a")
	require.True(t, ok)
	assert.Equal(t, "a", snap.AssetID)
	assert.Empty(t, pub.OfType(events.ThresholdCrossed))

	st := s.Status()[0]
	require.NotNil(t, st.LastPrediction)
	assert.True(t, st.LastPrediction.Migrated)

	s.RemoveAsset(context.Background(), "a")
	require.NoError(t, s.AddAsset(context.Background(), "a"))
	assert.True(t, s.Assets()[0].Migrated, "migration survives re-registration")
}

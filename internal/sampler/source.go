// internal/sampler/source.go
package sampler

import (
	"context"
	"time"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
	"github.com/rovshanmuradov/graduation-sniper/internal/events"
)

// MarketDataSource supplies point-in-time valuations. Transient failures must wrap
// domain.ErrDataUnavailable to be retried.
type MarketDataSource interface {
	Sample(ctx context.Context, asset domain.MonitoredAsset) (domain.MarketSnapshot, error)
}

// MetadataSource resolves immutable token metadata at registration.
type MetadataSource interface {
	Metadata(ctx context.Context, assetID string) (domain.AssetMetadata, error)
}

// Publisher delivers sampler events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Recorder receives sampler metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordSample(ctx context.Context, duration time.Duration, err error)
	SetMonitoredAssets(n int)
	CrossingDetected()
}

type nopRecorder struct{}

func (nopRecorder) RecordSample(context.Context, time.Duration, error) {}
func (nopRecorder) SetMonitoredAssets(int)                             {}
func (nopRecorder) CrossingDetected()                                  {}

// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// Storage persists positions and registered assets so a restart can resume monitoring.
type Storage interface {
	// Positions
	SavePosition(ctx context.Context, p domain.TradePosition) error
	LoadPositions(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.TradePosition, error)
	MaxPositionID(ctx context.Context) (uint64, error)

	// Assets
	SaveAsset(ctx context.Context, a domain.MonitoredAsset) error
	DeleteAsset(ctx context.Context, id string) error
	LoadAssets(ctx context.Context) ([]domain.MonitoredAsset, error)

	RunMigrations() error
	Close() error
}

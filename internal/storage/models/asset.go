// internal/storage/models/asset.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// Asset is a registered asset kept across restarts.
type Asset struct {
	BaseModel
	ID          string          `gorm:"primaryKey;type:varchar(64)"`
	Name        string          `gorm:"type:varchar(100)"`
	Symbol      string          `gorm:"type:varchar(32)"`
	Decimals    uint8           `gorm:"default:0"`
	TotalSupply decimal.Decimal `gorm:"type:numeric(38,18)"`
	Migrated    bool            `gorm:"not null;default:false"`
	AddedAt     time.Time       `gorm:"not null"`
}

// FromAsset converts a monitored asset into its row.
func FromAsset(a domain.MonitoredAsset) Asset {
	return Asset{
		ID:          a.ID,
		Name:        a.Metadata.Name,
		Symbol:      a.Metadata.Symbol,
		Decimals:    a.Metadata.Decimals,
		TotalSupply: a.Metadata.TotalSupply,
		Migrated:    a.Migrated,
		AddedAt:     a.AddedAt,
	}
}

// ToDomain converts the row back into a monitored asset.
func (m Asset) ToDomain() domain.MonitoredAsset {
	return domain.MonitoredAsset{
		ID: m.ID,
		Metadata: domain.AssetMetadata{
			Name:        m.Name,
			Symbol:      m.Symbol,
			Decimals:    m.Decimals,
			TotalSupply: m.TotalSupply,
		},
		Migrated: m.Migrated,
		AddedAt:  m.AddedAt,
	}
}

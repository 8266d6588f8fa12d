// internal/domain/asset.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetMetadata holds the immutable descriptive fields of a monitored token.
type AssetMetadata struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
}

// MonitoredAsset is a token registered with the sampler.
type MonitoredAsset struct {
	ID       string        `json:"id"`
	Metadata AssetMetadata `json:"metadata"`
	Migrated bool          `json:"migrated"`
	AddedAt  time.Time     `json:"added_at"`
}

// MarkMigrated flips the migrated flag. It never resets it.
func (a *MonitoredAsset) MarkMigrated() {
	a.Migrated = true
}

// ShortID returns a shortened address for log lines.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:4] + "..." + id[len(id)-4:]
	}
	return id
}

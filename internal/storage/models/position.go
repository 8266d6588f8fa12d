// internal/storage/models/position.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// Position is the persisted form of domain.TradePosition.
type Position struct {
	BaseModel
	ID                 uint64              `gorm:"primaryKey;autoIncrement:false"`
	AssetID            string              `gorm:"index;not null;type:varchar(64)"`
	StrategyName       string              `gorm:"not null;type:varchar(100)"`
	EntryAmount        decimal.Decimal     `gorm:"type:numeric(38,18);not null"`
	EntryTokenQuantity decimal.Decimal     `gorm:"type:numeric(38,18);not null"`
	TokenQuantity      decimal.Decimal     `gorm:"type:numeric(38,18);not null"`
	EntryPrice         decimal.Decimal     `gorm:"type:numeric(38,18);not null"`
	EntryTime          time.Time           `gorm:"not null"`
	CurrentPrice       decimal.NullDecimal `gorm:"type:numeric(38,18)"`
	Status             string              `gorm:"index;not null;type:varchar(16)"`
	ExitPrice          decimal.NullDecimal `gorm:"type:numeric(38,18)"`
	ExitTime           *time.Time
	ExitReason         string          `gorm:"type:varchar(100)"`
	FiredLadderRungs   string          `gorm:"type:text"` // comma separated, ascending
	RealizedProceeds   decimal.Decimal `gorm:"type:numeric(38,18)"`
	FeesPaid           decimal.Decimal `gorm:"type:numeric(38,18)"`
	ExitAttempts       int             `gorm:"default:0"`
	LastError          string          `gorm:"type:text"`
}

// FromPosition converts a domain position into its row.
func FromPosition(p domain.TradePosition) Position {
	rungs := make([]string, len(p.FiredLadderRungs))
	for i, r := range p.FiredLadderRungs {
		rungs[i] = r.String()
	}
	return Position{
		ID:                 p.ID,
		AssetID:            p.AssetID,
		StrategyName:       p.StrategyName,
		EntryAmount:        p.EntryAmount,
		EntryTokenQuantity: p.EntryTokenQuantity,
		TokenQuantity:      p.TokenQuantity,
		EntryPrice:         p.EntryPrice,
		EntryTime:          p.EntryTime,
		CurrentPrice:       p.CurrentPrice,
		Status:             string(p.Status),
		ExitPrice:          p.ExitPrice,
		ExitTime:           p.ExitTime,
		ExitReason:         p.ExitReason,
		FiredLadderRungs:   strings.Join(rungs, ","),
		RealizedProceeds:   p.RealizedProceeds,
		FeesPaid:           p.FeesPaid,
		ExitAttempts:       p.ExitAttempts,
		LastError:          p.LastError,
	}
}

// ToDomain converts the row back into a domain position.
func (m Position) ToDomain() (domain.TradePosition, error) {
	var rungs []decimal.Decimal
	if m.FiredLadderRungs != "" {
		for _, s := range strings.Split(m.FiredLadderRungs, ",") {
			r, err := decimal.NewFromString(s)
			if err != nil {
				return domain.TradePosition{}, fmt.Errorf("position %d: bad ladder rung %q: %w", m.ID, s, err)
			}
			rungs = append(rungs, r)
		}
	}
	return domain.TradePosition{
		ID:                 m.ID,
		AssetID:            m.AssetID,
		StrategyName:       m.StrategyName,
		EntryAmount:        m.EntryAmount,
		EntryTokenQuantity: m.EntryTokenQuantity,
		TokenQuantity:      m.TokenQuantity,
		EntryPrice:         m.EntryPrice,
		EntryTime:          m.EntryTime,
		CurrentPrice:       m.CurrentPrice,
		Status:             domain.PositionStatus(m.Status),
		ExitPrice:          m.ExitPrice,
		ExitTime:           m.ExitTime,
		ExitReason:         m.ExitReason,
		FiredLadderRungs:   rungs,
		RealizedProceeds:   m.RealizedProceeds,
		FeesPaid:           m.FeesPaid,
		ExitAttempts:       m.ExitAttempts,
		LastError:          m.LastError,
	}, nil
}

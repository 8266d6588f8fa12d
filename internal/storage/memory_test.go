package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

func TestMemory_Positions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := domain.TradePosition{ID: 2, AssetID: "a", Status: domain.StatusActive, EntryAmount: decimal.NewFromFloat(0.1)}
	require.NoError(t, m.SavePosition(ctx, p))
	require.NoError(t, m.SavePosition(ctx, domain.TradePosition{ID: 1, AssetID: "b", Status: domain.StatusClosed}))

	p.FiredLadderRungs = append(p.FiredLadderRungs, decimal.NewFromInt(25))
	active, err := m.LoadPositions(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Empty(t, active[0].FiredLadderRungs, "stored copy is detached from the caller")

	all, err := m.LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].ID)

	maxID, err := m.MaxPositionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), maxID)
}

func TestMemory_Assets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.SaveAsset(ctx, domain.MonitoredAsset{ID: "b", AddedAt: now.Add(time.Second)}))
	require.NoError(t, m.SaveAsset(ctx, domain.MonitoredAsset{ID: "a", AddedAt: now}))
	require.NoError(t, m.DeleteAsset(ctx, "missing"))

	assets, err := m.LoadAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "a", assets[0].ID)

	require.NoError(t, m.DeleteAsset(ctx, "a"))
	assets, _ = m.LoadAssets(ctx)
	assert.Len(t, assets, 1)
}

// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// Memory is a process-local Storage used for dry runs without a database.
type Memory struct {
	mu        sync.RWMutex
	positions map[uint64]domain.TradePosition
	assets    map[string]domain.MonitoredAsset
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		positions: make(map[uint64]domain.TradePosition),
		assets:    make(map[string]domain.MonitoredAsset),
	}
}

func (m *Memory) SavePosition(_ context.Context, p domain.TradePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *Memory) LoadPositions(_ context.Context, statuses ...domain.PositionStatus) ([]domain.TradePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.TradePosition
	for _, p := range m.positions {
		if len(statuses) > 0 && !hasStatus(statuses, p.Status) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) MaxPositionID(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var maxID uint64
	for id := range m.positions {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (m *Memory) SaveAsset(_ context.Context, a domain.MonitoredAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

func (m *Memory) DeleteAsset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, id)
	return nil
}

func (m *Memory) LoadAssets(_ context.Context) ([]domain.MonitoredAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MonitoredAsset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

func (m *Memory) RunMigrations() error { return nil }
func (m *Memory) Close() error         { return nil }

func hasStatus(list []domain.PositionStatus, s domain.PositionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

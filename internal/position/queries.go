// internal/position/queries.go
package position

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// Stats summarises position outcomes.
type Stats struct {
	ActiveCount      int             `json:"active_count"`
	CompletedCount   int             `json:"completed_count"`
	FailedCount      int             `json:"failed_count"`
	Wins             int             `json:"wins"`
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	SuccessRate      float64         `json:"success_rate"` // wins / completed
}

// Restore reloads persisted positions after a restart. ACTIVE and interrupted
// CLOSING positions resume monitoring; the id counter continues from the highest
// stored id. It returns the assets that already produced a position, so the
// caller can exclude them from crossing evaluation.
func (m *Manager) Restore(ctx context.Context) ([]string, error) {
	stored, err := m.store.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}
	maxID, err := m.store.MaxPositionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}

	m.mu.Lock()
	var assets []string
	resumed := 0
	for _, p := range stored {
		if _, ok := m.crossed[p.AssetID]; !ok {
			assets = append(assets, p.AssetID)
		}
		m.crossed[p.AssetID] = struct{}{}

		switch p.Status {
		case domain.StatusActive:
		case domain.StatusClosing:
			if err := p.Transition(domain.StatusActive); err != nil {
				m.mu.Unlock()
				return nil, err
			}
		case domain.StatusClosed:
			m.completed = append(m.completed, p)
			continue
		case domain.StatusFailed:
			m.failed = append(m.failed, p)
			continue
		default:
			m.logger.Warn("Ignoring stored position with unexpected status",
				zap.Uint64("position_id", p.ID),
				zap.String("status", string(p.Status)))
			continue
		}
		if _, ok := m.active[p.ID]; !ok {
			m.active[p.ID] = &tracked{pos: p}
			resumed++
		}
	}
	if maxID > m.nextID {
		m.nextID = maxID
	}
	n := len(m.active)
	next := m.nextID + 1
	m.mu.Unlock()

	m.recorder.SetActivePositions(n)
	m.logger.Info("Positions restored",
		zap.Int("resumed", resumed),
		zap.Int("stored", len(stored)),
		zap.Uint64("next_id", next))
	return assets, nil
}

// HasPosition reports whether assetID already produced a position or skip.
func (m *Manager) HasPosition(assetID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.crossed[assetID]
	return ok
}

// ActiveCount implements risk.PositionBook. CLOSING positions count as active.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveExposure implements risk.PositionBook: the entry amount committed to open positions.
func (m *Manager) ActiveExposure() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range m.active {
		sum = sum.Add(t.pos.EntryAmount)
	}
	return sum
}

// ListActive returns copies of open positions ordered by id.
func (m *Manager) ListActive() []domain.TradePosition {
	m.mu.RLock()
	out := make([]domain.TradePosition, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.pos.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCompleted returns copies of CLOSED positions in close order.
func (m *Manager) ListCompleted() []domain.TradePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.completed)
}

// ListFailed returns copies of FAILED positions awaiting manual remediation.
func (m *Manager) ListFailed() []domain.TradePosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.failed)
}

// Stats aggregates outcomes. SuccessRate is zero when nothing has completed.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		ActiveCount:      len(m.active),
		CompletedCount:   len(m.completed),
		FailedCount:      len(m.failed),
		TotalRealizedPnL: decimal.Zero,
	}
	for _, p := range m.completed {
		pnl := p.RealizedPnL()
		st.TotalRealizedPnL = st.TotalRealizedPnL.Add(pnl)
		if pnl.IsPositive() {
			st.Wins++
		}
	}
	if st.CompletedCount > 0 {
		st.SuccessRate = float64(st.Wins) / float64(st.CompletedCount)
	}
	return st
}

func cloneAll(in []domain.TradePosition) []domain.TradePosition {
	out := make([]domain.TradePosition, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// internal/prediction/detector.go
package prediction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// ErrStaleSnapshot is returned when a snapshot is not newer than the previous one for its asset.
var ErrStaleSnapshot = errors.New("snapshot timestamp not increasing")

type assetState struct {
	consecutive int
	history     []domain.MarketSnapshot
}

// Detector tracks per-asset confirmation counters and fires a crossing event
// at most once per asset.
type Detector struct {
	mu       sync.Mutex
	params   Params
	assets   map[string]*assetState
	migrated map[string]struct{}
}

// NewDetector creates a detector. A confirmation window below one is treated as one.
func NewDetector(params Params) *Detector {
	if params.ConfirmationWindow < 1 {
		params.ConfirmationWindow = 1
	}
	if params.HistorySize < 2 {
		params.HistorySize = defaultHistory
	}
	return &Detector{
		params:   params,
		assets:   make(map[string]*assetState),
		migrated: make(map[string]struct{}),
	}
}

// Params returns the configured parameters.
func (d *Detector) Params() Params {
	return d.params
}

// Observe feeds a snapshot and returns the prediction for it. When this snapshot completes
// the confirmation window, the crossing event is returned and the asset is marked migrated.
func (d *Detector) Observe(snap domain.MarketSnapshot) (domain.Prediction, *domain.ThresholdCrossingEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.assets[snap.AssetID]
	if !ok {
		st = &assetState{}
		d.assets[snap.AssetID] = st
	}
	if n := len(st.history); n > 0 && !snap.Timestamp.After(st.history[n-1].Timestamp) {
		return domain.Prediction{}, nil, fmt.Errorf("%w: asset %s at %s", ErrStaleSnapshot, snap.AssetID, snap.Timestamp)
	}

	_, migrated := d.migrated[snap.AssetID]
	pred := Predict(snap, st.history, migrated, d.params)
	st.push(snap, d.params.HistorySize)

	if migrated {
		return pred, nil, nil
	}

	if snap.MarketCap.LessThan(d.params.Threshold) {
		st.consecutive = 0
		return pred, nil, nil
	}

	st.consecutive++
	if st.consecutive < d.params.ConfirmationWindow {
		return pred, nil, nil
	}

	d.migrated[snap.AssetID] = struct{}{}
	ev := &domain.ThresholdCrossingEvent{
		AssetID:           snap.AssetID,
		Snapshot:          snap,
		ConfirmationTicks: st.consecutive,
		CrossingTime:      snap.Timestamp,
	}
	st.consecutive = 0
	return pred, ev, nil
}

// Consecutive returns the current confirmation count for an asset.
func (d *Detector) Consecutive(assetID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.assets[assetID]; ok {
		return st.consecutive
	}
	return 0
}

// MarkMigrated excludes an asset from crossing evaluation, e.g. after a restart.
func (d *Detector) MarkMigrated(assetID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.migrated[assetID] = struct{}{}
}

// IsMigrated reports whether the asset already crossed.
func (d *Detector) IsMigrated(assetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.migrated[assetID]
	return ok
}

// Forget drops counters and history for an asset. The migrated mark is kept.
func (d *Detector) Forget(assetID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.assets, assetID)
}

func (s *assetState) push(snap domain.MarketSnapshot, limit int) {
	s.history = append(s.history, snap)
	if over := len(s.history) - limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

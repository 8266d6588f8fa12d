package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.EventDropped("x")
		c.SetRiskLevel(2)
		c.SetMonitoredAssets(3)
		c.SetActivePositions(1)
		c.CrossingDetected()
		c.PositionOutcome("opened")
		c.InvariantViolation("position")
		c.RecordSample(context.Background(), time.Millisecond, nil)
		c.RecordSwap(context.Background(), "BUY", time.Millisecond, true)
	})
	assert.Nil(t, c.Registry())
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.EventDropped("telegram")
	c.EventDropped("telegram")
	c.PositionOutcome("closed")
	c.SetRiskLevel(3)
	c.RecordSample(context.Background(), 10*time.Millisecond, nil)
	c.RecordSample(context.Background(), 10*time.Millisecond, assert.AnError)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsDropped.WithLabelValues("telegram")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.positions.WithLabelValues("closed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.riskLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.samples.WithLabelValues("failed")))
}

func TestRecordSwap_CancelledContext(t *testing.T) {
	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.RecordSwap(ctx, "SELL", time.Second, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.swaps.WithLabelValues("cancelled", "SELL")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.swaps.WithLabelValues("failed", "SELL")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.CrossingDetected()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "graduation_sniper_threshold_crossings_total 1"))
}

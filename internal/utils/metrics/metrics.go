// internal/utils/metrics/metrics.go
package metrics

import (
	"context"
	"time"
)

// RecordSample records one sampling unit.
func (c *Collector) RecordSample(ctx context.Context, duration time.Duration, err error) {
	if c == nil {
		return
	}
	select {
	case <-ctx.Done():
		c.samples.WithLabelValues("cancelled").Inc()
		return
	default:
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.samples.WithLabelValues(status).Inc()
	c.sampleDuration.Observe(duration.Seconds())
}

// RecordSwap records a gateway swap. Cancelled contexts are tracked separately
// so shutdown does not show up as failures.
func (c *Collector) RecordSwap(ctx context.Context, direction string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	select {
	case <-ctx.Done():
		c.swaps.WithLabelValues("cancelled", direction).Inc()
		return
	default:
	}
	status := "success"
	if !success {
		status = "failed"
	}
	c.swaps.WithLabelValues(status, direction).Inc()
	c.swapDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// internal/utils/metrics/collector.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graduation_sniper"

// Collector owns the process metrics. A nil *Collector is valid and records nothing,
// so components can be wired without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	samples            *prometheus.CounterVec
	sampleDuration     prometheus.Histogram
	monitoredAssets    prometheus.Gauge
	crossings          prometheus.Counter
	positions          *prometheus.CounterVec
	activePositions    prometheus.Gauge
	swaps              *prometheus.CounterVec
	swapDuration       *prometheus.HistogramVec
	eventsDropped      *prometheus.CounterVec
	invariantViolation *prometheus.CounterVec
	riskLevel          prometheus.Gauge
}

// NewCollector creates a collector on its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		samples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Market snapshots requested, by outcome",
		}, []string{"status"}),
		sampleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Time to obtain a snapshot including retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		monitoredAssets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_assets",
			Help:      "Number of registered assets",
		}),
		crossings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_crossings_total",
			Help:      "Confirmed threshold crossings",
		}),
		positions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_events_total",
			Help:      "Position lifecycle outcomes",
		}, []string{"outcome"}),
		activePositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_positions",
			Help:      "Positions currently ACTIVE or CLOSING",
		}),
		swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Swaps sent to the execution gateway",
		}, []string{"status", "direction"}),
		swapDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "Swap duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"direction"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events evicted from full subscriber queues",
		}, []string{"subscriber"}),
		invariantViolation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Detected invariant violations",
		}, []string{"component"}),
		riskLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_level",
			Help:      "Aggregate risk level, 0=LOW .. 3=CRITICAL",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// EventDropped implements events.DropRecorder.
func (c *Collector) EventDropped(subscriber string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(subscriber).Inc()
}

// SetRiskLevel implements risk.Recorder.
func (c *Collector) SetRiskLevel(level int) {
	if c == nil {
		return
	}
	c.riskLevel.Set(float64(level))
}

// SetMonitoredAssets updates the registered asset gauge.
func (c *Collector) SetMonitoredAssets(n int) {
	if c == nil {
		return
	}
	c.monitoredAssets.Set(float64(n))
}

// SetActivePositions updates the active position gauge.
func (c *Collector) SetActivePositions(n int) {
	if c == nil {
		return
	}
	c.activePositions.Set(float64(n))
}

// CrossingDetected counts a confirmed crossing.
func (c *Collector) CrossingDetected() {
	if c == nil {
		return
	}
	c.crossings.Inc()
}

// PositionOutcome counts a lifecycle outcome such as opened, closed, partial_sell,
// failed, skipped or buy_failed.
func (c *Collector) PositionOutcome(outcome string) {
	if c == nil {
		return
	}
	c.positions.WithLabelValues(outcome).Inc()
}

// InvariantViolation counts a defect signal raised by component.
func (c *Collector) InvariantViolation(component string) {
	if c == nil {
		return
	}
	c.invariantViolation.WithLabelValues(component).Inc()
}

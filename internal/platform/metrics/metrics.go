// Package metrics carries the tracker/autopilot-relevant subset of the
// teacher's Prometheus registrations, trimmed to the counters and gauges
// the Orchestrator and Autopilot Controller actually drive.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the fovea Prometheus instruments.
type Metrics struct {
	TicksRun        prometheus.Counter
	TicksSkipped    prometheus.Counter
	ModelUpdates    prometheus.Counter
	NumericErrors   prometheus.Counter
	Resets          prometheus.Counter
	BasisRank       prometheus.Gauge
	MaxConfidence   prometheus.Gauge
	StickEventsSent *prometheus.CounterVec
	TrackerState    prometheus.Gauge
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Get returns the process-wide Metrics instance, registering it with the
// default Prometheus registry on first use — the same lazy-singleton
// shape the teacher uses for its own metrics registry.
func Get() *Metrics {
	globalOnce.Do(func() {
		global = newMetrics()
	})
	return global
}

func newMetrics() *Metrics {
	return &Metrics{
		TicksRun: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "ticks_run_total",
			Help:      "Condensation ticks that ran to completion.",
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because no frame was available.",
		}),
		ModelUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "model_updates_total",
			Help:      "SKL appearance-model batch updates applied.",
		}),
		NumericErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "numeric_errors_total",
			Help:      "NumericError recoveries (forced transition to Idle).",
		}),
		Resets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "resets_total",
			Help:      "Orchestrator reset operations.",
		}),
		BasisRank: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "basis_rank",
			Help:      "Current Appearance Model basis column count.",
		}),
		MaxConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "max_confidence",
			Help:      "Confidence of the MAP particle on the last tick.",
		}),
		StickEventsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fovea",
			Subsystem: "autopilot",
			Name:      "stick_events_total",
			Help:      "Stick axis events emitted, by axis.",
		}, []string{"axis"}),
		TrackerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "fovea",
			Subsystem: "tracker",
			Name:      "state",
			Help:      "Orchestrator state: 0=Idle, 1=Armed, 2=Tracking.",
		}),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsTotal     *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	inflight          prometheus.Gauge
	storageDegraded   *prometheus.CounterVec
	optimizerFailures prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelforge_transforms_total",
			Help: "Transform requests by backend and outcome (hit, generated, delegated, failed).",
		}, []string{"backend", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelforge_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelforge_pipeline_inflight_generations",
			Help: "Generations currently running.",
		}),
		storageDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelforge_storage_degraded_total",
			Help: "Publishes that failed and fell back to the local artifact URL.",
		}, []string{"storage"}),
		optimizerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_optimizer_failures_total",
			Help: "Optimizer runs that failed or were skipped.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.stageDuration,
		m.inflight,
		m.storageDegraded,
		m.optimizerFailures,
	}
}

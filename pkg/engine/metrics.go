package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the alert engine.
type Metrics struct {
	SamplesTotal     *prometheus.CounterVec
	BreachesTotal    *prometheus.CounterVec
	AlertsFiredTotal *prometheus.CounterVec
	SuppressedTotal  prometheus.Counter
	DispatchFailures prometheus.Counter
	DispatchDuration prometheus.Histogram
}

// NewMetrics initializes and registers the engine metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "samples_total",
			Help:      "Total number of metric samples evaluated.",
		}, []string{"metric"}),
		BreachesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "breaches_total",
			Help:      "Total number of threshold breaches by metric and severity.",
		}, []string{"metric", "severity"}),
		AlertsFiredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "alerts_fired_total",
			Help:      "Total number of alerts handed to dispatch by severity.",
		}, []string{"severity"}),
		SuppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "engine",
			Name:      "suppressed_total",
			Help:      "Total number of breaches recorded but not dispatched.",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Total number of alerts no channel delivered.",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Wall time spent dispatching one alert across tiers.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

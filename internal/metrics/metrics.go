package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds Prometheus metrics for the HTTP API.
type ServerMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewServerMetrics initializes and registers the HTTP metrics against reg.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// SourceMetrics holds Prometheus metrics for the usage collector.
type SourceMetrics struct {
	PollsTotal     prometheus.Counter
	PollErrors     prometheus.Counter
	SamplesEmitted prometheus.Counter
	PollDuration   prometheus.Histogram
}

// NewSourceMetrics initializes and registers the collector metrics against reg.
func NewSourceMetrics(reg prometheus.Registerer) *SourceMetrics {
	factory := promauto.With(reg)
	return &SourceMetrics{
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "source",
			Name:      "polls_total",
			Help:      "Total number of usage collection runs.",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "source",
			Name:      "poll_errors_total",
			Help:      "Total number of failed usage collection runs.",
		}),
		SamplesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "source",
			Name:      "samples_emitted_total",
			Help:      "Total number of samples handed to the engine.",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Subsystem: "source",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one usage collection run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the metrics registered against reg in Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

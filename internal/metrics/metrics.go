package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vodsearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "source_requests_total",
		Help:      "Total requests to content sources by source key and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vodsearch",
		Name:      "source_request_duration_seconds",
		Help:      "Content source request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"source"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vodsearch",
		Name:      "source_available",
		Help:      "Whether a content source is currently available (1) or blocked (0).",
	}, []string{"source"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "cache_hits_total",
		Help:      "Cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "cache_misses_total",
		Help:      "Cache misses by cache name.",
	}, []string{"cache"})

	StaleEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "stale_events_dropped_total",
		Help:      "Stream events discarded because a newer search superseded them.",
	})

	ProbeResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "probe_results_total",
		Help:      "Stream probes by quality tier and measurement strategy.",
	}, []string{"quality", "strategy"})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vodsearch",
		Name:      "probe_duration_seconds",
		Help:      "End-to-end stream probe duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 8, 10, 12},
	})

	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vodsearch",
		Name:      "websocket_clients",
		Help:      "Connected websocket clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		StaleEventsDropped,
		ProbeResultsTotal,
		ProbeDuration,
		WebsocketClients,
	)
}

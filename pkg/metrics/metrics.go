package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RequestsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forager_requests_processed_total",
			Help: "Total number of requests handled by workers, by outcome",
		},
		[]string{"outcome"},
	)

	BundlesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forager_bundles_written_total",
			Help: "Total number of bundles closed successfully",
		},
	)

	ResourcesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forager_resources_written_total",
			Help: "Total number of resources written through storage sinks",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forager_queue_depth",
			Help: "Current number of requests waiting in the work queue",
		},
	)

	LocatorURLsYielded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forager_locator_urls_yielded_total",
			Help: "Total number of URLs yielded by locators, by locator name",
		},
		[]string{"locator"},
	)

	// Transport metrics
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forager_request_duration_seconds",
			Help:    "Outgoing request duration in seconds, by protocol",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forager_fetch_errors_total",
			Help: "Total number of errors, by component",
		},
		[]string{"component"},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		RequestsProcessed,
		BundlesWritten,
		ResourcesWritten,
		QueueDepth,
		LocatorURLsYielded,
		RequestDuration,
		FetchErrors,
	)
}

// Handler returns an HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP server on addr in a goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go http.ListenAndServe(addr, mux) // #nosec G114 -- metrics endpoint
}

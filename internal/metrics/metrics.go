package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// JobTransitions counts dispatch state changes by source and target status
	JobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_job_transitions_total", Help: "Delivery job transitions."},
		[]string{"from", "to"},
	)
	// JobConflicts counts transitions rejected because the job changed underneath
	JobConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_job_conflicts_total", Help: "Transitions rejected as stale."},
	)

	Heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "driver_heartbeats_total", Help: "Driver heartbeats by reported status."},
		[]string{"status"},
	)

	// GeocodeRequests counts geocoder lookups by outcome (ok, error, cache_hit)
	GeocodeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_requests_total", Help: "Geocoder requests by outcome."},
		[]string{"outcome"},
	)
	GeocodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "geocode_request_duration_ms", Help: "Geocoder round trip in ms.", Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000}},
	)
	// GeocodeResolutions counts resolver results by kind
	GeocodeResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_resolutions_total", Help: "Address resolutions by kind."},
		[]string{"kind"},
	)

	// ImportedOrders counts service orders pulled from integrations by source and outcome
	ImportedOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "integration_orders_total", Help: "Imported service orders by source and outcome."},
		[]string{"source", "outcome"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers every collector on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration,
			JobTransitions, JobConflicts,
			Heartbeats,
			GeocodeRequests, GeocodeDuration, GeocodeResolutions,
			ImportedOrders,
			WebhookDeliveries, WebhookLatency,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the overlay sync server.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	mutationsTotal        prometheus.Counter
	broadcastSendsTotal   prometheus.Counter
	sendFailuresTotal     prometheus.Counter
	uploadsTotal          prometheus.Counter
	processingErrorsTotal prometheus.Counter
	httpErrorsTotal       prometheus.Counter
	controlConnections    prometheus.Gauge
	overlayConnections    prometheus.Gauge
	mediaItems            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_requests_total",
		Help: "Total number of HTTP requests received",
	})
	mutationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_state_mutations_total",
		Help: "Total number of successful shared-state mutations",
	})
	broadcastSendsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_broadcast_sends_total",
		Help: "Total number of successful broadcast deliveries",
	})
	sendFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_broadcast_send_failures_total",
		Help: "Total number of failed broadcast deliveries (recipient evicted)",
	})
	uploadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_uploads_total",
		Help: "Total number of media files uploaded",
	})
	processingErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_message_errors_total",
		Help: "Total number of inbound messages that failed processing",
	})
	httpErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_sync_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	controlConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_sync_control_connections",
		Help: "Number of live control-pool connections",
	})
	overlayConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_sync_overlay_connections",
		Help: "Number of live overlay-pool connections",
	})
	mediaItems := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "overlay_sync_media_items",
		Help: "Number of items in the shared state",
	})

	registry.MustRegister(
		requestsTotal,
		mutationsTotal,
		broadcastSendsTotal,
		sendFailuresTotal,
		uploadsTotal,
		processingErrorsTotal,
		httpErrorsTotal,
		controlConnections,
		overlayConnections,
		mediaItems,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		mutationsTotal:        mutationsTotal,
		broadcastSendsTotal:   broadcastSendsTotal,
		sendFailuresTotal:     sendFailuresTotal,
		uploadsTotal:          uploadsTotal,
		processingErrorsTotal: processingErrorsTotal,
		httpErrorsTotal:       httpErrorsTotal,
		controlConnections:    controlConnections,
		overlayConnections:    overlayConnections,
		mediaItems:            mediaItems,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncMutations increments the successful mutation counter.
func (m *Metrics) IncMutations() {
	m.mutationsTotal.Inc()
}

// AddBroadcastSends adds n successful broadcast deliveries.
func (m *Metrics) AddBroadcastSends(n int) {
	m.broadcastSendsTotal.Add(float64(n))
}

// AddSendFailures adds n failed broadcast deliveries.
func (m *Metrics) AddSendFailures(n int) {
	m.sendFailuresTotal.Add(float64(n))
}

// IncUploads increments the upload counter.
func (m *Metrics) IncUploads() {
	m.uploadsTotal.Inc()
}

// IncProcessingErrors increments the inbound-message error counter.
func (m *Metrics) IncProcessingErrors() {
	m.processingErrorsTotal.Inc()
}

// IncHTTPErrors increments the HTTP error counter.
func (m *Metrics) IncHTTPErrors() {
	m.httpErrorsTotal.Inc()
}

// SetConnections sets the per-pool connection gauges.
func (m *Metrics) SetConnections(control, overlay int) {
	m.controlConnections.Set(float64(control))
	m.overlayConnections.Set(float64(overlay))
}

// SetMediaItems sets the shared-state item count gauge.
func (m *Metrics) SetMediaItems(n int) {
	m.mediaItems.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (connection counts, item count).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

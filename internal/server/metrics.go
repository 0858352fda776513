package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ngenmap"

// Metrics holds the Prometheus counters, histograms, and gauges of the map server.
type Metrics struct {
	Requests        *prometheus.CounterVec   // labels: route, code
	RequestDuration *prometheus.HistogramVec // labels: route
	LayersLoaded    prometheus.Gauge
	LayerFeatures   *prometheus.GaugeVec   // labels: layer
	SeriesErrors    *prometheus.CounterVec // labels: reason={invalid_id,not_found,read}
}

// NewMetrics creates and registers the server metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.LayersLoaded,
		m.LayerFeatures,
		m.SeriesErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can build as many servers as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
		LayersLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "layers_loaded",
			Help:      "Number of GeoJSON layers being served.",
		}),
		LayerFeatures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "layer_features",
			Help:      "Number of features in a served layer.",
		}, []string{"layer"}),
		SeriesErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "series_errors_total",
			Help:      "Failed time series lookups by reason.",
		}, []string{"reason"}),
	}
}

// Instrument records request count and duration of h under route.
func (m *Metrics) Instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return h
	}

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		h(ww, r)

		m.Requests.WithLabelValues(route, strconv.Itoa(ww.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) seriesError(reason string) {
	if m != nil {
		m.SeriesErrors.WithLabelValues(reason).Inc()
	}
}

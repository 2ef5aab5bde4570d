// Package metrics provides Prometheus instrumentation for the lot engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts recorded transactions, partitioned by type.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotengine_transactions_total",
		Help: "Total number of transactions recorded",
	}, []string{"type"})

	// DispositionsTotal counts lot dispositions, partitioned by cost basis method.
	DispositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotengine_dispositions_total",
		Help: "Total number of lot dispositions",
	}, []string{"method"})

	// WashSalesDetected counts sales with at least one disallowed loss.
	WashSalesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotengine_wash_sales_detected_total",
		Help: "Sales where the wash-sale rule disallowed part of a loss",
	})

	// ShortfallSales counts sales that exceeded the available lot quantity.
	ShortfallSales = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotengine_shortfall_sales_total",
		Help: "Sales recorded with insufficient open lots (cost basis unknown)",
	})

	// SaleProcessingDuration tracks end-to-end sale processing latency.
	SaleProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lotengine_sale_processing_seconds",
		Help:    "Sale processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lotengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lotengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lotengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

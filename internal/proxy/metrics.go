package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tunnel-proxy/internal/ui"
)

var (
	// MetricRequests counts forwarded HTTP requests by tunnel and method
	MetricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_requests_total",
		Help: "Total forwarded HTTP requests by tunnel and method",
	}, []string{"tunnel", "method"})

	// MetricWebSocketConns counts relayed WebSocket connections by tunnel
	MetricWebSocketConns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_websocket_connections_total",
		Help: "Total relayed WebSocket connections by tunnel",
	}, []string{"tunnel"})

	// MetricActiveConns tracks current in-flight proxied operations
	MetricActiveConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunnelproxy_active_connections",
		Help: "Current in-flight proxied requests and WebSocket connections",
	})

	// MetricBytes counts bytes transferred by tunnel and direction
	MetricBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_bytes_total",
		Help: "Total bytes transferred by tunnel and direction",
	}, []string{"tunnel", "direction"})

	// MetricErrors counts proxy errors by type
	MetricErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunnelproxy_errors_total",
		Help: "Total proxy errors by type",
	}, []string{"type"})

	// MetricDuration tracks forwarded request duration
	MetricDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tunnelproxy_request_duration_seconds",
		Help:    "Forwarded request duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// MetricsServer wraps the HTTP server for prometheus metrics
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving metrics (non-blocking)
func (m *MetricsServer) Start() {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ui.LogStatus("error", "Metrics server error: "+err.Error())
		}
	}()
}

// Shutdown gracefully stops the metrics server
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}

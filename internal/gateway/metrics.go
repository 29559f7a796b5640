package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// gatewayMetrics is the gateway's Prometheus surface: promauto-registered
// Counter/Histogram/GaugeVecs covering HTTP traffic, WebSocket connections,
// and tool dispatch outcomes fed back through the agent loop's OnToolCall
// hook.
type gatewayMetrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	wsConnections prometheus.Gauge

	toolExecutions *prometheus.CounterVec
}

func newGatewayMetrics() *gatewayMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &gatewayMetrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_http_requests_total",
			Help: "HTTP requests handled by the gateway, by route and status code.",
		}, []string{"path", "method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentgate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"path", "method"}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentgate_ws_connections",
			Help: "Currently connected WebSocket clients.",
		}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_tool_executions_total",
			Help: "Tool executions dispatched by the agent loop, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
	}
}

// instrument wraps h to record request counts and latency under routePath,
// the pattern registered with the mux rather than the raw request URL (so
// /api/sessions/ and /api/sessions/<id> share one series).
func (m *gatewayMetrics) instrument(routePath string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecordingWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		m.httpDuration.WithLabelValues(routePath, r.Method).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(routePath, r.Method, strconv.Itoa(sw.status)).Inc()
	}
}

type statusRecordingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusRecordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (m *gatewayMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *gatewayMetrics) recordToolExecution(tool string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

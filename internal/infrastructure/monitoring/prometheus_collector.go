package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	operationsTotal *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	backupsTotal    *prometheus.CounterVec

	// Histograms
	operationDuration *prometheus.HistogramVec
	httpDuration      *prometheus.HistogramVec

	liveConnections prometheus.Gauge
}

// NewPrometheusCollector registers the coursehub metrics with reg. A nil reg
// uses the default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_membership_operations_total",
			Help: "Membership operations by outcome (ok or error code)",
		}, []string{"operation", "outcome"}),

		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_channel_dispatch_total",
			Help: "Channel commands and course notices by delivery outcome",
		}, []string{"kind", "outcome"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		backupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coursehub_backups_total",
			Help: "Scheduled roster backups by outcome",
		}, []string{"outcome"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursehub_membership_operation_duration_seconds",
			Help:    "Duration of membership operations including the roster transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursehub_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),

		liveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coursehub_live_connections",
			Help: "Websocket connections held by this instance",
		}),
	}
}

func (p *PrometheusCollector) ObserveOperation(operation, outcome string, duration time.Duration) {
	p.operationsTotal.WithLabelValues(operation, outcome).Inc()
	p.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordDispatch(kind, outcome string) {
	p.dispatchTotal.WithLabelValues(kind, outcome).Inc()
}

func (p *PrometheusCollector) SetLiveConnections(n int) {
	p.liveConnections.Set(float64(n))
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordBackup(outcome string) {
	p.backupsTotal.WithLabelValues(outcome).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

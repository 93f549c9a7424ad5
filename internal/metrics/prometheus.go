package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	upstreamHealthyTargets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_upstream_healthy_targets",
			Help: "Number of healthy targets per upstream",
		},
		[]string{"upstream"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_upstream_retries_total",
			Help: "Total forwarding retries per upstream",
		},
		[]string{"upstream"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(upstreamHealthyTargets)
	prometheus.MustRegister(retriesTotal)
}

// RecordRequest counts one finished request.
func RecordRequest(service, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(service, method, statusString(status)).Inc()
	httpRequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SetHealthyTargets publishes the healthy-target count of an upstream.
func SetHealthyTargets(upstream string, n int) {
	upstreamHealthyTargets.WithLabelValues(upstream).Set(float64(n))
}

// RecordRetry counts one forwarding retry.
func RecordRetry(upstream string) {
	retriesTotal.WithLabelValues(upstream).Inc()
}

func statusString(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics provides HTTP metrics for the proxy and its upstream traffic
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for proxied requests and for the
// network requests made on their behalf.
type HTTPMetrics struct {
	registry *prometheus.Registry

	// Proxy server requests
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Upstream network requests
	networkRequestDuration *prometheus.HistogramVec
	networkErrors          *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served by the proxy",
		},
		[]string{"method", "route", "status_code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "route"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor10, BucketCount6),
		},
		[]string{"method", "route"},
	)

	m.networkRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storykeep_network_request_duration_seconds",
			Help:    "Time taken by upstream network requests until headers arrived",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"host", "status_code"},
	)

	m.networkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storykeep_network_errors_total",
			Help: "Upstream network requests that failed without a response",
		},
		[]string{"host", "error_type"}, // error_type: timeout, canceled, transport
	)
}

// RecordHTTPRequest records a request served by the proxy.
func (m *HTTPMetrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration, size int64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	if size >= 0 {
		m.httpResponseSize.WithLabelValues(method, route).Observe(float64(size))
	}
}

// RecordNetworkRequest records an upstream request and its time to headers.
func (m *HTTPMetrics) RecordNetworkRequest(req *http.Request, resp *http.Response, err error, duration time.Duration) {
	if m == nil || req == nil {
		return
	}
	host := req.URL.Host
	if err != nil {
		m.networkErrors.WithLabelValues(host, networkErrorType(err)).Inc()
		return
	}
	m.networkRequestDuration.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())
}

func networkErrorType(err error) string {
	var t interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &t) && t.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	m.httpResponseSize.Describe(ch)
	m.networkRequestDuration.Describe(ch)
	m.networkErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	m.httpResponseSize.Collect(ch)
	m.networkRequestDuration.Collect(ch)
	m.networkErrors.Collect(ch)
}

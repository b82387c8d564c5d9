// Package observability provides metrics and monitoring capabilities for StoryKeep.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/storykeep/internal/httpclient"
	"github.com/tphakala/storykeep/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Cache    *metrics.CacheMetrics
	HTTP     *metrics.HTTPMetrics

	inflight sync.Map // *http.Request -> time.Time
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	cacheMetrics, err := metrics.NewCacheMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Cache:    cacheMetrics,
		HTTP:     httpMetrics,
	}, nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// InstrumentClient records every request made through c in the network metrics.
func (m *Metrics) InstrumentClient(c *httpclient.Client) {
	c.SetBeforeRequestHook(func(req *http.Request) {
		m.inflight.Store(req, time.Now())
	})
	c.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		var elapsed time.Duration
		if v, ok := m.inflight.LoadAndDelete(req); ok {
			elapsed = time.Since(v.(time.Time))
		}
		m.HTTP.RecordNetworkRequest(req, resp, err, elapsed)
	})
}

// Package telemetry exposes Prometheus metrics for the HTTP server and the
// database pool.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pottech/document-creation/internal/platform/db"
)

// Config holds telemetry settings.
type Config struct {
	Namespace      string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "docserver"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Provider owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()

	p := &Provider{
		cfg:      cfg,
		registry: reg,
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "build_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": cfg.ServiceVersion, "environment": cfg.Environment},
	})
	buildInfo.Set(1)

	reg.MustRegister(
		p.inFlight, p.requests, p.duration, buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registerer is where other components register their collectors.
func (p *Provider) Registerer() prometheus.Registerer {
	return p.registry
}

// Gatherer is exposed for tests.
func (p *Provider) Gatherer() prometheus.Gatherer {
	return p.registry
}

// RegisterPoolStats publishes database pool gauges read on every scrape.
func (p *Provider) RegisterPoolStats(stats func() *db.PoolStats) {
	gauge := func(name, help string, v func(*db.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: p.cfg.Namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return v(stats()) })
	}
	p.registry.MustRegister(
		gauge("total_connections", "Open connections.", func(s *db.PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("idle_connections", "Idle connections.", func(s *db.PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("acquired_connections", "Connections in use.", func(s *db.PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("max_connections", "Pool size limit.", func(s *db.PoolStats) float64 { return float64(s.MaxConns) }),
	)
}

// MetricsMiddleware records request count, latency and in-flight requests.
// Routes are labelled by their pattern, not the concrete path.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.inFlight.Inc()
			defer p.inFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := []string{c.Request().Method, route, strconv.Itoa(status)}

			p.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			p.requests.WithLabelValues(labels...).Inc()
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

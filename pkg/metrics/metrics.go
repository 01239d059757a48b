package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "proxyoor"

// Metrics contains all Prometheus metrics for proxyoor.
type Metrics struct {
	// Requests.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Policy outcomes.
	RateLimitedTotal  *prometheus.CounterVec
	UnauthorizedTotal *prometheus.CounterVec

	// Cache.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Upstreams.
	UpstreamErrorsTotal *prometheus.CounterVec
	UpstreamHealthy     *prometheus.GaugeVec

	// Build info.
	BuildInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers all metrics.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of gateway requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		UnauthorizedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unauthorized_total",
				Help:      "Total number of requests rejected by authentication",
			},
			[]string{"route"},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of response cache hits",
			},
			[]string{"route"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of response cache misses",
			},
			[]string{"route"},
		),
		UpstreamErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream timeouts and transport failures",
			},
			[]string{"service"},
		),
		UpstreamHealthy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_healthy",
				Help:      "Whether the upstream's last health probe succeeded (1 or 0)",
			},
			[]string{"service"},
		),
		BuildInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "git_commit", "build_date"},
		),
	}
}

// ObserveRequest records a completed pipeline pass.
func (m *Metrics) ObserveRequest(method, routeID string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, routeID, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, routeID).Observe(duration.Seconds())
}

// SetUpstreamHealthy implements the health monitor's gauge interface.
func (m *Metrics) SetUpstreamHealthy(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}

	m.UpstreamHealthy.WithLabelValues(service).Set(v)
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, gitCommit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, gitCommit, buildDate).Set(1)
}

// Package health probes upstream services and aggregates gateway health.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the aggregate gateway health.
type Status string

const (
	// StatusHealthy means every upstream answered its health probe.
	StatusHealthy Status = "healthy"
	// StatusDegraded means at least one upstream failed its probe.
	StatusDegraded Status = "degraded"
)

// ServiceHealth is the probe result for one upstream.
type ServiceHealth struct {
	Service   string    `json:"service"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Result aggregates per-service probe results.
type Result struct {
	Status   Status          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// Gauge receives per-service health for the metrics layer.
type Gauge interface {
	SetUpstreamHealthy(service string, healthy bool)
}

// Monitor probes each known service's /health endpoint. Checks are pull-based
// and invoked by the gateway's own health endpoint; a background loop can
// additionally refresh a cached result on an interval.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	Check(ctx context.Context) Result
	Last() (Result, bool)
}

// monitor implements Monitor.
type monitor struct {
	log      logrus.FieldLogger
	client   *http.Client
	baseURLs map[string]string
	interval time.Duration
	gauge    Gauge

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last *Result
}

// Ensure monitor implements Monitor.
var _ Monitor = (*monitor)(nil)

// NewMonitor creates a health monitor over the configured upstreams. A zero
// interval disables the background loop; Check still works on demand.
func NewMonitor(log logrus.FieldLogger, baseURLs map[string]string, timeout, interval time.Duration, gauge Gauge) Monitor {
	return &monitor{
		log:      log.WithField("component", "health"),
		client:   &http.Client{Timeout: timeout},
		baseURLs: baseURLs,
		interval: interval,
		gauge:    gauge,
	}
}

// Start launches the optional background probe loop.
func (m *monitor) Start(ctx context.Context) error {
	if m.interval <= 0 {
		m.log.Info("Background health checks disabled")

		return nil
	}

	m.log.WithField("interval", m.interval).Info("Starting health monitor")

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)

	go m.loop(ctx)

	return nil
}

// Stop stops the background loop.
func (m *monitor) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}

	m.wg.Wait()

	return nil
}

// Check probes all services concurrently and returns the aggregate. The
// result is also cached for Last.
func (m *monitor) Check(ctx context.Context) Result {
	results := make([]ServiceHealth, 0, len(m.baseURLs))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for name, base := range m.baseURLs {
		wg.Add(1)

		go func(name, base string) {
			defer wg.Done()

			sh := m.probe(ctx, name, base)

			mu.Lock()
			results = append(results, sh)
			mu.Unlock()
		}(name, base)
	}

	wg.Wait()

	result := aggregate(results)

	if m.gauge != nil {
		for _, sh := range result.Services {
			m.gauge.SetUpstreamHealthy(sh.Service, sh.Healthy)
		}
	}

	m.mu.Lock()
	m.last = &result
	m.mu.Unlock()

	return result
}

// Last returns the most recent check result, if any check has run yet.
func (m *monitor) Last() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.last == nil {
		return Result{}, false
	}

	return *m.last, true
}

// probe issues a single GET <base>/health. Any transport error or non-2xx
// status marks the service unhealthy.
func (m *monitor) probe(ctx context.Context, name, base string) ServiceHealth {
	sh := ServiceHealth{
		Service:   name,
		CheckedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		sh.Error = err.Error()

		return sh
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).WithField("service", name).Debug("Health probe failed")

		sh.Error = err.Error()

		return sh
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sh.Error = fmt.Sprintf("status %d", resp.StatusCode)

		return sh
	}

	sh.Healthy = true

	return sh
}

// loop refreshes the cached result on the configured interval.
func (m *monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// aggregate computes the overall status: healthy only when every service is.
func aggregate(services []ServiceHealth) Result {
	status := StatusHealthy

	for _, sh := range services {
		if !sh.Healthy {
			status = StatusDegraded

			break
		}
	}

	return Result{Status: status, Services: services}
}

// Package gateway implements the request pipeline: route matching, rate
// limiting, authentication, response caching, and upstream proxying, in that
// order. Each stage either passes the request on or fails it terminally;
// telemetry fires in both cases.
package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/auth"
	"github.com/ethpandaops/proxyoor/pkg/cache"
	"github.com/ethpandaops/proxyoor/pkg/metrics"
	"github.com/ethpandaops/proxyoor/pkg/proxy"
	"github.com/ethpandaops/proxyoor/pkg/ratelimit"
	"github.com/ethpandaops/proxyoor/pkg/route"
	"github.com/ethpandaops/proxyoor/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// Response headers produced by the gateway.
const (
	HeaderCache         = "X-Cache"
	HeaderExecutionTime = "X-Gateway-Execution-Time"
)

// Gateway owns the pipeline and all per-instance state (route table, rate
// buckets, cache entries). Instances are independent; tests can run several
// side by side without state leaking between them.
type Gateway struct {
	log       logrus.FieldLogger
	table     *route.Table
	limiter   ratelimit.Limiter
	authn     auth.Authenticator
	cache     cache.Cache
	proxy     proxy.Proxy
	telemetry telemetry.Service
	metrics   *metrics.Metrics
}

// Ensure Gateway implements http.Handler.
var _ http.Handler = (*Gateway)(nil)

// New wires a gateway instance from its collaborators.
func New(
	log logrus.FieldLogger,
	table *route.Table,
	limiter ratelimit.Limiter,
	authn auth.Authenticator,
	responseCache cache.Cache,
	prx proxy.Proxy,
	tel telemetry.Service,
	m *metrics.Metrics,
) *Gateway {
	return &Gateway{
		log:       log.WithField("component", "gateway"),
		table:     table,
		limiter:   limiter,
		authn:     authn,
		cache:     responseCache,
		proxy:     prx,
		telemetry: tel,
		metrics:   m,
	}
}

// Table returns the gateway's route table.
func (g *Gateway) Table() *route.Table {
	return g.table
}

// ServeHTTP runs the pipeline for one request. Stages execute strictly in
// order; the first failure short-circuits to the error response. There is no
// retry anywhere in the pipeline.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := clientIP(r)

	var (
		rt       *route.Route
		identity *auth.Identity
		status   int
		cacheHit bool
	)

	// Telemetry always fires, with whatever context the pipeline gathered
	// before succeeding or failing.
	defer func() {
		event := telemetry.Event{
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    status,
			Duration:  time.Since(start),
			CacheHit:  cacheHit,
			ClientIP:  clientIP,
			UserAgent: r.UserAgent(),
			Timestamp: start,
		}

		if rt != nil {
			event.Route = rt.ID()
		}

		if identity != nil {
			event.CallerID = identity.ID
		}

		g.telemetry.Emit(event)

		if g.metrics != nil {
			routeID := "unmatched"
			if rt != nil {
				routeID = rt.ID()
			}

			g.metrics.ObserveRequest(r.Method, routeID, status, time.Since(start))
		}
	}()

	// MatchRoute.
	rt, ok := g.table.Match(r.Method, r.URL.Path)
	if !ok {
		status = g.fail(w, r, clientIP, start, errRouteNotFound())

		return
	}

	// CheckRateLimit.
	if rt.RateLimit != nil {
		key := clientIP + ":" + rt.Path + ":" + rt.Method

		decision := g.limiter.Check(key, ratelimit.Limit{
			MaxRequests: rt.RateLimit.MaxRequests,
			Window:      rt.RateLimit.Window,
		})
		if !decision.Allowed {
			if g.metrics != nil {
				g.metrics.RateLimitedTotal.WithLabelValues(rt.ID()).Inc()
			}

			status = g.fail(w, r, clientIP, start, errRateLimited(decision.RetryAfter))

			return
		}
	}

	// Authenticate. The identity is resolved opportunistically even on open
	// routes, since it feeds cache keys and the upstream identity header.
	var authErr error

	identity, authErr = g.authn.Authenticate(r)
	if rt.RequiresAuth && (authErr != nil || identity == nil) {
		if g.metrics != nil {
			g.metrics.UnauthorizedTotal.WithLabelValues(rt.ID()).Inc()
		}

		identity = nil
		status = g.fail(w, r, clientIP, start, errUnauthenticated())

		return
	}

	if authErr != nil {
		// Invalid credential on an open route: proceed anonymously.
		identity = nil
	}

	callerID := ""
	if identity != nil {
		callerID = identity.ID
	}

	// CheckCache.
	cacheKey := ""
	if rt.Cacheable() {
		cacheKey = cache.Key(rt.Service, rt.Method, r.URL.Path, callerID)

		if entry, ok := g.cache.Get(cacheKey); ok {
			cacheHit = true

			if g.metrics != nil {
				g.metrics.CacheHitsTotal.WithLabelValues(rt.ID()).Inc()
			}

			status = entry.Status
			g.respond(w, rt, entry.Status, entry.ContentType, entry.Payload, true, start)

			return
		}

		if g.metrics != nil {
			g.metrics.CacheMissesTotal.WithLabelValues(rt.ID()).Inc()
		}
	}

	// Proxy.
	result, err := g.proxy.Forward(r.Context(), proxy.ForwardRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Body:     r.Body,
		Header:   r.Header,
		Identity: identity,
	}, rt)
	if err != nil {
		if g.metrics != nil {
			g.metrics.UpstreamErrorsTotal.WithLabelValues(rt.Service).Inc()
		}

		var gerr *Error
		if errors.Is(err, proxy.ErrUpstreamUnavailable) {
			gerr = errUpstreamUnavailable(rt.Service)
		} else {
			g.log.WithError(err).Error("Unexpected proxy failure")

			gerr = errInternal()
		}

		status = g.fail(w, r, clientIP, start, gerr)

		return
	}

	// StoreCache. Only successful upstream responses are cached; failures
	// and non-2xx statuses are never stored.
	if cacheKey != "" && result.Success() {
		g.cache.Put(cacheKey, cache.Entry{
			Status:      result.Status,
			Payload:     result.Body,
			ContentType: result.ContentType,
		}, rt.CacheTTL)
	}

	// Respond.
	status = result.Status
	g.respond(w, rt, result.Status, result.ContentType, result.Body, false, start)
}

// respond writes the upstream (or cached) payload to the caller.
func (g *Gateway) respond(w http.ResponseWriter, rt *route.Route, status int, contentType string, body []byte, hit bool, start time.Time) {
	if rt.Cacheable() {
		if hit {
			w.Header().Set(HeaderCache, "HIT")
		} else {
			w.Header().Set(HeaderCache, "MISS")
		}
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.Header().Set(HeaderExecutionTime, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	w.WriteHeader(status)

	if _, err := w.Write(body); err != nil {
		g.log.WithError(err).Debug("Failed writing response body")
	}
}

// fail logs the stage failure with request context and writes the JSON error
// response. Returns the status for the telemetry event.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, clientIP string, start time.Time, gerr *Error) int {
	g.log.WithFields(logrus.Fields{
		"kind":      gerr.Kind,
		"method":    r.Method,
		"path":      r.URL.Path,
		"client_ip": clientIP,
		"elapsed":   time.Since(start),
	}).Warn(gerr.Message)

	body := map[string]any{"error": gerr.Message}

	if gerr.RetryAfter > 0 {
		retrySecs := int64(gerr.RetryAfter / time.Second)
		body["retryAfter"] = retrySecs
		w.Header().Set("Retry-After", strconv.FormatInt(retrySecs, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderExecutionTime, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	w.WriteHeader(gerr.Status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.WithError(err).Error("Failed to encode error response")
	}

	return gerr.Status
}

// clientIP resolves the caller's address: first hop of X-Forwarded-For when
// present, otherwise the transport peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}

		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

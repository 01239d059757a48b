// Package api hosts the gateway's HTTP surface: the system endpoints
// (health, metrics, route listing, telemetry stream) and the wildcard mount
// that hands everything else to the request pipeline.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/auth"
	"github.com/ethpandaops/proxyoor/pkg/config"
	"github.com/ethpandaops/proxyoor/pkg/gateway"
	"github.com/ethpandaops/proxyoor/pkg/health"
	"github.com/ethpandaops/proxyoor/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP server hosting the gateway.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	Hub() *Hub
}

// server implements Server.
type server struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	gateway *gateway.Gateway
	monitor health.Monitor
	authn   auth.Authenticator
	hub     *Hub
	srv     *http.Server
	router  chi.Router
	started time.Time

	// Per-IP limiter protecting the system endpoints. Route-level limits are
	// enforced inside the pipeline instead.
	sysRateLimiter *ratelimit.IPRateLimiter
}

// Ensure server implements Server.
var _ Server = (*server)(nil)

// NewServer creates a new API server around the request pipeline.
func NewServer(log logrus.FieldLogger, cfg *config.Config, gw *gateway.Gateway, monitor health.Monitor, authn auth.Authenticator) Server {
	s := &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		gateway: gw,
		monitor: monitor,
		authn:   authn,
		hub:     NewHub(log),
	}

	if cfg.Server.RateLimit.Enabled {
		s.sysRateLimiter = ratelimit.NewIPRateLimiter(cfg.Server.RateLimit.RequestsPerMinute)

		log.WithField("rpm", cfg.Server.RateLimit.RequestsPerMinute).Info("System endpoint rate limiting enabled")
	}

	s.setupRouter()

	return s
}

// Hub returns the WebSocket hub so it can be attached as a telemetry sink.
func (s *server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.started = time.Now()

	s.srv = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.cfg.Server.Listen).Info("Starting API server")

	// Start WebSocket hub.
	go s.hub.Run(ctx)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.srv == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

func (s *server) setupRouter() {
	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// CORS.
	if len(s.cfg.Server.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.Server.CORSOrigins))
	}

	// System endpoints with a per-IP rate limit. Registered before the
	// wildcard so they always win over proxied routes.
	r.Group(func(r chi.Router) {
		if s.sysRateLimiter != nil {
			r.Use(s.sysRateLimiter.Middleware)
		}

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/api/v1/routes", s.handleListRoutes)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/ws", s.handleWebSocket)
	})

	// Everything else goes through the pipeline.
	r.Handle("/*", s.gateway)

	s.router = r
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 1 && origins[0] == "*"

	originSet := make(map[string]bool, len(origins))
	for _, origin := range origins {
		originSet[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowAll || originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Response helpers
// ============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// ============================================================================
// Handlers
// ============================================================================

// handleHealth probes every upstream and reports the aggregate. A degraded
// gateway answers 503 so load balancers can rotate it out.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.monitor.Check(r.Context())

	status := http.StatusOK
	if result.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, result)
}

// RouteInfo is the public view of a configured route.
type RouteInfo struct {
	Path         string `json:"path"`
	Method       string `json:"method"`
	Service      string `json:"service"`
	RequiresAuth bool   `json:"requires_auth"`
	Timeout      string `json:"timeout"`
	CacheTTL     string `json:"cache_ttl,omitempty"`
	RateLimit    string `json:"rate_limit,omitempty"`
}

func (s *server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.gateway.Table().Routes()

	result := make([]RouteInfo, 0, len(routes))

	for _, rt := range routes {
		info := RouteInfo{
			Path:         rt.Path,
			Method:       rt.Method,
			Service:      rt.Service,
			RequiresAuth: rt.RequiresAuth,
			Timeout:      rt.Timeout.String(),
		}

		if rt.CacheTTL > 0 {
			info.CacheTTL = rt.CacheTTL.String()
		}

		if rt.RateLimit != nil {
			info.RateLimit = ratelimit.Limit{
				MaxRequests: rt.RateLimit.MaxRequests,
				Window:      rt.RateLimit.Window,
			}.String()
		}

		result = append(result, info)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// StatusResponse is the system status.
type StatusResponse struct {
	Status    health.Status          `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Upstreams []health.ServiceHealth `json:"upstreams"`
	Websocket WebsocketStats         `json:"websocket"`
}

// WebsocketStats reports telemetry stream connections.
type WebsocketStats struct {
	Clients int `json:"clients"`
}

// handleStatus reports the last known upstream health without probing, plus
// process uptime and stream stats.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Websocket: WebsocketStats{Clients: s.hub.ClientCount()},
	}

	if last, ok := s.monitor.Last(); ok {
		resp.Status = last.Status
		resp.Upstreams = last.Services
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, s.authn, s.cfg.Server.CORSOrigins, w, r)
}

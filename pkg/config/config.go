package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for proxyoor.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Health    HealthConfig    `yaml:"health"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Upstreams []Upstream      `yaml:"upstreams"`
	Routes    []RouteConfig   `yaml:"routes"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains settings for the per-IP limiter protecting the
// gateway's own system endpoints (health, metrics, route listing). Route-level
// rate limits are configured per route instead.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// AuthConfig contains credential verification settings.
type AuthConfig struct {
	JWTSecret string         `yaml:"jwt_secret"`
	APIKeys   []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares a trusted API key. The key itself is never stored;
// only its bcrypt hash appears in configuration.
type APIKeyConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	KeyHash string `yaml:"key_hash"`
}

// HealthConfig contains upstream health probe settings.
type HealthConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"` // 0 disables the background loop
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// TelemetryConfig contains telemetry emission settings.
type TelemetryConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// Upstream maps a service name to its fixed base URL.
type Upstream struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// RouteRateLimit is a fixed-window rate limit applied per client IP on a route.
type RouteRateLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RouteConfig declares a single gateway route. Routes are matched in the order
// they appear in the configuration; the first match wins.
type RouteConfig struct {
	Path         string          `yaml:"path"`
	Method       string          `yaml:"method"`
	Service      string          `yaml:"service"`
	RequiresAuth bool            `yaml:"requires_auth"`
	RateLimit    *RouteRateLimit `yaml:"rate_limit"`
	Timeout      time.Duration   `yaml:"timeout"`
	CacheTTL     time.Duration   `yaml:"cache_ttl"`
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables.
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults.
	applyDefaults(&cfg)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} and $VAR patterns with environment variable values.
func expandEnvVars(s string) string {
	// Match ${VAR} pattern.
	re := regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	// Match $VAR pattern (only at word boundaries).
	re = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	return s
}

// applyDefaults sets default values for unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}

	if cfg.Server.RateLimit.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.RequestsPerMinute = 120
	}

	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 2 * time.Second
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 4096
	}

	if cfg.Telemetry.BufferSize == 0 {
		cfg.Telemetry.BufferSize = 256
	}

	for i := range cfg.Routes {
		if cfg.Routes[i].Method == "" {
			cfg.Routes[i].Method = "GET"
		}

		cfg.Routes[i].Method = strings.ToUpper(cfg.Routes[i].Method)

		if cfg.Routes[i].Timeout == 0 {
			cfg.Routes[i].Timeout = 30 * time.Second
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Validate upstreams.
	upstreams := make(map[string]bool, len(c.Upstreams))

	for _, u := range c.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream name is required")
		}

		if upstreams[u.Name] {
			return fmt.Errorf("duplicate upstream: %s", u.Name)
		}

		upstreams[u.Name] = true

		parsed, err := url.Parse(u.URL)
		if err != nil {
			return fmt.Errorf("upstream %s: invalid url: %w", u.Name, err)
		}

		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("upstream %s: url must be http or https", u.Name)
		}

		if parsed.Host == "" {
			return fmt.Errorf("upstream %s: url host is required", u.Name)
		}
	}

	// Validate routes.
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}

	routeIDs := make(map[string]bool, len(c.Routes))

	var authRequired bool

	for _, r := range c.Routes {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route path must start with /: %q", r.Path)
		}

		id := r.Method + " " + r.Path
		if routeIDs[id] {
			return fmt.Errorf("duplicate route: %s", id)
		}

		routeIDs[id] = true

		if !upstreams[r.Service] {
			return fmt.Errorf("route %s: unknown service: %s", id, r.Service)
		}

		if r.RateLimit != nil {
			if r.RateLimit.MaxRequests <= 0 {
				return fmt.Errorf("route %s: rate_limit.max_requests must be positive", id)
			}

			if r.RateLimit.Window <= 0 {
				return fmt.Errorf("route %s: rate_limit.window must be positive", id)
			}
		}

		if r.CacheTTL > 0 && r.Method != "GET" {
			return fmt.Errorf("route %s: cache_ttl is only valid on GET routes", id)
		}

		if r.RequiresAuth {
			authRequired = true
		}
	}

	// Validate auth config. Bearer tokens need a signing secret; API keys alone
	// are enough when a key hash is configured.
	if authRequired && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.jwt_secret or auth.api_keys is required when a route requires auth")
	}

	for _, k := range c.Auth.APIKeys {
		if k.ID == "" {
			return fmt.Errorf("api key id is required")
		}

		if k.KeyHash == "" {
			return fmt.Errorf("api key %s: key_hash is required", k.ID)
		}
	}

	return nil
}

// UpstreamURLs returns the service name to base URL mapping.
func (c *Config) UpstreamURLs() map[string]string {
	urls := make(map[string]string, len(c.Upstreams))
	for _, u := range c.Upstreams {
		urls[u.Name] = strings.TrimSuffix(u.URL, "/")
	}

	return urls
}

// String returns a sanitized string representation of the config (no secrets).
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Server: listen=%s\n", c.Server.Listen))
	sb.WriteString(fmt.Sprintf("Auth: jwt=%t api_keys=%d\n",
		c.Auth.JWTSecret != "", len(c.Auth.APIKeys)))
	sb.WriteString(fmt.Sprintf("Health: timeout=%s interval=%s\n",
		c.Health.Timeout, c.Health.Interval))
	sb.WriteString(fmt.Sprintf("Upstreams: %d\n", len(c.Upstreams)))
	sb.WriteString(fmt.Sprintf("Routes: %d\n", len(c.Routes)))

	return sb.String()
}

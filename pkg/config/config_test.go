package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen: ":8080"
auth:
  jwt_secret: test-secret
upstreams:
  - name: auth
    url: http://auth:3001
  - name: projects
    url: http://projects:3002
routes:
  - path: /api/auth/login
    method: POST
    service: auth
    rate_limit:
      max_requests: 5
      window: 5m
  - path: /api/projects/:id
    method: GET
    service: projects
    requires_auth: true
    cache_ttl: 60s
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Routes))
	}

	login := cfg.Routes[0]
	if login.Method != "POST" || login.Service != "auth" {
		t.Errorf("unexpected login route: %+v", login)
	}

	if login.RateLimit == nil || login.RateLimit.MaxRequests != 5 || login.RateLimit.Window != 5*time.Minute {
		t.Errorf("unexpected login rate limit: %+v", login.RateLimit)
	}

	projects := cfg.Routes[1]
	if !projects.RequiresAuth {
		t.Error("projects route should require auth")
	}

	if projects.CacheTTL != time.Minute {
		t.Errorf("expected 60s cache ttl, got %s", projects.CacheTTL)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("expected default system rpm 120, got %d", cfg.Server.RateLimit.RequestsPerMinute)
	}

	if cfg.Health.Timeout != 2*time.Second {
		t.Errorf("expected default health timeout 2s, got %s", cfg.Health.Timeout)
	}

	if cfg.Routes[0].Timeout != 30*time.Second {
		t.Errorf("expected default route timeout 30s, got %s", cfg.Routes[0].Timeout)
	}

	if cfg.Cache.MaxEntries != 4096 {
		t.Errorf("expected default cache size 4096, got %d", cfg.Cache.MaxEntries)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("PROXYOOR_TEST_SECRET", "from-env")
	defer os.Unsetenv("PROXYOOR_TEST_SECRET")

	yaml := strings.Replace(validYAML, "jwt_secret: test-secret",
		"jwt_secret: ${PROXYOOR_TEST_SECRET}", 1)

	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.JWTSecret)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name: "unknown service",
			mutate: func(s string) string {
				return strings.Replace(s, "service: projects", "service: nope", 1)
			},
			wantErr: "unknown service",
		},
		{
			name: "duplicate route",
			mutate: func(s string) string {
				return strings.Replace(s, "/api/auth/login", "/api/projects/:id\n    method: GET\n    service: projects\n  - path: /api/projects/:id", 1)
			},
			wantErr: "duplicate route",
		},
		{
			name: "bad upstream url",
			mutate: func(s string) string {
				return strings.Replace(s, "http://projects:3002", "projects-3002", 1)
			},
			wantErr: "url must be http or https",
		},
		{
			name: "auth required without credentials config",
			mutate: func(s string) string {
				return strings.Replace(s, "jwt_secret: test-secret", "", 1)
			},
			wantErr: "jwt_secret or auth.api_keys",
		},
		{
			name: "cache on non-GET route",
			mutate: func(s string) string {
				return strings.Replace(s, "method: POST", "method: POST\n    cache_ttl: 10s", 1)
			},
			wantErr: "cache_ttl is only valid on GET",
		},
		{
			name: "zero window",
			mutate: func(s string) string {
				return strings.Replace(s, "window: 5m", "window: 0s", 1)
			},
			wantErr: "window must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpstreamURLs(t *testing.T) {
	cfg, err := Parse([]byte(strings.Replace(validYAML,
		"http://projects:3002", "http://projects:3002/", 1)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	urls := cfg.UpstreamURLs()
	if urls["projects"] != "http://projects:3002" {
		t.Errorf("trailing slash should be trimmed, got %q", urls["projects"])
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if strings.Contains(cfg.String(), "test-secret") {
		t.Error("String() must not leak the jwt secret")
	}
}

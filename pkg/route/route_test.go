package route

import (
	"testing"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/config"
)

func newTestTable() *Table {
	return NewTable([]config.RouteConfig{
		{Path: "/api/projects/archived", Method: "GET", Service: "projects"},
		{Path: "/api/projects/:id", Method: "GET", Service: "projects"},
		{Path: "/api/projects/:id", Method: "DELETE", Service: "projects"},
		{Path: "/api/files/:id/content", Method: "GET", Service: "files"},
		{Path: "/api/auth/login", Method: "POST", Service: "auth"},
	})
}

func TestMatchLiteral(t *testing.T) {
	table := newTestTable()

	r, ok := table.Match("POST", "/api/auth/login")
	if !ok {
		t.Fatal("expected match")
	}

	if r.Service != "auth" {
		t.Errorf("expected auth service, got %s", r.Service)
	}
}

func TestMatchParam(t *testing.T) {
	table := newTestTable()

	r, ok := table.Match("GET", "/api/projects/42")
	if !ok {
		t.Fatal("expected match")
	}

	if r.Path != "/api/projects/:id" {
		t.Errorf("expected param route, got %s", r.Path)
	}
}

func TestFirstMatchWins(t *testing.T) {
	table := newTestTable()

	// "archived" is also a valid :id but the literal route is listed first.
	r, ok := table.Match("GET", "/api/projects/archived")
	if !ok {
		t.Fatal("expected match")
	}

	if r.Path != "/api/projects/archived" {
		t.Errorf("expected literal route to win, got %s", r.Path)
	}
}

func TestMethodDistinguishesRoutes(t *testing.T) {
	table := newTestTable()

	r, ok := table.Match("DELETE", "/api/projects/42")
	if !ok {
		t.Fatal("expected match")
	}

	if r.Method != "DELETE" {
		t.Errorf("expected DELETE route, got %s", r.Method)
	}

	if _, ok := table.Match("PUT", "/api/projects/42"); ok {
		t.Error("PUT should not match any route")
	}
}

func TestSegmentCountMustMatch(t *testing.T) {
	table := newTestTable()

	if _, ok := table.Match("GET", "/api/projects"); ok {
		t.Error("shorter path should not match")
	}

	if _, ok := table.Match("GET", "/api/projects/42/extra"); ok {
		t.Error("longer path should not match")
	}
}

func TestParamInMiddle(t *testing.T) {
	table := newTestTable()

	r, ok := table.Match("GET", "/api/files/abc-123/content")
	if !ok {
		t.Fatal("expected match")
	}

	if r.Service != "files" {
		t.Errorf("expected files service, got %s", r.Service)
	}
}

func TestMatchCaseSensitive(t *testing.T) {
	table := newTestTable()

	if _, ok := table.Match("POST", "/api/Auth/login"); ok {
		t.Error("matching must be case-sensitive")
	}
}

func TestNoMatch(t *testing.T) {
	table := newTestTable()

	if _, ok := table.Match("GET", "/api/unknown"); ok {
		t.Error("expected no match")
	}
}

func TestRoutePolicyCarriedOver(t *testing.T) {
	table := NewTable([]config.RouteConfig{
		{
			Path:         "/api/projects/:id",
			Method:       "GET",
			Service:      "projects",
			RequiresAuth: true,
			RateLimit:    &config.RouteRateLimit{MaxRequests: 10, Window: time.Minute},
			Timeout:      5 * time.Second,
			CacheTTL:     time.Minute,
		},
	})

	r, ok := table.Match("GET", "/api/projects/1")
	if !ok {
		t.Fatal("expected match")
	}

	if !r.RequiresAuth || !r.Cacheable() || r.Timeout != 5*time.Second {
		t.Errorf("route policy lost in translation: %+v", r)
	}

	if r.RateLimit.MaxRequests != 10 || r.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit: %+v", r.RateLimit)
	}

	if r.ID() != "GET /api/projects/:id" {
		t.Errorf("unexpected route id: %s", r.ID())
	}
}

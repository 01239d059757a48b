// Package route holds the static route table and its matching rules.
package route

import (
	"strings"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/config"
)

// RateLimit is a fixed-window limit applied per client on a route.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Route is a single configured mapping from (method, path template) to an
// upstream service plus policy. Immutable after startup.
type Route struct {
	Path         string
	Method       string
	Service      string
	RequiresAuth bool
	RateLimit    *RateLimit
	Timeout      time.Duration
	CacheTTL     time.Duration

	segments []string
}

// ID returns the route's stable identity, used for rate-limit keys and metrics
// labels so that parameterized paths share one bucket.
func (r *Route) ID() string {
	return r.Method + " " + r.Path
}

// Cacheable reports whether responses on this route may be cached.
func (r *Route) Cacheable() bool {
	return r.Method == "GET" && r.CacheTTL > 0
}

// Table is an ordered, immutable route table. Safe for concurrent reads.
type Table struct {
	routes []*Route
}

// NewTable builds a route table from configuration. Table order is config
// order; the first matching route wins.
func NewTable(cfgs []config.RouteConfig) *Table {
	routes := make([]*Route, 0, len(cfgs))

	for _, rc := range cfgs {
		r := &Route{
			Path:         rc.Path,
			Method:       rc.Method,
			Service:      rc.Service,
			RequiresAuth: rc.RequiresAuth,
			Timeout:      rc.Timeout,
			CacheTTL:     rc.CacheTTL,
			segments:     splitPath(rc.Path),
		}

		if rc.RateLimit != nil {
			r.RateLimit = &RateLimit{
				MaxRequests: rc.RateLimit.MaxRequests,
				Window:      rc.RateLimit.Window,
			}
		}

		routes = append(routes, r)
	}

	return &Table{routes: routes}
}

// Routes returns the routes in table order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Match returns the first route whose method and path template match the
// request, or false if no route matches.
func (t *Table) Match(method, path string) (*Route, bool) {
	segments := splitPath(path)

	for _, r := range t.routes {
		if r.Method != method {
			continue
		}

		if matchSegments(r.segments, segments) {
			return r, true
		}
	}

	return nil, false
}

// matchSegments compares a template against a concrete path. Both must have
// the same number of segments; a ":param" template segment matches any single
// non-empty segment, everything else matches exactly (case-sensitive).
func matchSegments(template, path []string) bool {
	if len(template) != len(path) {
		return false
	}

	for i, ts := range template {
		if strings.HasPrefix(ts, ":") {
			if path[i] == "" {
				return false
			}

			continue
		}

		if ts != path[i] {
			return false
		}
	}

	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

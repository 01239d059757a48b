// Package proxy forwards matched requests to their upstream services.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethpandaops/proxyoor/pkg/auth"
	"github.com/ethpandaops/proxyoor/pkg/route"
	"github.com/sirupsen/logrus"
)

// ErrUpstreamUnavailable is returned when the upstream cannot be reached at
// all: connection failure, timeout, or an unresolvable service name. The
// upstream returning its own non-2xx status is not this error; those results
// pass through verbatim.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// maxResponseBytes caps how much of an upstream body the gateway will buffer.
const maxResponseBytes = 10 << 20 // 10 MiB

// ForwardRequest carries everything the proxy needs from the original request.
type ForwardRequest struct {
	Method   string
	Path     string
	Query    string
	Body     io.Reader
	Header   http.Header
	Identity *auth.Identity
}

// Result is the upstream's response.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// Success reports whether the upstream answered with a 2xx status.
func (r *Result) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Proxy resolves a route's service to its base URL and forwards requests,
// enforcing the route's timeout.
type Proxy interface {
	Forward(ctx context.Context, req ForwardRequest, rt *route.Route) (*Result, error)
}

// proxy implements Proxy.
type proxy struct {
	log      logrus.FieldLogger
	client   *http.Client
	baseURLs map[string]string
}

// Ensure proxy implements Proxy.
var _ Proxy = (*proxy)(nil)

// New creates a proxy over the configured service base URLs. Per-request
// deadlines come from the route timeout, so the shared client itself has
// none.
func New(log logrus.FieldLogger, baseURLs map[string]string) Proxy {
	return &proxy{
		log:      log.WithField("component", "proxy"),
		client:   &http.Client{},
		baseURLs: baseURLs,
	}
}

// Forward builds the outbound request and executes it within the route's
// timeout. The caller's context is the parent, so a client disconnect cancels
// the in-flight upstream call.
func (p *proxy) Forward(ctx context.Context, req ForwardRequest, rt *route.Route) (*Result, error) {
	base, ok := p.baseURLs[rt.Service]
	if !ok {
		return nil, fmt.Errorf("%w: unknown service %s", ErrUpstreamUnavailable, rt.Service)
	}

	ctx, cancel := context.WithTimeout(ctx, rt.Timeout)
	defer cancel()

	url := base + req.Path
	if req.Query != "" {
		url += "?" + req.Query
	}

	// GET requests carry no body.
	body := req.Body
	if req.Method == http.MethodGet {
		body = nil
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	copyForwardedHeaders(outbound, req)

	resp, err := p.client.Do(outbound)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"service": rt.Service,
			"path":    req.Path,
		}).Warn("Upstream request failed")

		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, rt.Service)
	}

	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s", ErrUpstreamUnavailable, rt.Service)
	}

	return &Result{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}

// copyForwardedHeaders propagates credentials and the resolved identity to
// the upstream. Everything else stays behind the gateway.
func copyForwardedHeaders(outbound *http.Request, req ForwardRequest) {
	if v := req.Header.Get(auth.HeaderAuthorization); v != "" {
		outbound.Header.Set(auth.HeaderAuthorization, v)
	}

	if v := req.Header.Get(auth.HeaderAPIKey); v != "" {
		outbound.Header.Set(auth.HeaderAPIKey, v)
	}

	if v := req.Header.Get("Content-Type"); v != "" {
		outbound.Header.Set("Content-Type", v)
	}

	if req.Identity != nil {
		outbound.Header.Set(auth.HeaderIdentity, req.Identity.ID)
	}
}

// Package auth resolves caller identities from request credentials.
//
// Two strategies are supported: pre-shared API keys (X-API-Key header,
// verified against configured bcrypt hashes) and bearer tokens (HMAC-signed
// JWTs verified against a shared secret). API keys take precedence when both
// are presented.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethpandaops/proxyoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Request headers carrying credentials, and the identity header forwarded to
// upstreams.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	HeaderIdentity      = "X-User-ID"
)

// ErrInvalidCredential is returned when a presented credential fails
// verification.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the resolved subject of an authenticated request.
type Identity struct {
	ID     string
	Name   string
	Method string // "api_key" or "bearer"
}

// Verifier turns a single credential into an identity, or fails with
// ErrInvalidCredential. Strategies are swappable and independently testable.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Authenticator resolves a caller identity from an HTTP request.
type Authenticator interface {
	// Authenticate returns the caller identity, or (nil, nil) when no
	// credential was presented. A presented-but-invalid credential is an
	// error.
	Authenticate(r *http.Request) (*Identity, error)
}

// authenticator implements Authenticator.
type authenticator struct {
	log    logrus.FieldLogger
	apiKey Verifier
	bearer Verifier
}

// Ensure authenticator implements Authenticator.
var _ Authenticator = (*authenticator)(nil)

// NewAuthenticator builds the standard strategy chain from configuration.
func NewAuthenticator(log logrus.FieldLogger, cfg config.AuthConfig) Authenticator {
	a := &authenticator{
		log: log.WithField("component", "auth"),
	}

	if len(cfg.APIKeys) > 0 {
		a.apiKey = NewAPIKeyVerifier(cfg.APIKeys)
	}

	if cfg.JWTSecret != "" {
		a.bearer = NewBearerVerifier(cfg.JWTSecret)
	}

	return a
}

// Authenticate checks the API key header first, then the Authorization bearer
// token. Absent credentials are not an error; the pipeline decides whether an
// identity is required for the matched route.
func (a *authenticator) Authenticate(r *http.Request) (*Identity, error) {
	ctx := r.Context()

	if key := r.Header.Get(HeaderAPIKey); key != "" {
		if a.apiKey == nil {
			return nil, ErrInvalidCredential
		}

		identity, err := a.apiKey.Verify(ctx, key)
		if err != nil {
			a.log.Debug("API key verification failed")

			return nil, err
		}

		return identity, nil
	}

	if token := bearerToken(r); token != "" {
		if a.bearer == nil {
			return nil, ErrInvalidCredential
		}

		identity, err := a.bearer.Verify(ctx, token)
		if err != nil {
			a.log.Debug("Bearer token verification failed")

			return nil, err
		}

		return identity, nil
	}

	return nil, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or returns "".
func bearerToken(r *http.Request) string {
	header := r.Header.Get(HeaderAuthorization)
	if header == "" {
		return ""
	}

	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}

	return token
}

package gateway

import (
	"net/http"
	"time"
)

// Kind classifies a pipeline stage failure.
type Kind string

const (
	KindRouteNotFound       Kind = "route_not_found"
	KindRateLimited         Kind = "rate_limited"
	KindUnauthenticated     Kind = "unauthenticated"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

// Error is a terminal pipeline failure. Stages return it as a value instead
// of throwing, so every failure path is visible in the stage's signature.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

func errRouteNotFound() *Error {
	return &Error{
		Kind:    KindRouteNotFound,
		Status:  http.StatusNotFound,
		Message: "no route matches this method and path",
	}
}

func errRateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Status:     http.StatusTooManyRequests,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

func errUnauthenticated() *Error {
	return &Error{
		Kind:    KindUnauthenticated,
		Status:  http.StatusUnauthorized,
		Message: "authentication required",
	}
}

func errUpstreamUnavailable(service string) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Status:  http.StatusServiceUnavailable,
		Message: "upstream service unavailable: " + service,
	}
}

func errInternal() *Error {
	return &Error{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "internal gateway error",
	}
}

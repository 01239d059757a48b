package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorMaxAge   = 10 * time.Minute
	visitorSweepInt = 10 * time.Minute
)

// IPRateLimiter smooths traffic to the gateway's own system endpoints
// (health, metrics, route listing) with a token bucket per client IP. This is
// deliberately a different algorithm than the per-route fixed windows: system
// endpoints want flood protection, not an exact request budget.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

// visitor pairs a token bucket with its last activity, so idle entries can
// be swept.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a per-IP limiter allowing requestsPerMinute on
// average, with a burst of the same size.
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	l := &IPRateLimiter{
		visitors: make(map[string]*visitor, 256),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
	}

	go l.sweepLoop()

	return l
}

// Allow reports whether a request from ip may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}

	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Middleware returns an HTTP middleware enforcing the per-IP limit. Assumes
// chi's RealIP middleware has already normalized RemoteAddr.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.RemoteAddr) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			//nolint:errcheck // Response writing errors are not recoverable
			w.Write([]byte(`{"error":"rate limit exceeded"}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

// sweepLoop periodically drops visitors that have gone quiet.
func (l *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(visitorSweepInt)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-visitorMaxAge)

		l.mu.Lock()

		for ip, v := range l.visitors {
			if v.lastSeen.Before(cutoff) {
				delete(l.visitors, ip)
			}
		}

		l.mu.Unlock()
	}
}

// Package ratelimit implements the gateway's rate limiting.
//
// Route traffic is limited with fixed windows: coarse by design, so bursts at
// window boundaries are an accepted characteristic, not a bug. The gateway's
// own system endpoints use a token-bucket per-IP limiter instead.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Limit describes a fixed-window rate limit.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// String renders the limit for logs and route listings.
func (l Limit) String() string {
	return fmt.Sprintf("%d per %s", l.MaxRequests, l.Window)
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key is allowed under a
// fixed-window limit.
type Limiter interface {
	Check(key string, limit Limit) Decision
}

// bucket tracks request counts for one key within the current window.
type bucket struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter implements Limiter with per-key fixed windows. The whole
// read-modify-write of a bucket happens under the lock, so two concurrent
// requests on the same key can never both sneak past the limit.
type FixedWindowLimiter struct {
	log     logrus.FieldLogger
	clock   clock.Clock
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Ensure FixedWindowLimiter implements Limiter.
var _ Limiter = (*FixedWindowLimiter)(nil)

// NewFixedWindowLimiter creates a new fixed-window limiter.
func NewFixedWindowLimiter(log logrus.FieldLogger) *FixedWindowLimiter {
	return NewFixedWindowLimiterWithClock(log, clock.New())
}

// NewFixedWindowLimiterWithClock creates a limiter with an injected clock,
// letting tests drive window resets without sleeping.
func NewFixedWindowLimiterWithClock(log logrus.FieldLogger, clk clock.Clock) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		log:     log.WithField("component", "ratelimit"),
		clock:   clk,
		buckets: make(map[string]*bucket, 256),
	}
}

// Check records a request against the key's current window and decides
// whether it is allowed. When blocked, RetryAfter is the time until the
// window resets, rounded up to whole seconds.
func (l *FixedWindowLimiter) Check(key string, limit Limit) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists || now.After(b.resetAt) {
		l.buckets[key] = &bucket{
			count:   1,
			resetAt: now.Add(limit.Window),
		}

		return Decision{Allowed: true}
	}

	if b.count >= limit.MaxRequests {
		retryAfter := ceilSeconds(b.resetAt.Sub(now))

		l.log.WithFields(logrus.Fields{
			"key":         key,
			"retry_after": retryAfter,
		}).Debug("Rate limit exceeded")

		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.count++

	return Decision{Allowed: true}
}

// StartJanitor launches a loop that drops buckets whose window has long
// expired. The limiter is correct without it; this only bounds memory.
func (l *FixedWindowLimiter) StartJanitor(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := l.clock.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

// sweep removes buckets whose window has already ended.
func (l *FixedWindowLimiter) sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

// ceilSeconds rounds a duration up to whole seconds, never below one second
// for a positive remainder.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}

	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}

	return secs * time.Second
}

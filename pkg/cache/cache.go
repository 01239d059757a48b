// Package cache stores successful GET responses for cacheable routes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Entry is a cached response payload. ContentType is kept alongside the body
// so a hit can be served with the upstream's original type.
type Entry struct {
	Status      int
	Payload     []byte
	ContentType string
	expiresAt   time.Time
}

// Cache is a TTL-keyed response store. Expired entries are removed lazily on
// lookup rather than swept proactively; key cardinality is bounded by
// route x caller, and the LRU bounds total size regardless.
type Cache interface {
	Get(key string) (*Entry, bool)
	Put(key string, entry Entry, ttl time.Duration)
	Len() int
}

// responseCache implements Cache on a bounded LRU with per-entry expiry.
type responseCache struct {
	log   logrus.FieldLogger
	clock clock.Clock
	mu    sync.Mutex
	lru   *lru.Cache[string, Entry]
}

// Ensure responseCache implements Cache.
var _ Cache = (*responseCache)(nil)

// New creates a response cache holding at most maxEntries entries.
func New(log logrus.FieldLogger, maxEntries int) (Cache, error) {
	return NewWithClock(log, maxEntries, clock.New())
}

// NewWithClock creates a response cache with an injected clock, letting
// tests drive TTL expiry without sleeping.
func NewWithClock(log logrus.FieldLogger, maxEntries int, clk clock.Clock) (Cache, error) {
	l, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, err
	}

	return &responseCache{
		log:   log.WithField("component", "cache"),
		clock: clk,
		lru:   l,
	}, nil
}

// Get returns the entry for key if present and not expired. An expired entry
// is evicted and reported as a miss; it is never returned once its expiry has
// been reached.
func (c *responseCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}

	if !c.clock.Now().Before(entry.expiresAt) {
		c.lru.Remove(key)

		return nil, false
	}

	return &entry, true
}

// Put stores an entry with the given TTL. Zero or negative TTLs are ignored;
// the pipeline only calls Put for cacheable routes.
func (c *responseCache) Put(key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	entry.expiresAt = c.clock.Now().Add(ttl)

	c.mu.Lock()
	c.lru.Add(key, entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, counting any not yet lazily
// evicted.
func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Key derives the stable cache key for a request. Anonymous callers share the
// "anonymous" slot so authenticated responses never leak across identities.
func Key(service, method, path, callerID string) string {
	if callerID == "" {
		callerID = "anonymous"
	}

	h := sha256.New()
	h.Write([]byte(service))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(callerID))

	return hex.EncodeToString(h.Sum(nil))
}

package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

func testCache(t *testing.T, maxEntries int) (Cache, *clock.Mock) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	mock := clock.NewMock()

	c, err := NewWithClock(log, maxEntries, mock)
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}

	return c, mock
}

func TestGetMissOnEmpty(t *testing.T) {
	c, _ := testCache(t, 16)

	if _, ok := c.Get("nope"); ok {
		t.Error("expected miss")
	}
}

func TestPutThenGet(t *testing.T) {
	c, _ := testCache(t, 16)

	c.Put("k", Entry{Payload: []byte(`{"id":42}`), ContentType: "application/json"}, time.Minute)

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}

	if !bytes.Equal(entry.Payload, []byte(`{"id":42}`)) {
		t.Errorf("payload mismatch: %s", entry.Payload)
	}

	if entry.ContentType != "application/json" {
		t.Errorf("content type mismatch: %s", entry.ContentType)
	}
}

func TestEntryExpires(t *testing.T) {
	c, mock := testCache(t, 16)

	c.Put("k", Entry{Payload: []byte("v")}, time.Minute)

	mock.Add(59 * time.Second)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should still be fresh at 59s")
	}

	mock.Add(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must not be returned after expiry")
	}

	// Lazy eviction removed it.
	if c.Len() != 0 {
		t.Errorf("expected expired entry evicted, len=%d", c.Len())
	}
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	c, mock := testCache(t, 16)

	c.Put("k", Entry{Payload: []byte("v")}, time.Minute)

	// Exactly at expiresAt the entry is already stale (now >= expiresAt).
	mock.Add(time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Error("entry at exact expiry must be a miss")
	}
}

func TestZeroTTLIgnored(t *testing.T) {
	c, _ := testCache(t, 16)

	c.Put("k", Entry{Payload: []byte("v")}, 0)

	if _, ok := c.Get("k"); ok {
		t.Error("zero ttl entries must not be stored")
	}
}

func TestLRUBoundsEntries(t *testing.T) {
	c, _ := testCache(t, 4)

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), Entry{Payload: []byte("v")}, time.Minute)
	}

	if c.Len() > 4 {
		t.Errorf("cache exceeded its bound: %d", c.Len())
	}

	// Oldest entries were evicted, newest survive.
	if _, ok := c.Get("k9"); !ok {
		t.Error("most recent entry should survive")
	}

	if _, ok := c.Get("k0"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	a := Key("projects", "GET", "/api/projects/42", "user-1")
	b := Key("projects", "GET", "/api/projects/42", "user-1")

	if a != b {
		t.Error("same inputs must produce the same key")
	}

	if Key("projects", "GET", "/api/projects/42", "user-2") == a {
		t.Error("different callers must not share a key")
	}

	if Key("projects", "GET", "/api/projects/43", "user-1") == a {
		t.Error("different paths must not share a key")
	}

	if Key("files", "GET", "/api/projects/42", "user-1") == a {
		t.Error("different services must not share a key")
	}
}

func TestAnonymousCallerKey(t *testing.T) {
	if Key("p", "GET", "/x", "") != Key("p", "GET", "/x", "anonymous") {
		t.Error("empty caller id is keyed as anonymous")
	}
}

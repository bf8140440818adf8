package cache

import (
	"testing"
	"time"
)

func TestGetReturnsWithinTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewWithClock(30*time.Second, func() time.Time { return now })
	c.Set("k", 42)

	now = now.Add(29 * time.Second)
	v, ok := c.Get("k")
	if !ok {
		t.Fatalf("expected hit within ttl")
	}
	if v.(int) != 42 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestGetExpiresLazily(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewWithClock(30*time.Second, func() time.Time { return now })
	c.Set("k", "v")

	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy expiry to drop the entry, len=%d", c.Len())
	}
}

func TestClear(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, len=%d", c.Len())
	}
}

func TestDisableClearsAndBlocksWrites(t *testing.T) {
	c := New(time.Minute)
	c.Set("a", 1)
	c.Disable()
	if c.Len() != 0 {
		t.Fatalf("disable must clear stored entries")
	}
	c.Set("b", 2)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("disabled cache must not store")
	}
	c.Enable()
	c.Set("b", 2)
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("re-enabled cache must store again")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewWithClock(30*time.Second, func() time.Time { return now })
	c.Set("old", 1)

	now = now.Add(20 * time.Second)
	c.Set("fresh", 2)

	now = now.Add(15 * time.Second)
	removed := c.Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("fresh entry must survive sweep")
	}
}

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	data, err := c.Get(ctx, "missing")
	if err != nil || data != nil {
		t.Fatalf("miss should be nil, nil; got %v, %v", data, err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err = c.Get(ctx, "k")
	if err != nil || string(data) != "v" {
		t.Fatalf("get after set: %q, %v", data, err)
	}

	if err := c.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = c.Get(ctx, "k")
	if string(data) != "v2" {
		t.Errorf("overwrite not visible: %q", data)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if data, _ := c.Get(ctx, "k"); data != nil {
		t.Error("deleted key still present")
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if data, _ := c.Get(ctx, "short"); data != nil {
		t.Error("expired entry still served")
	}
	if data, _ := c.Get(ctx, "forever"); data == nil {
		t.Error("zero TTL should mean no expiry")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	// Touch k0 so k1 becomes the eviction victim.
	c.Get(ctx, "k0")
	c.Set(ctx, "k3", []byte("v"), 0)

	if data, _ := c.Get(ctx, "k1"); data != nil {
		t.Error("least recently used entry survived eviction")
	}
	for _, key := range []string{"k0", "k2", "k3"} {
		if data, _ := c.Get(ctx, key); data == nil {
			t.Errorf("entry %s evicted unexpectedly", key)
		}
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("stats: size=%d capacity=%d", size, capacity)
	}
}

func TestLRUDecisionRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	d, err := c.GetDecision(ctx, 1, "hash")
	if err != nil || d != nil {
		t.Fatalf("miss should be nil, nil; got %v, %v", d, err)
	}

	in := &domain.Decision{
		Outcome:         domain.OutcomeMatched,
		RuleID:          "pay-1",
		Intent:          "pay_bill",
		Slots:           map[string]string{"doc": "boleto"},
		Specificity:     9,
		SnapshotVersion: 4,
	}
	if err := c.SetDecision(ctx, 4, "hash", in, time.Minute); err != nil {
		t.Fatalf("set decision: %v", err)
	}

	out, err := c.GetDecision(ctx, 4, "hash")
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if out == nil || out.RuleID != "pay-1" || out.Slots["doc"] != "boleto" {
		t.Errorf("round trip lost data: %+v", out)
	}

	// Same hash under a different snapshot version is a distinct key.
	if d, _ := c.GetDecision(ctx, 5, "hash"); d != nil {
		t.Error("decision leaked across snapshot versions")
	}
}

func TestLRUCounters(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if n, _ := c.GetCounter(ctx, "hits"); n != 0 {
		t.Fatalf("fresh counter should read 0, got %d", n)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrementCounter(ctx, "hits", time.Minute)
		if err != nil || n != want {
			t.Fatalf("increment %d: got %d, %v", want, n, err)
		}
	}
	if n, _ := c.GetCounter(ctx, "hits"); n != 3 {
		t.Errorf("counter read %d, want 3", n)
	}
}

func TestLRUCounterWindowReset(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.IncrementCounter(ctx, "w", 10*time.Millisecond)
	c.IncrementCounter(ctx, "w", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if n, _ := c.GetCounter(ctx, "w"); n != 0 {
		t.Errorf("expired counter should read 0, got %d", n)
	}
	if n, _ := c.IncrementCounter(ctx, "w", time.Minute); n != 1 {
		t.Errorf("window should restart at 1, got %d", n)
	}
}

func TestLRUClose(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	c.IncrementCounter(ctx, "n", time.Minute)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if data, _ := c.Get(ctx, "k"); data != nil {
		t.Error("entries survived close")
	}
	if n, _ := c.GetCounter(ctx, "n"); n != 0 {
		t.Error("counters survived close")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}

	// Empty type defaults to the in-process cache.
	if c, err = New(domain.CacheConfig{}); err != nil {
		t.Fatalf("default cache: %v", err)
	}
	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache for empty type, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unknown cache type")
	}
}

package cache

import (
	"testing"
	"time"

	"fleetwatch/internal/domain"
)

func TestRuleCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewRuleCache(time.Minute)
	if _, ok := c.Get(); ok {
		t.Fatalf("expected cold cache miss")
	}

	rules := []domain.Rule{{ID: "r1", SourceType: domain.SourceOverspeed, Enabled: true, Priority: 10}}
	c.Set(rules)
	cached, ok := c.Get()
	if !ok || len(cached) != 1 || cached[0].ID != "r1" {
		t.Fatalf("expected warm hit, got %+v %v", cached, ok)
	}

	c.Invalidate()
	if _, ok := c.Get(); ok {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestRuleCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	c := NewRuleCache(20 * time.Millisecond)
	c.Set([]domain.Rule{{ID: "r1"}})
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestViewCacheInvalidateByPrefix(t *testing.T) {
	t.Parallel()

	c := NewViewCache(time.Minute)
	c.Set(PrefixDashboard+"summary", 42)
	c.Set(PrefixDashboard+"by-driver/D1", 7)
	c.Set(PrefixAlertList+"page/1", "alerts")

	dropped := c.InvalidateByPrefix(PrefixDashboard)
	if dropped != 2 {
		t.Fatalf("expected 2 dashboard entries dropped, got %d", dropped)
	}
	if _, ok := c.Get(PrefixDashboard + "summary"); ok {
		t.Fatalf("expected dashboard entry dropped")
	}
	if _, ok := c.Get(PrefixAlertList + "page/1"); !ok {
		t.Fatalf("expected alert-list entry untouched")
	}
}

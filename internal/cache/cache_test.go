package cache_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/internal/cache"
)

func TestGetFreshVsStale(t *testing.T) {
	clock := time.Unix(0, 0)
	c := cache.New(func() time.Time { return clock })

	c.Set("account_info", 42, 30*time.Second)

	v, fresh, stale := c.Get("account_info")
	if !fresh || stale || v.(int) != 42 {
		t.Fatalf("expected fresh hit, got fresh=%v stale=%v v=%v", fresh, stale, v)
	}

	clock = clock.Add(31 * time.Second)
	v, fresh, stale = c.Get("account_info")
	if fresh || !stale || v.(int) != 42 {
		t.Fatalf("expected stale hit after TTL, got fresh=%v stale=%v v=%v", fresh, stale, v)
	}
}

func TestBlackoutBlocksUntilInstant(t *testing.T) {
	clock := time.Unix(0, 0)
	c := cache.New(func() time.Time { return clock })

	c.Blackout("prices", clock.Add(10*time.Second))
	if !c.Blocked("prices") {
		t.Fatalf("expected class to be blocked")
	}

	clock = clock.Add(11 * time.Second)
	if c.Blocked("prices") {
		t.Fatalf("expected class to be unblocked after blackout expires")
	}
}

func TestSetLimitGatesAllow(t *testing.T) {
	clock := time.Unix(0, 0)
	c := cache.New(func() time.Time { return clock })
	c.SetLimit("orders", 1, 1)

	if !c.Allow("orders") {
		t.Fatalf("expected first call to be allowed (burst=1)")
	}
	if c.Allow("orders") {
		t.Fatalf("expected second immediate call to be denied")
	}
}

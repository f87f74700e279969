package resolver_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func TestResolveDirectHit(t *testing.T) {
	r := resolver.New(nil)
	r.IndexSymbols([]string{"EUR_USD", "US30"})

	native, ok := r.Resolve("EUR_USD")
	if !ok || native != "EUR_USD" {
		t.Fatalf("expected direct hit, got %q ok=%v", native, ok)
	}
}

func TestResolveSuffixVariant(t *testing.T) {
	r := resolver.New(nil)
	r.IndexSymbols([]string{"EURUSD.raw"})

	native, ok := r.Resolve("EUR_USD")
	if !ok || native != "EURUSD.raw" {
		t.Fatalf("expected suffix-variant resolution, got %q ok=%v", native, ok)
	}
}

func TestResolveMemoizes(t *testing.T) {
	r := resolver.New(nil)
	r.IndexSymbols([]string{"EURUSDm"})

	first, ok := r.Resolve("EUR_USD")
	if !ok {
		t.Fatalf("expected resolution")
	}
	// A second call returns the memoized resolution.
	second, ok := r.Resolve("EUR_USD")
	if !ok || second != first {
		t.Fatalf("expected memoized resolution %q, got %q", first, second)
	}
}

func TestNegativeCacheExpires(t *testing.T) {
	clock := time.Unix(0, 0)
	r := resolver.New(func() time.Time { return clock })

	r.MarkNegative("XYZ_ABC", types.DirectionLong)
	if !r.IsNegativelyCached("XYZ_ABC", types.DirectionLong) {
		t.Fatalf("expected negative cache hit immediately after marking")
	}

	clock = clock.Add(11 * time.Minute)
	if r.IsNegativelyCached("XYZ_ABC", types.DirectionLong) {
		t.Fatalf("expected negative cache to expire after 10 minutes")
	}
}

func TestSpecCacheTTL(t *testing.T) {
	clock := time.Unix(0, 0)
	r := resolver.New(func() time.Time { return clock })

	r.CacheSpec("EUR_USD", types.InstrumentSpec{Symbol: "EUR_USD"})
	if _, fresh := r.SpecFor("EUR_USD"); !fresh {
		t.Fatalf("expected fresh spec immediately after caching")
	}

	clock = clock.Add(6 * time.Minute)
	if _, fresh := r.SpecFor("EUR_USD"); fresh {
		t.Fatalf("expected spec to go stale after 5 minutes")
	}
}

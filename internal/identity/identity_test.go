package identity_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
)

func TestCanonicalizeIsIdempotent(t *testing.T) {
	inputs := []string{"EUR/USD", "EURUSD", "eur_usd", " EUR-USD ", "US30", "XAU_USD"}
	for _, in := range inputs {
		c := identity.Canonicalize(in)
		if c2 := identity.Canonicalize(c); c2 != c {
			t.Fatalf("canonicalize not idempotent: %q -> %q -> %q", in, c, c2)
		}
	}
}

func TestCanonicalizeFXForms(t *testing.T) {
	cases := map[string]string{
		"EUR/USD": "EUR_USD",
		"EURUSD":  "EUR_USD",
		"eur_usd": "EUR_USD",
	}
	for in, want := range cases {
		if got := identity.Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPipSizeAndDecimals(t *testing.T) {
	if !identity.PipSize("USD_JPY").Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected JPY pip size 0.01")
	}
	if identity.Decimals("USD_JPY") != 3 {
		t.Errorf("expected JPY decimals 3")
	}
	if !identity.PipSize("EUR_USD").Equal(decimal.NewFromFloat(0.0001)) {
		t.Errorf("expected EUR_USD pip size 0.0001")
	}
	if identity.Decimals("EUR_USD") != 5 {
		t.Errorf("expected EUR_USD decimals 5")
	}
	if !identity.PipSize("US30").Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected index pip size 1.0")
	}
}

func TestGuardRejectsCrossedBookWithoutMutatingCache(t *testing.T) {
	g := identity.NewGuard(func() time.Time { return time.Unix(0, 0) })

	ok := g.Check("EUR_USD", decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.1002))
	if ok != identity.RejectNone {
		t.Fatalf("expected first tick accepted, got %v", ok)
	}

	reason := g.Check("EUR_USD", decimal.NewFromFloat(1.2000), decimal.NewFromFloat(1.1900))
	if reason != identity.RejectCrossedBook {
		t.Fatalf("expected crossed book rejection, got %v", reason)
	}

	// A subsequent plausible tick near the ORIGINAL last-valid mid must still be accepted,
	// proving the crossed-book rejection above never overwrote the cache (§8 invariant 8).
	reason2 := g.Check("EUR_USD", decimal.NewFromFloat(1.1001), decimal.NewFromFloat(1.1003))
	if reason2 != identity.RejectNone {
		t.Fatalf("expected plausible tick after rejection to be accepted, got %v", reason2)
	}
}

func TestGuardRejectsOutOfBoundsFX(t *testing.T) {
	g := identity.NewGuard(nil)
	reason := g.Check("EUR_USD", decimal.NewFromFloat(35.0), decimal.NewFromFloat(35.1))
	if reason != identity.RejectOutOfBounds {
		t.Fatalf("expected out-of-bounds rejection, got %v", reason)
	}
}

func TestGuardRejectsMidJumpWithinWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	g := identity.NewGuard(func() time.Time { return clock })

	if reason := g.Check("EUR_USD", decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.1002)); reason != identity.RejectNone {
		t.Fatalf("expected first tick accepted, got %v", reason)
	}

	clock = clock.Add(10 * time.Minute)
	reason := g.Check("EUR_USD", decimal.NewFromFloat(3.5000), decimal.NewFromFloat(3.5010))
	if reason != identity.RejectMidJump {
		t.Fatalf("expected mid-jump rejection, got %v", reason)
	}
}

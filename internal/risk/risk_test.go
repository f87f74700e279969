package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/risk"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// S1 — LONG EUR_USD happy path from spec §8.
func TestClampRiskRewardScenarioS1(t *testing.T) {
	entry := dec("1.08000")
	sl := dec("1.07800")
	tp := dec("1.08600")
	minRR := dec("1.5")
	maxRR := dec("2.2")

	clamped := risk.ClampRiskReward(types.DirectionLong, entry, sl, tp, minRR, maxRR)
	want := dec("1.08440")
	if !clamped.Equal(want) {
		t.Fatalf("expected clamped TP %s, got %s", want, clamped)
	}
}

func TestSizePositionScenarioS1(t *testing.T) {
	riskAmount := dec("100")    // 10000 * 1%
	slDistance := dec("0.0020") // 20 pips
	pipSize := dec("0.0001")
	pipValue := dec("10")
	lot, _ := risk.SizePosition(riskAmount, slDistance, pipSize, pipValue, dec("0.01"), dec("0.01"))
	if !lot.Equal(dec("0.50")) {
		t.Fatalf("expected lot 0.50, got %s", lot)
	}
}

func TestHardCapsMarginSqueeze(t *testing.T) {
	// S3: margin_available=50, margin_per_lot=200 -> 0.225, clamp to that (> min 0.01)
	capped, ok, _ := risk.HardCaps(dec("5"), dec("50"), dec("200"), dec("0.01"))
	if !ok {
		t.Fatalf("expected ok=true")
	}
	want := dec("0.225")
	if !capped.Equal(want) {
		t.Fatalf("expected capped lot %s, got %s", want, capped)
	}
}

func TestHardCapsRejectsInsufficientMargin(t *testing.T) {
	_, ok, reason := risk.HardCaps(dec("5"), dec("1"), dec("200"), dec("0.01"))
	if ok {
		t.Fatalf("expected rejection for tiny margin")
	}
	if reason != "margine insufficiente" {
		t.Fatalf("expected reason 'margine insufficiente', got %q", reason)
	}
}

func TestFixGeometryClipsOversizedStop(t *testing.T) {
	entry := dec("1.10000")
	// SL distance = 0.01 which is ~0.9% of price -> exceeds 0.5% ceiling, must clip.
	sl := dec("1.09000")
	tp := dec("1.11000")
	newSL, newTP, adjusted := risk.FixGeometry(types.DirectionLong, entry, sl, tp, dec("1.5"))
	if !adjusted {
		t.Fatalf("expected geometry adjustment")
	}
	maxDist := entry.Mul(dec("0.005"))
	wantSL := entry.Sub(maxDist)
	if !newSL.Equal(wantSL) {
		t.Fatalf("expected clipped SL %s, got %s", wantSL, newSL)
	}
	if !newTP.Equal(tp) {
		t.Fatalf("expected TP unchanged on clip-only path, got %s", newTP)
	}
}

func TestFixGeometryFlipsInvertedStops(t *testing.T) {
	entry := dec("1.10000")
	sl := dec("1.10500") // inverted for LONG
	tp := dec("1.10800")
	newSL, newTP, adjusted := risk.FixGeometry(types.DirectionLong, entry, sl, tp, dec("1.5"))
	if !adjusted {
		t.Fatalf("expected adjustment for inverted stops")
	}
	if !newSL.LessThan(entry) {
		t.Fatalf("expected flipped SL below entry for LONG, got %s", newSL)
	}
	if !newTP.GreaterThan(entry) {
		t.Fatalf("expected flipped TP above entry for LONG, got %s", newTP)
	}
}

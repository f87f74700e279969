// Package risk implements the position-size math, SL/TP geometry enforcement, and margin
// headroom checks of the Risk Evaluator (C6, §4.6 stages 4-9).
//
// Grounded on the teacher's internal/execution/risk_manager.go (RiskConfig, CheckOrder,
// sequential-violation-accumulation shape, suggestAdjustments) — the sequential-checks shape is
// kept; the crypto position/exposure model is replaced with the spec's FX/CFD pip/lot/margin
// model.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/utils"
)

// MaxLot is the hard lot-size ceiling regardless of balance/margin (§4.6 stage 9).
var MaxLot = decimal.NewFromInt(5)

// MinLot is the smallest tradeable lot size when the broker spec doesn't say otherwise.
var MinLot = decimal.NewFromFloat(0.01)

// maxGeometryPercent is the uniform 0.5% of price hard ceiling/default for SL distance (§4.6
// stage 4).
var maxGeometryPercent = decimal.NewFromFloat(0.005)

// conservativePipValues are per-class fallback pip-value-per-standard-lot defaults used only
// when the broker spec lacks tick_value (§4.6 stage 8, §9 open question on telemetry).
var conservativePipValues = map[string]decimal.Decimal{
	"XAU":    decimal.NewFromInt(10),
	"XAG":    decimal.NewFromInt(50),
	"US30":   decimal.NewFromInt(5),
	"NAS100": decimal.NewFromInt(10),
	"US500":  decimal.NewFromInt(10),
	"DE40":   decimal.NewFromInt(25),
}

// FixGeometry validates SL/TP are on the correct side of entry for direction; if inverted it
// flips to a default 0.5%-of-price distance and recomputes TP at minRR. If the SL distance
// exceeds 0.5% of price it is clipped to that ceiling — never loosened beyond it (§4.6 stage 4).
func FixGeometry(direction types.Direction, entry, sl, tp, minRR decimal.Decimal) (newSL, newTP decimal.Decimal, adjusted bool) {
	maxDistance := entry.Mul(maxGeometryPercent)

	inverted := false
	if direction == types.DirectionLong {
		inverted = sl.GreaterThanOrEqual(entry) || tp.LessThanOrEqual(entry)
	} else {
		inverted = sl.LessThanOrEqual(entry) || tp.GreaterThanOrEqual(entry)
	}

	if inverted {
		if direction == types.DirectionLong {
			newSL = entry.Sub(maxDistance)
			newTP = entry.Add(maxDistance.Mul(minRR))
		} else {
			newSL = entry.Add(maxDistance)
			newTP = entry.Sub(maxDistance.Mul(minRR))
		}
		return newSL, newTP, true
	}

	slDistance := entry.Sub(sl).Abs()
	if slDistance.GreaterThan(maxDistance) {
		if direction == types.DirectionLong {
			newSL = entry.Sub(maxDistance)
		} else {
			newSL = entry.Add(maxDistance)
		}
		return newSL, tp, true
	}

	return sl, tp, false
}

// ClampRiskReward enforces minRR ≤ R:R ≤ maxRR, moving TP to the bracket edge when outside
// (§4.6 stage 5).
func ClampRiskReward(direction types.Direction, entry, sl, tp, minRR, maxRR decimal.Decimal) decimal.Decimal {
	risk := entry.Sub(sl).Abs()
	if risk.IsZero() {
		return tp
	}
	reward := tp.Sub(entry).Abs()
	rr := reward.Div(risk)

	clampedRR := utils.ClampDecimal(rr, minRR, maxRR)
	if clampedRR.Equal(rr) {
		return tp
	}

	distance := risk.Mul(clampedRR)
	if direction == types.DirectionLong {
		return entry.Add(distance)
	}
	return entry.Sub(distance)
}

// MinDistance computes max(stops_level, freeze_level, 1.5*spread, 10*point) * retryMultiplier
// (§4.6 stage 7).
func MinDistance(stopsLevel, freezeLevel, spread, point, retryMultiplier decimal.Decimal) decimal.Decimal {
	d := utils.MaxDecimal(stopsLevel, freezeLevel)
	d = utils.MaxDecimal(d, spread.Mul(decimal.NewFromFloat(1.5)))
	d = utils.MaxDecimal(d, point.Mul(decimal.NewFromInt(10)))
	return d.Mul(retryMultiplier)
}

// EnforceBrokerMinimum pushes SL/TP out past minDistance from the reference side price if
// violated, by point past the reference price (§4.6 stage 7).
func EnforceBrokerMinimum(direction types.Direction, refBid, refAsk, sl, tp, minDistance, point decimal.Decimal) (newSL, newTP decimal.Decimal, adjusted bool) {
	newSL, newTP = sl, tp
	if direction == types.DirectionLong {
		if refBid.Sub(sl).LessThan(minDistance) {
			newSL = refBid.Sub(minDistance).Sub(point)
			adjusted = true
		}
		if tp.Sub(refAsk).LessThan(minDistance) {
			newTP = refAsk.Add(minDistance).Add(point)
			adjusted = true
		}
	} else {
		if sl.Sub(refAsk).LessThan(minDistance) {
			newSL = refAsk.Add(minDistance).Add(point)
			adjusted = true
		}
		if refBid.Sub(tp).LessThan(minDistance) {
			newTP = refBid.Sub(minDistance).Sub(point)
			adjusted = true
		}
	}
	return newSL, newTP, adjusted
}

// PipValuePerLot derives the pip value per one standard lot from the spec when available
// (tick_value * pip_size / tick_size), otherwise falls back to a conservative per-class
// default. usedFallback is true when the conservative path was taken, so callers can count it
// for telemetry (§9 open question decision).
func PipValuePerLot(symbolClass string, spec types.InstrumentSpec, pipSize decimal.Decimal) (value decimal.Decimal, usedFallback bool) {
	if !spec.TickValue.IsZero() && !spec.TickSize.IsZero() {
		return spec.TickValue.Mul(pipSize).Div(spec.TickSize), false
	}
	if v, ok := conservativePipValues[symbolClass]; ok {
		return v, true
	}
	return decimal.NewFromInt(10), true // FX-USD-quote conservative default
}

// SizePosition computes lot_size = round_to_step(risk_amount / (sl_pips * pip_value_per_lot)).
// If the computed lot is below minLot, SL is tightened to risk_amount / (minLot * pip_value)
// pips and newSLDistance is returned non-zero so the caller can recompute TP — the risk is
// never inflated to reach the minimum lot (§4.6 stage 8).
func SizePosition(riskAmount, slDistance, pipSize, pipValuePerLot, volumeStep, minLot decimal.Decimal) (lot decimal.Decimal, newSLDistance decimal.Decimal) {
	slPips := slDistance.Div(pipSize)
	if slPips.IsZero() || pipValuePerLot.IsZero() {
		return minLot, slDistance
	}
	rawLot := riskAmount.Div(slPips.Mul(pipValuePerLot))
	lot = utils.RoundToStepSize(rawLot, volumeStep, minLot)

	if rawLot.LessThan(minLot) {
		tightPips := riskAmount.Div(minLot.Mul(pipValuePerLot))
		return minLot, tightPips.Mul(pipSize)
	}
	return lot, slDistance
}

// HardCaps clamps lot to MaxLot and to the margin-based cap, returning ok=false with a reason
// if the margin cap is below minLot ("margine insufficiente") (§4.6 stage 9).
func HardCaps(lot, marginAvailable, marginPerLot, minLot decimal.Decimal) (capped decimal.Decimal, ok bool, reason string) {
	capped = utils.MinDecimal(lot, MaxLot)

	if marginPerLot.IsZero() {
		return capped, true, ""
	}
	marginCap := marginAvailable.Mul(decimal.NewFromFloat(0.90)).Div(marginPerLot)
	if marginCap.LessThan(minLot) {
		return decimal.Zero, false, "margine insufficiente"
	}
	capped = utils.MinDecimal(capped, marginCap)
	return capped, true, ""
}

// MarginPerLot derives margin required per lot from spec fields when present, else from
// contract_size * price / leverage, else a per-class conservative default.
func MarginPerLot(spec types.InstrumentSpec, price, leverage decimal.Decimal) decimal.Decimal {
	if !spec.ContractSize.IsZero() && !leverage.IsZero() {
		return spec.ContractSize.Mul(price).Div(leverage)
	}
	if !leverage.IsZero() {
		return price.Mul(decimal.NewFromInt(100000)).Div(leverage) // conservative standard-lot contract size
	}
	return price.Mul(decimal.NewFromInt(1000)) // leverage unknown: very conservative
}

// SymbolClassFor exposes identity classification keyed the way conservativePipValues indexes.
func SymbolClassFor(canonical string) string {
	switch {
	case len(canonical) >= 3 && canonical[:3] == "XAU":
		return "XAU"
	case len(canonical) >= 3 && canonical[:3] == "XAG":
		return "XAG"
	case canonical == "US30", canonical == "NAS100", canonical == "US500", canonical == "DE40":
		return canonical
	case identity.IsFX(canonical):
		return "FX"
	default:
		return "OTHER"
	}
}

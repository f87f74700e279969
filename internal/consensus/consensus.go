// Package consensus aggregates N independent AI opinions into one directional decision with
// aggregated trade parameters (C7, §4.9).
//
// Grounded on the teacher's internal/signals/aggregator.go (AggregatedSignal, weighted-source
// aggregation, DefaultAggregatorConfig), generalized from weighted-source signal blending to
// the spec's majority-vote + mean-of-agreeing-opinions model.
package consensus

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Aggregate combines opinions for one symbol into a Consensus per §4.9. decimals controls the
// rounding precision applied to aggregated numeric fields (the symbol's canonical decimals).
func Aggregate(symbol string, opinions []types.Opinion, decimals int32) types.Consensus {
	valid := make([]types.Opinion, 0, len(opinions))
	for _, o := range opinions {
		if o.HasError() || o.Direction == types.DirectionHold {
			continue
		}
		valid = append(valid, o)
	}

	out := types.Consensus{Symbol: symbol, Direction: types.DirectionHold, TotalValid: len(valid)}
	if len(valid) == 0 {
		return out
	}

	longs, shorts := split(valid)
	winner, agreeing := pickWinner(longs, shorts)
	if len(agreeing) == 0 {
		return out
	}

	out.Direction = winner
	out.ModelsAgreed = len(agreeing)
	out.MeanConfidence = meanOf(agreeing, func(o types.Opinion) decimal.Decimal { return o.Confidence }).Round(2)
	out.Entry = meanNonZero(agreeing, func(o types.Opinion) decimal.Decimal { return o.Entry }, decimals)
	out.StopLoss = meanNonZero(agreeing, func(o types.Opinion) decimal.Decimal { return o.StopLoss }, decimals)
	out.TakeProfit = meanNonZero(agreeing, func(o types.Opinion) decimal.Decimal { return o.TakeProfit }, decimals)
	out.BreakEvenTrigger = meanNonZero(agreeing, func(o types.Opinion) decimal.Decimal { return o.BreakEvenTrigger }, decimals)
	out.TrailingStopPips = meanNonZero(agreeing, func(o types.Opinion) decimal.Decimal { return o.TrailingStopPips }, 1)

	out.IsStrongSignal = out.ModelsAgreed >= 4 && out.MeanConfidence.GreaterThanOrEqual(decimal.NewFromInt(70))

	alignment, aligned := timeframeAlignment(valid, winner)
	out.TimeframeAlignment = alignment
	out.IsAligned = aligned

	return out
}

func split(valid []types.Opinion) (longs, shorts []types.Opinion) {
	for _, o := range valid {
		if o.Direction == types.DirectionLong {
			longs = append(longs, o)
		} else if o.Direction == types.DirectionShort {
			shorts = append(shorts, o)
		}
	}
	return longs, shorts
}

// pickWinner returns the majority direction and its agreeing set; ties are broken by mean
// confidence (§4.9).
func pickWinner(longs, shorts []types.Opinion) (types.Direction, []types.Opinion) {
	if len(longs) == 0 && len(shorts) == 0 {
		return types.DirectionHold, nil
	}
	if len(longs) > len(shorts) {
		return types.DirectionLong, longs
	}
	if len(shorts) > len(longs) {
		return types.DirectionShort, shorts
	}
	// Tie: compare mean confidence.
	longConf := meanOf(longs, func(o types.Opinion) decimal.Decimal { return o.Confidence })
	shortConf := meanOf(shorts, func(o types.Opinion) decimal.Decimal { return o.Confidence })
	if longConf.GreaterThanOrEqual(shortConf) {
		return types.DirectionLong, longs
	}
	return types.DirectionShort, shorts
}

func meanOf(opinions []types.Opinion, field func(types.Opinion) decimal.Decimal) decimal.Decimal {
	if len(opinions) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, o := range opinions {
		sum = sum.Add(field(o))
	}
	return sum.Div(decimal.NewFromInt(int64(len(opinions))))
}

// meanNonZero averages field over only the opinions that supplied a non-null (non-zero) value,
// rounding to decimals (§3 "arithmetic mean over agreeing models with non-null values").
func meanNonZero(opinions []types.Opinion, field func(types.Opinion) decimal.Decimal, decimals int32) decimal.Decimal {
	sum := decimal.Zero
	count := 0
	for _, o := range opinions {
		v := field(o)
		if v.IsZero() {
			continue
		}
		sum = sum.Add(v)
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count))).Round(decimals)
}

// timeframeAlignment computes the per-timeframe consensus alignment percentage when multiple
// timeframes were analyzed (§4.9). Returns (100, true) when only one timeframe (or none) is
// present, since there is nothing to disagree with.
func timeframeAlignment(valid []types.Opinion, overall types.Direction) (decimal.Decimal, bool) {
	byTF := make(map[types.Timeframe][]types.Opinion)
	for _, o := range valid {
		byTF[o.Timeframe] = append(byTF[o.Timeframe], o)
	}
	if len(byTF) <= 1 {
		return decimal.NewFromInt(100), true
	}

	nonHold := 0
	agreeing := 0
	for _, opinions := range byTF {
		longs, shorts := split(opinions)
		winner, _ := pickWinner(longs, shorts)
		if winner == types.DirectionHold {
			continue
		}
		nonHold++
		if winner == overall {
			agreeing++
		}
	}
	if nonHold == 0 {
		return decimal.Zero, false
	}
	alignment := decimal.NewFromInt(int64(agreeing)).Div(decimal.NewFromInt(int64(nonHold))).Mul(decimal.NewFromInt(100))
	return alignment, alignment.GreaterThanOrEqual(decimal.NewFromInt(80))
}

// ShouldEnter evaluates the §4.9 entry criteria against a built Consensus and bot config
// thresholds. Returns false with a reason string when any criterion fails.
func ShouldEnter(c types.Consensus, minConfidence decimal.Decimal, minModelsAgree int) (bool, string) {
	if c.Direction == types.DirectionHold {
		return false, "direction_hold"
	}
	if c.MeanConfidence.LessThan(minConfidence) {
		return false, "confidence_below_threshold"
	}
	required := minModelsAgree
	if c.TotalValid < required {
		required = c.TotalValid
	}
	if c.ModelsAgreed < required {
		return false, "insufficient_model_agreement"
	}
	if c.StopLoss.IsZero() || c.TakeProfit.IsZero() {
		return false, "missing_sl_or_tp"
	}
	if !c.IsAligned {
		return false, "timeframe_not_aligned"
	}
	return true, ""
}

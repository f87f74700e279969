package consensus_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/consensus"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

func op(dir types.Direction, conf float64, entry, sl, tp float64) types.Opinion {
	return types.Opinion{
		Direction:  dir,
		Confidence: decimal.NewFromFloat(conf),
		Entry:      decimal.NewFromFloat(entry),
		StopLoss:   decimal.NewFromFloat(sl),
		TakeProfit: decimal.NewFromFloat(tp),
		Timeframe:  types.Timeframe1h,
	}
}

func TestAggregateMajorityWins(t *testing.T) {
	opinions := []types.Opinion{
		op(types.DirectionLong, 80, 1.08, 1.078, 1.086),
		op(types.DirectionLong, 76, 1.08, 1.0781, 1.0861),
		op(types.DirectionLong, 78, 1.08, 1.0779, 1.0859),
		op(types.DirectionLong, 74, 1.08, 1.078, 1.086),
		op(types.DirectionShort, 60, 1.08, 1.082, 1.074),
		op(types.DirectionHold, 0, 0, 0, 0),
	}
	c := consensus.Aggregate("EUR_USD", opinions, 5)
	if c.Direction != types.DirectionLong {
		t.Fatalf("expected LONG winner, got %v", c.Direction)
	}
	if c.ModelsAgreed != 4 {
		t.Fatalf("expected 4 agreeing models, got %d", c.ModelsAgreed)
	}
	if !c.IsStrongSignal {
		t.Fatalf("expected strong signal with 4 agreeing and high confidence")
	}
}

func TestAggregateErroredOpinionsExcluded(t *testing.T) {
	opinions := []types.Opinion{
		{Direction: types.DirectionHold, Error: "timeout"},
		op(types.DirectionLong, 90, 1.08, 1.078, 1.086),
	}
	c := consensus.Aggregate("EUR_USD", opinions, 5)
	if c.TotalValid != 1 {
		t.Fatalf("expected 1 valid opinion (errored excluded), got %d", c.TotalValid)
	}
	if c.Direction != types.DirectionLong {
		t.Fatalf("expected LONG, got %v", c.Direction)
	}
}

func TestShouldEnterRequiresSLAndTP(t *testing.T) {
	c := types.Consensus{
		Direction:      types.DirectionLong,
		MeanConfidence: decimal.NewFromInt(80),
		ModelsAgreed:   4,
		TotalValid:     4,
		IsAligned:      true,
	}
	ok, reason := consensus.ShouldEnter(c, decimal.NewFromInt(70), 2)
	if ok {
		t.Fatalf("expected rejection for missing SL/TP")
	}
	if reason != "missing_sl_or_tp" {
		t.Fatalf("expected missing_sl_or_tp reason, got %q", reason)
	}
}

func TestShouldEnterSingleModelAllowedWhenMinModelsAgreeIsOne(t *testing.T) {
	c := types.Consensus{
		Direction:      types.DirectionLong,
		MeanConfidence: decimal.NewFromInt(60),
		ModelsAgreed:   1,
		TotalValid:     1,
		StopLoss:       decimal.NewFromFloat(1.07),
		TakeProfit:     decimal.NewFromFloat(1.09),
		IsAligned:      true,
	}
	ok, _ := consensus.ShouldEnter(c, decimal.NewFromInt(50), 1)
	if !ok {
		t.Fatalf("expected trade allowed with 1 model when min_models_agree=1")
	}
	if c.IsStrongSignal {
		t.Fatalf("strong signal should never be true with only 1 model")
	}
}

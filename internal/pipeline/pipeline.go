// Package pipeline runs the eleven-stage order submission pipeline (C11, §4.6): exposure and
// tradability gates, tick plausibility, geometry and risk-reward fixups, broker-minimum
// enforcement, position sizing, hard caps, adaptive-retry submission, and the post-fill
// protection check.
//
// Grounded on the teacher's internal/execution/executor.go (Execute retry-loop shape) and
// order_manager.go (fill tracking), generalized from the crypto exchange-adapter submission
// flow to the spec's FX/CFD multi-stage pipeline. Wires internal/risk, internal/resolver,
// internal/broker, internal/identity, and internal/metrics.
package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
	"github.com/atlas-desktop/fleet-orchestrator/internal/metrics"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/internal/risk"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/utils"
)

const maxSubmitAttempts = 6

// Pipeline carries the collaborators shared by every submission for one bot.
type Pipeline struct {
	resolver *resolver.Resolver
	guard    *identity.Guard
	metrics  *metrics.Set
	log      *zap.Logger
	now      func() time.Time
}

// New builds a Pipeline. log may be nil (defaults to a no-op logger); nowFn nil uses time.Now.
func New(r *resolver.Resolver, g *identity.Guard, m *metrics.Set, log *zap.Logger, nowFn func() time.Time) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Pipeline{resolver: r, guard: g, metrics: m, log: log.Named("pipeline"), now: nowFn}
}

func (p *Pipeline) stage(stage, outcome string) {
	if p.metrics != nil {
		p.metrics.PipelineStageTotal.WithLabelValues(stage, outcome).Inc()
	}
}

// ExposureState summarizes the counts stage 1 needs.
type ExposureState struct {
	EffectiveOpen  int
	ExposedSymbols map[string]bool
}

// Submit runs the full pipeline for one candidate trade and returns the opened TradeRecord, or
// an *types.OrderError describing why it was rejected or failed.
func (p *Pipeline) Submit(ctx context.Context, accountID string, adapter broker.Adapter, canonical string, direction types.Direction, cons types.Consensus, cfg types.BotConfig, account types.AccountInfo, exposure ExposureState) (*types.TradeRecord, error) {
	start := p.now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PipelineSubmitSeconds.WithLabelValues(accountID).Observe(p.now().Sub(start).Seconds())
		}
	}()

	// Stage 1: exposure gate.
	if exposure.EffectiveOpen >= cfg.MaxOpenPositions || exposure.ExposedSymbols[canonical] {
		p.stage("exposure_gate", "rejected")
		return nil, types.NewOrderError(types.ErrSymbolNotTradable, "exposure gate: max open positions reached or symbol already exposed", 0)
	}
	p.stage("exposure_gate", "accepted")

	// Stage 2: tradability gate.
	tradable, reason, brokerSymbol := adapter.CanTradeSymbol(ctx, canonical, direction)
	if !tradable {
		p.stage("tradability_gate", "rejected")
		return nil, types.NewOrderError(types.ErrSymbolNotTradable, reason, 0)
	}
	p.stage("tradability_gate", "accepted")

	// Stage 3: tick fetch + plausibility.
	tick, err := adapter.CurrentPrice(ctx, canonical)
	if err != nil {
		p.stage("tick_fetch", "rejected")
		return nil, types.NewOrderError(types.ErrTransport, err.Error(), 0)
	}
	if reject := p.guard.Check(canonical, tick.Bid, tick.Ask); reject != identity.RejectNone {
		p.stage("tick_plausibility", "rejected")
		return nil, types.NewOrderError(types.ErrPricePlausibility, string(reject), 0)
	}
	p.stage("tick_plausibility", "accepted")
	entry := tick.Mid()

	// Stage 4: geometry fix.
	sl, tp, adjusted := risk.FixGeometry(direction, entry, cons.StopLoss, cons.TakeProfit, cfg.MinRiskReward)
	p.stage("geometry_fix", outcomeOf(adjusted))

	// Stage 5: risk-reward clamp.
	tp = risk.ClampRiskReward(direction, entry, sl, tp, cfg.MinRiskReward, cfg.MaxRiskReward)
	p.stage("risk_reward_clamp", "applied")

	// Stage 6: broker spec fetch.
	spec, ok := p.resolver.SpecFor(canonical)
	if !ok {
		fetched, err := adapter.SymbolSpec(ctx, canonical)
		if err != nil {
			p.stage("spec_fetch", "rejected")
			return nil, types.NewOrderError(types.ErrTransport, err.Error(), 0)
		}
		p.resolver.CacheSpec(canonical, fetched)
		spec = fetched
	}
	p.stage("spec_fetch", "ok")

	pipSize := identity.PipSize(canonical)
	symbolClass := risk.SymbolClassFor(canonical)

	// Stage 7: broker-minimum enforcement.
	minDistance := risk.MinDistance(spec.StopsLevel, spec.FreezeLevel, tick.Spread(), spec.PointSize, decimal.NewFromInt(1))
	sl, tp, adjusted = risk.EnforceBrokerMinimum(direction, tick.Bid, tick.Ask, sl, tp, minDistance, spec.PointSize)
	p.stage("broker_minimum", outcomeOf(adjusted))

	// Stage 8: position sizing.
	riskAmount := account.Balance.Mul(cfg.RiskPerTradePercent).Div(decimal.NewFromInt(100))
	minLot := spec.MinVolume
	if minLot.IsZero() {
		minLot = risk.MinLot
	}
	pipValue, usedFallback := risk.PipValuePerLot(symbolClass, spec, pipSize)
	if usedFallback && p.metrics != nil {
		p.metrics.PipelinePipValueFallback.WithLabelValues(canonical).Inc()
	}
	slDistance := entry.Sub(sl).Abs()
	lot, newSLDistance := risk.SizePosition(riskAmount, slDistance, pipSize, pipValue, spec.VolumeStep, minLot)
	if !newSLDistance.Equal(slDistance) {
		sl, tp = retargetStops(direction, entry, sl, tp, slDistance, newSLDistance)
		slDistance = newSLDistance
	}
	p.stage("position_sizing", "sized")

	// Stage 9: hard caps.
	marginPerLot := risk.MarginPerLot(spec, entry, account.Leverage)
	lot, ok, rejectReason := risk.HardCaps(lot, account.MarginAvailable, marginPerLot, minLot)
	if !ok {
		p.stage("hard_caps", "rejected")
		return nil, types.NewOrderError(types.ErrInsufficientMargin, rejectReason, 0)
	}
	p.stage("hard_caps", "accepted")

	// Stage 10: submit with adaptive retry.
	result, submitErr := p.submitWithRetry(ctx, adapter, brokerSymbol, direction, lot, sl, tp, entry, tick, minDistance, riskAmount, pipSize, pipValue, spec, minLot, spec.PointSize)
	if submitErr != nil {
		return nil, submitErr
	}

	// Stage 11: post-fill protection check.
	p.ensureProtection(ctx, adapter, brokerSymbol, sl, tp, result)

	breakEvenTrigger, trailingStopPips := defaultSmartExitLevels(cons, entry, tp)

	trade := &types.TradeRecord{
		ID:               result.OrderID,
		Symbol:           canonical,
		Direction:        direction,
		EntryPrice:       fillPriceOr(result.FilledPrice, entry),
		InitialStopLoss:  sl,
		StopLoss:         sl,
		TakeProfit:       tp,
		Units:            lot,
		OpenedAt:         p.now(),
		Confidence:       cons.MeanConfidence,
		ModelsAgreed:     cons.ModelsAgreed,
		TotalModels:      cons.TotalValid,
		Status:           types.TradeStatusOpen,
		BreakEvenTrigger: breakEvenTrigger,
		TrailingStopPips: trailingStopPips,
		ExtremePrice:     entry,
	}
	return trade, nil
}

// defaultBreakEvenFraction and defaultTrailingStopPipsValue are the S1 fallbacks the pipeline applies
// when the oracle consensus leaves a trade's smart-exit geometry unset: break-even at the
// halfway point to target, and a 15-pip trail.
const defaultTrailingStopPipsValue = 15

var defaultBreakEvenFraction = decimal.NewFromFloat(0.5)

// defaultSmartExitLevels fills in a consensus's break-even trigger and trailing-stop distance
// when the oracle left them zero, rather than letting promoteBreakEven/trailStop silently never
// engage for that trade.
func defaultSmartExitLevels(cons types.Consensus, entry, takeProfit decimal.Decimal) (breakEven, trailingPips decimal.Decimal) {
	breakEven = cons.BreakEvenTrigger
	if breakEven.IsZero() {
		breakEven = entry.Add(takeProfit.Sub(entry).Mul(defaultBreakEvenFraction))
	}
	trailingPips = cons.TrailingStopPips
	if trailingPips.IsZero() {
		trailingPips = decimal.NewFromInt(defaultTrailingStopPipsValue)
	}
	return breakEven, trailingPips
}

func outcomeOf(adjusted bool) string {
	if adjusted {
		return "adjusted"
	}
	return "unchanged"
}

func fillPriceOr(filled, fallback decimal.Decimal) decimal.Decimal {
	if filled.IsZero() {
		return fallback
	}
	return filled
}

// retargetStops recomputes sl/tp after position sizing tightens the stop distance, preserving
// the R:R ratio established by the prior stages rather than inflating risk (§4.6 stage 8).
func retargetStops(direction types.Direction, entry, oldSL, oldTP, oldSLDistance, newSLDistance decimal.Decimal) (sl, tp decimal.Decimal) {
	tpDistance := oldTP.Sub(entry).Abs()
	ratio := decimal.NewFromInt(1)
	if oldSLDistance.IsPositive() {
		ratio = tpDistance.Div(oldSLDistance)
	}
	newTPDistance := newSLDistance.Mul(ratio)
	if direction == types.DirectionLong {
		return entry.Sub(newSLDistance), entry.Add(newTPDistance)
	}
	return entry.Add(newSLDistance), entry.Sub(newTPDistance)
}

type retryAction int

const (
	retryFailFast retryAction = iota
	retryReduceLot
	retryWidenStops
	retryAsIs
)

func classifyRetry(kind types.ErrKind) retryAction {
	switch kind {
	case types.ErrInsufficientMargin:
		return retryReduceLot
	case types.ErrInvalidStops:
		return retryWidenStops
	case types.ErrInvalidFilling, types.ErrConnectionFailed, types.ErrTransport, types.ErrUnknown:
		return retryAsIs
	default:
		return retryFailFast
	}
}

func (p *Pipeline) submitWithRetry(ctx context.Context, adapter broker.Adapter, brokerSymbol string, direction types.Direction, lot, sl, tp, entry decimal.Decimal, tick types.Tick, minDistance, riskAmount, pipSize, pipValue decimal.Decimal, spec types.InstrumentSpec, minLot, point decimal.Decimal) (types.OrderResult, error) {
	var result types.OrderResult
	retriedAsIs := false
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		req := types.OrderRequest{Symbol: brokerSymbol, Direction: direction, Volume: lot, StopLoss: sl, TakeProfit: tp}
		result = adapter.PlaceOrder(ctx, req)
		p.stage("submit", string(result.Status))
		if result.Status == types.OrderStatusFilled || result.Status == types.OrderStatusPartial {
			return result, nil
		}

		kind := types.ErrKind(result.ErrorMessage)
		switch classifyRetry(kind) {
		case retryReduceLot:
			lot = utils.MaxDecimal(lot.Mul(decimal.NewFromFloat(0.75)), minLot)
		case retryWidenStops:
			sl, tp = p.widenStops(direction, entry, sl, tp, tick, minDistance, pipSize, point, attempt+1)
			slDistance := entry.Sub(sl).Abs()
			lot, _ = risk.SizePosition(riskAmount, slDistance, pipSize, pipValue, spec.VolumeStep, minLot)
		case retryAsIs:
			// retry once without modification; the adapter may vary filling modes internally.
			if retriedAsIs {
				return result, types.NewOrderError(kind, result.Message, result.Retcode)
			}
			retriedAsIs = true
		case retryFailFast:
			return result, types.NewOrderError(kind, result.Message, result.Retcode)
		}
	}
	return result, types.NewOrderError(types.ErrUnknown, "submit exhausted retry budget: "+result.Message, result.Retcode)
}

func (p *Pipeline) widenStops(direction types.Direction, entry, sl, tp decimal.Decimal, tick types.Tick, minDistance, pipSize, point decimal.Decimal, attempt int) (decimal.Decimal, decimal.Decimal) {
	multiplier := decimal.NewFromFloat(1).Add(decimal.NewFromFloat(0.35).Mul(decimal.NewFromInt(int64(attempt))))
	widened := minDistance.Mul(multiplier)
	newSL, newTP, _ := risk.EnforceBrokerMinimum(direction, tick.Bid, tick.Ask, sl, tp, widened, point)
	if newSL.Equal(sl) && newTP.Equal(tp) {
		floorPips := pipSize.Mul(decimal.NewFromInt(12))
		perAttempt := decimal.NewFromFloat(0.0015).Add(decimal.NewFromFloat(0.0007).Mul(decimal.NewFromInt(int64(attempt))))
		floorPrice := entry.Mul(utils.MinDecimal(decimal.NewFromFloat(0.008), perAttempt))
		fallback := utils.MaxDecimal(floorPips, floorPrice)
		newSL, newTP, _ = risk.EnforceBrokerMinimum(direction, tick.Bid, tick.Ask, sl, tp, fallback, point)
	}
	return newSL, newTP
}

// ensureProtection issues a follow-up modify_position when the broker confirmed the fill but
// reported it failed to attach SL/TP, and safety-closes the position if that retry also fails
// (§4.6 stage 11).
func (p *Pipeline) ensureProtection(ctx context.Context, adapter broker.Adapter, brokerSymbol string, sl, tp decimal.Decimal, result types.OrderResult) {
	if types.ErrKind(result.ErrorMessage) != types.ErrProtectionNotSet {
		return
	}
	ok := adapter.ModifyPosition(ctx, brokerSymbol, &types.OrderRequest{StopLoss: sl}, &types.OrderRequest{TakeProfit: tp})
	if ok {
		return
	}
	p.log.Error("protection not set and modify retry failed; issuing safety close", zap.String("symbol", brokerSymbol))
	if _, err := adapter.ClosePosition(ctx, brokerSymbol, nil); err != nil {
		p.log.Error("safety close failed after protection failure", zap.String("symbol", brokerSymbol), zap.Error(err))
	}
}

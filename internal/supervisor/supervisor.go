// Package supervisor manages already-open trades: broker reconciliation, break-even promotion,
// trailing stop, and smart exit (C10, §4.7). It runs at the start of every analysis tick, before
// new-trade consideration.
//
// Grounded on the teacher's internal/execution/order_manager.go (RecordFill / position-tracking
// shape) and risk_manager.go (RecordTrade / cooldown pattern) combined; the break-even/trailing/
// smart-exit math itself is new domain logic, written as one small method per concern in the
// teacher's style. Libraries: shopspring/decimal, go.uber.org/zap.
package supervisor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// Supervisor holds the collaborators shared across reconciliation and per-trade management
// calls for one bot. It carries no trade state itself — all state lives on the TradeRecord
// pointers passed in, which the bot owns.
type Supervisor struct {
	log    *zap.Logger
	notify types.NotificationSink
	now    func() time.Time
}

// New builds a Supervisor. log and notify may be nil; nowFn nil uses time.Now.
func New(log *zap.Logger, notify types.NotificationSink, nowFn func() time.Time) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Supervisor{log: log.Named("supervisor"), notify: notify, now: nowFn}
}

func (s *Supervisor) notifyf(text string) {
	if s.notify != nil {
		s.notify.Notify(text)
	}
}

// Reconcile fetches broker positions and closes any locally-open trade whose symbol is no
// longer present there — it was closed by the broker outside the orchestrator's control (manual
// close, stop-out, expiry). Best-effort: a broker error leaves every trade in the open set
// untouched for this tick (§4.7 "all broker calls here are best-effort"). brokerOpenCount is the
// broker-reported position count, surfaced so callers can compute the effective exposure formula
// of §4.6 stage 1 (max(local_open, broker_open) + pending) rather than trusting local state alone.
func (s *Supervisor) Reconcile(ctx context.Context, adapter broker.Adapter, open []*types.TradeRecord, ticks map[string]types.Tick) (closed, remaining []*types.TradeRecord, brokerOpenCount int) {
	positions, err := adapter.Positions(ctx)
	if err != nil {
		s.log.Warn("reconciliation skipped: broker positions unavailable", zap.Error(err))
		return nil, open, len(open)
	}

	present := make(map[string]bool, len(positions))
	for _, p := range positions {
		present[p.Symbol] = true
	}

	for _, t := range open {
		if present[t.Symbol] {
			remaining = append(remaining, t)
			continue
		}
		exitPrice := t.EntryPrice
		if tick, ok := ticks[t.Symbol]; ok {
			exitPrice = tick.Mid()
		}
		t.ExitPrice = exitPrice
		t.ExitTimestamp = s.now()
		t.ProfitLoss = profitLoss(t)
		t.Status = types.TradeStatusClosedManual
		closed = append(closed, t)
		s.notifyf("trade closed outside orchestrator: " + t.Symbol)
	}
	return closed, remaining, len(positions)
}

func profitLoss(t *types.TradeRecord) decimal.Decimal {
	diff := t.ExitPrice.Sub(t.EntryPrice)
	if !t.IsLong() {
		diff = diff.Neg()
	}
	return diff.Mul(t.Units)
}

// ManageOpenTrade runs the full §4.7 per-trade pipeline against one open trade: extreme-price
// and max-favorable-RR update, break-even promotion, trailing stop, and smart exit. brokerSymbol
// is the broker-native symbol to pass to ModifyPosition/ClosePosition calls.
func (s *Supervisor) ManageOpenTrade(ctx context.Context, adapter broker.Adapter, t *types.TradeRecord, current types.Tick, pipSize decimal.Decimal, smartExit types.SmartExitConfig) {
	if t.ExtremePrice.IsZero() {
		t.ExtremePrice = t.EntryPrice
	}
	favorableMoveNow, bestFavorableMove := s.updateFavorable(t, current.Mid())

	s.promoteBreakEven(ctx, adapter, t, current.Mid())
	s.trailStop(ctx, adapter, t, current.Mid(), pipSize)
	s.smartExit(ctx, adapter, t, favorableMoveNow, bestFavorableMove, smartExit)
}

// updateFavorable updates t.ExtremePrice and t.MaxFavorableRR in place (the Open Question
// decision pins this order: extreme_price always updates strictly before max_favorable_rr is
// recomputed, in this single function, never split across call sites) and returns the current
// favorable move and the best (extreme) favorable move, both clamped to zero.
func (s *Supervisor) updateFavorable(t *types.TradeRecord, current decimal.Decimal) (favorableMoveNow, bestFavorableMove decimal.Decimal) {
	if t.IsLong() {
		if current.GreaterThan(t.ExtremePrice) {
			t.ExtremePrice = current
		}
		favorableMoveNow = maxZero(current.Sub(t.EntryPrice))
		bestFavorableMove = maxZero(t.ExtremePrice.Sub(t.EntryPrice))
	} else {
		if current.LessThan(t.ExtremePrice) {
			t.ExtremePrice = current
		}
		favorableMoveNow = maxZero(t.EntryPrice.Sub(current))
		bestFavorableMove = maxZero(t.EntryPrice.Sub(t.ExtremePrice))
	}

	initialRiskDistance := t.EntryPrice.Sub(t.InitialStopLoss).Abs()
	if initialRiskDistance.IsPositive() {
		rr := bestFavorableMove.Div(initialRiskDistance)
		if rr.GreaterThan(t.MaxFavorableRR) {
			t.MaxFavorableRR = rr
		}
	}
	return favorableMoveNow, bestFavorableMove
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// promoteBreakEven moves the stop to entry the first time price crosses break_even_trigger in
// the favorable direction.
func (s *Supervisor) promoteBreakEven(ctx context.Context, adapter broker.Adapter, t *types.TradeRecord, current decimal.Decimal) {
	if t.IsBreakEven || t.BreakEvenTrigger.IsZero() {
		return
	}
	var crossed bool
	if t.IsLong() {
		crossed = current.GreaterThanOrEqual(t.BreakEvenTrigger)
	} else {
		crossed = current.LessThanOrEqual(t.BreakEvenTrigger)
	}
	if !crossed {
		return
	}
	ok := adapter.ModifyPosition(ctx, t.Symbol, &types.OrderRequest{StopLoss: t.EntryPrice}, nil)
	if !ok {
		s.log.Warn("break-even promotion rejected by broker", zap.String("symbol", t.Symbol))
		return
	}
	t.StopLoss = t.EntryPrice
	t.IsBreakEven = true
	s.notifyf(t.Symbol + " moved to break-even")
}

// trailStop tightens the stop once the trade is break-even, applying a new candidate stop only
// when it is strictly better than the current one.
func (s *Supervisor) trailStop(ctx context.Context, adapter broker.Adapter, t *types.TradeRecord, current decimal.Decimal, pipSize decimal.Decimal) {
	if !t.IsBreakEven || t.TrailingStopPips.IsZero() {
		return
	}
	trailDistance := t.TrailingStopPips.Mul(pipSize)

	var candidate decimal.Decimal
	var better bool
	if t.IsLong() {
		candidate = current.Sub(trailDistance)
		better = candidate.GreaterThan(t.StopLoss)
	} else {
		candidate = current.Add(trailDistance)
		better = candidate.LessThan(t.StopLoss)
	}
	if !better {
		return
	}
	ok := adapter.ModifyPosition(ctx, t.Symbol, &types.OrderRequest{StopLoss: candidate}, nil)
	if !ok {
		s.log.Warn("trailing stop update rejected by broker", zap.String("symbol", t.Symbol))
		return
	}
	t.StopLoss = candidate
}

// smartExit closes a trade early once it has given back a configured fraction of its best
// favorable move, but only once break-even and a minimum R:R have already been reached (§4.7).
func (s *Supervisor) smartExit(ctx context.Context, adapter broker.Adapter, t *types.TradeRecord, favorableMoveNow, bestFavorableMove decimal.Decimal, cfg types.SmartExitConfig) {
	if !cfg.Enabled || !t.IsBreakEven || !favorableMoveNow.IsPositive() {
		return
	}
	if t.MaxFavorableRR.LessThan(cfg.MinRR) {
		return
	}
	if !bestFavorableMove.IsPositive() {
		return
	}
	drawdownRatio := bestFavorableMove.Sub(favorableMoveNow).Div(bestFavorableMove)
	threshold := cfg.DrawdownPercent.Div(decimal.NewFromInt(100))
	if drawdownRatio.LessThan(threshold) {
		return
	}

	result, err := adapter.ClosePosition(ctx, t.Symbol, &types.OrderRequest{Volume: t.Units})
	if err != nil || result.Status != types.OrderStatusFilled {
		result, err = adapter.ClosePosition(ctx, t.Symbol, nil)
	}
	if err != nil || result.Status != types.OrderStatusFilled {
		s.log.Warn("smart exit close failed", zap.String("symbol", t.Symbol))
		return
	}

	t.Status = types.TradeStatusClosedSmartExit
	t.ExitPrice = result.FilledPrice
	t.ExitTimestamp = s.now()
	t.ProfitLoss = profitLoss(t)
	s.notifyf(t.Symbol + " closed by smart exit")
}

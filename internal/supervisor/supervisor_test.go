package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/supervisor"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// fakeAdapter is a minimal broker.Adapter stub exercising only the calls the supervisor makes.
type fakeAdapter struct {
	broker.Adapter
	positions      []types.Position
	positionsErr   error
	modifyResult   bool
	lastModifySL   decimal.Decimal
	closeResult    types.OrderResult
	closeCallCount int
}

func (f *fakeAdapter) Positions(ctx context.Context) ([]types.Position, error) {
	return f.positions, f.positionsErr
}

func (f *fakeAdapter) ModifyPosition(ctx context.Context, canonical string, sl, tp *types.OrderRequest) bool {
	if sl != nil {
		f.lastModifySL = sl.StopLoss
	}
	return f.modifyResult
}

func (f *fakeAdapter) ClosePosition(ctx context.Context, canonical string, partial *types.OrderRequest) (types.OrderResult, error) {
	f.closeCallCount++
	return f.closeResult, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tick(mid string) types.Tick {
	m := dec(mid)
	spread := dec("0.0001")
	return types.Tick{Symbol: "EUR_USD", Bid: m.Sub(spread.Div(decimal.NewFromInt(2))), Ask: m.Add(spread.Div(decimal.NewFromInt(2))), Timestamp: time.Now()}
}

// Invariant #1: break-even promotion only ever moves SL toward entry, never away from it.
func TestBreakEvenOnlyMovesTowardEntry(t *testing.T) {
	a := &fakeAdapter{modifyResult: true}
	s := supervisor.New(nil, nil, nil)
	trade := &types.TradeRecord{
		Symbol: "EUR_USD", Direction: types.DirectionLong,
		EntryPrice: dec("1.10000"), InitialStopLoss: dec("1.09500"), StopLoss: dec("1.09500"),
		BreakEvenTrigger: dec("1.10300"), Units: dec("10000"),
	}
	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10400"), dec("0.0001"), types.SmartExitConfig{})
	if !trade.IsBreakEven {
		t.Fatalf("expected break-even promotion")
	}
	if !trade.StopLoss.Equal(trade.EntryPrice) {
		t.Fatalf("expected SL moved to entry, got %s", trade.StopLoss)
	}
}

// Invariant #2 (monotonicity): max_favorable_rr never decreases across ticks, even on retrace.
func TestMaxFavorableRRMonotonic(t *testing.T) {
	a := &fakeAdapter{modifyResult: true}
	s := supervisor.New(nil, nil, nil)
	trade := &types.TradeRecord{
		Symbol: "EUR_USD", Direction: types.DirectionLong,
		EntryPrice: dec("1.10000"), InitialStopLoss: dec("1.09500"), StopLoss: dec("1.09500"),
		Units: dec("10000"),
	}
	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10800"), dec("0.0001"), types.SmartExitConfig{})
	peak := trade.MaxFavorableRR
	if !peak.Equal(dec("1.6")) {
		t.Fatalf("expected max_favorable_rr 1.6 at peak, got %s", peak)
	}
	// Price retraces; max_favorable_rr must not decrease.
	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10300"), dec("0.0001"), types.SmartExitConfig{})
	if !trade.MaxFavorableRR.Equal(peak) {
		t.Fatalf("expected max_favorable_rr to stay at %s after retrace, got %s", peak, trade.MaxFavorableRR)
	}
}

// Invariant #6: across consecutive break-even/trailing iterations, SL never gets worse.
func TestTrailingStopNeverWorsens(t *testing.T) {
	a := &fakeAdapter{modifyResult: true}
	s := supervisor.New(nil, nil, nil)
	trade := &types.TradeRecord{
		Symbol: "EUR_USD", Direction: types.DirectionLong,
		EntryPrice: dec("1.10000"), InitialStopLoss: dec("1.09500"), StopLoss: dec("1.09500"),
		BreakEvenTrigger: dec("1.10100"), TrailingStopPips: dec("10"), Units: dec("10000"),
	}
	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10500"), dec("0.0001"), types.SmartExitConfig{})
	firstSL := trade.StopLoss
	// Retrace: trailing candidate would be worse than current SL, must not apply.
	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10200"), dec("0.0001"), types.SmartExitConfig{})
	if trade.StopLoss.LessThan(firstSL) {
		t.Fatalf("expected SL to never worsen, had %s now %s", firstSL, trade.StopLoss)
	}
}

// S6 — smart exit scenario from the worked example.
func TestSmartExitScenarioS6(t *testing.T) {
	a := &fakeAdapter{modifyResult: true, closeResult: types.OrderResult{Status: types.OrderStatusFilled, FilledPrice: dec("1.10300")}}
	s := supervisor.New(nil, nil, nil)
	trade := &types.TradeRecord{
		Symbol: "EUR_USD", Direction: types.DirectionLong,
		EntryPrice: dec("1.10000"), InitialStopLoss: dec("1.09500"), StopLoss: dec("1.09500"),
		BreakEvenTrigger: dec("1.10050"), Units: dec("10000"),
	}
	smartExit := types.SmartExitConfig{Enabled: true, MinRR: dec("1.0"), DrawdownPercent: dec("45")}

	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10800"), dec("0.0001"), smartExit)
	if !trade.MaxFavorableRR.Equal(dec("1.6")) {
		t.Fatalf("expected max_favorable_rr 1.6, got %s", trade.MaxFavorableRR)
	}

	s.ManageOpenTrade(context.Background(), a, trade, tick("1.10300"), dec("0.0001"), smartExit)
	if trade.Status != types.TradeStatusClosedSmartExit {
		t.Fatalf("expected closed_smart_exit, got %s", trade.Status)
	}
	want := dec("0.00300").Mul(trade.Units)
	if !trade.ProfitLoss.Equal(want) {
		t.Fatalf("expected P&L %s, got %s", want, trade.ProfitLoss)
	}
	if a.closeCallCount != 1 {
		t.Fatalf("expected close_position called once (first attempt filled), got %d", a.closeCallCount)
	}
}

// Reconciliation: a trade absent from broker positions is closed with best-effort exit price.
func TestReconcileClosesMissingPosition(t *testing.T) {
	a := &fakeAdapter{positions: []types.Position{{Symbol: "GBP_USD"}}}
	s := supervisor.New(nil, nil, nil)
	open := []*types.TradeRecord{
		{Symbol: "EUR_USD", Direction: types.DirectionLong, EntryPrice: dec("1.10000"), Units: dec("10000")},
		{Symbol: "GBP_USD", Direction: types.DirectionLong, EntryPrice: dec("1.25000"), Units: dec("10000")},
	}
	closed, remaining, brokerOpenCount := s.Reconcile(context.Background(), a, open, map[string]types.Tick{"EUR_USD": tick("1.10500")})
	if len(closed) != 1 || closed[0].Symbol != "EUR_USD" {
		t.Fatalf("expected EUR_USD reconciled as closed, got %+v", closed)
	}
	if len(remaining) != 1 || remaining[0].Symbol != "GBP_USD" {
		t.Fatalf("expected GBP_USD to remain open, got %+v", remaining)
	}
	if closed[0].Status != types.TradeStatusClosedManual {
		t.Fatalf("expected closed_manual status, got %s", closed[0].Status)
	}
	if brokerOpenCount != 1 {
		t.Fatalf("expected brokerOpenCount 1, got %d", brokerOpenCount)
	}
}

func TestReconcileSkipsOnBrokerError(t *testing.T) {
	a := &fakeAdapter{positionsErr: context.DeadlineExceeded}
	s := supervisor.New(nil, nil, nil)
	open := []*types.TradeRecord{{Symbol: "EUR_USD"}}
	closed, remaining, brokerOpenCount := s.Reconcile(context.Background(), a, open, nil)
	if len(closed) != 0 {
		t.Fatalf("expected no trades closed on broker error, got %d", len(closed))
	}
	if len(remaining) != 1 {
		t.Fatalf("expected trade left untouched on broker error, got %d", len(remaining))
	}
	if brokerOpenCount != 1 {
		t.Fatalf("expected brokerOpenCount to fall back to local count (1) on broker error, got %d", brokerOpenCount)
	}
}

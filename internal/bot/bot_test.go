package bot_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fleet-orchestrator/internal/bot"
	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
	"github.com/atlas-desktop/fleet-orchestrator/internal/news"
	"github.com/atlas-desktop/fleet-orchestrator/internal/oracle"
	"github.com/atlas-desktop/fleet-orchestrator/internal/pipeline"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

type fakeNotifier struct {
	texts []string
}

func (f *fakeNotifier) Notify(text string) { f.texts = append(f.texts, text) }

type fakeAdapter struct {
	broker.Adapter
	connectErr error
	tick       types.Tick
	spec       types.InstrumentSpec
	placeOK    bool
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeAdapter) Prices(ctx context.Context, canonicals []string) (map[string]types.Tick, error) {
	out := make(map[string]types.Tick, len(canonicals))
	for _, c := range canonicals {
		out[c] = f.tick
	}
	return out, nil
}

func (f *fakeAdapter) Positions(ctx context.Context) ([]types.Position, error) { return nil, nil }

func (f *fakeAdapter) OpenOrders(ctx context.Context, canonical string) ([]types.OrderResult, error) {
	return nil, nil
}

func (f *fakeAdapter) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return types.AccountInfo{Balance: dec("10000"), MarginAvailable: dec("5000"), Leverage: dec("100")}, nil
}

func (f *fakeAdapter) CanTradeSymbol(ctx context.Context, canonical string, direction types.Direction) (bool, string, string) {
	return true, "", canonical
}

func (f *fakeAdapter) CurrentPrice(ctx context.Context, canonical string) (types.Tick, error) {
	return f.tick, nil
}

func (f *fakeAdapter) SymbolSpec(ctx context.Context, canonical string) (types.InstrumentSpec, error) {
	return f.spec, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req types.OrderRequest) types.OrderResult {
	if !f.placeOK {
		return types.OrderResult{Status: types.OrderStatusRejected, ErrorMessage: string(types.ErrSymbolNotFound)}
	}
	return types.OrderResult{Status: types.OrderStatusFilled, FilledPrice: dec("1.10000"), OrderID: "fill-1"}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseSpec() types.InstrumentSpec {
	return types.InstrumentSpec{
		Symbol: "EUR_USD", PointSize: dec("0.00001"), TickSize: dec("0.00001"),
		TickValue: dec("1"), ContractSize: dec("100000"), MinVolume: dec("0.01"),
		MaxVolume: dec("50"), VolumeStep: dec("0.01"), StopsLevel: dec("0.0002"), FreezeLevel: dec("0.0001"),
	}
}

func baseTick() types.Tick {
	return types.Tick{Symbol: "EUR_USD", Bid: dec("1.09995"), Ask: dec("1.10005"), Timestamp: time.Now()}
}

func strongConsensusOpinion(dir types.Direction) types.Opinion {
	return types.Opinion{
		Direction: dir, Confidence: dec("80"),
		Entry: dec("1.10000"), StopLoss: dec("1.09800"), TakeProfit: dec("1.10600"),
		Timeframe: types.Timeframe1h,
	}
}

func newTestBot(t *testing.T, adapter broker.Adapter, oracleStub *oracle.Stub, newsStub *news.Stub, notifier types.NotificationSink) *bot.Bot {
	t.Helper()
	r := resolver.New(nil)
	g := identity.NewGuard(nil)
	p := pipeline.New(r, g, nil, nil, nil)
	b := bot.New(bot.Deps{
		AccountID: "acct1",
		Oracle:    oracleStub,
		News:      newsStub,
		Notify:    notifier,
		Pipeline:  p,
	})
	return b
}

func TestStartFailsWithoutAdapter(t *testing.T) {
	b := newTestBot(t, nil, oracle.NewStub(), news.NewStub(nil), &fakeNotifier{})
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail without a configured adapter")
	}
	if b.State() != bot.StateError {
		t.Fatalf("expected ERROR state, got %s", b.State())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	adapter := &fakeAdapter{tick: baseTick(), spec: baseSpec(), placeOK: true}
	b := newTestBot(t, adapter, oracle.NewStub(), news.NewStub(nil), &fakeNotifier{})
	b.Configure(adapter, types.BotConfig{
		WatchList: []string{"EUR_USD"}, IntervalSeconds: 3600, AlwaysOn: true,
		MaxOpenPositions: 5, MinConfidence: dec("70"), MinModelsAgree: 1,
		MinRiskReward: dec("1.5"), MaxRiskReward: dec("2.2"),
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("expected successful start, got %v", err)
	}
	if b.State() != bot.StateRunning {
		t.Fatalf("expected RUNNING after start, got %s", b.State())
	}

	b.Pause()
	if b.State() != bot.StatePaused {
		t.Fatalf("expected PAUSED after pause, got %s", b.State())
	}
	b.Resume()
	if b.State() != bot.StateRunning {
		t.Fatalf("expected RUNNING after resume, got %s", b.State())
	}

	b.Stop()
	if b.State() != bot.StateStopped {
		t.Fatalf("expected STOPPED after stop, got %s", b.State())
	}
}

func TestStartIsNoopWhenAlreadyRunning(t *testing.T) {
	adapter := &fakeAdapter{tick: baseTick(), spec: baseSpec(), placeOK: true}
	b := newTestBot(t, adapter, oracle.NewStub(), news.NewStub(nil), &fakeNotifier{})
	b.Configure(adapter, types.BotConfig{WatchList: []string{"EUR_USD"}, IntervalSeconds: 3600, AlwaysOn: true, MaxOpenPositions: 5})

	_ = b.Start(context.Background())
	firstState := b.State()
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("expected noop start to succeed, got %v", err)
	}
	if b.State() != firstState {
		t.Fatalf("expected state unchanged by noop start")
	}
	b.Stop()
}

func TestPauseOnlyValidFromRunning(t *testing.T) {
	adapter := &fakeAdapter{tick: baseTick(), spec: baseSpec()}
	b := newTestBot(t, adapter, oracle.NewStub(), news.NewStub(nil), &fakeNotifier{})
	b.Pause()
	if b.State() != bot.StateStopped {
		t.Fatalf("expected pause from STOPPED to be a noop, got %s", b.State())
	}
}

func TestTickOpensTradeOnStrongConsensus(t *testing.T) {
	adapter := &fakeAdapter{tick: baseTick(), spec: baseSpec(), placeOK: true}
	oracleStub := oracle.NewStub()
	for _, model := range []string{"m1", "m2"} {
		oracleStub.Program("EUR_USD", model, strongConsensusOpinion(types.DirectionLong))
	}
	notifier := &fakeNotifier{}
	b := newTestBot(t, adapter, oracleStub, news.NewStub(nil), notifier)
	b.Configure(adapter, types.BotConfig{
		WatchList: []string{"EUR_USD"}, IntervalSeconds: 3600, AlwaysOn: true,
		MaxOpenPositions: 5, MinConfidence: dec("70"), MinModelsAgree: 1,
		MinRiskReward: dec("1.5"), MaxRiskReward: dec("2.2"),
		EnabledModels: []string{"m1", "m2"},
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.Status().OpenPositions) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	b.Stop()

	status := b.Status()
	if len(status.OpenPositions) != 1 {
		t.Fatalf("expected one opened position, got %d", len(status.OpenPositions))
	}
	if len(notifier.texts) == 0 {
		t.Fatalf("expected a trade-open notification to have been sent")
	}
}

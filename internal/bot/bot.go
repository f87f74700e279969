// Package bot implements the per-account lifecycle state machine and cooperative main loop
// (C12, §4.8): STOPPED -> STARTING -> RUNNING <-> PAUSED -> STOPPED, with ERROR reachable from
// any state on setup failure.
//
// Grounded on the teacher's internal/autonomous/agent.go (TradingAgent start/stop/pause/resume,
// stopChan-based main loop, isWithinTradingHours) and internal/orchestrator/orchestrator.go
// (per-bot goroutine + single mutex-guarded state transition), generalized from the teacher's
// fixed signal-poll loop into the spec's reconcile/analyze/submit tick. AI model fan-out is the
// oracle's job: each symbol analysis makes one AnalyzeAll call and waits for its joined results.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/consensus"
	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
	"github.com/atlas-desktop/fleet-orchestrator/internal/logring"
	"github.com/atlas-desktop/fleet-orchestrator/internal/metrics"
	"github.com/atlas-desktop/fleet-orchestrator/internal/pipeline"
	"github.com/atlas-desktop/fleet-orchestrator/internal/scheduler"
	"github.com/atlas-desktop/fleet-orchestrator/internal/supervisor"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// State is one of the bot's lifecycle states (§4.8).
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateError    State = "ERROR"
)

const (
	antiBurstSleep   = 2 * time.Second
	aiCallTimeout    = 120 * time.Second
	fallbackInterval = 60 * time.Second
)

// Bot is one account's autonomous trading loop (§4.8). All lifecycle transitions are guarded
// by mu; the loop goroutine is the single writer of the mutable trading state once running.
type Bot struct {
	mu sync.Mutex

	accountID string
	log       *zap.Logger
	metrics   *metrics.Set

	adapter broker.Adapter
	oracle  types.AIOracle
	news    types.NewsOracle
	notify  types.NotificationSink

	pipeline   *pipeline.Pipeline
	supervisor *supervisor.Supervisor
	ring       *logring.Ring

	cfg types.BotConfig

	state     State
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	open             []*types.TradeRecord
	tradesToday      int
	lossPercentToday decimal.Decimal
	lastAnalysisAt   time.Time

	now func() time.Time
}

// Deps bundles the collaborators a Bot needs. Log, Metrics and NowFn may be nil (no-op logger,
// no metrics, time.Now); the other collaborators are used without nil checks.
type Deps struct {
	AccountID string
	Log       *zap.Logger
	Metrics   *metrics.Set
	Oracle    types.AIOracle
	News      types.NewsOracle
	Notify    types.NotificationSink
	Pipeline  *pipeline.Pipeline
	NowFn     func() time.Time
}

// New builds a stopped Bot. Call Configure before the first start() to attach the account's
// broker adapter and config.
func New(d Deps) *Bot {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	nowFn := d.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Bot{
		accountID:  d.AccountID,
		log:        d.Log.Named("bot").With(zap.String("account_id", d.AccountID)),
		metrics:    d.Metrics,
		oracle:     d.Oracle,
		news:       d.News,
		notify:     d.Notify,
		pipeline:   d.Pipeline,
		supervisor: supervisor.New(d.Log, d.Notify, nowFn),
		ring:       logring.New(nowFn),
		state:      StateStopped,
		now:        nowFn,
	}
}

// State returns the bot's current lifecycle state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Configure replaces the bot's broker adapter and config. Safe to call while stopped; callers
// wanting to change a running bot's config must stop() first per the Manager's reconfigure flow.
func (b *Bot) Configure(adapter broker.Adapter, cfg types.BotConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adapter = adapter
	b.cfg = cfg
}

// Start transitions STOPPED -> STARTING -> RUNNING and spawns the main loop task (§4.8). A
// noop if already RUNNING or STARTING. A connect failure transitions to ERROR and is returned.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateRunning || b.state == StateStarting {
		b.mu.Unlock()
		return nil
	}
	b.state = StateStarting
	adapter := b.adapter
	b.mu.Unlock()

	if adapter == nil {
		b.fail(fmt.Errorf("bot %s: no broker adapter configured", b.accountID))
		return fmt.Errorf("bot %s: not configured", b.accountID)
	}
	if err := adapter.Connect(ctx); err != nil {
		b.fail(fmt.Errorf("bot %s: broker connect failed: %w", b.accountID, err))
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.mu.Lock()
	b.cancel = cancel
	b.done = done
	b.state = StateRunning
	b.startedAt = b.now()
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BotsRunning.Inc()
	}
	b.ring.Info("", "bot started")
	go b.mainLoop(loopCtx, done)
	return nil
}

func (b *Bot) fail(err error) {
	b.mu.Lock()
	b.state = StateError
	b.mu.Unlock()
	b.log.Error("bot entered ERROR state", zap.Error(err))
	b.ring.Error("", err.Error())
}

// Stop signals cancellation and joins the loop task, ignoring whatever error it exits with
// (§4.8). A noop if already stopped.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	done := b.done
	wasRunning := b.state == StateRunning || b.state == StatePaused
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()

	if wasRunning && b.metrics != nil {
		b.metrics.BotsRunning.Dec()
	}
	b.ring.Info("", "bot stopped")
}

// Pause is only valid from RUNNING; a noop otherwise.
func (b *Bot) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateRunning {
		return
	}
	b.state = StatePaused
	b.ring.Info("", "bot paused")
}

// Resume is only valid from PAUSED; a noop otherwise. Counters and rings are untouched.
func (b *Bot) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StatePaused {
		return
	}
	b.state = StateRunning
	b.ring.Info("", "bot resumed")
}

// Reset forces a stop ignoring any loop error and clears the bot's per-account metric series.
func (b *Bot) Reset() {
	b.Stop()
	if b.metrics != nil {
		b.metrics.ForgetAccount(b.accountID)
	}
	b.mu.Lock()
	b.open = nil
	b.tradesToday = 0
	b.mu.Unlock()
}

func (b *Bot) lossPercentTodayValue() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lossPercentToday
}

// Status returns the bot's deep status snapshot (§4.11).
func (b *Bot) Status() logring.StatusSnapshot {
	b.mu.Lock()
	state := b.state
	tradesToday := b.tradesToday
	lossToday := b.lossPercentToday
	lastAnalysis := b.lastAnalysisAt
	open := make([]types.TradeRecord, len(b.open))
	for i, t := range b.open {
		open[i] = *t
	}
	b.mu.Unlock()

	recentLog, recentErrors := b.ring.Snapshot()
	lossFloat, _ := lossToday.Float64()
	return logring.StatusSnapshot{
		AccountID:      b.accountID,
		State:          string(state),
		TradesToday:    tradesToday,
		LossToday:      lossFloat,
		OpenPositions:  open,
		RecentLog:      recentLog,
		RecentErrors:   recentErrors,
		LastAnalysisAt: lastAnalysis,
	}
}

// mainLoop is the bot's single cooperative loop goroutine (§4.8, §5). It runs until ctx is
// cancelled; every sleep is a cancellation checkpoint.
func (b *Bot) mainLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		b.mu.Lock()
		cfg := b.cfg
		adapter := b.adapter
		tradesToday := b.tradesToday
		state := b.state
		b.mu.Unlock()

		ok, sleepHint := scheduler.ShouldRun(cfg, b.now(), tradesToday, b.lossPercentTodayValue())
		if !ok {
			if b.sleep(ctx, sleepHint) {
				return
			}
			continue
		}

		if state == StateRunning {
			b.tick(ctx, adapter, cfg)
		}

		b.mu.Lock()
		b.lastAnalysisAt = b.now()
		interval := time.Duration(cfg.IntervalSeconds) * time.Second
		b.mu.Unlock()

		if interval <= 0 {
			interval = fallbackInterval
		}
		if b.sleep(ctx, interval) {
			return
		}
	}
}

// sleep blocks for d or until ctx is cancelled, returning true if cancellation won.
func (b *Bot) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// tick runs one pass of reconciliation, position management, news refresh, and per-symbol
// analysis/submission, exactly matching the §4.8 main-loop pseudocode.
func (b *Bot) tick(ctx context.Context, adapter broker.Adapter, cfg types.BotConfig) {
	b.mu.Lock()
	open := append([]*types.TradeRecord(nil), b.open...)
	b.mu.Unlock()

	ticks := b.fetchTicks(ctx, adapter, cfg.WatchList)

	closed, remaining, brokerOpenCount := b.supervisor.Reconcile(ctx, adapter, open, ticks)
	for _, t := range closed {
		if b.metrics != nil {
			b.metrics.TradesTotal.WithLabelValues(b.accountID, string(t.Status)).Inc()
		}
		b.ring.Trade(t.Symbol, "position closed: "+string(t.Status), nil)
	}
	for _, t := range remaining {
		if tick, ok := ticks[t.Symbol]; ok {
			pipSize := identity.PipSize(t.Symbol)
			b.supervisor.ManageOpenTrade(ctx, adapter, t, tick, pipSize, cfg.SmartExit)
		}
	}
	b.mu.Lock()
	b.open = remaining
	b.tradesToday += len(closed)
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.OpenPositions.WithLabelValues(b.accountID).Set(float64(len(remaining)))
	}

	if scheduler.NewsRefreshDue(b.newsLastFetchedAt(), b.now()) {
		if err := b.news.FetchEvents(ctx); err != nil {
			b.ring.Error("", "news refresh failed: "+err.Error())
		}
	}

	pendingCount := b.pendingMarketOrderCount(ctx, adapter)

	for _, sym := range cfg.WatchList {
		if ctx.Err() != nil {
			return
		}
		b.analyzeAndSubmit(ctx, adapter, sym, cfg, brokerOpenCount, pendingCount)
		if b.sleep(ctx, antiBurstSleep) {
			return
		}
	}
}

// pendingMarketOrderCount counts broker-reported pending orders across the whole account,
// best-effort (§4.6 stage 1's broker_pending_market_orders term): an empty symbol filter asks
// every adapter for the full open-order book rather than one watchlist symbol at a time.
func (b *Bot) pendingMarketOrderCount(ctx context.Context, adapter broker.Adapter) int {
	orders, err := adapter.OpenOrders(ctx, "")
	if err != nil {
		b.ring.Error("", "pending order fetch failed: "+err.Error())
		return 0
	}
	count := 0
	for _, o := range orders {
		if o.Status == types.OrderStatusPending {
			count++
		}
	}
	return count
}

func (b *Bot) fetchTicks(ctx context.Context, adapter broker.Adapter, symbols []string) map[string]types.Tick {
	ticks, err := adapter.Prices(ctx, symbols)
	if err != nil {
		b.ring.Error("", "price fetch failed: "+err.Error())
		return map[string]types.Tick{}
	}
	return ticks
}

func (b *Bot) newsLastFetchedAt() time.Time {
	type fetchedAtProvider interface{ LastFetchedAt() time.Time }
	if p, ok := b.news.(fetchedAtProvider); ok {
		return p.LastFetchedAt()
	}
	return time.Time{}
}

// analyzeAndSubmit runs one symbol's cannot-open-new / news-blocked gates, AI analysis,
// consensus aggregation, and (if warranted) order submission (§4.8, §4.9). brokerOpenCount and
// pendingCount are this tick's broker-reported counts, fed into the §4.6 stage 1 exposure
// formula alongside the bot's own local bookkeeping.
func (b *Bot) analyzeAndSubmit(ctx context.Context, adapter broker.Adapter, symbol string, cfg types.BotConfig, brokerOpenCount, pendingCount int) {
	b.mu.Lock()
	localOpenCount := len(b.open)
	exposed := make(map[string]bool, len(b.open))
	for _, t := range b.open {
		exposed[t.Symbol] = true
	}
	b.mu.Unlock()

	openCount := localOpenCount
	if brokerOpenCount > openCount {
		openCount = brokerOpenCount
	}
	openCount += pendingCount

	if openCount >= cfg.MaxOpenPositions {
		b.ring.Skip(symbol, "max_open_positions_reached")
		return
	}

	if cfg.NewsFilter.Enabled {
		if blocked, event := b.news.ShouldAvoidTrading(ctx, symbol, cfg.NewsFilter); blocked {
			reason := "news_blackout"
			if event != nil {
				reason += ": " + event.Title
			}
			b.ring.Skip(symbol, reason)
			return
		}
	}

	analysisCtx, cancel := context.WithTimeout(ctx, aiCallTimeout)
	opinions := b.oracle.AnalyzeAll(analysisCtx, symbol, primaryTimeframe(cfg), cfg.AnalysisMode, cfg.EnabledModels)
	cancel()
	if b.metrics != nil {
		b.metrics.AnalysisTotal.WithLabelValues(b.accountID).Inc()
	}
	b.ring.Analysis(symbol, fmt.Sprintf("%d model opinions collected", len(opinions)))

	decimals := identity.Decimals(symbol)
	cons := consensus.Aggregate(symbol, opinions, decimals)

	if enter, reason := consensus.ShouldEnter(cons, cfg.MinConfidence, cfg.MinModelsAgree); !enter {
		b.ring.Skip(symbol, reason)
		return
	}

	exposure := pipeline.ExposureState{EffectiveOpen: openCount, ExposedSymbols: exposed}

	account, err := adapter.AccountInfo(ctx)
	if err != nil {
		b.ring.Error(symbol, "account info fetch failed: "+err.Error())
		return
	}

	trade, err := b.pipeline.Submit(ctx, b.accountID, adapter, symbol, cons.Direction, cons, cfg, account, exposure)
	if err != nil {
		b.ring.Skip(symbol, "submit_rejected: "+err.Error())
		return
	}

	b.mu.Lock()
	b.open = append(b.open, trade)
	b.tradesToday++
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.OpenPositions.WithLabelValues(b.accountID).Set(float64(len(b.open)))
	}
	b.ring.Trade(symbol, "opened "+string(trade.Direction)+" position", map[string]any{"units": trade.Units.String()})
	b.notify.Notify(fmt.Sprintf("%s: opened %s %s @ %s", b.accountID, trade.Direction, symbol, trade.EntryPrice))
}

func primaryTimeframe(cfg types.BotConfig) types.Timeframe {
	return types.Timeframe1h
}

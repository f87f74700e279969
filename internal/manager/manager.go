// Package manager implements the multi-account fleet supervisor (C13, §4.10): one bot instance
// per account, a single lock serializing lifecycle operations, and the only write path back to
// account storage for the "connected" flag.
//
// Grounded on the teacher's internal/orchestrator/orchestrator.go (sync.Mutex-guarded Start/Stop
// coordinating many internal subsystems), generalized from "one orchestrator, many internal
// subsystems" to "one manager, many bot instances keyed by account id".
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fleet-orchestrator/internal/bot"
	"github.com/atlas-desktop/fleet-orchestrator/internal/broker"
	"github.com/atlas-desktop/fleet-orchestrator/internal/identity"
	"github.com/atlas-desktop/fleet-orchestrator/internal/logring"
	"github.com/atlas-desktop/fleet-orchestrator/internal/metrics"
	"github.com/atlas-desktop/fleet-orchestrator/internal/pipeline"
	"github.com/atlas-desktop/fleet-orchestrator/internal/resolver"
	"github.com/atlas-desktop/fleet-orchestrator/internal/workers"
	"github.com/atlas-desktop/fleet-orchestrator/pkg/types"
)

// fleetStartupPoolConfig sizes the short-lived worker pool that StartAllEnabled and StopAll
// submit one task per account to. Each task calls Start or Stop, which hold the Manager's single
// lock for their whole run (broker handshake included), so the pooled tasks still run one
// account at a time and a slow handshake delays every account queued behind it.
func fleetStartupPoolConfig() *workers.PoolConfig {
	return &workers.PoolConfig{
		Name:            "fleet-startup",
		NumWorkers:      8,
		QueueSize:       1024,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// Outcome is the exit condition of a lifecycle operation (§6).
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyRunning Outcome = "already_running"
	OutcomeAlreadyStopped Outcome = "already_stopped"
	OutcomeError          Outcome = "error"
)

// Defaults used when an Account row does not carry them (risk-reward bounds, smart exit, news
// filter are Manager-level policy layered on top of the per-account row, per §4.10 step 3).
type Defaults struct {
	MinRiskReward decimal.Decimal
	MaxRiskReward decimal.Decimal
	SmartExit     types.SmartExitConfig
	NewsFilter    types.NewsFilterConfig
}

type instance struct {
	bot     *bot.Bot
	adapter broker.Adapter
}

// Manager is the fleet supervisor (§4.10). A single mu serializes start/stop/pause/resume so
// two concurrent calls on the same account id can never race past each other.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance

	store    types.AccountStore
	metrics  *metrics.Set
	log      *zap.Logger
	oracle   types.AIOracle
	news     types.NewsOracle
	notify   types.NotificationSink
	defaults Defaults
	now      func() time.Time
}

// Deps bundles the collaborators a Manager needs.
type Deps struct {
	Store    types.AccountStore
	Metrics  *metrics.Set
	Log      *zap.Logger
	Oracle   types.AIOracle
	News     types.NewsOracle
	Notify   types.NotificationSink
	Defaults Defaults
	NowFn    func() time.Time
}

// New builds an empty Manager.
func New(d Deps) *Manager {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	nowFn := d.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		instances: make(map[string]*instance),
		store:     d.Store,
		metrics:   d.Metrics,
		log:       d.Log.Named("manager"),
		oracle:    d.Oracle,
		news:      d.News,
		notify:    d.Notify,
		defaults:  d.Defaults,
		now:       nowFn,
	}
}

// Start reloads the account row, resolves its adapter, (re)configures its bot instance, and
// invokes start() (§4.10 steps 1-4).
func (m *Manager) Start(ctx context.Context, accountID string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return OutcomeError, fmt.Errorf("manager: load account %s: %w", accountID, err)
	}
	if account == nil {
		return OutcomeError, fmt.Errorf("manager: unknown account %s", accountID)
	}

	inst, existing := m.instances[accountID]
	if existing && inst.bot.State() == bot.StateRunning {
		return OutcomeAlreadyRunning, nil
	}

	adapter, err := broker.New(account.Credentials)
	if err != nil {
		return OutcomeError, fmt.Errorf("manager: resolve adapter for %s: %w", accountID, err)
	}

	cfg := *account.ToBotConfig(m.defaults.MinRiskReward, m.defaults.MaxRiskReward, m.defaults.SmartExit, m.defaults.NewsFilter)
	if err := cfg.Validate(); err != nil {
		return OutcomeError, fmt.Errorf("manager: invalid config for %s: %w", accountID, err)
	}

	if existing {
		inst.adapter = adapter
		inst.bot.Configure(adapter, cfg)
	} else {
		b := bot.New(bot.Deps{
			AccountID: accountID,
			Log:       m.log,
			Metrics:   m.metrics,
			Oracle:    m.oracle,
			News:      m.news,
			Notify:    m.notify,
			Pipeline:  pipeline.New(resolver.New(m.now), identity.NewGuard(m.now), m.metrics, m.log, m.now),
			NowFn:     m.now,
		})
		b.Configure(adapter, cfg)
		inst = &instance{bot: b, adapter: adapter}
		m.instances[accountID] = inst
	}

	if err := inst.bot.Start(ctx); err != nil {
		_ = m.store.UpdateConnected(ctx, accountID, false)
		return OutcomeError, err
	}
	if err := m.store.UpdateConnected(ctx, accountID, true); err != nil {
		m.log.Error("failed to write back connected flag", zap.String("account_id", accountID), zap.Error(err))
	}
	return OutcomeSuccess, nil
}

// Stop signals the named bot to stop and writes back connected=false.
func (m *Manager) Stop(ctx context.Context, accountID string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[accountID]
	if !ok || inst.bot.State() == bot.StateStopped {
		return OutcomeAlreadyStopped, nil
	}
	inst.bot.Stop()
	if err := m.store.UpdateConnected(ctx, accountID, false); err != nil {
		m.log.Error("failed to write back connected flag", zap.String("account_id", accountID), zap.Error(err))
	}
	return OutcomeSuccess, nil
}

// Pause/Resume/Reset forward to the named bot instance if it exists.
func (m *Manager) Pause(accountID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[accountID]
	if !ok {
		return OutcomeError
	}
	inst.bot.Pause()
	return OutcomeSuccess
}

func (m *Manager) Resume(accountID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[accountID]
	if !ok {
		return OutcomeError
	}
	inst.bot.Resume()
	return OutcomeSuccess
}

func (m *Manager) Reset(accountID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[accountID]
	if !ok {
		return OutcomeError
	}
	inst.bot.Reset()
	return OutcomeSuccess
}

// StartAllEnabled starts every enabled account, accumulating per-account failures rather than
// aborting on the first one (§4.10). Starts are submitted to a bounded worker pool, but Start
// holds the Manager lock through the broker handshake, so they proceed one at a time.
func (m *Manager) StartAllEnabled(ctx context.Context) map[string]error {
	accounts, err := m.store.LoadAccounts(ctx)
	if err != nil {
		return map[string]error{"*": err}
	}
	return m.runPooled(accounts, func(a *types.Account) error {
		if !a.Enabled {
			return nil
		}
		_, err := m.Start(ctx, a.ID)
		return err
	})
}

// StopAll stops every instance this Manager currently tracks, also on the bounded pool.
func (m *Manager) StopAll(ctx context.Context) map[string]error {
	m.mu.Lock()
	accounts := make([]*types.Account, 0, len(m.instances))
	for id := range m.instances {
		accounts = append(accounts, &types.Account{ID: id})
	}
	m.mu.Unlock()

	return m.runPooled(accounts, func(a *types.Account) error {
		_, err := m.Stop(ctx, a.ID)
		return err
	})
}

// runPooled fans work out across a short-lived worker pool sized for fleet-wide lifecycle
// operations (bounded concurrency, not the unbounded goroutine-per-account a naive loop would
// spawn), joining every task before returning.
func (m *Manager) runPooled(accounts []*types.Account, fn func(*types.Account) error) map[string]error {
	if len(accounts) == 0 {
		return map[string]error{}
	}

	pool := workers.NewPool(m.log, fleetStartupPoolConfig())
	pool.Start()
	defer pool.Stop()

	var mu sync.Mutex
	failures := make(map[string]error)
	var wg sync.WaitGroup
	for _, a := range accounts {
		a := a
		wg.Add(1)
		err := pool.SubmitFunc(func() error {
			defer wg.Done()
			if err := fn(a); err != nil {
				mu.Lock()
				failures[a.ID] = err
				mu.Unlock()
			}
			return nil
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			failures[a.ID] = fmt.Errorf("manager: submit to startup pool: %w", err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return failures
}

// EnsureBrokerConnection lazily connects a read-only adapter for reporting (balance, positions)
// even when the bot is not running. This path never places orders (§4.10).
func (m *Manager) EnsureBrokerConnection(ctx context.Context, accountID string) (broker.Adapter, error) {
	m.mu.Lock()
	if inst, ok := m.instances[accountID]; ok && inst.adapter != nil {
		m.mu.Unlock()
		return inst.adapter, nil
	}
	m.mu.Unlock()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("manager: load account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("manager: unknown account %s", accountID)
	}
	adapter, err := broker.New(account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("manager: resolve adapter for %s: %w", accountID, err)
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("manager: connect adapter for %s: %w", accountID, err)
	}
	return adapter, nil
}

// Status returns the named bot's deep status snapshot, or false if the account has no instance.
func (m *Manager) Status(accountID string) (logring.StatusSnapshot, bool) {
	m.mu.Lock()
	inst, ok := m.instances[accountID]
	m.mu.Unlock()
	if !ok {
		return logring.StatusSnapshot{}, false
	}
	return inst.bot.Status(), true
}
